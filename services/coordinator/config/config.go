// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config centralizes swarmd's environment configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// Config is swarmd's process configuration, sourced from environment
// variables. Zero values mean "use the default".
type Config struct {
	// Port is the HTTP listen port. Env: SWARM_PORT. Default: 12310.
	Port string

	// DataDir is the event store directory. Env: SWARM_DATA_DIR.
	// Empty runs the store in memory (nothing survives a restart).
	DataDir string

	// Workers is the pipeline worker count. Env: SWARM_WORKERS. Default 4.
	Workers int

	// QueueSize bounds the pending-incident queue. Env: SWARM_QUEUE_SIZE.
	// Default 64.
	QueueSize int

	// BreakerThreshold is the consecutive-failure count that opens a
	// breaker. Env: SWARM_BREAKER_THRESHOLD. Default 5.
	BreakerThreshold int

	// BreakerCooldown is the open-breaker cooldown. Env:
	// SWARM_BREAKER_COOLDOWN (Go duration). Default 30s.
	BreakerCooldown time.Duration

	// Quorum is the consensus quorum threshold. Env: SWARM_QUORUM.
	// Default 0.5.
	Quorum float64

	// LLMRoles lists analyzer roles served by the LLM backend instead of
	// the heuristic one. Env: SWARM_LLM_ROLES (comma-separated).
	LLMRoles []incident.Role

	// WebhookURL switches stakeholder notification from the process log
	// to an HTTP webhook. Env: SWARM_WEBHOOK_URL.
	WebhookURL string

	// LogLevel is one of debug, info, warn, error. Env: SWARM_LOG_LEVEL.
	LogLevel string

	// LogDir enables file logging. Env: SWARM_LOG_DIR.
	LogDir string

	// OTLPEndpoint is the OTLP gRPC collector address. Env:
	// OTEL_EXPORTER_OTLP_ENDPOINT. Empty disables trace export.
	OTLPEndpoint string
}

// FromEnv reads the configuration from the environment.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:         envOr("SWARM_PORT", "12310"),
		DataDir:      strings.Trim(os.Getenv("SWARM_DATA_DIR"), "\"' "),
		WebhookURL:   os.Getenv("SWARM_WEBHOOK_URL"),
		LogLevel:     envOr("SWARM_LOG_LEVEL", "info"),
		LogDir:       os.Getenv("SWARM_LOG_DIR"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.Workers, err = envInt("SWARM_WORKERS", 4); err != nil {
		return cfg, err
	}
	if cfg.QueueSize, err = envInt("SWARM_QUEUE_SIZE", 64); err != nil {
		return cfg, err
	}
	if cfg.BreakerThreshold, err = envInt("SWARM_BREAKER_THRESHOLD", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerCooldown, err = envDuration("SWARM_BREAKER_COOLDOWN", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Quorum, err = envFloat("SWARM_QUORUM", 0.5); err != nil {
		return cfg, err
	}

	for _, raw := range strings.Split(os.Getenv("SWARM_LLM_ROLES"), ",") {
		name := incident.Role(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if !name.Valid() {
			return cfg, fmt.Errorf("SWARM_LLM_ROLES: unknown role %q", name)
		}
		cfg.LLMRoles = append(cfg.LLMRoles, name)
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("SWARM_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("SWARM_QUEUE_SIZE must be at least 1, got %d", c.QueueSize)
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("SWARM_BREAKER_THRESHOLD must be at least 1, got %d", c.BreakerThreshold)
	}
	if c.BreakerCooldown <= 0 {
		return fmt.Errorf("SWARM_BREAKER_COOLDOWN must be positive, got %s", c.BreakerCooldown)
	}
	if c.Quorum <= 0 || c.Quorum > 1 {
		return fmt.Errorf("SWARM_QUORUM must be in (0, 1], got %g", c.Quorum)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
