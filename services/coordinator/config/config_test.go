// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// clearEnv blanks every variable FromEnv reads so ambient shell state
// cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SWARM_PORT", "SWARM_DATA_DIR", "SWARM_WORKERS", "SWARM_QUEUE_SIZE",
		"SWARM_BREAKER_THRESHOLD", "SWARM_BREAKER_COOLDOWN", "SWARM_QUORUM",
		"SWARM_LLM_ROLES", "SWARM_WEBHOOK_URL", "SWARM_LOG_LEVEL",
		"SWARM_LOG_DIR", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "12310", cfg.Port)
	assert.Empty(t, cfg.DataDir)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.Equal(t, 5, cfg.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.BreakerCooldown)
	assert.Equal(t, 0.5, cfg.Quorum)
	assert.Empty(t, cfg.LLMRoles)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SWARM_PORT", "9999")
	t.Setenv("SWARM_WORKERS", "8")
	t.Setenv("SWARM_QUEUE_SIZE", "128")
	t.Setenv("SWARM_BREAKER_THRESHOLD", "3")
	t.Setenv("SWARM_BREAKER_COOLDOWN", "45s")
	t.Setenv("SWARM_QUORUM", "0.66")
	t.Setenv("SWARM_LLM_ROLES", "diagnosis, communication")
	t.Setenv("SWARM_WEBHOOK_URL", "https://hooks.example.com/swarm")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 128, cfg.QueueSize)
	assert.Equal(t, 3, cfg.BreakerThreshold)
	assert.Equal(t, 45*time.Second, cfg.BreakerCooldown)
	assert.Equal(t, 0.66, cfg.Quorum)
	assert.Equal(t, []incident.Role{incident.RoleDiagnosis, incident.RoleCommunication}, cfg.LLMRoles)
	assert.Equal(t, "https://hooks.example.com/swarm", cfg.WebhookURL)
}

func TestFromEnvTrimsDataDirQuotes(t *testing.T) {
	clearEnv(t)
	t.Setenv("SWARM_DATA_DIR", `"/var/lib/swarm"`)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/swarm", cfg.DataDir)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"SWARM_WORKERS", "many"},
		{"SWARM_WORKERS", "0"},
		{"SWARM_QUEUE_SIZE", "-5"},
		{"SWARM_BREAKER_THRESHOLD", "0"},
		{"SWARM_BREAKER_COOLDOWN", "soon"},
		{"SWARM_BREAKER_COOLDOWN", "-10s"},
		{"SWARM_QUORUM", "1.5"},
		{"SWARM_QUORUM", "0"},
		{"SWARM_LLM_ROLES", "diagnosis,psychic"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	cfg.Quorum = 0
	assert.Error(t, cfg.Validate())
}
