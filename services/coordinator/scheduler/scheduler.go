// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler fans incident stages out to analyzers and fans their
// opinions back in.
//
// The scheduler owns three invariants the rest of the pipeline relies on:
// every stage runs under one shared deadline; every scheduled role yields
// exactly one opinion (a real one, or an explicit timeout/error/skip
// placeholder — agents are never silently dropped); and every call outcome
// is reported to the role's circuit breaker, with circuit-open skips never
// counted as failures.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentinelops/swarm/services/coordinator/analyzer"
	"github.com/sentinelops/swarm/services/coordinator/breaker"
	"github.com/sentinelops/swarm/services/coordinator/events"
	"github.com/sentinelops/swarm/services/coordinator/incident"
)

var tracer = otel.Tracer("swarm.scheduler")

// Default per-stage deadline budgets. Communication is short because the
// built-in notifiers are local; analysis and resolution budgets absorb
// slow LLM-backed analyzers.
var defaultStageTimeouts = map[incident.Stage]time.Duration{
	incident.StageDetection:     30 * time.Second,
	incident.StageAnalysis:      120 * time.Second,
	incident.StageResolution:    180 * time.Second,
	incident.StageCommunication: 10 * time.Second,
}

// stageRoles maps each stage to the roles it fans out to. Detection's
// analysis-stage vote reuses its detection-stage opinion, so the analysis
// fan-out is only the two investigative roles; the resolution stage has
// the investigative roles re-vote on the proposed action.
var stageRoles = map[incident.Stage][]incident.Role{
	incident.StageDetection: {incident.RoleDetection},
	incident.StageAnalysis:  {incident.RoleDiagnosis, incident.RolePrediction},
	incident.StageResolution: {
		incident.RoleResolution,
		incident.RoleDiagnosis,
		incident.RolePrediction,
		incident.RoleDetection,
	},
	incident.StageCommunication: {incident.RoleCommunication},
}

// StageRoles returns the fan-out roles for a stage.
func StageRoles(stage incident.Stage) []incident.Role {
	roles := stageRoles[stage]
	out := make([]incident.Role, len(roles))
	copy(out, roles)
	return out
}

// Config configures a Scheduler.
type Config struct {
	// Analyzers maps each role to its agent. All five roles are required.
	Analyzers map[incident.Role]analyzer.Analyzer

	// Breakers gates and scores analyzer calls. Required.
	Breakers *breaker.Registry

	// Emitter receives stage observations. Optional.
	Emitter *events.Emitter

	// StageTimeouts overrides the default per-stage deadlines.
	StageTimeouts map[incident.Stage]time.Duration

	// Logger for stage logs. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Breakers == nil {
		return errors.New("breaker registry is required")
	}
	for _, role := range incident.AllRoles() {
		a, ok := c.Analyzers[role]
		if !ok || a == nil {
			return fmt.Errorf("analyzer for role %s is required", role)
		}
	}
	for stage, d := range c.StageTimeouts {
		if d <= 0 {
			return fmt.Errorf("timeout for stage %s must be positive", stage)
		}
	}
	return nil
}

// Scheduler runs one pipeline stage at a time.
//
// Thread Safety: Safe for concurrent use; stages for different incidents
// may run in parallel on the same Scheduler.
type Scheduler struct {
	analyzers map[incident.Role]analyzer.Analyzer
	breakers  *breaker.Registry
	emitter   *events.Emitter
	timeouts  map[incident.Stage]time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler.
//
// Inputs:
//
//	config - Scheduler configuration. Analyzers and Breakers are required.
//
// Outputs:
//
//	*Scheduler - The scheduler.
//	error - Non-nil if the configuration is invalid.
func New(config Config) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	timeouts := make(map[incident.Stage]time.Duration, len(defaultStageTimeouts))
	for stage, d := range defaultStageTimeouts {
		timeouts[stage] = d
	}
	for stage, d := range config.StageTimeouts {
		timeouts[stage] = d
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		analyzers: config.Analyzers,
		breakers:  config.Breakers,
		emitter:   config.Emitter,
		timeouts:  timeouts,
		logger:    logger,
	}, nil
}

// StageTimeout returns the deadline budget for a stage.
func (s *Scheduler) StageTimeout(stage incident.Stage) time.Duration {
	return s.timeouts[stage]
}

// StageResult is the fan-in of one stage run.
type StageResult struct {
	// Stage is the stage that ran.
	Stage incident.Stage

	// Opinions holds exactly one opinion per scheduled role, in fan-out
	// order. Placeholders included.
	Opinions []incident.Opinion

	// Responded, Skipped and Failed partition the opinions by outcome
	// (timeouts and errors both count as Failed).
	Responded int
	Skipped   int
	Failed    int

	// TimedOut is true when at least one role hit the stage deadline.
	TimedOut bool

	// Duration is how long the stage ran.
	Duration time.Duration
}

// RunStage fans one stage out to its roles and collects their opinions.
//
// Description:
//
//	All scheduled roles run concurrently under one stage deadline. For
//	each role the breaker is consulted first: a disallowed call becomes a
//	skip placeholder and the breaker is not touched. Allowed calls report
//	success or failure to the breaker, including deadline overruns.
//
// Inputs:
//
//	ctx - Context for cancellation; the stage deadline is layered onto it.
//	req - The analyzer request template (snapshot plus consensus inputs).
//
// Outputs:
//
//	StageResult - One opinion per scheduled role, never fewer.
//	error - Non-nil only for unknown stages; agent failures are data,
//	    not errors.
func (s *Scheduler) RunStage(ctx context.Context, req analyzer.Request) (StageResult, error) {
	roles, ok := stageRoles[req.Stage]
	if !ok {
		return StageResult{}, fmt.Errorf("unknown stage %q", req.Stage)
	}

	ctx, span := tracer.Start(ctx, "scheduler.RunStage",
		trace.WithAttributes(
			attribute.String("incident.id", req.Incident.ID),
			attribute.String("incident.stage", string(req.Stage)),
			attribute.Int("stage.fan_out", len(roles)),
		),
	)
	defer span.End()

	start := time.Now()
	s.emit(events.TypeStageStarted, req.Incident.ID, events.StageData{
		Stage: req.Stage,
		Roles: roles,
	})

	stageCtx, cancel := context.WithTimeout(ctx, s.timeouts[req.Stage])
	defer cancel()

	var wg sync.WaitGroup
	opinions := make([]incident.Opinion, len(roles))
	for i, role := range roles {
		wg.Add(1)
		go func(i int, role incident.Role) {
			defer wg.Done()
			opinions[i] = s.callRole(stageCtx, role, req)
		}(i, role)
	}
	wg.Wait()

	result := StageResult{
		Stage:    req.Stage,
		Opinions: opinions,
		Duration: time.Since(start),
	}
	for _, op := range opinions {
		switch op.Outcome {
		case incident.OutcomeResponded:
			result.Responded++
		case incident.OutcomeSkippedCircuitOpen:
			result.Skipped++
		case incident.OutcomeTimeout:
			result.Failed++
			result.TimedOut = true
		default:
			result.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("stage.responded", result.Responded),
		attribute.Int("stage.skipped", result.Skipped),
		attribute.Int("stage.failed", result.Failed),
	)
	if result.TimedOut {
		span.SetStatus(codes.Error, "stage deadline exceeded")
		s.emit(events.TypeStageTimedOut, req.Incident.ID, events.StageData{
			Stage:     req.Stage,
			Roles:     roles,
			Responded: result.Responded,
			Skipped:   result.Skipped,
			Failed:    result.Failed,
			Duration:  result.Duration,
		})
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.emit(events.TypeStageCompleted, req.Incident.ID, events.StageData{
		Stage:     req.Stage,
		Roles:     roles,
		Responded: result.Responded,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
		Duration:  result.Duration,
	})

	s.logger.Info("stage completed",
		slog.String("incident_id", req.Incident.ID),
		slog.String("stage", string(req.Stage)),
		slog.Int("responded", result.Responded),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

// callRole runs one analyzer under the stage deadline and always returns
// an opinion.
func (s *Scheduler) callRole(ctx context.Context, role incident.Role, req analyzer.Request) incident.Opinion {
	ctx, span := tracer.Start(ctx, "scheduler.callRole",
		trace.WithAttributes(
			attribute.String("incident.id", req.Incident.ID),
			attribute.String("analyzer.role", string(role)),
		),
	)
	defer span.End()

	op := incident.Opinion{
		ID:         uuid.NewString(),
		Role:       role,
		IncidentID: req.Incident.ID,
		Stage:      req.Stage,
		ProducedAt: time.Now().UTC(),
	}

	if !s.breakers.Allow(role) {
		op.Outcome = incident.OutcomeSkippedCircuitOpen
		op.Err = incident.ErrCircuitOpenSkip.Error()
		span.SetAttributes(attribute.String("analyzer.outcome", string(op.Outcome)))
		s.logger.Debug("analyzer skipped, circuit open",
			slog.String("incident_id", req.Incident.ID),
			slog.String("role", string(role)),
		)
		return op
	}

	start := time.Now()
	finding, err := s.analyzers[role].Analyze(ctx, req)
	op.Latency = time.Since(start)

	if err == nil {
		if verr := finding.Validate(); verr != nil {
			err = fmt.Errorf("%w: %w", incident.ErrAgentError, verr)
		}
	}

	switch {
	case err == nil:
		op.Outcome = incident.OutcomeResponded
		op.Confidence = finding.Confidence
		op.Finding = finding.Finding
		op.Evidence = finding.Evidence
		op.ProposedAction = finding.ProposedAction
		s.breakers.RecordSuccess(role)
		span.SetStatus(codes.Ok, "")

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		op.Outcome = incident.OutcomeTimeout
		op.Err = fmt.Errorf("%w: %w", incident.ErrAgentTimeout, err).Error()
		s.breakers.RecordFailure(role)
		span.RecordError(err)
		span.SetStatus(codes.Error, "analyzer timed out")

	default:
		op.Outcome = incident.OutcomeError
		op.Err = fmt.Errorf("%w: %w", incident.ErrAgentError, err).Error()
		s.breakers.RecordFailure(role)
		span.RecordError(err)
		span.SetStatus(codes.Error, "analyzer failed")
	}

	span.SetAttributes(
		attribute.String("analyzer.outcome", string(op.Outcome)),
		attribute.Float64("analyzer.confidence", op.Confidence),
	)
	return op
}

// emit broadcasts an observation when an emitter is wired.
func (s *Scheduler) emit(obsType events.Type, incidentID string, data any) {
	if s.emitter != nil {
		s.emitter.Emit(obsType, incidentID, data)
	}
}
