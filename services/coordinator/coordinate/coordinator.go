// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinate drives incidents through the swarm pipeline.
//
// The coordinator owns the lifecycle state machine. State never lives in
// memory between steps: every transition is appended to the event store
// before the pipeline advances, so a crash at any point is recovered by
// replaying the log and resuming at the first stage without a completion
// event. The happy path is
//
//	OPENED -> DETECTING -> ANALYZING -> ANALYSIS_CONSENSUS -> RESOLVING
//	       -> RESOLUTION_CONSENSUS -> COMMUNICATING -> RESOLVED
//
// with ESCALATED reachable from any non-terminal state and FAILED reserved
// for escalations that could not even be delivered.
package coordinate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentinelops/swarm/services/coordinator/analyzer"
	"github.com/sentinelops/swarm/services/coordinator/consensus"
	"github.com/sentinelops/swarm/services/coordinator/events"
	"github.com/sentinelops/swarm/services/coordinator/eventstore"
	"github.com/sentinelops/swarm/services/coordinator/incident"
	"github.com/sentinelops/swarm/services/coordinator/notify"
	"github.com/sentinelops/swarm/services/coordinator/scheduler"
)

var tracer = otel.Tracer("swarm.coordinate")

// ErrQueueFull indicates the incident queue is at capacity. Submitters
// should back off and retry.
var ErrQueueFull = errors.New("incident queue full")

// maxAppendRetries bounds optimistic-lock retries per append. Conflicts
// come from the breaker audit trail racing the pipeline; more than a few
// in a row means something is structurally wrong.
const maxAppendRetries = 3

// pipelineStages is the stage order. Resume starts at the first stage
// without a completion event.
var pipelineStages = []incident.Stage{
	incident.StageDetection,
	incident.StageAnalysis,
	incident.StageResolution,
	incident.StageCommunication,
}

// producedBy tags events appended by this package.
const producedBy = "coordinator"

// Config configures a Coordinator.
type Config struct {
	// Store is the incident event log. Required.
	Store eventstore.Store

	// Scheduler fans stages out to analyzers. Required.
	Scheduler *scheduler.Scheduler

	// Consensus aggregates opinions. Required.
	Consensus *consensus.Engine

	// Notifier delivers outcomes to stakeholders.
	// Default: notify.NewLog(Logger).
	Notifier notify.Notifier

	// Emitter receives lifecycle observations. Optional.
	Emitter *events.Emitter

	// Workers is the number of concurrent pipeline workers. Default: 4.
	Workers int

	// QueueSize bounds the pending-incident queue. Default: 64.
	QueueSize int

	// Logger for lifecycle logs. If nil, uses slog.Default().
	Logger *slog.Logger
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Notifier == nil {
		c.Notifier = notify.NewLog(c.Logger)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("event store is required")
	}
	if c.Scheduler == nil {
		return errors.New("scheduler is required")
	}
	if c.Consensus == nil {
		return errors.New("consensus engine is required")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.QueueSize < 1 {
		return errors.New("queue size must be at least 1")
	}
	return nil
}

// Coordinator runs the incident pipeline over a bounded worker pool.
//
// Thread Safety: Safe for concurrent use. Each incident is processed by
// one worker at a time; cross-incident state (breakers) is owned by the
// scheduler's registry.
type Coordinator struct {
	config Config

	queue chan string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Coordinator.
//
// Inputs:
//
//	config - Coordinator configuration. Store, Scheduler and Consensus
//	    are required; zero values elsewhere get defaults.
//
// Outputs:
//
//	*Coordinator - The coordinator. Call Start to launch workers.
//	error - Non-nil if the configuration is invalid.
func New(config Config) (*Coordinator, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinator config: %w", err)
	}
	return &Coordinator{
		config: config,
		queue:  make(chan string, config.QueueSize),
	}, nil
}

// Start launches the worker pool and resumes any non-terminal incidents
// found in the store.
//
// Outputs:
//
//	error - Non-nil if already started or the resume scan fails.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	resumed, err := c.resume(ctx)
	if err != nil {
		return fmt.Errorf("resume incidents: %w", err)
	}
	if resumed > 0 {
		c.config.Logger.Info("resumed unfinished incidents", slog.Int("count", resumed))
	}

	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	c.config.Logger.Info("coordinator started",
		slog.Int("workers", c.config.Workers),
		slog.Int("queue_size", c.config.QueueSize),
	)
	return nil
}

// Stop cancels the workers and waits for in-flight incidents to settle.
// Incidents interrupted mid-pipeline are resumed on the next Start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.started = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.config.Logger.Info("coordinator stopped")
}

// Submit validates and persists a new incident, then queues it for the
// pipeline.
//
// Inputs:
//
//	ctx - Context for the append.
//	category - One of the known incident categories.
//	severity - One of the known severities.
//	description - Free-form report text.
//
// Outputs:
//
//	string - The new incident ID.
//	error - incident.ErrInvalidIncident for unknown category/severity,
//	    ErrQueueFull when the queue is at capacity.
func (c *Coordinator) Submit(ctx context.Context, category incident.Category, severity incident.Severity, description string) (string, error) {
	if !category.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", incident.ErrInvalidIncident, category)
	}
	if !severity.Valid() {
		return "", fmt.Errorf("%w: unknown severity %q", incident.ErrInvalidIncident, severity)
	}

	id := uuid.NewString()
	ev, err := eventstore.NewEvent(id, eventstore.KindIncidentOpened, producedBy, eventstore.IncidentOpenedPayload{
		Category:    category,
		Severity:    severity,
		Description: description,
	})
	if err != nil {
		return "", err
	}
	if _, err := c.config.Store.Append(ctx, id, 0, ev); err != nil {
		return "", fmt.Errorf("open incident: %w", err)
	}

	c.emit(events.TypeIncidentSubmitted, id, events.IncidentSubmittedData{
		Category: category,
		Severity: severity,
	})

	select {
	case c.queue <- id:
	default:
		// The incident is durable; it will be picked up by the next
		// resume scan even though this submission is rejected.
		return "", fmt.Errorf("submit incident %s: %w", id, ErrQueueFull)
	}

	c.config.Logger.Info("incident submitted",
		slog.String("incident_id", id),
		slog.String("category", string(category)),
		slog.String("severity", string(severity)),
	)
	return id, nil
}

// Incident returns the current projection of an incident.
func (c *Coordinator) Incident(ctx context.Context, id string) (*incident.Incident, error) {
	return eventstore.ProjectIncident(ctx, c.config.Store, id)
}

// resume scans the store and queues every non-terminal incident.
func (c *Coordinator) resume(ctx context.Context) (int, error) {
	ids, err := c.config.Store.IncidentIDs(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, id := range ids {
		inc, err := eventstore.ProjectIncident(ctx, c.config.Store, id)
		if err != nil {
			c.config.Logger.Error("skipping unreadable incident log",
				slog.String("incident_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if inc.Status.IsTerminal() {
			continue
		}
		select {
		case c.queue <- id:
			resumed++
		default:
			return resumed, fmt.Errorf("resume incident %s: %w", id, ErrQueueFull)
		}
	}
	return resumed, nil
}

// worker drains the queue until the context is cancelled.
func (c *Coordinator) worker(ctx context.Context, n int) {
	defer c.wg.Done()

	logger := c.config.Logger.With(slog.Int("worker", n))
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.queue:
			if err := c.Process(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("incident pipeline failed",
					slog.String("incident_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Process drives one incident from its current state to a terminal state.
//
// Description:
//
//	Replays the incident's log, then runs the remaining stages in order.
//	Every opinion, consensus result and stage completion is appended to
//	the log before the pipeline advances. Escalations are handled inside;
//	the returned error reports infrastructure failures only (store or
//	context), never analyzer outcomes.
func (c *Coordinator) Process(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "coordinate.Process",
		trace.WithAttributes(attribute.String("incident.id", id)),
	)
	defer span.End()

	inc, err := eventstore.ProjectIncident(ctx, c.config.Store, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "projection failed")
		return err
	}
	if inc.Status.IsTerminal() {
		span.SetStatus(codes.Ok, "already terminal")
		return nil
	}

	version := inc.Version

	for _, stage := range pipelineStages {
		if stageDone(inc, stage) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		inc, version, err = c.runStage(ctx, inc, version, stage)
		if err != nil {
			var esc *incident.EscalationError
			if errors.As(err, &esc) {
				ferr := c.escalate(ctx, inc, version, esc)
				if ferr != nil {
					span.RecordError(ferr)
					span.SetStatus(codes.Error, "escalation failed")
				} else {
					span.SetStatus(codes.Ok, "escalated")
				}
				return ferr
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "stage failed")
			return err
		}
	}

	// All stages done: close out.
	summary := resolutionSummary(inc)
	ev, err := eventstore.NewEvent(id, eventstore.KindIncidentResolved, producedBy, eventstore.IncidentResolvedPayload{
		Summary: summary,
	})
	if err != nil {
		return err
	}
	if err := c.appendWithRetry(ctx, id, &version, ev); err != nil {
		return err
	}

	c.emit(events.TypeIncidentResolved, id, events.TerminalData{
		Status:   incident.StatusResolved,
		Category: inc.Category,
	})
	c.config.Logger.Info("incident resolved",
		slog.String("incident_id", id),
		slog.String("summary", summary),
	)
	span.SetStatus(codes.Ok, "resolved")
	return nil
}

// runStage executes one stage: fan-out, opinion persistence, consensus
// where the stage has one, delivery for communication, and the completion
// event. Returns the refreshed projection and version.
func (c *Coordinator) runStage(ctx context.Context, inc *incident.Incident, version uint64, stage incident.Stage) (*incident.Incident, uint64, error) {
	id := inc.ID

	req := analyzer.Request{
		Incident:    inc.Snapshot(),
		Stage:       stage,
		RootCause:   inc.Consensus[incident.StageAnalysis],
		Remediation: inc.Consensus[incident.StageResolution],
	}

	// Collect breaker transitions observed while this stage runs; they are
	// appended to this incident's log as the audit trail.
	transitions := c.collectTransitions()
	result, err := c.config.Scheduler.RunStage(ctx, req)
	observed := transitions()
	if err != nil {
		return inc, version, err
	}

	for _, op := range result.Opinions {
		ev, err := eventstore.NewEvent(id, eventstore.KindAgentOpinionRecorded, producedBy, eventstore.OpinionRecordedPayload{
			Opinion: op,
		})
		if err != nil {
			return inc, version, err
		}
		if err := c.appendWithRetry(ctx, id, &version, ev); err != nil {
			return inc, version, err
		}
	}

	for _, t := range observed {
		ev, err := eventstore.NewEvent(id, eventstore.KindCircuitBreakerStateChanged, producedBy, eventstore.BreakerChangedPayload{
			Role:                t.Role,
			From:                t.From,
			To:                  t.To,
			ConsecutiveFailures: t.ConsecutiveFailures,
			CooldownUntil:       t.CooldownUntil,
		})
		if err != nil {
			return inc, version, err
		}
		if err := c.appendWithRetry(ctx, id, &version, ev); err != nil {
			return inc, version, err
		}
	}

	if result.TimedOut {
		ev, err := eventstore.NewEvent(id, eventstore.KindStageTimedOut, producedBy, eventstore.StageTimedOutPayload{
			Stage: stage,
			Roles: scheduler.StageRoles(stage),
		})
		if err != nil {
			return inc, version, err
		}
		if err := c.appendWithRetry(ctx, id, &version, ev); err != nil {
			return inc, version, err
		}
	}

	// Refresh the projection so consensus sees the full opinion set,
	// including prior stages.
	inc, err = eventstore.ProjectIncident(ctx, c.config.Store, id)
	if err != nil {
		return inc, version, err
	}
	version = inc.Version

	switch stage {
	case incident.StageAnalysis, incident.StageResolution:
		inc, version, err = c.runConsensus(ctx, inc, version, stage)
		if err != nil {
			return inc, version, err
		}

	case incident.StageCommunication:
		if err := c.deliver(ctx, inc, result); err != nil {
			return inc, version, &incident.EscalationError{
				IncidentID: id,
				Stage:      stage,
				Reason:     fmt.Sprintf("stakeholder notification failed: %v", err),
				Opinions:   result.Opinions,
				Cause:      err,
			}
		}
	}

	ev, err := eventstore.NewEvent(id, eventstore.KindStageCompleted, producedBy, eventstore.StageCompletedPayload{
		Stage: stage,
	})
	if err != nil {
		return inc, version, err
	}
	if err := c.appendWithRetry(ctx, id, &version, ev); err != nil {
		return inc, version, err
	}
	inc.CompletedStages = append(inc.CompletedStages, stage)
	inc.Version = version

	return inc, version, nil
}

// runConsensus aggregates the stage's opinion set, persists the result and
// escalates when quorum is not met.
func (c *Coordinator) runConsensus(ctx context.Context, inc *incident.Incident, version uint64, stage incident.Stage) (*incident.Incident, uint64, error) {
	opinions := consensusOpinions(inc, stage)
	result := c.config.Consensus.Aggregate(inc.ID, stage, opinions)

	ev, err := eventstore.NewEvent(inc.ID, eventstore.KindConsensusReached, producedBy, eventstore.ConsensusReachedPayload{
		Result: result,
	})
	if err != nil {
		return inc, version, err
	}
	if err := c.appendWithRetry(ctx, inc.ID, &version, ev); err != nil {
		return inc, version, err
	}
	if inc.Consensus == nil {
		inc.Consensus = make(map[incident.Stage]*incident.ConsensusResult)
	}
	inc.Consensus[stage] = &result
	inc.Version = version

	c.emit(events.TypeConsensusReached, inc.ID, events.ConsensusData{Result: result})

	if !result.QuorumMet {
		return inc, version, &incident.EscalationError{
			IncidentID: inc.ID,
			Stage:      stage,
			Reason: fmt.Sprintf("%s consensus below quorum: present weight %.2f < %.2f",
				stage, result.PresentWeight, c.config.Consensus.Quorum()),
			Opinions: opinions,
			Cause:    incident.ErrQuorumNotMet,
		}
	}

	c.config.Logger.Info("consensus reached",
		slog.String("incident_id", inc.ID),
		slog.String("stage", string(stage)),
		slog.String("decision", result.Decision),
		slog.Float64("aggregate_confidence", result.AggregateConfidence),
	)
	return inc, version, nil
}

// consensusOpinions selects the opinion set a consensus stage votes over.
// Analysis includes the detection-stage opinion alongside the analysis
// fan-out; resolution votes only over the resolution-stage re-votes.
func consensusOpinions(inc *incident.Incident, stage incident.Stage) []incident.Opinion {
	var out []incident.Opinion
	for _, op := range inc.Opinions {
		switch stage {
		case incident.StageAnalysis:
			if op.Stage == incident.StageAnalysis || op.Stage == incident.StageDetection {
				out = append(out, op)
			}
		default:
			if op.Stage == stage {
				out = append(out, op)
			}
		}
	}
	return out
}

// deliver sends the resolution notice composed by the communication
// analyzer, falling back to a generated summary when that opinion is
// missing.
func (c *Coordinator) deliver(ctx context.Context, inc *incident.Incident, result scheduler.StageResult) error {
	message := ""
	for _, op := range result.Opinions {
		if op.Role == incident.RoleCommunication && op.Present() {
			message = op.Evidence
			break
		}
	}
	if message == "" {
		message = resolutionSummary(inc)
	}
	return c.config.Notifier.NotifyResolution(ctx, inc, message)
}

// escalate moves the incident to ESCALATED, or FAILED when even the
// escalation notice cannot be delivered.
func (c *Coordinator) escalate(ctx context.Context, inc *incident.Incident, version uint64, esc *incident.EscalationError) error {
	failed := false
	if err := c.config.Notifier.NotifyEscalation(ctx, inc, esc.Reason); err != nil {
		failed = true
		c.config.Logger.Error("escalation delivery failed",
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()),
		)
	}

	ev, err := eventstore.NewEvent(inc.ID, eventstore.KindIncidentEscalated, producedBy, eventstore.IncidentEscalatedPayload{
		Reason: esc.Reason,
		Failed: failed,
	})
	if err != nil {
		return err
	}
	if err := c.appendWithRetry(ctx, inc.ID, &version, ev); err != nil {
		return err
	}

	status := incident.StatusEscalated
	if failed {
		status = incident.StatusFailed
	}
	c.emit(events.TypeIncidentEscalated, inc.ID, events.TerminalData{
		Status:   status,
		Category: inc.Category,
		Reason:   esc.Reason,
	})
	c.config.Logger.Warn("incident escalated",
		slog.String("incident_id", inc.ID),
		slog.String("stage", string(esc.Stage)),
		slog.String("status", status.String()),
		slog.String("reason", esc.Reason),
	)
	return nil
}

// appendWithRetry appends one event, refreshing the expected version on
// optimistic-lock conflicts, at most maxAppendRetries times.
func (c *Coordinator) appendWithRetry(ctx context.Context, id string, version *uint64, ev eventstore.Event) error {
	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		seq, err := c.config.Store.Append(ctx, id, *version, ev)
		if err == nil {
			*version = seq
			return nil
		}
		if !errors.Is(err, incident.ErrVersionConflict) {
			return err
		}
		lastErr = err

		current, verr := c.config.Store.Version(ctx, id)
		if verr != nil {
			return verr
		}
		*version = current
	}
	return fmt.Errorf("append to incident %s: retries exhausted: %w", id, lastErr)
}

// collectTransitions subscribes to breaker transitions for the duration of
// a stage. The returned function unsubscribes and yields what was seen.
func (c *Coordinator) collectTransitions() func() []events.BreakerTransitionData {
	if c.config.Emitter == nil {
		return func() []events.BreakerTransitionData { return nil }
	}

	var mu sync.Mutex
	var seen []events.BreakerTransitionData
	subID := c.config.Emitter.Subscribe(func(obs *events.Observation) {
		if data, ok := obs.Data.(events.BreakerTransitionData); ok {
			mu.Lock()
			seen = append(seen, data)
			mu.Unlock()
		}
	}, events.TypeBreakerTransition)

	return func() []events.BreakerTransitionData {
		c.config.Emitter.Unsubscribe(subID)
		mu.Lock()
		defer mu.Unlock()
		return seen
	}
}

// stageDone reports whether the stage already has a completion event.
func stageDone(inc *incident.Incident, stage incident.Stage) bool {
	for _, s := range inc.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// resolutionSummary builds the closing summary from the consensus trail.
func resolutionSummary(inc *incident.Incident) string {
	rootCause := "unknown"
	if r, ok := inc.Consensus[incident.StageAnalysis]; ok && r.Decision != "" {
		rootCause = r.Decision
	}
	action := "manual review"
	if r, ok := inc.Consensus[incident.StageResolution]; ok && r.Decision != "" {
		action = r.Decision
	}
	return fmt.Sprintf("%s severity %s incident resolved: root cause %s, applied %s",
		inc.Severity, inc.Category, rootCause, action)
}

// emit broadcasts an observation when an emitter is wired.
func (c *Coordinator) emit(obsType events.Type, incidentID string, data any) {
	if c.config.Emitter != nil {
		c.config.Emitter.Emit(obsType, incidentID, data)
	}
}

// QueueDepth reports how many incidents are waiting for a worker.
func (c *Coordinator) QueueDepth() int {
	return len(c.queue)
}
