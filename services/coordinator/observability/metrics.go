// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the coordinator.
//
// # Description
//
// Metrics cover the swarm pipeline end to end:
//   - Incident terminals (resolved / escalated / failed, by category)
//   - Stage latency histograms and per-role call outcomes
//   - Consensus confidence and quorum failures
//   - Circuit breaker state per role
//
// # Integration
//
// Metrics are exposed on /metrics. Wire SwarmMetrics into the coordinator
// via its event emitter subscription (see Observe).
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sentinelops/swarm/services/coordinator/events"
	"github.com/sentinelops/swarm/services/coordinator/incident"
)

const metricsNamespace = "swarm"

const coordinatorSubsystem = "coordinator"

// breakerStateValue maps breaker state names to gauge values so dashboards
// can graph transitions (0=closed, 1=half_open, 2=open).
var breakerStateValue = map[string]float64{
	"closed":    0,
	"half_open": 1,
	"open":      2,
}

// SwarmMetrics holds all Prometheus metrics for the coordinator.
//
// Initialize once at startup via InitMetrics; registering twice panics.
type SwarmMetrics struct {
	// IncidentsSubmitted counts incoming incidents.
	// Labels: category, severity
	IncidentsSubmitted *prometheus.CounterVec

	// IncidentsTerminal counts terminal transitions.
	// Labels: category, status (RESOLVED, ESCALATED, FAILED)
	IncidentsTerminal *prometheus.CounterVec

	// StageDurationSeconds measures how long each stage ran.
	// Labels: stage
	StageDurationSeconds *prometheus.HistogramVec

	// StageOutcomesTotal counts per-stage opinion outcomes.
	// Labels: stage, outcome (responded, skipped, failed)
	StageOutcomesTotal *prometheus.CounterVec

	// StageTimeoutsTotal counts stage deadline hits.
	// Labels: stage
	StageTimeoutsTotal *prometheus.CounterVec

	// ConsensusConfidence observes aggregate confidence per stage.
	// Labels: stage
	ConsensusConfidence *prometheus.HistogramVec

	// QuorumFailuresTotal counts consensus rounds without quorum.
	// Labels: stage
	QuorumFailuresTotal *prometheus.CounterVec

	// BreakerState exposes each role's breaker as a gauge
	// (0=closed, 1=half_open, 2=open). Labels: role
	BreakerState *prometheus.GaugeVec

	// BreakerTransitionsTotal counts breaker state changes.
	// Labels: role, to
	BreakerTransitionsTotal *prometheus.CounterVec

	// ActiveIncidents tracks incidents currently in flight.
	ActiveIncidents prometheus.Gauge
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *SwarmMetrics

// InitMetrics creates and registers all coordinator metrics on the default
// Prometheus registry. Call once at startup.
func InitMetrics() *SwarmMetrics {
	DefaultMetrics = &SwarmMetrics{
		IncidentsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "incidents_submitted_total",
				Help:      "Total incidents submitted by category and severity",
			},
			[]string{"category", "severity"},
		),

		IncidentsTerminal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "incidents_terminal_total",
				Help:      "Total incidents reaching a terminal state by category and status",
			},
			[]string{"category", "status"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Stage wall-clock duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 180},
			},
			[]string{"stage"},
		),

		StageOutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "stage_outcomes_total",
				Help:      "Per-stage analyzer opinion outcomes",
			},
			[]string{"stage", "outcome"},
		),

		StageTimeoutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "stage_timeouts_total",
				Help:      "Stages that hit their deadline budget",
			},
			[]string{"stage"},
		),

		ConsensusConfidence: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "consensus_confidence",
				Help:      "Aggregate confidence of consensus decisions",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
			[]string{"stage"},
		),

		QuorumFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "quorum_failures_total",
				Help:      "Consensus rounds that failed to meet quorum",
			},
			[]string{"stage"},
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "breaker_state",
				Help:      "Circuit breaker state per role (0=closed, 1=half_open, 2=open)",
			},
			[]string{"role"},
		),

		BreakerTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker transitions by role and target state",
			},
			[]string{"role", "to"},
		),

		ActiveIncidents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "active_incidents",
				Help:      "Incidents currently being processed",
			},
		),
	}

	return DefaultMetrics
}

// Observe subscribes the metrics to an observation emitter so the pipeline
// stays decoupled from Prometheus. Returns the subscription ID.
func (m *SwarmMetrics) Observe(emitter *events.Emitter) string {
	return emitter.Subscribe(func(obs *events.Observation) {
		switch obs.Type {
		case events.TypeIncidentSubmitted:
			if d, ok := obs.Data.(events.IncidentSubmittedData); ok {
				m.IncidentsSubmitted.WithLabelValues(string(d.Category), string(d.Severity)).Inc()
			}
			m.ActiveIncidents.Inc()

		case events.TypeStageCompleted:
			if d, ok := obs.Data.(events.StageData); ok {
				m.StageDurationSeconds.WithLabelValues(string(d.Stage)).Observe(d.Duration.Seconds())
				m.StageOutcomesTotal.WithLabelValues(string(d.Stage), "responded").Add(float64(d.Responded))
				m.StageOutcomesTotal.WithLabelValues(string(d.Stage), "skipped").Add(float64(d.Skipped))
				m.StageOutcomesTotal.WithLabelValues(string(d.Stage), "failed").Add(float64(d.Failed))
			}

		case events.TypeStageTimedOut:
			if d, ok := obs.Data.(events.StageData); ok {
				m.StageTimeoutsTotal.WithLabelValues(string(d.Stage)).Inc()
			}

		case events.TypeConsensusReached:
			if d, ok := obs.Data.(events.ConsensusData); ok {
				m.ConsensusConfidence.WithLabelValues(string(d.Result.Stage)).Observe(d.Result.AggregateConfidence)
				if !d.Result.QuorumMet {
					m.QuorumFailuresTotal.WithLabelValues(string(d.Result.Stage)).Inc()
				}
			}

		case events.TypeBreakerTransition:
			if d, ok := obs.Data.(events.BreakerTransitionData); ok {
				if v, known := breakerStateValue[d.To]; known {
					m.BreakerState.WithLabelValues(string(d.Role)).Set(v)
				}
				m.BreakerTransitionsTotal.WithLabelValues(string(d.Role), d.To).Inc()
			}

		case events.TypeIncidentResolved, events.TypeIncidentEscalated:
			if d, ok := obs.Data.(events.TerminalData); ok {
				m.recordTerminal(obs.IncidentID, d)
			}
			m.ActiveIncidents.Dec()
		}
	})
}

// recordTerminal counts a terminal transition. Category travels in the
// observation data for exactly this purpose.
func (m *SwarmMetrics) recordTerminal(_ string, d events.TerminalData) {
	m.IncidentsTerminal.WithLabelValues(string(d.Category), d.Status.String()).Inc()
}

// InitBreakerGauges seeds the breaker gauge with every role closed so
// dashboards show a complete series from startup.
func (m *SwarmMetrics) InitBreakerGauges() {
	for _, role := range incident.AllRoles() {
		m.BreakerState.WithLabelValues(string(role)).Set(breakerStateValue["closed"])
	}
}
