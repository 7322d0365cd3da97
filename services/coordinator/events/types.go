// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides the process-wide observation bus for the swarm.
//
// Observations let external systems (metrics, dashboards, the WebSocket
// stream) watch coordinator behavior without coupling to it. They are
// distinct from the persisted incident event log in the eventstore package:
// observations are best-effort and in-memory, the event log is durable.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import (
	"time"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// Type identifies the kind of observation.
type Type string

const (
	// TypeIncidentSubmitted is emitted when an incident enters the queue.
	TypeIncidentSubmitted Type = "incident_submitted"

	// TypeStageStarted is emitted when the scheduler begins a stage.
	TypeStageStarted Type = "stage_started"

	// TypeStageCompleted is emitted when a stage's opinions are collected.
	TypeStageCompleted Type = "stage_completed"

	// TypeStageTimedOut is emitted when a stage hits its deadline budget.
	TypeStageTimedOut Type = "stage_timed_out"

	// TypeBreakerTransition is emitted on every circuit breaker state change.
	TypeBreakerTransition Type = "breaker_transition"

	// TypeConsensusReached is emitted when a consensus step produces a result,
	// whether or not quorum was met.
	TypeConsensusReached Type = "consensus_reached"

	// TypeIncidentResolved is emitted on the RESOLVED terminal transition.
	TypeIncidentResolved Type = "incident_resolved"

	// TypeIncidentEscalated is emitted on ESCALATED or FAILED transitions.
	TypeIncidentEscalated Type = "incident_escalated"
)

// Observation is one broadcast item on the bus.
//
// Observations should be treated as immutable after creation. The Data field
// holds one of the typed data structs below, matching the Type.
type Observation struct {
	// ID is a unique identifier for this observation.
	ID string `json:"id"`

	// Type identifies the kind of observation.
	Type Type `json:"type"`

	// IncidentID links the observation to an incident, when one is in flight.
	IncidentID string `json:"incident_id,omitempty"`

	// Timestamp is when the observation occurred.
	Timestamp time.Time `json:"timestamp"`

	// Data contains observation-specific data: one of IncidentSubmittedData,
	// StageData, BreakerTransitionData, ConsensusData, or TerminalData.
	Data any `json:"data,omitempty"`
}

// IncidentSubmittedData is the data for incident_submitted observations.
type IncidentSubmittedData struct {
	Category incident.Category `json:"category"`
	Severity incident.Severity `json:"severity"`
}

// StageData is the data for stage_started/stage_completed/stage_timed_out.
type StageData struct {
	// Stage is the pipeline stage.
	Stage incident.Stage `json:"stage"`

	// Roles lists the analyzer roles the stage fanned out to.
	Roles []incident.Role `json:"roles,omitempty"`

	// Responded is the number of opinions with a usable finding.
	Responded int `json:"responded"`

	// Skipped is the number of circuit-open skips.
	Skipped int `json:"skipped"`

	// Failed is the number of timeouts and errors.
	Failed int `json:"failed"`

	// Duration is how long the stage ran.
	Duration time.Duration `json:"duration"`
}

// BreakerTransitionData is the data for breaker_transition observations.
type BreakerTransitionData struct {
	// Role is the analyzer role whose breaker changed state.
	Role incident.Role `json:"role"`

	// From is the previous breaker state.
	From string `json:"from"`

	// To is the new breaker state.
	To string `json:"to"`

	// ConsecutiveFailures is the failure count at transition time.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// CooldownUntil is set when transitioning to open.
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// ConsensusData is the data for consensus_reached observations.
type ConsensusData struct {
	Result incident.ConsensusResult `json:"result"`
}

// TerminalData is the data for incident_resolved/incident_escalated.
type TerminalData struct {
	// Status is the terminal lifecycle state.
	Status incident.Status `json:"status"`

	// Category is the incident's category, carried for metric labels.
	Category incident.Category `json:"category"`

	// Reason is the human-readable escalation/failure reason, if any.
	Reason string `json:"reason,omitempty"`
}
