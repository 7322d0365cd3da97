// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eventstore persists incident state as an append-only, versioned
// event log with optimistic concurrency control.
//
// Every incident is a sequence of immutable events starting at sequence 1.
// An append succeeds only when the caller's expected version equals the
// store's current version for that incident; a stale append fails with
// incident.ErrVersionConflict and never moves the version pointer. Current
// state is never stored: it is recomputed by replaying the log through the
// pure reducer in projection.go, which makes crash recovery a replay.
//
// Two backends are provided: a Badger-backed durable store and an in-memory
// store for tests and ephemeral runs.
package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentinelops/swarm/services/coordinator/breaker"
	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// Kind identifies the type of an incident event.
type Kind string

const (
	// KindIncidentOpened is the first event of every incident.
	KindIncidentOpened Kind = "IncidentOpened"

	// KindAgentOpinionRecorded captures one analyzer opinion, including
	// skip and failure placeholders.
	KindAgentOpinionRecorded Kind = "AgentOpinionRecorded"

	// KindStageCompleted marks a pipeline stage as done. Resume-after-crash
	// starts at the first stage without one.
	KindStageCompleted Kind = "StageCompleted"

	// KindConsensusReached captures a consensus result, quorum met or not.
	KindConsensusReached Kind = "ConsensusReached"

	// KindCircuitBreakerStateChanged captures a breaker transition observed
	// while this incident was in flight.
	KindCircuitBreakerStateChanged Kind = "CircuitBreakerStateChanged"

	// KindStageTimedOut records that a stage hit its deadline budget.
	KindStageTimedOut Kind = "StageTimedOut"

	// KindIncidentResolved is the successful terminal event.
	KindIncidentResolved Kind = "IncidentResolved"

	// KindIncidentEscalated is the terminal event for ESCALATED and FAILED.
	KindIncidentEscalated Kind = "IncidentEscalated"
)

// Event is one immutable record in an incident's log.
//
// Sequence numbers are strictly increasing per incident starting at 1; the
// store enforces sequence == current version + 1 at append time.
type Event struct {
	// IncidentID is the incident this event belongs to.
	IncidentID string `json:"incident_id"`

	// Sequence is the position in the incident's log, starting at 1.
	Sequence uint64 `json:"sequence"`

	// Kind identifies the payload type.
	Kind Kind `json:"kind"`

	// Payload is the JSON-encoded kind-specific payload.
	Payload json.RawMessage `json:"payload"`

	// ProducedBy names the component that appended the event.
	ProducedBy string `json:"produced_by"`

	// Timestamp is when the event was appended (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// IncidentOpenedPayload opens an incident.
type IncidentOpenedPayload struct {
	Category    incident.Category `json:"category"`
	Severity    incident.Severity `json:"severity"`
	Description string            `json:"description"`
}

// OpinionRecordedPayload carries one analyzer opinion.
type OpinionRecordedPayload struct {
	Opinion incident.Opinion `json:"opinion"`
}

// StageCompletedPayload marks a stage as done.
type StageCompletedPayload struct {
	Stage incident.Stage `json:"stage"`
}

// ConsensusReachedPayload carries one consensus result.
type ConsensusReachedPayload struct {
	Result incident.ConsensusResult `json:"result"`
}

// BreakerChangedPayload captures a breaker transition.
type BreakerChangedPayload struct {
	Role                incident.Role `json:"role"`
	From                string        `json:"from"`
	To                  string        `json:"to"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CooldownUntil       time.Time     `json:"cooldown_until,omitzero"`
}

// NewBreakerChangedPayload converts a breaker transition for persistence.
func NewBreakerChangedPayload(t breaker.Transition) BreakerChangedPayload {
	return BreakerChangedPayload{
		Role:                t.Role,
		From:                t.From.String(),
		To:                  t.To.String(),
		ConsecutiveFailures: t.ConsecutiveFailures,
		CooldownUntil:       t.CooldownUntil,
	}
}

// StageTimedOutPayload records a stage deadline hit.
type StageTimedOutPayload struct {
	Stage incident.Stage  `json:"stage"`
	Roles []incident.Role `json:"roles"`
}

// IncidentResolvedPayload closes an incident successfully.
type IncidentResolvedPayload struct {
	Summary string `json:"summary"`
}

// IncidentEscalatedPayload escalates or fails an incident. The full reason
// and opinion trail travel with the event for auditability.
type IncidentEscalatedPayload struct {
	Reason string `json:"reason"`

	// Failed is true when even escalation delivery was impossible, which
	// projects to the FAILED terminal state instead of ESCALATED.
	Failed bool `json:"failed,omitempty"`
}

// NewEvent builds an event with a JSON-encoded payload. Sequence is left
// zero; the store assigns expectedVersion+1 at append time.
//
// Inputs:
//
//	incidentID - The incident the event belongs to.
//	kind - The event kind; must match the payload type.
//	producedBy - The appending component ("coordinator", "scheduler", ...).
//	payload - One of the *Payload structs above.
//
// Outputs:
//
//	Event - The event, timestamped now (UTC).
//	error - Non-nil if the payload cannot be encoded.
func NewEvent(incidentID string, kind Kind, producedBy string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Event{
		IncidentID: incidentID,
		Kind:       kind,
		Payload:    raw,
		ProducedBy: producedBy,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// decodePayload unmarshals the event payload into dst.
func (e *Event) decodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload at sequence %d: %w", e.Kind, e.Sequence, err)
	}
	return nil
}
