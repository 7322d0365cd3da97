// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package incident

import (
	"errors"
	"fmt"
)

var (
	// ErrAgentTimeout indicates an analyzer missed its deadline.
	ErrAgentTimeout = errors.New("agent timed out")

	// ErrAgentError indicates an analyzer failed or returned malformed
	// output. Both count as one failure toward the circuit breaker.
	ErrAgentError = errors.New("agent error")

	// ErrCircuitOpenSkip indicates an analyzer was bypassed because its
	// circuit breaker is open. An intentional skip, not a failure.
	ErrCircuitOpenSkip = errors.New("skipped: circuit open")

	// ErrQuorumNotMet indicates too little opinion weight was present for
	// consensus. Not locally recoverable; the coordinator escalates.
	ErrQuorumNotMet = errors.New("consensus quorum not met")

	// ErrVersionConflict indicates an optimistic-lock append lost a race.
	// The coordinator reloads and retries, bounded.
	ErrVersionConflict = errors.New("event store version conflict")

	// ErrDeliveryFailure indicates stakeholder notification failed.
	ErrDeliveryFailure = errors.New("notification delivery failed")

	// ErrIncidentNotFound indicates the incident has no event log.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrInvalidIncident indicates a submission with unknown category or
	// severity.
	ErrInvalidIncident = errors.New("invalid incident")
)

// VersionConflictError carries the versions involved in a lost append race.
// It unwraps to ErrVersionConflict.
type VersionConflictError struct {
	IncidentID string
	Expected   uint64
	Actual     uint64
}

// Error implements the error interface.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on incident %s: expected %d, store at %d",
		e.IncidentID, e.Expected, e.Actual)
}

// Unwrap returns ErrVersionConflict so callers can match with errors.Is.
func (e *VersionConflictError) Unwrap() error {
	return ErrVersionConflict
}

// EscalationError carries the human-readable reason and the opinion trail
// for an escalation, as required for auditability. It unwraps to the
// underlying cause (ErrQuorumNotMet, ErrDeliveryFailure, ...).
type EscalationError struct {
	IncidentID string
	Stage      Stage
	Reason     string
	Opinions   []Opinion
	Cause      error
}

// Error implements the error interface.
func (e *EscalationError) Error() string {
	return fmt.Sprintf("incident %s escalated at stage %s: %s", e.IncidentID, e.Stage, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *EscalationError) Unwrap() error {
	return e.Cause
}
