// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer defines the agent interface the scheduler fans out to,
// plus the built-in heuristic analyzers and an optional LLM-backed one.
//
// Analyzers are stateless workers: everything they know about an incident
// arrives in the Request, and everything they conclude leaves in the
// Finding. Coordination state (breakers, opinions, consensus) lives
// entirely outside this package.
package analyzer

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// Request is the read-only input handed to an analyzer for one call.
type Request struct {
	// Incident is the snapshot of the incident under analysis.
	Incident incident.Snapshot

	// Stage is the pipeline stage the call belongs to. Analyzers may be
	// consulted in more than one stage (the investigative roles re-vote on
	// remediation during the resolution stage).
	Stage incident.Stage

	// RootCause is the analysis-stage consensus decision. Set for
	// resolution and communication stage calls, nil before that.
	RootCause *incident.ConsensusResult

	// Remediation is the resolution-stage consensus decision. Set only for
	// communication stage calls.
	Remediation *incident.ConsensusResult
}

// Finding is an analyzer's verdict for one call. The scheduler wraps it
// into a full incident.Opinion with identity and timing attached.
type Finding struct {
	// Finding is the categorical decision being argued for (a root-cause
	// label during analysis, a remediation action during resolution).
	Finding string `validate:"required"`

	// Confidence is self-assessed certainty in [0,1].
	Confidence float64 `validate:"gte=0,lte=1"`

	// Evidence is free-form supporting detail.
	Evidence string

	// ProposedAction is an optional remediation suggestion.
	ProposedAction string
}

// Analyzer is one specialized agent in the swarm.
//
// Implementations must honor ctx cancellation: the scheduler enforces stage
// deadlines by cancelling the context, and a call that overruns it is
// recorded as a timeout and counted against the role's circuit breaker.
type Analyzer interface {
	// Role identifies the analyzer's specialization.
	Role() incident.Role

	// Analyze produces a finding for the request, or an error. Malformed
	// findings (failing Validate) are treated as errors by the scheduler.
	Analyze(ctx context.Context, req Request) (Finding, error)
}

// validate checks findings at the scheduler boundary. Struct tags only,
// no custom validators, so a shared instance is safe.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports whether the finding is well-formed.
func (f *Finding) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("malformed finding: %w", err)
	}
	return nil
}
