// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package consensus aggregates agent opinions into one decision per stage
// using weighted voting.
//
// Aggregation is a pure function of its inputs: the engine carries only the
// weight tables and quorum threshold fixed at construction, so the same
// opinions always produce the same result.
//
// # Weight redistribution
//
// Each consensus stage has a fixed per-role weight table. When an eligible
// role's opinion is missing (circuit-open skip, timeout, or error), its
// weight is redistributed proportionally across the present opinions: every
// present weight is scaled by eligibleTotal/presentTotal, so the effective
// weights always sum to the stage's full eligible weight. Quorum is checked
// against the PRE-redistribution present weight, so redistribution never
// manufactures a quorum.
//
// Thread Safety:
//
//	Engine is immutable after construction and safe for concurrent use.
package consensus

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// DefaultQuorum is the minimum present weight required for a decision.
const DefaultQuorum = 0.5

// DefaultWeights returns the per-stage role weight tables.
//
// Analysis combines the three investigative roles; resolution re-validates
// the proposed action against the investigative roles with the resolution
// opinion carrying the largest single weight.
func DefaultWeights() map[incident.Stage]map[incident.Role]float64 {
	return map[incident.Stage]map[incident.Role]float64{
		incident.StageAnalysis: {
			incident.RoleDiagnosis:  0.4,
			incident.RolePrediction: 0.3,
			incident.RoleDetection:  0.2,
		},
		incident.StageResolution: {
			incident.RoleResolution: 0.4,
			incident.RoleDiagnosis:  0.3,
			incident.RolePrediction: 0.2,
			incident.RoleDetection:  0.1,
		},
	}
}

// Config configures a consensus engine.
type Config struct {
	// Quorum is the minimum pre-redistribution present weight for a
	// decision. Default: DefaultQuorum.
	Quorum float64

	// Weights is the per-stage role weight table.
	// Default: DefaultWeights().
	Weights map[incident.Stage]map[incident.Role]float64
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	if c.Quorum == 0 {
		c.Quorum = DefaultQuorum
	}
	if c.Weights == nil {
		c.Weights = DefaultWeights()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Quorum <= 0 || c.Quorum > 1 {
		return errors.New("quorum must be in (0, 1]")
	}
	if len(c.Weights) == 0 {
		return errors.New("at least one stage weight table is required")
	}
	for stage, table := range c.Weights {
		if len(table) == 0 {
			return fmt.Errorf("stage %s has an empty weight table", stage)
		}
		for role, w := range table {
			if w <= 0 {
				return fmt.Errorf("stage %s role %s has non-positive weight", stage, role)
			}
		}
	}
	return nil
}

// Engine aggregates opinions into consensus results.
type Engine struct {
	quorum  float64
	weights map[incident.Stage]map[incident.Role]float64
}

// NewEngine creates a consensus engine.
//
// Inputs:
//
//	config - Engine configuration. Zero values get defaults.
//
// Outputs:
//
//	*Engine - The immutable engine.
//	error - Non-nil if the configuration is invalid.
func NewEngine(config Config) (*Engine, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consensus config: %w", err)
	}
	return &Engine{
		quorum:  config.Quorum,
		weights: config.Weights,
	}, nil
}

// EligibleRoles returns the roles with a weight for the stage, in role
// priority order.
func (e *Engine) EligibleRoles(stage incident.Stage) []incident.Role {
	table := e.weights[stage]
	roles := make([]incident.Role, 0, len(table))
	for role := range table {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool {
		return roles[i].Priority() < roles[j].Priority()
	})
	return roles
}

// Aggregate converts the opinion set for a stage into exactly one
// ConsensusResult.
//
// Description:
//
//	Only opinions with Outcome responded and an eligible role vote.
//	Placeholder opinions (skips, timeouts, errors) contribute nothing but
//	are accepted so callers can pass a stage's full opinion set unfiltered.
//	With zero present opinions the result has QuorumMet=false and no
//	decision; the coordinator treats that as a hard stage failure.
//
// Inputs:
//
//	incidentID - The incident being decided.
//	stage - The consensus stage (must have a weight table).
//	opinions - The stage's opinion set, placeholders included.
//
// Outputs:
//
//	incident.ConsensusResult - The single aggregated decision.
func (e *Engine) Aggregate(incidentID string, stage incident.Stage, opinions []incident.Opinion) incident.ConsensusResult {
	table := e.weights[stage]

	result := incident.ConsensusResult{
		IncidentID:           incidentID,
		Stage:                stage,
		ContributingOpinions: make([]string, 0, len(opinions)),
	}

	// Deduplicate by role: the scheduler produces at most one opinion per
	// role per stage, later entries win if it ever does not.
	present := make(map[incident.Role]incident.Opinion)
	for _, op := range opinions {
		if !op.Present() {
			continue
		}
		if _, eligible := table[op.Role]; !eligible {
			continue
		}
		present[op.Role] = op
	}

	if len(present) == 0 {
		return result
	}

	eligibleTotal := 0.0
	for _, w := range table {
		eligibleTotal += w
	}
	presentTotal := 0.0
	for role := range present {
		presentTotal += table[role]
	}
	result.PresentWeight = presentTotal

	// Quorum uses the pre-redistribution weight so redistribution cannot
	// manufacture a quorum.
	if presentTotal < e.quorum {
		for _, role := range e.EligibleRoles(stage) {
			if op, ok := present[role]; ok {
				result.ContributingOpinions = append(result.ContributingOpinions, op.ID)
			}
		}
		return result
	}
	result.QuorumMet = true

	scale := eligibleTotal / presentTotal

	// Score findings by the sum of redistributed weight-confidence
	// products of their supporters.
	type candidate struct {
		finding      string
		score        float64
		bestPriority int
	}
	byFinding := make(map[string]*candidate)
	aggregate := 0.0

	for _, role := range e.EligibleRoles(stage) {
		op, ok := present[role]
		if !ok {
			continue
		}
		effective := table[role] * scale
		product := effective * op.Confidence
		aggregate += product

		c, ok := byFinding[op.Finding]
		if !ok {
			c = &candidate{finding: op.Finding, bestPriority: role.Priority()}
			byFinding[op.Finding] = c
		}
		c.score += product
		if role.Priority() < c.bestPriority {
			c.bestPriority = role.Priority()
		}
		result.ContributingOpinions = append(result.ContributingOpinions, op.ID)
	}
	result.AggregateConfidence = aggregate

	// Highest score wins; exact ties fall back to role priority order.
	var winner *candidate
	for _, c := range byFinding {
		switch {
		case winner == nil:
			winner = c
		case c.score > winner.score:
			winner = c
		case c.score == winner.score && c.bestPriority < winner.bestPriority:
			winner = c
		}
	}
	result.Decision = winner.finding

	for _, role := range e.EligibleRoles(stage) {
		op, ok := present[role]
		if ok && op.Finding != winner.finding {
			result.DissentingRoles = append(result.DissentingRoles, role)
		}
	}

	return result
}

// EffectiveWeights returns the redistributed weight per present role for a
// stage, for auditing and tests. The returned weights sum to the stage's
// full eligible weight whenever at least one role is present.
func (e *Engine) EffectiveWeights(stage incident.Stage, presentRoles []incident.Role) map[incident.Role]float64 {
	table := e.weights[stage]

	eligibleTotal := 0.0
	for _, w := range table {
		eligibleTotal += w
	}
	presentTotal := 0.0
	for _, role := range presentRoles {
		presentTotal += table[role]
	}
	if presentTotal == 0 {
		return map[incident.Role]float64{}
	}

	scale := eligibleTotal / presentTotal
	out := make(map[incident.Role]float64, len(presentRoles))
	for _, role := range presentRoles {
		if w, ok := table[role]; ok {
			out[role] = w * scale
		}
	}
	return out
}

// Quorum returns the configured quorum threshold.
func (e *Engine) Quorum() float64 {
	return e.quorum
}
