// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package consensus

import (
	"math"
	"testing"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

const tolerance = 1e-9

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func opinion(role incident.Role, stage incident.Stage, finding string, confidence float64) incident.Opinion {
	return incident.Opinion{
		ID:         string(role) + "-op",
		Role:       role,
		IncidentID: "inc-1",
		Stage:      stage,
		Outcome:    incident.OutcomeResponded,
		Finding:    finding,
		Confidence: confidence,
	}
}

func placeholder(role incident.Role, stage incident.Stage, outcome incident.Outcome) incident.Opinion {
	return incident.Opinion{
		ID:         string(role) + "-ph",
		Role:       role,
		IncidentID: "inc-1",
		Stage:      stage,
		Outcome:    outcome,
	}
}

func TestAggregateAllPresent(t *testing.T) {
	e := newTestEngine(t)

	opinions := []incident.Opinion{
		opinion(incident.RoleDiagnosis, incident.StageAnalysis, "connection_pool_exhaustion", 0.85),
		opinion(incident.RolePrediction, incident.StageAnalysis, "connection_pool_exhaustion", 0.60),
		opinion(incident.RoleDetection, incident.StageDetection, "connection_pool_exhaustion", 0.90),
	}

	result := e.Aggregate("inc-1", incident.StageAnalysis, opinions)

	if !result.QuorumMet {
		t.Fatal("expected quorum met with all roles present")
	}
	if result.Decision != "connection_pool_exhaustion" {
		t.Fatalf("decision = %q", result.Decision)
	}
	// 0.4*0.85 + 0.3*0.60 + 0.2*0.90 = 0.70
	if math.Abs(result.AggregateConfidence-0.70) > tolerance {
		t.Fatalf("aggregate confidence = %f, want 0.70", result.AggregateConfidence)
	}
	if math.Abs(result.PresentWeight-0.9) > tolerance {
		t.Fatalf("present weight = %f, want 0.9", result.PresentWeight)
	}
	if len(result.ContributingOpinions) != 3 {
		t.Fatalf("contributing opinions = %d, want 3", len(result.ContributingOpinions))
	}
	if len(result.DissentingRoles) != 0 {
		t.Fatalf("dissenting roles = %v, want none", result.DissentingRoles)
	}
}

func TestAggregateRedistributesMissingWeight(t *testing.T) {
	e := newTestEngine(t)

	// Diagnosis skipped: its 0.4 redistributes over prediction and
	// detection proportionally (scale 0.9/0.5 = 1.8).
	opinions := []incident.Opinion{
		placeholder(incident.RoleDiagnosis, incident.StageAnalysis, incident.OutcomeSkippedCircuitOpen),
		opinion(incident.RolePrediction, incident.StageAnalysis, "volumetric_flood", 0.70),
		opinion(incident.RoleDetection, incident.StageDetection, "volumetric_flood", 0.80),
	}

	result := e.Aggregate("inc-1", incident.StageAnalysis, opinions)

	if !result.QuorumMet {
		t.Fatal("expected quorum met at present weight 0.5")
	}
	if math.Abs(result.PresentWeight-0.5) > tolerance {
		t.Fatalf("present weight = %f, want 0.5", result.PresentWeight)
	}
	// 0.54*0.70 + 0.36*0.80 = 0.666
	if math.Abs(result.AggregateConfidence-0.666) > tolerance {
		t.Fatalf("aggregate confidence = %f, want 0.666", result.AggregateConfidence)
	}

	weights := e.EffectiveWeights(incident.StageAnalysis,
		[]incident.Role{incident.RolePrediction, incident.RoleDetection})
	if math.Abs(weights[incident.RolePrediction]-0.54) > tolerance {
		t.Fatalf("prediction effective weight = %f, want 0.54", weights[incident.RolePrediction])
	}
	if math.Abs(weights[incident.RoleDetection]-0.36) > tolerance {
		t.Fatalf("detection effective weight = %f, want 0.36", weights[incident.RoleDetection])
	}

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-0.9) > tolerance {
		t.Fatalf("redistributed weights sum = %f, want the eligible total 0.9", sum)
	}
}

func TestAggregateQuorumNotMet(t *testing.T) {
	e := newTestEngine(t)

	// Only detection present: 0.2 < 0.5. Redistribution must not rescue it.
	opinions := []incident.Opinion{
		placeholder(incident.RoleDiagnosis, incident.StageAnalysis, incident.OutcomeTimeout),
		placeholder(incident.RolePrediction, incident.StageAnalysis, incident.OutcomeError),
		opinion(incident.RoleDetection, incident.StageDetection, "bad_configuration_rollout", 0.95),
	}

	result := e.Aggregate("inc-1", incident.StageAnalysis, opinions)

	if result.QuorumMet {
		t.Fatal("expected quorum failure at present weight 0.2")
	}
	if result.Decision != "" {
		t.Fatalf("decision = %q, want empty without quorum", result.Decision)
	}
	if math.Abs(result.PresentWeight-0.2) > tolerance {
		t.Fatalf("present weight = %f, want 0.2", result.PresentWeight)
	}
}

func TestAggregateNoOpinions(t *testing.T) {
	e := newTestEngine(t)

	result := e.Aggregate("inc-1", incident.StageAnalysis, []incident.Opinion{
		placeholder(incident.RoleDiagnosis, incident.StageAnalysis, incident.OutcomeTimeout),
		placeholder(incident.RolePrediction, incident.StageAnalysis, incident.OutcomeTimeout),
	})

	if result.QuorumMet {
		t.Fatal("expected no quorum with zero present opinions")
	}
	if result.PresentWeight != 0 || result.AggregateConfidence != 0 {
		t.Fatalf("expected zero result, got weight %f confidence %f",
			result.PresentWeight, result.AggregateConfidence)
	}
}

func TestAggregateDissent(t *testing.T) {
	e := newTestEngine(t)

	opinions := []incident.Opinion{
		opinion(incident.RoleDiagnosis, incident.StageAnalysis, "unbounded_cache_growth", 0.80),
		opinion(incident.RolePrediction, incident.StageAnalysis, "gradual_heap_fragmentation", 0.60),
		opinion(incident.RoleDetection, incident.StageDetection, "unbounded_cache_growth", 0.85),
	}

	result := e.Aggregate("inc-1", incident.StageAnalysis, opinions)

	// diagnosis+detection: 0.4*0.8 + 0.2*0.85 = 0.49 beats prediction's
	// 0.3*0.6 = 0.18.
	if result.Decision != "unbounded_cache_growth" {
		t.Fatalf("decision = %q", result.Decision)
	}
	if len(result.DissentingRoles) != 1 || result.DissentingRoles[0] != incident.RolePrediction {
		t.Fatalf("dissenting roles = %v, want [prediction]", result.DissentingRoles)
	}
}

func TestAggregateTieBreakByRolePriority(t *testing.T) {
	weights := map[incident.Stage]map[incident.Role]float64{
		incident.StageAnalysis: {
			incident.RoleDiagnosis:  0.3,
			incident.RolePrediction: 0.3,
		},
	}
	e, err := NewEngine(Config{Weights: weights})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// Identical scores; diagnosis outranks prediction.
	opinions := []incident.Opinion{
		opinion(incident.RoleDiagnosis, incident.StageAnalysis, "cause_a", 0.5),
		opinion(incident.RolePrediction, incident.StageAnalysis, "cause_b", 0.5),
	}

	result := e.Aggregate("inc-1", incident.StageAnalysis, opinions)
	if result.Decision != "cause_a" {
		t.Fatalf("decision = %q, want diagnosis-backed cause_a on tie", result.Decision)
	}
}

func TestAggregateIgnoresIneligibleRoles(t *testing.T) {
	e := newTestEngine(t)

	opinions := []incident.Opinion{
		opinion(incident.RoleDiagnosis, incident.StageAnalysis, "crash_loop_after_deploy", 0.9),
		opinion(incident.RoleCommunication, incident.StageAnalysis, "crash_loop_after_deploy", 1.0),
	}

	result := e.Aggregate("inc-1", incident.StageAnalysis, opinions)
	if math.Abs(result.PresentWeight-0.4) > tolerance {
		t.Fatalf("present weight = %f, want 0.4 (communication has no analysis weight)",
			result.PresentWeight)
	}
}

func TestResolutionStageWeightsSumToOne(t *testing.T) {
	table := DefaultWeights()[incident.StageResolution]
	sum := 0.0
	for _, w := range table {
		sum += w
	}
	if math.Abs(sum-1.0) > tolerance {
		t.Fatalf("resolution weights sum = %f, want 1.0", sum)
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := NewEngine(Config{Quorum: 1.5}); err == nil {
		t.Fatal("expected error for quorum above 1")
	}
	if _, err := NewEngine(Config{Weights: map[incident.Stage]map[incident.Role]float64{
		incident.StageAnalysis: {incident.RoleDiagnosis: -0.1},
	}}); err == nil {
		t.Fatal("expected error for negative weight")
	}
}
