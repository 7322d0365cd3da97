// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

func request(category incident.Category, severity incident.Severity, stage incident.Stage) Request {
	return Request{
		Incident: incident.Snapshot{
			ID:          "inc-1",
			Category:    category,
			Severity:    severity,
			Description: "test incident",
		},
		Stage: stage,
	}
}

func TestDefaultsCoverAllRoles(t *testing.T) {
	analyzers := Defaults()
	require.Len(t, analyzers, len(incident.AllRoles()))
	for _, role := range incident.AllRoles() {
		a, ok := analyzers[role]
		require.True(t, ok, "missing analyzer for %s", role)
		assert.Equal(t, role, a.Role())
	}
}

func TestAnalyzersAreDeterministicWithoutSimulation(t *testing.T) {
	ctx := context.Background()
	for _, category := range incident.AllCategories() {
		for role, a := range Defaults() {
			stage := incident.StageAnalysis
			if role == incident.RoleDetection {
				stage = incident.StageDetection
			}
			first, err := a.Analyze(ctx, request(category, incident.SeverityHigh, stage))
			require.NoError(t, err, "%s/%s", category, role)
			second, err := a.Analyze(ctx, request(category, incident.SeverityHigh, stage))
			require.NoError(t, err)
			assert.Equal(t, first, second, "%s/%s must be deterministic", category, role)
			assert.NoError(t, first.Validate())
		}
	}
}

func TestDiagnosisAndPredictionDivergeOnMemoryLeak(t *testing.T) {
	ctx := context.Background()
	req := request(incident.CategoryMemoryLeak, incident.SeverityHigh, incident.StageAnalysis)

	diag, err := NewDiagnosis().Analyze(ctx, req)
	require.NoError(t, err)
	pred, err := NewPrediction().Analyze(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "unbounded_cache_growth", diag.Finding)
	assert.Equal(t, "gradual_heap_fragmentation", pred.Finding)
}

func TestSeverityScalesConfidence(t *testing.T) {
	ctx := context.Background()
	a := NewDiagnosis()

	low, err := a.Analyze(ctx, request(incident.CategoryDDoS, incident.SeverityLow, incident.StageAnalysis))
	require.NoError(t, err)
	critical, err := a.Analyze(ctx, request(incident.CategoryDDoS, incident.SeverityCritical, incident.StageAnalysis))
	require.NoError(t, err)

	assert.Greater(t, critical.Confidence, low.Confidence)
	assert.LessOrEqual(t, critical.Confidence, 1.0)
}

func TestResolutionUsesConsensusRootCause(t *testing.T) {
	ctx := context.Background()
	req := request(incident.CategoryDatabaseFailure, incident.SeverityHigh, incident.StageResolution)
	req.RootCause = &incident.ConsensusResult{
		Stage:    incident.StageAnalysis,
		Decision: "replica_lag_cascade",
	}

	finding, err := NewResolution().Analyze(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, finding.Evidence, "replica_lag_cascade")
	assert.Equal(t, "failover_to_replica_and_recycle_pool", finding.ProposedAction)
}

func TestResolutionStageReVotesProposeRemediation(t *testing.T) {
	ctx := context.Background()
	req := request(incident.CategoryDiskFull, incident.SeverityMedium, incident.StageResolution)

	for _, a := range []Analyzer{NewDetection(), NewDiagnosis(), NewPrediction()} {
		finding, err := a.Analyze(ctx, req)
		require.NoError(t, err, "role %s", a.Role())
		assert.Equal(t, "purge_rotated_logs_and_expand_volume", finding.Finding,
			"role %s must re-vote on the remediation", a.Role())
	}
}

func TestCommunicationPrefersRemediationDecision(t *testing.T) {
	ctx := context.Background()
	req := request(incident.CategoryConfigError, incident.SeverityHigh, incident.StageCommunication)
	req.Remediation = &incident.ConsensusResult{
		Stage:    incident.StageResolution,
		Decision: "staged_reapply_with_canary",
	}

	finding, err := NewCommunication().Analyze(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "stakeholders_notified", finding.Finding)
	assert.Contains(t, finding.Evidence, "staged_reapply_with_canary")
}

func TestUnknownCategoryFails(t *testing.T) {
	_, err := NewDetection().Analyze(context.Background(),
		request(incident.Category("volcano"), incident.SeverityHigh, incident.StageDetection))
	assert.Error(t, err)
}

func TestFailureInjection(t *testing.T) {
	a := NewDiagnosis(WithFailureRate(1.0), WithSeed(1))

	_, err := a.Analyze(context.Background(),
		request(incident.CategoryDDoS, incident.SeverityHigh, incident.StageAnalysis))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "injected backend fault")
}

func TestLatencyRespectsContextDeadline(t *testing.T) {
	a := NewPrediction(WithLatency(time.Minute, time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Analyze(ctx, request(incident.CategoryDDoS, incident.SeverityHigh, incident.StageAnalysis))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFindingValidation(t *testing.T) {
	cases := []struct {
		name    string
		finding Finding
		wantErr bool
	}{
		{"valid", Finding{Finding: "x", Confidence: 0.5}, false},
		{"empty finding", Finding{Confidence: 0.5}, true},
		{"confidence below zero", Finding{Finding: "x", Confidence: -0.1}, true},
		{"confidence above one", Finding{Finding: "x", Confidence: 1.1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.finding.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
