// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventstore

import (
	"fmt"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// stageStatus maps a stage's opinion-recording phase to the lifecycle state
// the incident displays while that stage runs.
var stageStatus = map[incident.Stage]incident.Status{
	incident.StageDetection:     incident.StatusDetecting,
	incident.StageAnalysis:      incident.StatusAnalyzing,
	incident.StageResolution:    incident.StatusResolving,
	incident.StageCommunication: incident.StatusCommunicating,
}

// consensusStatus maps a consensus stage to the lifecycle state shown while
// its result is the latest applied event.
var consensusStatus = map[incident.Stage]incident.Status{
	incident.StageAnalysis:   incident.StatusAnalysisConsensus,
	incident.StageResolution: incident.StatusResolutionConsensus,
}

// Project replays an incident's event log into its current state.
//
// Description:
//
//	A pure reducer: the same log always produces the same projection, with
//	no reads of the clock or any other ambient state. Crash recovery is
//	this function applied to the persisted log; the coordinator resumes at
//	the first stage without a StageCompleted event.
//
// Inputs:
//
//	events - The incident's log in sequence order, starting at 1.
//
// Outputs:
//
//	*incident.Incident - The projected state. Version equals the last
//	    event's sequence.
//	error - Non-nil on an empty log, a sequence gap, a log not opened by
//	    IncidentOpened, or an undecodable payload.
func Project(events []Event) (*incident.Incident, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("project: %w", incident.ErrIncidentNotFound)
	}
	if events[0].Kind != KindIncidentOpened {
		return nil, fmt.Errorf("project incident %s: log starts with %s, want %s",
			events[0].IncidentID, events[0].Kind, KindIncidentOpened)
	}

	inc := &incident.Incident{
		ID:        events[0].IncidentID,
		Status:    incident.StatusOpened,
		Consensus: make(map[incident.Stage]*incident.ConsensusResult),
	}

	for i, ev := range events {
		if ev.Sequence != uint64(i)+1 {
			return nil, fmt.Errorf("project incident %s: sequence gap, got %d at position %d",
				inc.ID, ev.Sequence, i+1)
		}
		if err := apply(inc, &ev); err != nil {
			return nil, err
		}
		inc.Version = ev.Sequence
		inc.UpdatedAt = ev.Timestamp
	}

	return inc, nil
}

// apply folds one event into the projection.
func apply(inc *incident.Incident, ev *Event) error {
	switch ev.Kind {
	case KindIncidentOpened:
		var p IncidentOpenedPayload
		if err := ev.decodePayload(&p); err != nil {
			return err
		}
		inc.Category = p.Category
		inc.Severity = p.Severity
		inc.Description = p.Description
		inc.CreatedAt = ev.Timestamp
		inc.Status = incident.StatusOpened

	case KindAgentOpinionRecorded:
		var p OpinionRecordedPayload
		if err := ev.decodePayload(&p); err != nil {
			return err
		}
		inc.Opinions = append(inc.Opinions, p.Opinion)
		if !inc.Status.IsTerminal() {
			if s, ok := stageStatus[p.Opinion.Stage]; ok {
				inc.Status = s
			}
		}

	case KindStageCompleted:
		var p StageCompletedPayload
		if err := ev.decodePayload(&p); err != nil {
			return err
		}
		if !stageCompleted(inc, p.Stage) {
			inc.CompletedStages = append(inc.CompletedStages, p.Stage)
		}

	case KindConsensusReached:
		var p ConsensusReachedPayload
		if err := ev.decodePayload(&p); err != nil {
			return err
		}
		result := p.Result
		inc.Consensus[result.Stage] = &result
		if !inc.Status.IsTerminal() {
			if s, ok := consensusStatus[result.Stage]; ok {
				inc.Status = s
			}
		}

	case KindCircuitBreakerStateChanged, KindStageTimedOut:
		// Audit-trail only; no projection fields change.

	case KindIncidentResolved:
		var p IncidentResolvedPayload
		if err := ev.decodePayload(&p); err != nil {
			return err
		}
		inc.Status = incident.StatusResolved
		inc.ResolutionSummary = p.Summary

	case KindIncidentEscalated:
		var p IncidentEscalatedPayload
		if err := ev.decodePayload(&p); err != nil {
			return err
		}
		if p.Failed {
			inc.Status = incident.StatusFailed
		} else {
			inc.Status = incident.StatusEscalated
		}
		inc.EscalationReason = p.Reason

	default:
		return fmt.Errorf("project incident %s: unknown event kind %q at sequence %d",
			inc.ID, ev.Kind, ev.Sequence)
	}
	return nil
}

// stageCompleted reports whether the stage already has a completion event.
func stageCompleted(inc *incident.Incident, stage incident.Stage) bool {
	for _, s := range inc.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}
