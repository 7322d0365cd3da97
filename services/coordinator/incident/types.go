// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package incident defines the domain model for the agent swarm coordinator.
//
// An Incident is never mutated in place. Its state is derived by replaying
// the append-only event log owned by the eventstore package; everything in
// this package is either an immutable value or a projection of one.
//
// Thread Safety:
//
//	All types in this package are plain values. Treat them as immutable
//	after creation.
package incident

import (
	"time"
)

// Category classifies the kind of failure an incident reports.
type Category string

const (
	// CategoryDatabaseFailure covers primary/replica database outages.
	CategoryDatabaseFailure Category = "database_failure"

	// CategoryDDoS covers volumetric or application-layer denial of service.
	CategoryDDoS Category = "ddos"

	// CategoryMemoryLeak covers gradual memory exhaustion in a service.
	CategoryMemoryLeak Category = "memory_leak"

	// CategoryServiceOutage covers a hard crash or unreachable service.
	CategoryServiceOutage Category = "service_outage"

	// CategoryNetworkPartition covers loss of connectivity between zones.
	CategoryNetworkPartition Category = "network_partition"

	// CategoryDiskFull covers storage capacity exhaustion.
	CategoryDiskFull Category = "disk_full"

	// CategoryConfigError covers bad deploys and misconfiguration.
	CategoryConfigError Category = "config_error"
)

// AllCategories returns every valid incident category.
func AllCategories() []Category {
	return []Category{
		CategoryDatabaseFailure,
		CategoryDDoS,
		CategoryMemoryLeak,
		CategoryServiceOutage,
		CategoryNetworkPartition,
		CategoryDiskFull,
		CategoryConfigError,
	}
}

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// Severity ranks the blast radius of an incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is one of the known values.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Status is a state in the incident lifecycle state machine.
//
// Valid transitions are enforced by the coordinate package. The happy path is
// OPENED -> DETECTING -> ANALYZING -> ANALYSIS_CONSENSUS -> RESOLVING ->
// RESOLUTION_CONSENSUS -> COMMUNICATING -> RESOLVED. ESCALATED is reachable
// from any non-terminal state; FAILED only when escalation delivery itself
// is impossible.
type Status string

const (
	// StatusOpened is the initial state after submission.
	StatusOpened Status = "OPENED"

	// StatusDetecting runs the detection analyzer.
	StatusDetecting Status = "DETECTING"

	// StatusAnalyzing runs diagnosis and prediction in parallel.
	StatusAnalyzing Status = "ANALYZING"

	// StatusAnalysisConsensus aggregates detection, diagnosis and prediction
	// opinions into a root-cause decision.
	StatusAnalysisConsensus Status = "ANALYSIS_CONSENSUS"

	// StatusResolving runs the resolution analyzer with the root-cause
	// decision as input.
	StatusResolving Status = "RESOLVING"

	// StatusResolutionConsensus validates the proposed remediation.
	StatusResolutionConsensus Status = "RESOLUTION_CONSENSUS"

	// StatusCommunicating notifies stakeholders of the outcome.
	StatusCommunicating Status = "COMMUNICATING"

	// StatusResolved is the successful terminal state.
	StatusResolved Status = "RESOLVED"

	// StatusEscalated is the manual-intervention terminal state, reached on
	// quorum failure or circuit-breaker exhaustion.
	StatusEscalated Status = "ESCALATED"

	// StatusFailed is the terminal state when even escalation could not be
	// delivered.
	StatusFailed Status = "FAILED"
)

// String returns the status as a string.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further processing happens for the incident.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusEscalated || s == StatusFailed
}

// AllStatuses returns all valid lifecycle states.
func AllStatuses() []Status {
	return []Status{
		StatusOpened,
		StatusDetecting,
		StatusAnalyzing,
		StatusAnalysisConsensus,
		StatusResolving,
		StatusResolutionConsensus,
		StatusCommunicating,
		StatusResolved,
		StatusEscalated,
		StatusFailed,
	}
}

// Role identifies one of the five analyzer specializations.
type Role string

const (
	RoleDetection     Role = "detection"
	RoleDiagnosis     Role = "diagnosis"
	RolePrediction    Role = "prediction"
	RoleResolution    Role = "resolution"
	RoleCommunication Role = "communication"
)

// AllRoles returns the five analyzer roles.
func AllRoles() []Role {
	return []Role{
		RoleDetection,
		RoleDiagnosis,
		RolePrediction,
		RoleResolution,
		RoleCommunication,
	}
}

// Priority returns the tie-break rank of the role. Lower is stronger:
// diagnosis > prediction > detection > resolution > communication.
func (r Role) Priority() int {
	switch r {
	case RoleDiagnosis:
		return 0
	case RolePrediction:
		return 1
	case RoleDetection:
		return 2
	case RoleResolution:
		return 3
	case RoleCommunication:
		return 4
	default:
		return 5
	}
}

// Valid reports whether the role is one of the five known roles.
func (r Role) Valid() bool {
	return r.Priority() < 5
}

// Stage names one step of the swarm pipeline as scheduled by the stage
// scheduler. A stage may fan out to several roles (StageAnalysis runs
// diagnosis and prediction concurrently).
type Stage string

const (
	// StageDetection confirms the incident is real and scores its signal.
	StageDetection Stage = "detection"

	// StageAnalysis runs diagnosis and prediction in parallel.
	StageAnalysis Stage = "analysis"

	// StageResolution proposes remediation from the analysis consensus.
	StageResolution Stage = "resolution"

	// StageCommunication delivers the outcome to stakeholders.
	StageCommunication Stage = "communication"
)

// AllStages returns every pipeline stage in execution order.
func AllStages() []Stage {
	return []Stage{StageDetection, StageAnalysis, StageResolution, StageCommunication}
}

// Incident is the projection of one incident's event log.
type Incident struct {
	// ID is the opaque incident identifier (UUID).
	ID string `json:"id"`

	// Category classifies the reported failure.
	Category Category `json:"category"`

	// Severity ranks the blast radius.
	Severity Severity `json:"severity"`

	// Description is the free-form report that opened the incident.
	Description string `json:"description"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Version is the sequence number of the latest applied event. Used as
	// the expected version for optimistic-lock appends.
	Version uint64 `json:"version"`

	// CreatedAt is when the incident was opened.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the timestamp of the latest applied event.
	UpdatedAt time.Time `json:"updated_at"`

	// CompletedStages records which pipeline stages have a completion
	// event, in order. Resume-after-crash starts at the first stage not
	// listed here.
	CompletedStages []Stage `json:"completed_stages,omitempty"`

	// Opinions is every agent opinion recorded so far, in event order.
	Opinions []Opinion `json:"opinions,omitempty"`

	// Consensus holds the consensus result per stage, keyed by stage.
	Consensus map[Stage]*ConsensusResult `json:"consensus,omitempty"`

	// EscalationReason is the human-readable reason for ESCALATED/FAILED.
	EscalationReason string `json:"escalation_reason,omitempty"`

	// ResolutionSummary is the final remediation summary for RESOLVED.
	ResolutionSummary string `json:"resolution_summary,omitempty"`
}

// Snapshot is the read-only view of an incident handed to analyzers.
// It deliberately excludes coordinator bookkeeping (version, stages).
type Snapshot struct {
	ID          string   `json:"id"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
}

// Snapshot derives the analyzer-facing view from the projection.
func (i *Incident) Snapshot() Snapshot {
	return Snapshot{
		ID:          i.ID,
		Category:    i.Category,
		Severity:    i.Severity,
		Description: i.Description,
		Status:      i.Status,
	}
}

// Outcome marks how one scheduled analyzer call ended.
type Outcome string

const (
	// OutcomeResponded means the analyzer returned a valid opinion in time.
	OutcomeResponded Outcome = "responded"

	// OutcomeTimeout means the analyzer missed the stage deadline.
	OutcomeTimeout Outcome = "timeout"

	// OutcomeError means the analyzer returned an error or malformed output.
	OutcomeError Outcome = "error"

	// OutcomeSkippedCircuitOpen means the analyzer was never invoked because
	// its circuit breaker was open. Not a failure.
	OutcomeSkippedCircuitOpen Outcome = "skipped_due_to_open_circuit"
)

// Opinion is one analyzer's typed verdict for one stage of one incident.
// Immutable after creation.
type Opinion struct {
	// ID uniquely identifies this opinion.
	ID string `json:"id" validate:"required"`

	// Role is the analyzer that produced the opinion.
	Role Role `json:"role" validate:"required"`

	// IncidentID links the opinion to its incident.
	IncidentID string `json:"incident_id" validate:"required"`

	// Stage is the pipeline stage the opinion belongs to.
	Stage Stage `json:"stage" validate:"required"`

	// Outcome records how the call ended. Only OutcomeResponded opinions
	// carry a finding; the others are explicit placeholders so skipped and
	// failed agents are never silently dropped.
	Outcome Outcome `json:"outcome" validate:"required"`

	// Confidence is the analyzer's self-assessed certainty in [0,1].
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`

	// Finding is the categorical decision the analyzer argues for
	// (e.g. a root-cause label). Required when Outcome is responded.
	Finding string `json:"finding,omitempty"`

	// Evidence is free-form supporting detail for the finding.
	Evidence string `json:"evidence,omitempty"`

	// ProposedAction is an optional remediation suggestion.
	ProposedAction string `json:"proposed_action,omitempty"`

	// Err carries the failure message for timeout/error outcomes.
	Err string `json:"error,omitempty"`

	// ProducedAt is when the opinion was created.
	ProducedAt time.Time `json:"produced_at"`

	// Latency is how long the analyzer call took.
	Latency time.Duration `json:"latency"`
}

// Present reports whether the opinion carries a usable finding.
func (o *Opinion) Present() bool {
	return o.Outcome == OutcomeResponded
}

// ConsensusResult is the single aggregated decision for one stage.
// Produced exactly once per consensus step; immutable.
type ConsensusResult struct {
	// IncidentID links the result to its incident.
	IncidentID string `json:"incident_id"`

	// Stage is the pipeline stage the result decides.
	Stage Stage `json:"stage"`

	// Decision is the winning categorical finding. Empty when quorum was
	// not met or no opinions were present.
	Decision string `json:"decision,omitempty"`

	// AggregateConfidence is the weight-scaled confidence sum over present
	// opinions, using redistributed weights.
	AggregateConfidence float64 `json:"aggregate_confidence"`

	// ContributingOpinions lists the IDs of the opinions that voted.
	ContributingOpinions []string `json:"contributing_opinions"`

	// DissentingRoles lists roles whose finding disagreed with the winner.
	DissentingRoles []Role `json:"dissenting_roles,omitempty"`

	// QuorumMet is false when too little weight was present to decide.
	QuorumMet bool `json:"quorum_met"`

	// PresentWeight is the pre-redistribution weight sum of present
	// opinions, kept for auditability of quorum decisions.
	PresentWeight float64 `json:"present_weight"`
}
