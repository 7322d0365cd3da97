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
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// playbook is the built-in operational knowledge for one incident category.
type playbook struct {
	signal      string
	rootCause   string
	forecast    string
	remediation string
}

// playbooks maps every known category to its heuristic playbook. The
// prediction view deliberately diverges from diagnosis for memory leaks,
// where trend extrapolation and heap inspection genuinely disagree.
var playbooks = map[incident.Category]playbook{
	incident.CategoryDatabaseFailure: {
		signal:      "connection error rate above 40% on primary",
		rootCause:   "connection_pool_exhaustion",
		forecast:    "connection_pool_exhaustion",
		remediation: "failover_to_replica_and_recycle_pool",
	},
	incident.CategoryDDoS: {
		signal:      "request rate 20x baseline from distributed sources",
		rootCause:   "volumetric_flood",
		forecast:    "volumetric_flood",
		remediation: "enable_rate_limiting_and_upstream_scrubbing",
	},
	incident.CategoryMemoryLeak: {
		signal:      "RSS growing monotonically across restarts",
		rootCause:   "unbounded_cache_growth",
		forecast:    "gradual_heap_fragmentation",
		remediation: "rolling_restart_and_cap_cache_size",
	},
	incident.CategoryServiceOutage: {
		signal:      "health checks failing on all instances",
		rootCause:   "crash_loop_after_deploy",
		forecast:    "crash_loop_after_deploy",
		remediation: "rollback_to_last_known_good",
	},
	incident.CategoryNetworkPartition: {
		signal:      "cross-zone packet loss above 30%",
		rootCause:   "inter_zone_link_degradation",
		forecast:    "inter_zone_link_degradation",
		remediation: "reroute_traffic_to_healthy_zone",
	},
	incident.CategoryDiskFull: {
		signal:      "volume usage above 95% and climbing",
		rootCause:   "log_retention_overflow",
		forecast:    "log_retention_overflow",
		remediation: "purge_rotated_logs_and_expand_volume",
	},
	incident.CategoryConfigError: {
		signal:      "error spike immediately after config rollout",
		rootCause:   "bad_configuration_rollout",
		forecast:    "bad_configuration_rollout",
		remediation: "revert_configuration_change",
	},
}

// severityConfidence scales base confidence by how clear the signal usually
// is at each severity.
func severityConfidence(base float64, sev incident.Severity) float64 {
	switch sev {
	case incident.SeverityCritical:
		base += 0.10
	case incident.SeverityHigh:
		base += 0.05
	case incident.SeverityLow:
		base -= 0.05
	}
	if base > 1 {
		base = 1
	}
	if base < 0 {
		base = 0
	}
	return base
}

// simCore injects latency and faults into the heuristic analyzers so demo
// runs exercise timeouts and circuit breakers. Zero-valued it is a no-op
// and every analyzer is fully deterministic.
type simCore struct {
	mu          sync.Mutex
	rng         *rand.Rand
	minLatency  time.Duration
	maxLatency  time.Duration
	failureRate float64
}

// Option configures a heuristic analyzer's fault simulation.
type Option func(*simCore)

// WithLatency makes each call sleep a uniform duration in [min, max].
func WithLatency(min, max time.Duration) Option {
	return func(c *simCore) {
		c.minLatency = min
		c.maxLatency = max
	}
}

// WithFailureRate makes each call fail with probability p in [0,1].
func WithFailureRate(p float64) Option {
	return func(c *simCore) {
		c.failureRate = p
	}
}

// WithSeed fixes the simulation's random source for reproducible runs.
func WithSeed(seed int64) Option {
	return func(c *simCore) {
		c.rng = rand.New(rand.NewSource(seed))
	}
}

func newSimCore(opts []Option) *simCore {
	c := &simCore{}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return c
}

// simulate applies the configured latency and failure roll. Returns the
// ctx error if the deadline fires mid-sleep.
func (c *simCore) simulate(ctx context.Context, role incident.Role) error {
	c.mu.Lock()
	var delay time.Duration
	if c.maxLatency > c.minLatency {
		delay = c.minLatency + time.Duration(c.rng.Int63n(int64(c.maxLatency-c.minLatency)))
	} else {
		delay = c.minLatency
	}
	fail := c.failureRate > 0 && c.rng.Float64() < c.failureRate
	c.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if fail {
		return fmt.Errorf("%s analyzer: injected backend fault", role)
	}
	return nil
}

// lookup returns the playbook for the request's category.
func lookup(req Request) (playbook, error) {
	pb, ok := playbooks[req.Incident.Category]
	if !ok {
		return playbook{}, fmt.Errorf("no playbook for category %q", req.Incident.Category)
	}
	return pb, nil
}

// rootCauseFor prefers the analysis consensus decision when one exists,
// falling back to the category playbook.
func rootCauseFor(req Request, pb playbook) string {
	if req.RootCause != nil && req.RootCause.Decision != "" {
		return req.RootCause.Decision
	}
	return pb.rootCause
}

// Detection confirms an incident is real and scores its signal strength.
type Detection struct {
	sim *simCore
}

// NewDetection creates the detection analyzer.
func NewDetection(opts ...Option) *Detection {
	return &Detection{sim: newSimCore(opts)}
}

// Role implements Analyzer.
func (a *Detection) Role() incident.Role { return incident.RoleDetection }

// Analyze implements Analyzer.
func (a *Detection) Analyze(ctx context.Context, req Request) (Finding, error) {
	if err := a.sim.simulate(ctx, a.Role()); err != nil {
		return Finding{}, err
	}
	pb, err := lookup(req)
	if err != nil {
		return Finding{}, err
	}

	if req.Stage == incident.StageResolution {
		// Validating vote: detection confirms the remediation matches the
		// signal it originally saw.
		return Finding{
			Finding:    pb.remediation,
			Confidence: severityConfidence(0.70, req.Incident.Severity),
			Evidence:   fmt.Sprintf("signal %q is consistent with the proposed action", pb.signal),
		}, nil
	}

	return Finding{
		Finding:    pb.rootCause,
		Confidence: severityConfidence(0.85, req.Incident.Severity),
		Evidence:   fmt.Sprintf("detected: %s", pb.signal),
	}, nil
}

// Diagnosis identifies the root cause. It carries the largest analysis
// weight and the strongest tie-break priority.
type Diagnosis struct {
	sim *simCore
}

// NewDiagnosis creates the diagnosis analyzer.
func NewDiagnosis(opts ...Option) *Diagnosis {
	return &Diagnosis{sim: newSimCore(opts)}
}

// Role implements Analyzer.
func (a *Diagnosis) Role() incident.Role { return incident.RoleDiagnosis }

// Analyze implements Analyzer.
func (a *Diagnosis) Analyze(ctx context.Context, req Request) (Finding, error) {
	if err := a.sim.simulate(ctx, a.Role()); err != nil {
		return Finding{}, err
	}
	pb, err := lookup(req)
	if err != nil {
		return Finding{}, err
	}

	if req.Stage == incident.StageResolution {
		return Finding{
			Finding:    pb.remediation,
			Confidence: severityConfidence(0.80, req.Incident.Severity),
			Evidence:   fmt.Sprintf("remediation addresses root cause %q", rootCauseFor(req, pb)),
		}, nil
	}

	return Finding{
		Finding:    pb.rootCause,
		Confidence: severityConfidence(0.80, req.Incident.Severity),
		Evidence:   fmt.Sprintf("traced %s to %s", req.Incident.Category, pb.rootCause),
	}, nil
}

// Prediction forecasts how the incident will evolve if untreated.
type Prediction struct {
	sim *simCore
}

// NewPrediction creates the prediction analyzer.
func NewPrediction(opts ...Option) *Prediction {
	return &Prediction{sim: newSimCore(opts)}
}

// Role implements Analyzer.
func (a *Prediction) Role() incident.Role { return incident.RolePrediction }

// Analyze implements Analyzer.
func (a *Prediction) Analyze(ctx context.Context, req Request) (Finding, error) {
	if err := a.sim.simulate(ctx, a.Role()); err != nil {
		return Finding{}, err
	}
	pb, err := lookup(req)
	if err != nil {
		return Finding{}, err
	}

	if req.Stage == incident.StageResolution {
		return Finding{
			Finding:    pb.remediation,
			Confidence: severityConfidence(0.65, req.Incident.Severity),
			Evidence:   "projected impact declines after remediation",
		}, nil
	}

	return Finding{
		Finding:    pb.forecast,
		Confidence: severityConfidence(0.60, req.Incident.Severity),
		Evidence:   fmt.Sprintf("trend extrapolation points at %s", pb.forecast),
	}, nil
}

// Resolution proposes the remediation action for the decided root cause.
type Resolution struct {
	sim *simCore
}

// NewResolution creates the resolution analyzer.
func NewResolution(opts ...Option) *Resolution {
	return &Resolution{sim: newSimCore(opts)}
}

// Role implements Analyzer.
func (a *Resolution) Role() incident.Role { return incident.RoleResolution }

// Analyze implements Analyzer.
func (a *Resolution) Analyze(ctx context.Context, req Request) (Finding, error) {
	if err := a.sim.simulate(ctx, a.Role()); err != nil {
		return Finding{}, err
	}
	pb, err := lookup(req)
	if err != nil {
		return Finding{}, err
	}

	return Finding{
		Finding:        pb.remediation,
		Confidence:     severityConfidence(0.85, req.Incident.Severity),
		Evidence:       fmt.Sprintf("playbook action for root cause %q", rootCauseFor(req, pb)),
		ProposedAction: pb.remediation,
	}, nil
}

// Communication composes the stakeholder-facing summary of the outcome.
type Communication struct {
	sim *simCore
}

// NewCommunication creates the communication analyzer.
func NewCommunication(opts ...Option) *Communication {
	return &Communication{sim: newSimCore(opts)}
}

// Role implements Analyzer.
func (a *Communication) Role() incident.Role { return incident.RoleCommunication }

// Analyze implements Analyzer.
func (a *Communication) Analyze(ctx context.Context, req Request) (Finding, error) {
	if err := a.sim.simulate(ctx, a.Role()); err != nil {
		return Finding{}, err
	}
	pb, err := lookup(req)
	if err != nil {
		return Finding{}, err
	}

	action := pb.remediation
	if req.Remediation != nil && req.Remediation.Decision != "" {
		action = req.Remediation.Decision
	}

	return Finding{
		Finding:    "stakeholders_notified",
		Confidence: 0.95,
		Evidence: fmt.Sprintf("%s severity %s incident: root cause %s, action %s",
			req.Incident.Severity, req.Incident.Category, rootCauseFor(req, pb), action),
		ProposedAction: action,
	}, nil
}

// Defaults returns the full heuristic swarm, one analyzer per role, all
// sharing the given simulation options.
func Defaults(opts ...Option) map[incident.Role]Analyzer {
	return map[incident.Role]Analyzer{
		incident.RoleDetection:     NewDetection(opts...),
		incident.RoleDiagnosis:     NewDiagnosis(opts...),
		incident.RolePrediction:    NewPrediction(opts...),
		incident.RoleResolution:    NewResolution(opts...),
		incident.RoleCommunication: NewCommunication(opts...),
	}
}
