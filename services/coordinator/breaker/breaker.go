// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker provides per-role circuit breakers for analyzer calls.
//
// Breaker state models the health of the underlying analyzer backend, not of
// any one incident, so it is process-wide and shared across incidents. A
// breaker opens after a configurable number of consecutive failures,
// short-circuits calls during a cooldown window, then half-opens and lets
// exactly one probe through to test recovery.
//
// Thread Safety:
//
//	All exported types are safe for concurrent use. Each role's state is
//	guarded by its own mutex; contention is one update per analyzer call.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// State is the circuit breaker state for one role.
type State int32

const (
	// StateClosed allows all calls.
	StateClosed State = iota

	// StateOpen short-circuits all calls until the cooldown elapses.
	StateOpen

	// StateHalfOpen allows exactly one probe call.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// DefaultThreshold is the consecutive-failure count that opens a breaker.
const DefaultThreshold = 5

// DefaultCooldown is how long an open breaker blocks calls.
const DefaultCooldown = 30 * time.Second

// Config configures a breaker registry.
type Config struct {
	// Threshold is the consecutive-failure count that opens a breaker.
	// Default: DefaultThreshold.
	Threshold int

	// Cooldown is how long an open breaker blocks calls before half-opening.
	// Default: DefaultCooldown.
	Cooldown time.Duration

	// RoleCooldowns overrides Cooldown per role.
	RoleCooldowns map[incident.Role]time.Duration

	// OnTransition is invoked synchronously for every state change.
	// Optional. Must not block; the registry's per-role lock is NOT held
	// during the callback.
	OnTransition func(t Transition)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Threshold < 1 {
		return errors.New("threshold must be at least 1")
	}
	if c.Cooldown <= 0 {
		return errors.New("cooldown must be positive")
	}
	for role, d := range c.RoleCooldowns {
		if d <= 0 {
			return fmt.Errorf("cooldown for role %s must be positive", role)
		}
	}
	return nil
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
}

// Transition describes one breaker state change.
type Transition struct {
	// Role is the analyzer role whose breaker changed.
	Role incident.Role

	// From is the previous state.
	From State

	// To is the new state.
	To State

	// ConsecutiveFailures is the failure counter at transition time.
	ConsecutiveFailures int

	// CooldownUntil is set when To is StateOpen.
	CooldownUntil time.Time

	// At is when the transition happened.
	At time.Time
}

// Status is a read-only snapshot of one role's breaker.
type Status struct {
	Role                incident.Role `json:"role"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenedAt            time.Time     `json:"opened_at,omitzero"`
	CooldownUntil       time.Time     `json:"cooldown_until,omitzero"`
}

// roleBreaker holds one role's mutable breaker state.
type roleBreaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	cooldownUntil       time.Time
	probeInFlight       bool
	cooldown            time.Duration
}

// Registry is the authoritative process-wide store of breaker state,
// keyed by analyzer role. Initialize once at startup.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	config   Config
	breakers map[incident.Role]*roleBreaker

	// now is injectable for tests.
	now func() time.Time
}

// NewRegistry creates a breaker registry covering all five analyzer roles.
//
// Inputs:
//
//	config - Registry configuration. Zero values get defaults.
//
// Outputs:
//
//	*Registry - The registry with every role starting closed.
//	error - Non-nil if the configuration is invalid.
func NewRegistry(config Config) (*Registry, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid breaker config: %w", err)
	}

	r := &Registry{
		config:   config,
		breakers: make(map[incident.Role]*roleBreaker, len(incident.AllRoles())),
		now:      time.Now,
	}

	for _, role := range incident.AllRoles() {
		cooldown := config.Cooldown
		if d, ok := config.RoleCooldowns[role]; ok {
			cooldown = d
		}
		r.breakers[role] = &roleBreaker{
			state:    StateClosed,
			cooldown: cooldown,
		}
	}

	return r, nil
}

// Allow reports whether a call for the role may proceed.
//
// Description:
//
//	Returns false iff the breaker is open and still cooling down, or
//	half-open with a probe already in flight. When an open breaker's
//	cooldown has elapsed, Allow atomically transitions to half-open and
//	lets exactly one caller through as the probe; concurrent callers see
//	false until that probe resolves via RecordSuccess or RecordFailure.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Allow(role incident.Role) bool {
	rb, ok := r.breakers[role]
	if !ok {
		return false
	}

	var transition *Transition

	rb.mu.Lock()
	allowed := false
	switch rb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if !r.now().Before(rb.cooldownUntil) {
			transition = r.transitionLocked(role, rb, StateHalfOpen)
			rb.probeInFlight = true
			allowed = true
		}
	case StateHalfOpen:
		if !rb.probeInFlight {
			rb.probeInFlight = true
			allowed = true
		}
	}
	rb.mu.Unlock()

	r.notify(transition)
	return allowed
}

// RecordSuccess reports a successful call for the role.
//
// Description:
//
//	In half-open, the probe success closes the breaker and zeroes the
//	failure counter. In closed, it only resets the counter.
func (r *Registry) RecordSuccess(role incident.Role) {
	rb, ok := r.breakers[role]
	if !ok {
		return
	}

	var transition *Transition

	rb.mu.Lock()
	rb.consecutiveFailures = 0
	rb.probeInFlight = false
	if rb.state == StateHalfOpen {
		transition = r.transitionLocked(role, rb, StateClosed)
	}
	rb.mu.Unlock()

	r.notify(transition)
}

// RecordFailure reports a failed call (timeout, error, or malformed output)
// for the role.
//
// Description:
//
//	Increments the consecutive-failure counter. Crossing the threshold, or
//	failing the half-open probe, opens the breaker and starts a fresh
//	cooldown window.
func (r *Registry) RecordFailure(role incident.Role) {
	rb, ok := r.breakers[role]
	if !ok {
		return
	}

	var transition *Transition

	rb.mu.Lock()
	rb.consecutiveFailures++
	rb.probeInFlight = false
	shouldOpen := rb.state == StateHalfOpen ||
		(rb.state == StateClosed && rb.consecutiveFailures >= r.config.Threshold)
	if shouldOpen {
		now := r.now()
		rb.openedAt = now
		rb.cooldownUntil = now.Add(rb.cooldown)
		transition = r.transitionLocked(role, rb, StateOpen)
	}
	rb.mu.Unlock()

	r.notify(transition)
}

// State returns the current state for the role.
func (r *Registry) State(role incident.Role) State {
	rb, ok := r.breakers[role]
	if !ok {
		return StateOpen
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.state
}

// Snapshot returns a read-only view of every role's breaker, in role order.
func (r *Registry) Snapshot() []Status {
	out := make([]Status, 0, len(r.breakers))
	for _, role := range incident.AllRoles() {
		rb := r.breakers[role]
		rb.mu.Lock()
		out = append(out, Status{
			Role:                role,
			State:               rb.state.String(),
			ConsecutiveFailures: rb.consecutiveFailures,
			OpenedAt:            rb.openedAt,
			CooldownUntil:       rb.cooldownUntil,
		})
		rb.mu.Unlock()
	}
	return out
}

// transitionLocked changes state and builds the Transition record.
// Caller must hold rb.mu.
func (r *Registry) transitionLocked(role incident.Role, rb *roleBreaker, to State) *Transition {
	from := rb.state
	if from == to {
		return nil
	}
	rb.state = to
	return &Transition{
		Role:                role,
		From:                from,
		To:                  to,
		ConsecutiveFailures: rb.consecutiveFailures,
		CooldownUntil:       rb.cooldownUntil,
		At:                  r.now(),
	}
}

// notify invokes the transition callback outside the per-role lock.
func (r *Registry) notify(t *Transition) {
	if t == nil || r.config.OnTransition == nil {
		return
	}
	r.config.OnTransition(*t)
}
