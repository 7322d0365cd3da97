// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that processes observations.
type Handler func(obs *Observation)

// Subscription represents one registered handler.
type Subscription struct {
	// ID uniquely identifies this subscription.
	ID string

	// Handler processes matching observations.
	Handler Handler

	// Types limits which observation types to handle (nil = all types).
	Types []Type
}

// Emitter broadcasts observations to subscribers and keeps a bounded
// replay buffer for late joiners (the WebSocket stream uses it to backfill).
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	buffer        []Observation
	bufferSize    int
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the replay buffer size.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		e.bufferSize = size
	}
}

// NewEmitter creates a new observation emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    1000,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.buffer = make([]Observation, 0, e.bufferSize)

	return e
}

// Subscribe registers a handler for observations.
//
// Inputs:
//
//	handler - Function to call for each observation.
//	types - Observation types to subscribe to (nil = all types).
//
// Outputs:
//
//	string - Subscription ID for unsubscribing.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		ID:      uuid.NewString(),
		Handler: handler,
		Types:   types,
	}

	e.subscriptions[sub.ID] = sub
	return sub.ID
}

// Unsubscribe removes a subscription.
//
// Outputs:
//
//	bool - True if the subscription was found and removed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; ok {
		delete(e.subscriptions, id)
		return true
	}
	return false
}

// Emit broadcasts an observation to all matching subscribers.
//
// Description:
//
//	Creates an observation with the given type, incident link and data,
//	buffers it, and invokes all matching handlers. Handler panics are
//	recovered so one misbehaving subscriber cannot take down the bus.
//
// Inputs:
//
//	obsType - The kind of observation.
//	incidentID - The incident in flight, or "" for process-wide events.
//	data - Observation-specific data (use the typed structs from types.go).
//
// Thread Safety: Safe for concurrent use.
func (e *Emitter) Emit(obsType Type, incidentID string, data any) {
	e.mu.RLock()
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.mu.RUnlock()

	obs := Observation{
		ID:         uuid.NewString(),
		Type:       obsType,
		IncidentID: incidentID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}

	e.mu.Lock()
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, obs)
	e.mu.Unlock()

	for _, sub := range subs {
		if e.shouldHandle(sub, &obs) {
			e.safeInvoke(sub.Handler, &obs)
		}
	}
}

// safeInvoke invokes a handler with panic recovery.
func (e *Emitter) safeInvoke(handler Handler, obs *Observation) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("observation handler panicked",
				"observation_type", obs.Type,
				"observation_id", obs.ID,
				"panic", r,
			)
		}
	}()
	handler(obs)
}

// shouldHandle determines if a subscription wants an observation.
func (e *Emitter) shouldHandle(sub *Subscription, obs *Observation) bool {
	if len(sub.Types) == 0 {
		return true
	}
	for _, t := range sub.Types {
		if t == obs.Type {
			return true
		}
	}
	return false
}

// Buffer returns a copy of the buffered observations.
func (e *Emitter) Buffer() []Observation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Observation, len(e.buffer))
	copy(out, e.buffer)
	return out
}

// BufferByType returns buffered observations of one type.
func (e *Emitter) BufferByType(obsType Type) []Observation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Observation
	for _, obs := range e.buffer {
		if obs.Type == obsType {
			out = append(out, obs)
		}
	}
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}
