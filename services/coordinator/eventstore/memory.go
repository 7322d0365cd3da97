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
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs. It applies
// the same optimistic concurrency rules as BadgerStore.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]Event
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs: make(map[string][]Event),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, incidentID string, expectedVersion uint64, ev Event) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("append to incident %s: %w", incidentID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[incidentID]
	current := uint64(len(log))
	if current != expectedVersion {
		return 0, &incident.VersionConflictError{
			IncidentID: incidentID,
			Expected:   expectedVersion,
			Actual:     current,
		}
	}

	ev.IncidentID = incidentID
	ev.Sequence = expectedVersion + 1
	s.logs[incidentID] = append(log, ev)
	return ev.Sequence, nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, incidentID string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load incident %s: %w", incidentID, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[incidentID]
	if !ok {
		return nil, fmt.Errorf("load incident %s: %w", incidentID, incident.ErrIncidentNotFound)
	}
	out := make([]Event, len(log))
	copy(out, log)
	return out, nil
}

// Version implements Store.
func (s *MemoryStore) Version(ctx context.Context, incidentID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("read version of incident %s: %w", incidentID, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.logs[incidentID])), nil
}

// IncidentIDs implements Store.
func (s *MemoryStore) IncidentIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
