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

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// Store is the append-only incident event log.
//
// Implementations must enforce optimistic concurrency on Append and never
// mutate or delete persisted events.
type Store interface {
	// Append adds one event to an incident's log if and only if the store's
	// current version for the incident equals expectedVersion. The first
	// event of a new incident is appended with expectedVersion 0 and must
	// be KindIncidentOpened.
	//
	// On success it returns the event's assigned sequence number
	// (expectedVersion+1). On a stale expectedVersion it returns a
	// *incident.VersionConflictError (matches incident.ErrVersionConflict)
	// and persists nothing.
	Append(ctx context.Context, incidentID string, expectedVersion uint64, ev Event) (uint64, error)

	// Load returns the incident's full log in sequence order, or
	// incident.ErrIncidentNotFound if no events exist.
	Load(ctx context.Context, incidentID string) ([]Event, error)

	// Version returns the incident's current version, 0 if it has no log.
	Version(ctx context.Context, incidentID string) (uint64, error)

	// IncidentIDs lists every incident with at least one event.
	IncidentIDs(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// ProjectIncident loads and replays an incident's log in one call.
func ProjectIncident(ctx context.Context, s Store, incidentID string) (*incident.Incident, error) {
	events, err := s.Load(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return Project(events)
}
