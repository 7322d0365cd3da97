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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// Key layout:
//
//	incident/<id>/version        -> big-endian uint64 current version
//	incident/<id>/event/<seq>    -> JSON event, seq as 020d for byte order
//
// The version pointer and the event are written in the same transaction, so
// a reader never observes a version without its event or vice versa.
const (
	keyPrefix     = "incident/"
	versionSuffix = "/version"
	eventInfix    = "/event/"
)

func versionKey(incidentID string) []byte {
	return []byte(keyPrefix + incidentID + versionSuffix)
}

func eventKey(incidentID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%s%020d", keyPrefix, incidentID, eventInfix, seq))
}

func eventPrefix(incidentID string) []byte {
	return []byte(keyPrefix + incidentID + eventInfix)
}

// BadgerConfig configures the durable event store.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory keeps the log in RAM only. Data is lost on Close.
	InMemory bool

	// SyncWrites forces fsync on every commit. Default true for persistent
	// stores; an event log that lies about durability is worse than none.
	SyncWrites bool

	// Logger receives Badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults for a path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		SyncWrites: true,
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is the durable Store backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use. Optimistic concurrency comes from
// performing the version check and the event write in one transaction;
// Badger's SSI detection turns racing commits into retriable conflicts,
// which surface to callers as version conflicts after reload.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens the durable event store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must Close it.
//	error - Non-nil if the path is invalid or the database cannot open.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent event store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create event store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Append implements Store.
func (s *BadgerStore) Append(ctx context.Context, incidentID string, expectedVersion uint64, ev Event) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("append to incident %s: %w", incidentID, err)
	}

	seq := expectedVersion + 1
	ev.IncidentID = incidentID
	ev.Sequence = seq

	raw, err := json.Marshal(&ev)
	if err != nil {
		return 0, fmt.Errorf("encode event for incident %s: %w", incidentID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		current, err := readVersion(txn, incidentID)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return &incident.VersionConflictError{
				IncidentID: incidentID,
				Expected:   expectedVersion,
				Actual:     current,
			}
		}

		if err := txn.Set(eventKey(incidentID, seq), raw); err != nil {
			return fmt.Errorf("write event %d: %w", seq, err)
		}

		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], seq)
		if err := txn.Set(versionKey(incidentID), buf[:]); err != nil {
			return fmt.Errorf("write version pointer: %w", err)
		}
		return nil
	})
	if err != nil {
		// Racing appends commit-conflict instead of failing the version
		// check; report them the same way so callers have one retry path.
		if errors.Is(err, badger.ErrConflict) {
			actual, verr := s.Version(ctx, incidentID)
			if verr != nil {
				actual = expectedVersion
			}
			return 0, &incident.VersionConflictError{
				IncidentID: incidentID,
				Expected:   expectedVersion,
				Actual:     actual,
			}
		}
		return 0, fmt.Errorf("append event %d to incident %s: %w", seq, incidentID, err)
	}

	return seq, nil
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context, incidentID string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load incident %s: %w", incidentID, err)
	}

	var events []Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = eventPrefix(incidentID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ev Event
				if err := json.Unmarshal(val, &ev); err != nil {
					return fmt.Errorf("decode stored event: %w", err)
				}
				events = append(events, ev)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load incident %s: %w", incidentID, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("load incident %s: %w", incidentID, incident.ErrIncidentNotFound)
	}
	return events, nil
}

// Version implements Store.
func (s *BadgerStore) Version(ctx context.Context, incidentID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("read version of incident %s: %w", incidentID, err)
	}

	var version uint64
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := readVersion(txn, incidentID)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read version of incident %s: %w", incidentID, err)
	}
	return version, nil
}

// IncidentIDs implements Store.
func (s *BadgerStore) IncidentIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if !strings.HasSuffix(key, versionSuffix) {
				continue
			}
			id := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), versionSuffix)
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return ids, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// readVersion returns the incident's version pointer, 0 when absent.
func readVersion(txn *badger.Txn, incidentID string) (uint64, error) {
	item, err := txn.Get(versionKey(incidentID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version pointer: %w", err)
	}

	var version uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt version pointer: %d bytes", len(val))
		}
		version = binary.BigEndian.Uint64(val)
		return nil
	})
	return version, err
}
