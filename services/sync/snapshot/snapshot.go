// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package snapshot persists the cached MainTree across restarts in an
// embedded BadgerDB, so a fresh engine can warm-start from the last known
// tree instead of blocking on a full fetch.
//
// The snapshot is a cache of a cache: losing it costs one fetch, never
// data. Invalidation deletes it unconditionally.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/compass/services/sync/datatypes"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("sync/snapshot: no snapshot")

var treeKey = []byte("maintree/snapshot")

// Snapshot is the persisted form of the cache: the tree plus per-section
// load times, so freshness survives a restart instead of resetting.
type Snapshot struct {
	Tree        datatypes.MainTree              `json:"tree"`
	LastUpdated map[datatypes.Section]time.Time `json:"last_updated"`
	SavedAt     time.Time                       `json:"saved_at"`
}

// Config holds BadgerDB settings for the snapshot store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory disables disk persistence, for tests.
	InMemory bool

	// SyncWrites makes every save durable before returning.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns the production configuration for a directory.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a throwaway configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store persists snapshots. Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the snapshot database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("sync/snapshot: path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("creating snapshot directory %s: %w", cfg.Path, err)
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
		return nil, fmt.Errorf("opening snapshot database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Save replaces the persisted snapshot.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(treeKey, data)
	})
	if err != nil {
		opsTotal.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("saving snapshot: %w", err)
	}

	opsTotal.WithLabelValues("save", "ok").Inc()
	snapshotBytes.Set(float64(len(data)))
	s.logger.Debug("snapshot saved", "bytes", len(data))
	return nil
}

// Load returns the persisted snapshot, or ErrNoSnapshot.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(treeKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		opsTotal.WithLabelValues("load", "miss").Inc()
		return nil, ErrNoSnapshot
	}
	if err != nil {
		opsTotal.WithLabelValues("load", "error").Inc()
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	opsTotal.WithLabelValues("load", "ok").Inc()
	return &snap, nil
}

// Delete removes the persisted snapshot. Deleting an absent snapshot is
// not an error.
func (s *Store) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(treeKey)
	})
	if err != nil {
		opsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	opsTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog to BadgerDB's printf-style logger.
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
