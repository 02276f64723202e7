// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store holds the composite MainTree and per-section metadata.
//
// The Store is the single mutable shared resource of the sync engine: the
// stream ingester and the cache patcher are its only writers besides
// explicit section replacement. All mutation methods take the write lock
// once, so a consumer reading a snapshot never observes a half-applied
// patch.
package store

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/compass/services/sync/datatypes"
)

// SectionState tracks the fetch lifecycle of one section.
//
// A section transitions idle -> loading -> loaded, and re-enters loading
// only when forced by invalidation or staleness. LastUpdated is the zero
// time until the section has been loaded at least once.
type SectionState struct {
	Loading     bool
	Loaded      bool
	LastUpdated time.Time
}

// Stats summarizes store activity for observability endpoints.
type Stats struct {
	SectionsLoaded  int
	SectionsLoading int
	SectionSets     int64
	EntityMutations int64
	Clears          int64
	LastError       string
}

// Store owns the MainTree for the life of a session.
//
// Thread Safety:
//
//	Store is safe for concurrent use. All state is guarded by a single
//	RWMutex; each mutation method holds the write lock for its whole
//	effect, which is what makes patch application atomic with respect
//	to readers.
type Store struct {
	mu     sync.RWMutex
	tree   *datatypes.MainTree
	states map[datatypes.Section]SectionState

	// lastError is the user-visible transient fetch error, if any.
	lastError string

	sectionSets     int64
	entityMutations int64
	clears          int64

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. When unset, slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Store tracking every known section.
func New(opts ...Option) *Store {
	s := &Store{
		tree:   datatypes.NewMainTree(),
		states: make(map[datatypes.Section]SectionState, len(datatypes.AllSections)),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, section := range datatypes.AllSections {
		s.states[section] = SectionState{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tree returns a deep-copied snapshot of the MainTree. Callers may read and
// modify the copy freely; writes only reach the cache through the Store's
// own mutation methods.
func (s *Store) Tree() *datatypes.MainTree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Clone()
}

// State returns the lifecycle metadata for one section.
func (s *Store) State(section datatypes.Section) (SectionState, error) {
	if !section.Valid() {
		return SectionState{}, unknownSection(section)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[section], nil
}

// States returns a copy of all section states.
func (s *Store) States() map[datatypes.Section]SectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[datatypes.Section]SectionState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

// SetLoading flips the loading flag for a section.
func (s *Store) SetLoading(section datatypes.Section, loading bool) error {
	if !section.Valid() {
		return unknownSection(section)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[section]
	st.Loading = loading
	s.states[section] = st
	return nil
}

// MarkLoaded marks a section loaded without replacing its data. Used when a
// stream completes for a section that legitimately has zero records:
// absence of data is a valid cached state, not evidence of failure.
func (s *Store) MarkLoaded(section datatypes.Section) error {
	if !section.Valid() {
		return unknownSection(section)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markLoadedLocked(section)
	return nil
}

// SetLastUpdated restores a section's timestamp, used when warm-starting
// from a persisted snapshot.
func (s *Store) SetLastUpdated(section datatypes.Section, t time.Time) error {
	if !section.Valid() {
		return unknownSection(section)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[section]
	st.Loaded = true
	st.Loading = false
	st.LastUpdated = t
	s.states[section] = st
	return nil
}

// SetSection replaces one section of the tree from a raw JSON payload and
// marks the section loaded. A payload that fails to decode is rejected with
// an error; callers at the stream boundary log and skip it.
func (s *Store) SetSection(section datatypes.Section, data json.RawMessage) error {
	if !section.Valid() {
		return unknownSection(section)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch section {
	case datatypes.SectionPreferences:
		var v datatypes.Preferences
		if err = unmarshalSection(data, &v); err == nil {
			s.tree.Preferences = v
		}
	case datatypes.SectionMyOKRTs:
		var v []datatypes.OKRT
		if err = unmarshalSection(data, &v); err == nil {
			s.tree.MyOKRTs = emptyIfNil(v)
		}
	case datatypes.SectionSharedOKRTs:
		var v []datatypes.OKRT
		if err = unmarshalSection(data, &v); err == nil {
			s.tree.SharedOKRTs = emptyIfNil(v)
		}
	case datatypes.SectionNotifications:
		var v []datatypes.Notification
		if err = unmarshalSection(data, &v); err == nil {
			s.tree.Notifications = emptyIfNil(v)
		}
	case datatypes.SectionTimeBlocks:
		var v []datatypes.TimeBlock
		if err = unmarshalSection(data, &v); err == nil {
			s.tree.TimeBlocks = emptyIfNil(v)
		}
	case datatypes.SectionGroups:
		var v []datatypes.Group
		if err = unmarshalSection(data, &v); err == nil {
			s.tree.Groups = emptyIfNil(v)
		}
	case datatypes.SectionJiraTickets:
		var v []datatypes.JiraTicket
		if err = unmarshalSection(data, &v); err == nil {
			s.tree.JiraTickets = emptyIfNil(v)
		}
	case datatypes.SectionInitiatives:
		var v []datatypes.Initiative
		if err = unmarshalSection(data, &v); err == nil {
			s.tree.Initiatives = emptyIfNil(v)
		}
	case datatypes.SectionCalendar:
		var v datatypes.Calendar
		if err = unmarshalSection(data, &v); err == nil {
			s.tree.Calendar = &v
		}
	}

	if err != nil {
		sectionDecodeFailures.WithLabelValues(string(section)).Inc()
		return err
	}

	s.markLoadedLocked(section)
	s.sectionSets++
	sectionSetsTotal.WithLabelValues(string(section)).Inc()
	return nil
}

// SetCalendar replaces the calendar section wholesale.
func (s *Store) SetCalendar(cal datatypes.Calendar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Calendar = &cal
	s.markLoadedLocked(datatypes.SectionCalendar)
	s.sectionSets++
	sectionSetsTotal.WithLabelValues(string(datatypes.SectionCalendar)).Inc()
}

// SetFetchError records a user-visible transient fetch failure. The cached
// data stays in place; stale-but-present is preferred over blanking the UI.
func (s *Store) SetFetchError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
}

// ClearFetchError resets the recorded fetch error after a successful fetch.
func (s *Store) ClearFetchError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = ""
}

// FetchError returns the recorded transient fetch error, empty if none.
func (s *Store) FetchError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Restore replaces the whole tree from a persisted snapshot and restores
// per-section timestamps in one atomic step. Sections without a timestamp
// stay non-loaded, so a partial snapshot only warms what it actually holds.
func (s *Store) Restore(tree datatypes.MainTree, lastUpdated map[datatypes.Section]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree = tree.Clone()
	for section, t := range lastUpdated {
		if !section.Valid() {
			continue
		}
		st := s.states[section]
		st.Loaded = true
		st.Loading = false
		st.LastUpdated = t
		s.states[section] = st
	}
	s.logger.Info("store restored from snapshot", "sections", len(lastUpdated))
}

// Clear resets the tree to its empty default and wipes all per-section
// metadata. This is the only full-invalidation path; it is driven by the
// cross-tab auth signal and by explicit logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree = datatypes.NewMainTree()
	for section := range s.states {
		s.states[section] = SectionState{}
	}
	s.lastError = ""
	s.clears++
	storeClearsTotal.Inc()
	s.logger.Info("store cleared")
}

// Stats returns a snapshot of store activity counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		SectionSets:     s.sectionSets,
		EntityMutations: s.entityMutations,
		Clears:          s.clears,
		LastError:       s.lastError,
	}
	for _, state := range s.states {
		if state.Loaded {
			st.SectionsLoaded++
		}
		if state.Loading {
			st.SectionsLoading++
		}
	}
	return st
}

// markLoadedLocked transitions a section to loaded. Caller holds the write
// lock.
func (s *Store) markLoadedLocked(section datatypes.Section) {
	st := s.states[section]
	st.Loading = false
	st.Loaded = true
	st.LastUpdated = s.now()
	s.states[section] = st
}

// unmarshalSection decodes a payload, treating JSON null as the zero value
// so servers may send "data": null for an empty section.
func unmarshalSection(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

func emptyIfNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
