// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"time"

	"github.com/AleutianAI/compass/services/sync/datatypes"
)

// DefaultFreshnessWindow is the maximum age at which cached section data is
// served without a refetch. Bounds staleness while avoiding refetch storms
// when multiple consumers mount within the same short interaction.
const DefaultFreshnessWindow = 5 * time.Minute

// StaleReason indicates why a section needs a refetch.
type StaleReason string

const (
	// StaleNone indicates the section is fresh.
	StaleNone StaleReason = ""

	// StaleNeverLoaded indicates the section has no cached data yet.
	StaleNeverLoaded StaleReason = "never_loaded"

	// StaleExpired indicates the cached data outlived the window.
	StaleExpired StaleReason = "expired"
)

// FreshnessPolicy decides whether a section's cached data is still
// servable. A section with loaded == true and zero records is fresh:
// absence of data is a valid cached state.
type FreshnessPolicy struct {
	Window time.Duration
}

// DefaultFreshnessPolicy returns a policy with the standard window.
func DefaultFreshnessPolicy() FreshnessPolicy {
	return FreshnessPolicy{Window: DefaultFreshnessWindow}
}

// IsFresh reports whether the section state is fresh at the given instant.
// Fresh iff the section is loaded and now-lastUpdated < Window (strictly:
// data exactly one window old is stale).
func (p FreshnessPolicy) IsFresh(state SectionState, now time.Time) bool {
	reason := p.Check(state, now)
	return reason == StaleNone
}

// Check returns the staleness reason for a section state, StaleNone if
// fresh.
func (p FreshnessPolicy) Check(state SectionState, now time.Time) StaleReason {
	if !state.Loaded || state.LastUpdated.IsZero() {
		freshnessChecksTotal.WithLabelValues(string(StaleNeverLoaded)).Inc()
		return StaleNeverLoaded
	}
	if now.Sub(state.LastUpdated) >= p.Window {
		freshnessChecksTotal.WithLabelValues(string(StaleExpired)).Inc()
		return StaleExpired
	}
	freshnessChecksTotal.WithLabelValues("fresh").Inc()
	return StaleNone
}

// StaleSections returns which of the given sections need a refetch now.
func (p FreshnessPolicy) StaleSections(s *Store, sections []datatypes.Section, now time.Time) []datatypes.Section {
	var stale []datatypes.Section
	for _, section := range sections {
		state, err := s.State(section)
		if err != nil {
			continue
		}
		if !p.IsFresh(state, now) {
			stale = append(stale, section)
		}
	}
	return stale
}
