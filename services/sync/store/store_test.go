// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/AleutianAI/compass/services/sync/datatypes"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSetSection(t *testing.T) {
	t.Run("replaces section data and marks it loaded", func(t *testing.T) {
		now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
		s := New(WithClock(fixedClock(now)))

		payload := json.RawMessage(`[{"id":"o1","type":"Objective","owner_id":"u1","title":"Ship it","progress":40}]`)
		if err := s.SetSection(datatypes.SectionMyOKRTs, payload); err != nil {
			t.Fatalf("SetSection failed: %v", err)
		}

		tree := s.Tree()
		if len(tree.MyOKRTs) != 1 || tree.MyOKRTs[0].ID != "o1" {
			t.Fatalf("unexpected myOKRTs: %+v", tree.MyOKRTs)
		}

		state, err := s.State(datatypes.SectionMyOKRTs)
		if err != nil {
			t.Fatalf("State failed: %v", err)
		}
		if !state.Loaded || state.Loading {
			t.Errorf("state = %+v, want loaded and not loading", state)
		}
		if !state.LastUpdated.Equal(now) {
			t.Errorf("LastUpdated = %v, want %v", state.LastUpdated, now)
		}
	})

	t.Run("null payload is a valid empty section", func(t *testing.T) {
		s := New()
		if err := s.SetSection(datatypes.SectionGroups, json.RawMessage(`null`)); err != nil {
			t.Fatalf("SetSection failed: %v", err)
		}
		state, _ := s.State(datatypes.SectionGroups)
		if !state.Loaded {
			t.Error("section with null payload should still be loaded")
		}
	})

	t.Run("rejects unknown section names loudly", func(t *testing.T) {
		s := New()
		err := s.SetSection("bogus", json.RawMessage(`[]`))
		if !errors.Is(err, ErrUnknownSection) {
			t.Fatalf("err = %v, want ErrUnknownSection", err)
		}
	})

	t.Run("rejects undecodable payloads", func(t *testing.T) {
		s := New()
		err := s.SetSection(datatypes.SectionMyOKRTs, json.RawMessage(`{"not":"a list"}`))
		if err == nil {
			t.Fatal("expected decode error")
		}
		state, _ := s.State(datatypes.SectionMyOKRTs)
		if state.Loaded {
			t.Error("failed decode must not mark the section loaded")
		}
	})
}

func TestTreeIsACopy(t *testing.T) {
	s := New()
	if err := s.SetSection(datatypes.SectionMyOKRTs, json.RawMessage(`[{"id":"o1","type":"Objective","title":"x"}]`)); err != nil {
		t.Fatalf("SetSection failed: %v", err)
	}

	tree := s.Tree()
	tree.MyOKRTs[0].Title = "mutated by consumer"

	if got := s.Tree().MyOKRTs[0].Title; got != "x" {
		t.Errorf("consumer write leaked into the store: title = %q", got)
	}
}

func TestUpsertIdempotence(t *testing.T) {
	s := New()
	entity := datatypes.OKRT{ID: "o1", Type: datatypes.TypeObjective, Title: "first"}
	s.UpsertMyOKRT(entity)
	s.UpsertMyOKRT(datatypes.OKRT{ID: "o2", Type: datatypes.TypeObjective, Title: "second"})

	updated := entity
	updated.Title = "renamed"
	s.UpsertMyOKRT(updated)
	once := s.Tree().MyOKRTs
	s.UpsertMyOKRT(updated)
	twice := s.Tree().MyOKRTs

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("upsert is not idempotent: %+v != %+v", once, twice)
	}
	if len(twice) != 2 || twice[0].ID != "o1" || twice[0].Title != "renamed" {
		t.Errorf("upsert not order-stable: %+v", twice)
	}
}

func TestUpdateMyOKRT(t *testing.T) {
	s := New()
	s.UpsertMyOKRT(datatypes.OKRT{ID: "t1", Type: datatypes.TypeTask, Title: "task", Progress: 10})

	found, err := s.UpdateMyOKRT("t1", map[string]json.RawMessage{
		"progress": json.RawMessage(`80`),
		"status":   json.RawMessage(`"on_track"`),
	})
	if err != nil {
		t.Fatalf("UpdateMyOKRT failed: %v", err)
	}
	if !found {
		t.Fatal("expected to find t1")
	}

	got := s.Tree().MyOKRTs[0]
	if got.Progress != 80 || got.Status != "on_track" || got.Title != "task" {
		t.Errorf("merge result = %+v", got)
	}

	found, err = s.UpdateMyOKRT("missing", map[string]json.RawMessage{"progress": json.RawMessage(`1`)})
	if err != nil || found {
		t.Errorf("unknown id should be a silent no-op, found=%v err=%v", found, err)
	}
}

func TestCommentDenormalization(t *testing.T) {
	s := New()
	if err := s.SetSection(datatypes.SectionMyOKRTs, json.RawMessage(`[{"id":"o1","type":"Objective","title":"mine"}]`)); err != nil {
		t.Fatalf("SetSection failed: %v", err)
	}
	if err := s.SetSection(datatypes.SectionSharedOKRTs, json.RawMessage(`[{"id":"o1","type":"Objective","title":"mine"},{"id":"o2","type":"Objective","title":"other"}]`)); err != nil {
		t.Fatalf("SetSection failed: %v", err)
	}

	c := datatypes.Comment{ID: "c1", Comment: "nice work", SendingUser: "u2", OKRTID: "o1"}
	s.UpsertComment("o1", c)

	tree := s.Tree()
	mine := tree.MyOKRTs[0].Comments
	shared := tree.SharedOKRTs[0].Comments
	if len(mine) != 1 || len(shared) != 1 {
		t.Fatalf("comment missing from a location: mine=%d shared=%d", len(mine), len(shared))
	}
	if !reflect.DeepEqual(mine[0], shared[0]) {
		t.Errorf("denormalized copies diverged: %+v != %+v", mine[0], shared[0])
	}
	if len(tree.SharedOKRTs[1].Comments) != 0 {
		t.Errorf("comment leaked onto unrelated OKRT")
	}

	// Upserting an edited copy replaces, never appends.
	c.Comment = "edited"
	s.UpsertComment("o1", c)
	s.UpsertComment("o1", c)
	tree = s.Tree()
	if len(tree.MyOKRTs[0].Comments) != 1 || tree.MyOKRTs[0].Comments[0].Comment != "edited" {
		t.Errorf("comment upsert not idempotent: %+v", tree.MyOKRTs[0].Comments)
	}

	s.RemoveComment("o1", "c1")
	tree = s.Tree()
	if len(tree.MyOKRTs[0].Comments) != 0 || len(tree.SharedOKRTs[0].Comments) != 0 {
		t.Errorf("comment not removed from both locations")
	}
}

func TestClear(t *testing.T) {
	s := New()
	if err := s.SetSection(datatypes.SectionMyOKRTs, json.RawMessage(`[{"id":"o1","type":"Objective"}]`)); err != nil {
		t.Fatalf("SetSection failed: %v", err)
	}
	if err := s.SetSection(datatypes.SectionSharedOKRTs, json.RawMessage(`[{"id":"o2","type":"Objective"}]`)); err != nil {
		t.Fatalf("SetSection failed: %v", err)
	}
	s.SetFetchError("boom")

	s.Clear()

	tree := s.Tree()
	if len(tree.MyOKRTs) != 0 || len(tree.SharedOKRTs) != 0 {
		t.Errorf("tree not reset: %+v", tree)
	}
	for _, section := range datatypes.AllSections {
		state, err := s.State(section)
		if err != nil {
			t.Fatalf("State(%s) failed: %v", section, err)
		}
		if state.Loaded || state.Loading || !state.LastUpdated.IsZero() {
			t.Errorf("section %s not reset: %+v", section, state)
		}
	}
	if s.FetchError() != "" {
		t.Error("fetch error should be cleared")
	}
}

func TestFreshnessBoundary(t *testing.T) {
	policy := DefaultFreshnessPolicy()
	loadedAt := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	state := SectionState{Loaded: true, LastUpdated: loadedAt}

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"one ms before the window", loadedAt.Add(DefaultFreshnessWindow - time.Millisecond), true},
		{"exactly at the window", loadedAt.Add(DefaultFreshnessWindow), false},
		{"one ms past the window", loadedAt.Add(DefaultFreshnessWindow + time.Millisecond), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.IsFresh(state, tc.now); got != tc.want {
				t.Errorf("IsFresh = %v, want %v", got, tc.want)
			}
		})
	}

	t.Run("loaded with zero records is still fresh", func(t *testing.T) {
		s := New(WithClock(fixedClock(loadedAt)))
		if err := s.SetSection(datatypes.SectionNotifications, json.RawMessage(`[]`)); err != nil {
			t.Fatalf("SetSection failed: %v", err)
		}
		state, _ := s.State(datatypes.SectionNotifications)
		if !policy.IsFresh(state, loadedAt.Add(time.Second)) {
			t.Error("empty loaded section should be fresh")
		}
	})

	t.Run("never-loaded section is stale", func(t *testing.T) {
		if policy.Check(SectionState{}, loadedAt) != StaleNeverLoaded {
			t.Error("expected StaleNeverLoaded")
		}
	})
}

func TestStaleSections(t *testing.T) {
	loadedAt := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(fixedClock(loadedAt)))
	if err := s.SetSection(datatypes.SectionMyOKRTs, json.RawMessage(`[]`)); err != nil {
		t.Fatalf("SetSection failed: %v", err)
	}

	policy := DefaultFreshnessPolicy()
	stale := policy.StaleSections(s, []datatypes.Section{datatypes.SectionMyOKRTs, datatypes.SectionGroups}, loadedAt.Add(time.Minute))
	if len(stale) != 1 || stale[0] != datatypes.SectionGroups {
		t.Errorf("stale = %v, want [groups]", stale)
	}
}
