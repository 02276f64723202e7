// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/compass/services/sync/datatypes"
)

// Fine-grained entity mutations, used by the cache patcher to apply
// mutation results without a refetch. Every method is idempotent: applying
// the same mutation twice leaves the tree in the same state as once.
// Upserts replace in place (order-stable) and append only when the id is
// new.

// UpsertMyOKRT inserts or replaces an OKRT by id in myOKRTs.
func (s *Store) UpsertMyOKRT(entity datatypes.OKRT) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tree.MyOKRTs {
		if s.tree.MyOKRTs[i].ID == entity.ID {
			s.tree.MyOKRTs[i] = entity
			s.recordMutationLocked("upsertMyOKRT")
			return
		}
	}
	s.tree.MyOKRTs = append(s.tree.MyOKRTs, entity)
	s.recordMutationLocked("upsertMyOKRT")
}

// UpdateMyOKRT merges field updates into the OKRT with the given id. An
// unknown id is a no-op: the entity may live in a section this client
// never loaded.
func (s *Store) UpdateMyOKRT(id string, updates map[string]json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tree.MyOKRTs {
		if s.tree.MyOKRTs[i].ID != id {
			continue
		}
		merged, err := mergeEntity(s.tree.MyOKRTs[i], updates)
		if err != nil {
			return false, err
		}
		s.tree.MyOKRTs[i] = merged
		s.recordMutationLocked("updateMyOKRT")
		return true, nil
	}
	return false, nil
}

// RemoveMyOKRTs removes the OKRTs with the given ids from myOKRTs.
func (s *Store) RemoveMyOKRTs(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.tree.MyOKRTs[:0]
	for _, o := range s.tree.MyOKRTs {
		if !drop[o.ID] {
			kept = append(kept, o)
		}
	}
	s.tree.MyOKRTs = kept
	s.recordMutationLocked("removeMyOKRTs")
}

// UpsertTimeBlock inserts or replaces a time block by id.
func (s *Store) UpsertTimeBlock(entity datatypes.TimeBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tree.TimeBlocks {
		if s.tree.TimeBlocks[i].ID == entity.ID {
			s.tree.TimeBlocks[i] = entity
			s.recordMutationLocked("upsertTimeBlock")
			return
		}
	}
	s.tree.TimeBlocks = append(s.tree.TimeBlocks, entity)
	s.recordMutationLocked("upsertTimeBlock")
}

// UpdateTimeBlock merges field updates into the time block with the id.
func (s *Store) UpdateTimeBlock(id string, updates map[string]json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tree.TimeBlocks {
		if s.tree.TimeBlocks[i].ID != id {
			continue
		}
		merged, err := mergeEntity(s.tree.TimeBlocks[i], updates)
		if err != nil {
			return false, err
		}
		s.tree.TimeBlocks[i] = merged
		s.recordMutationLocked("updateTimeBlock")
		return true, nil
	}
	return false, nil
}

// RemoveTimeBlock removes a time block by id.
func (s *Store) RemoveTimeBlock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tree.TimeBlocks[:0]
	for _, tb := range s.tree.TimeBlocks {
		if tb.ID != id {
			kept = append(kept, tb)
		}
	}
	s.tree.TimeBlocks = kept
	s.recordMutationLocked("removeTimeBlock")
}

// UpsertGroup inserts or replaces a group by id.
func (s *Store) UpsertGroup(entity datatypes.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tree.Groups {
		if s.tree.Groups[i].ID == entity.ID {
			s.tree.Groups[i] = entity
			s.recordMutationLocked("upsertGroup")
			return
		}
	}
	s.tree.Groups = append(s.tree.Groups, entity)
	s.recordMutationLocked("upsertGroup")
}

// UpdateGroup merges field updates into the group with the id.
func (s *Store) UpdateGroup(id string, updates map[string]json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tree.Groups {
		if s.tree.Groups[i].ID != id {
			continue
		}
		merged, err := mergeEntity(s.tree.Groups[i], updates)
		if err != nil {
			return false, err
		}
		s.tree.Groups[i] = merged
		s.recordMutationLocked("updateGroup")
		return true, nil
	}
	return false, nil
}

// RemoveGroup removes a group by id.
func (s *Store) RemoveGroup(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tree.Groups[:0]
	for _, g := range s.tree.Groups {
		if g.ID != id {
			kept = append(kept, g)
		}
	}
	s.tree.Groups = kept
	s.recordMutationLocked("removeGroup")
}

// AddNotification appends a notification, or replaces it if the id already
// exists so duplicate patch delivery stays idempotent.
func (s *Store) AddNotification(n datatypes.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tree.Notifications {
		if s.tree.Notifications[i].ID == n.ID {
			s.tree.Notifications[i] = n
			s.recordMutationLocked("addNotification")
			return
		}
	}
	s.tree.Notifications = append(s.tree.Notifications, n)
	s.recordMutationLocked("addNotification")
}

// MarkNotificationRead flips is_read on the notification with the id.
func (s *Store) MarkNotificationRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tree.Notifications {
		if s.tree.Notifications[i].ID == id {
			s.tree.Notifications[i].IsRead = true
			break
		}
	}
	s.recordMutationLocked("markNotificationRead")
}

// UpsertComment inserts or replaces a comment by id inside every cached
// copy of the OKRT. The same OKRT may appear in myOKRTs and sharedOKRTs;
// denormalized copies must not diverge, so the identical upsert is applied
// to each location where the OKRT id matches.
func (s *Store) UpsertComment(okrtID string, c datatypes.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upsertCommentIn(s.tree.MyOKRTs, okrtID, c)
	upsertCommentIn(s.tree.SharedOKRTs, okrtID, c)
	s.recordMutationLocked("upsertComment")
}

// RemoveComment removes a comment by id from every cached copy of the OKRT.
func (s *Store) RemoveComment(okrtID, commentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removeCommentIn(s.tree.MyOKRTs, okrtID, commentID)
	removeCommentIn(s.tree.SharedOKRTs, okrtID, commentID)
	s.recordMutationLocked("removeComment")
}

func upsertCommentIn(okrts []datatypes.OKRT, okrtID string, c datatypes.Comment) {
	for i := range okrts {
		if okrts[i].ID != okrtID {
			continue
		}
		replaced := false
		for j := range okrts[i].Comments {
			if okrts[i].Comments[j].ID == c.ID {
				okrts[i].Comments[j] = c
				replaced = true
				break
			}
		}
		if !replaced {
			okrts[i].Comments = append(okrts[i].Comments, c)
		}
	}
}

func removeCommentIn(okrts []datatypes.OKRT, okrtID, commentID string) {
	for i := range okrts {
		if okrts[i].ID != okrtID {
			continue
		}
		kept := okrts[i].Comments[:0]
		for _, c := range okrts[i].Comments {
			if c.ID != commentID {
				kept = append(kept, c)
			}
		}
		okrts[i].Comments = kept
	}
}

// recordMutationLocked bumps mutation counters. Caller holds the write lock.
func (s *Store) recordMutationLocked(kind string) {
	s.entityMutations++
	entityMutationsTotal.WithLabelValues(kind).Inc()
}

// mergeEntity overlays raw JSON field updates onto an entity and decodes
// the result back into the entity's type.
func mergeEntity[T any](entity T, updates map[string]json.RawMessage) (T, error) {
	var zero T

	raw, err := json.Marshal(entity)
	if err != nil {
		return zero, fmt.Errorf("marshaling entity for merge: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return zero, fmt.Errorf("decoding entity for merge: %w", err)
	}
	for k, v := range updates {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return zero, fmt.Errorf("re-encoding merged entity: %w", err)
	}
	var out T
	if err := json.Unmarshal(merged, &out); err != nil {
		return zero, fmt.Errorf("decoding merged entity: %w", err)
	}
	return out, nil
}
