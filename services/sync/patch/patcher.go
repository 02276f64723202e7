// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/compass/services/sync/datatypes"
	"github.com/AleutianAI/compass/services/sync/store"
)

var tracer = otel.Tracer("compass.sync.patch")

// Outcome classifies the result of applying one instruction.
type Outcome string

const (
	// OutcomeApplied means the instruction mutated the store.
	OutcomeApplied Outcome = "applied"

	// OutcomeIgnored means the instruction was skipped: unknown action
	// or malformed payload. Both are logged and absorbed here so that
	// forward/backward compatibility between write endpoints and the
	// cache never crashes the store.
	OutcomeIgnored Outcome = "ignored"

	// OutcomeRefreshRequired means no incremental patch is possible and
	// the caller must trigger a full primary fetch.
	OutcomeRefreshRequired Outcome = "refresh_required"
)

// Patcher applies CacheUpdate instructions to a Store.
type Patcher struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a Patcher writing to the given store.
func New(s *store.Store, logger *slog.Logger) *Patcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Patcher{store: s, logger: logger}
}

// Apply executes one instruction against the store.
//
// Each action is applied as a single synchronous store mutation, so readers
// never observe a half-applied patch. Applying the same instruction twice
// leaves the tree in the same state as applying it once.
//
// Apply never returns an error for data-level problems: unknown actions and
// undecodable payloads are logged, counted, and reported as OutcomeIgnored.
func (p *Patcher) Apply(ctx context.Context, instr datatypes.CacheUpdate) Outcome {
	_, span := tracer.Start(ctx, "Patcher.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("patch.action", instr.Action))

	action := Action(instr.Action)
	if !action.Known() {
		p.logger.Warn("ignoring unknown cache-patch action", "action", instr.Action)
		patchesTotal.WithLabelValues(instr.Action, string(OutcomeIgnored)).Inc()
		return OutcomeIgnored
	}

	outcome := p.apply(action, instr.Data)
	patchesTotal.WithLabelValues(instr.Action, string(outcome)).Inc()
	span.SetAttributes(attribute.String("patch.outcome", string(outcome)))
	return outcome
}

func (p *Patcher) apply(action Action, data json.RawMessage) Outcome {
	switch action {
	case ActionRefreshMainTree:
		return OutcomeRefreshRequired

	case ActionAddMyOKRT:
		var entity datatypes.OKRT
		if !p.decode(action, data, &entity) {
			return OutcomeIgnored
		}
		p.store.UpsertMyOKRT(entity)

	case ActionUpdateMyOKRT:
		var pl updatePayload
		if !p.decode(action, data, &pl) {
			return OutcomeIgnored
		}
		if _, err := p.store.UpdateMyOKRT(pl.ID, pl.Updates); err != nil {
			p.logger.Warn("cache-patch merge failed", "action", action, "id", pl.ID, "error", err)
			return OutcomeIgnored
		}

	case ActionRemoveMyOKRT:
		var pl removePayload
		if !p.decode(action, data, &pl) {
			return OutcomeIgnored
		}
		p.store.RemoveMyOKRTs(pl.ID)

	case ActionRemoveMyOKRTs:
		var pl removeManyPayload
		if !p.decode(action, data, &pl) {
			return OutcomeIgnored
		}
		p.store.RemoveMyOKRTs(pl.IDs...)

	case ActionAddTimeBlock:
		var entity datatypes.TimeBlock
		if !p.decode(action, data, &entity) {
			return OutcomeIgnored
		}
		p.store.UpsertTimeBlock(entity)

	case ActionUpdateTimeBlock:
		var pl updatePayload
		if !p.decode(action, data, &pl) {
			return OutcomeIgnored
		}
		if _, err := p.store.UpdateTimeBlock(pl.ID, pl.Updates); err != nil {
			p.logger.Warn("cache-patch merge failed", "action", action, "id", pl.ID, "error", err)
			return OutcomeIgnored
		}

	case ActionRemoveTimeBlock:
		var pl removePayload
		if !p.decode(action, data, &pl) {
			return OutcomeIgnored
		}
		p.store.RemoveTimeBlock(pl.ID)

	case ActionAddGroup:
		var entity datatypes.Group
		if !p.decode(action, data, &entity) {
			return OutcomeIgnored
		}
		p.store.UpsertGroup(entity)

	case ActionUpdateGroup:
		var pl updatePayload
		if !p.decode(action, data, &pl) {
			return OutcomeIgnored
		}
		if _, err := p.store.UpdateGroup(pl.ID, pl.Updates); err != nil {
			p.logger.Warn("cache-patch merge failed", "action", action, "id", pl.ID, "error", err)
			return OutcomeIgnored
		}

	case ActionRemoveGroup:
		var pl removePayload
		if !p.decode(action, data, &pl) {
			return OutcomeIgnored
		}
		p.store.RemoveGroup(pl.ID)

	case ActionAddNotification:
		var n datatypes.Notification
		if !p.decode(action, data, &n) {
			return OutcomeIgnored
		}
		p.store.AddNotification(n)

	case ActionMarkNotificationRead:
		var pl removePayload
		if !p.decode(action, data, &pl) {
			return OutcomeIgnored
		}
		p.store.MarkNotificationRead(pl.ID)

	case ActionSetCalendar:
		var cal datatypes.Calendar
		if !p.decode(action, data, &cal) {
			return OutcomeIgnored
		}
		p.store.SetCalendar(cal)

	case ActionUpdateComment:
		var pl commentPayload
		if !p.decode(action, data, &pl) {
			return OutcomeIgnored
		}
		p.store.UpsertComment(pl.OKRTID, pl.Comment)

	case ActionRemoveComment:
		var pl removeCommentPayload
		if !p.decode(action, data, &pl) {
			return OutcomeIgnored
		}
		p.store.RemoveComment(pl.OKRTID, pl.CommentID)
	}

	return OutcomeApplied
}

// decode unmarshals an action payload, logging and counting failures.
func (p *Patcher) decode(action Action, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		p.logger.Warn("ignoring malformed cache-patch payload",
			"action", string(action),
			"error", err,
		)
		malformedPayloadsTotal.WithLabelValues(string(action)).Inc()
		return false
	}
	return true
}
