// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package patch applies mutation cache-patch instructions to the store.
//
// Write endpoints return a small {action, data} instruction alongside their
// normal payload so the cache can be updated incrementally instead of
// refetched. The action set is closed and modeled as typed constants with
// one decode path per action, so an unhandled action is a visible gap in
// the switch rather than a silent map default.
package patch

import (
	"encoding/json"

	"github.com/AleutianAI/compass/services/sync/datatypes"
)

// Action identifies one cache-patch instruction kind.
type Action string

const (
	ActionUpdateMyOKRT  Action = "updateMyOKRT"
	ActionAddMyOKRT     Action = "addMyOKRT"
	ActionRemoveMyOKRT  Action = "removeMyOKRT"
	ActionRemoveMyOKRTs Action = "removeMyOKRTs"

	ActionUpdateTimeBlock Action = "updateTimeBlock"
	ActionAddTimeBlock    Action = "addTimeBlock"
	ActionRemoveTimeBlock Action = "removeTimeBlock"

	ActionUpdateGroup Action = "updateGroup"
	ActionAddGroup    Action = "addGroup"
	ActionRemoveGroup Action = "removeGroup"

	ActionAddNotification      Action = "addNotification"
	ActionMarkNotificationRead Action = "markNotificationRead"

	ActionSetCalendar Action = "setCalendar"

	ActionUpdateComment Action = "updateComment"
	ActionRemoveComment Action = "removeComment"

	// ActionRefreshMainTree signals that no incremental patch is
	// possible; the caller must trigger a full primary fetch.
	ActionRefreshMainTree Action = "refreshMainTree"
)

// Known reports whether the action is part of the closed set. Unknown
// actions are expected across independently deployed endpoint versions and
// are ignored, never fatal.
func (a Action) Known() bool {
	switch a {
	case ActionUpdateMyOKRT, ActionAddMyOKRT, ActionRemoveMyOKRT, ActionRemoveMyOKRTs,
		ActionUpdateTimeBlock, ActionAddTimeBlock, ActionRemoveTimeBlock,
		ActionUpdateGroup, ActionAddGroup, ActionRemoveGroup,
		ActionAddNotification, ActionMarkNotificationRead,
		ActionSetCalendar,
		ActionUpdateComment, ActionRemoveComment,
		ActionRefreshMainTree:
		return true
	}
	return false
}

// Per-action payload shapes.

type updatePayload struct {
	ID      string                     `json:"id"`
	Updates map[string]json.RawMessage `json:"updates"`
}

type removePayload struct {
	ID string `json:"id"`
}

type removeManyPayload struct {
	IDs []string `json:"ids"`
}

type commentPayload struct {
	OKRTID  string            `json:"okrtId"`
	Comment datatypes.Comment `json:"comment"`
}

type removeCommentPayload struct {
	OKRTID    string `json:"okrtId"`
	CommentID string `json:"commentId"`
}
