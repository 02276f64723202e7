// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire and cache types shared by the sync
// engine: the composite MainTree document, the OKRT hierarchy, and the
// envelopes used by the progressive-fetch and mutation-patch protocols.
package datatypes

import "encoding/json"

// OKRTType discriminates the three levels of the OKRT hierarchy.
type OKRTType string

const (
	TypeObjective OKRTType = "Objective"
	TypeKeyResult OKRTType = "KeyResult"
	TypeTask      OKRTType = "Task"
)

// OKRT is one node of the Objective -> KeyResult -> Task forest.
//
// ParentID is empty for Objectives, an Objective id for KeyResults, and a
// KeyResult id for Tasks. The forest has depth exactly three; an
// Objective's derived metrics depend only on its own subtree.
type OKRT struct {
	ID          string   `json:"id"`
	Type        OKRTType `json:"type"`
	OwnerID     string   `json:"owner_id"`
	ParentID    string   `json:"parent_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`

	// Progress is raw completion in [0, 100].
	Progress float64 `json:"progress"`
	Status   string  `json:"status,omitempty"`

	// DueDate applies to Tasks and KeyResults, format "2006-01-02".
	DueDate string `json:"due_date,omitempty"`

	// CycleQtr applies to Objectives, format "YYYY-Q#".
	CycleQtr string `json:"cycle_qtr,omitempty"`

	// Weight is the relative contribution among siblings. Zero means
	// unset and is treated as the default weight of 1.
	Weight float64 `json:"weight,omitempty"`

	// Comments is populated on shared objectives and kept denormalized:
	// the same comment may appear under more than one section.
	Comments []Comment `json:"comments,omitempty"`

	// KeyResults is a summary list embedded in shared objectives.
	KeyResults []OKRT `json:"keyResults,omitempty"`
}

// EffectiveWeight returns the sibling weight, defaulting unset (or
// nonsensical) values to 1.
func (o OKRT) EffectiveWeight() float64 {
	if o.Weight <= 0 {
		return 1
	}
	return o.Weight
}

// Comment is a note attached to an OKRT. Comments are denormalized across
// sections and must stay identical wherever the same id appears.
type Comment struct {
	ID            string `json:"id"`
	Comment       string `json:"comment"`
	Type          string `json:"type,omitempty"`
	SendingUser   string `json:"sending_user"`
	ReceivingUser string `json:"receiving_user,omitempty"`
	OKRTID        string `json:"okrt_id"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// Notification is an inbox entry for the current user.
type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type,omitempty"`
	Message   string          `json:"message"`
	IsRead    bool            `json:"is_read"`
	CreatedAt string          `json:"created_at,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

// TimeBlock is a scheduled working block linked to a task.
type TimeBlock struct {
	ID      string `json:"id"`
	TaskID  string `json:"task_id,omitempty"`
	OwnerID string `json:"owner_id,omitempty"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Title   string `json:"title,omitempty"`
}

// Group is a sharing group the user belongs to.
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	OwnerID string   `json:"owner_id,omitempty"`
	Members []string `json:"members,omitempty"`
}

// JiraTicket is a read-only projection of a linked Jira issue.
type JiraTicket struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
	Status  string `json:"status,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Initiative is a cross-objective theme grouping.
type Initiative struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// CalendarEvent is one event from the user's external calendar.
type CalendarEvent struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// QuarterWindow bounds the current planning quarter.
type QuarterWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Calendar is the secondary-fetch section: events plus quarter bounds.
type Calendar struct {
	Events  []CalendarEvent `json:"events"`
	Quarter QuarterWindow   `json:"quarter"`
}

// Preferences holds per-user display settings. The engine treats it as an
// opaque object; only presence matters for freshness.
type Preferences map[string]any
