// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "encoding/json"

// Section names one independently fetched slice of the MainTree.
//
// Sections are independent: absence or staleness of one never blocks reads
// of another.
type Section string

const (
	SectionPreferences   Section = "preferences"
	SectionMyOKRTs       Section = "myOKRTs"
	SectionSharedOKRTs   Section = "sharedOKRTs"
	SectionNotifications Section = "notifications"
	SectionTimeBlocks    Section = "timeBlocks"
	SectionGroups        Section = "groups"
	SectionJiraTickets   Section = "jiraTickets"
	SectionCalendar      Section = "calendar"
	SectionInitiatives   Section = "initiatives"
)

// StreamSections are the sections delivered by the primary progressive
// fetch, in no guaranteed order.
var StreamSections = []Section{
	SectionPreferences,
	SectionMyOKRTs,
	SectionSharedOKRTs,
	SectionNotifications,
	SectionTimeBlocks,
	SectionGroups,
	SectionJiraTickets,
	SectionInitiatives,
}

// AllSections is every section tracked by the store, including the
// secondary calendar section.
var AllSections = append(append([]Section{}, StreamSections...), SectionCalendar)

// Valid reports whether s is a known section name.
func (s Section) Valid() bool {
	switch s {
	case SectionPreferences, SectionMyOKRTs, SectionSharedOKRTs,
		SectionNotifications, SectionTimeBlocks, SectionGroups,
		SectionJiraTickets, SectionCalendar, SectionInitiatives:
		return true
	}
	return false
}

// MainTree is the composite application-state document assembled from the
// independently paced sections. The store owns the single live instance;
// consumers receive deep copies.
type MainTree struct {
	Preferences   Preferences    `json:"preferences,omitempty"`
	MyOKRTs       []OKRT         `json:"myOKRTs"`
	SharedOKRTs   []OKRT         `json:"sharedOKRTs"`
	Notifications []Notification `json:"notifications"`
	TimeBlocks    []TimeBlock    `json:"timeBlocks"`
	Groups        []Group        `json:"groups"`
	JiraTickets   []JiraTicket   `json:"jiraTickets"`
	Calendar      *Calendar      `json:"calendar,omitempty"`
	Initiatives   []Initiative   `json:"initiatives"`
}

// NewMainTree returns an empty tree with non-nil slices so JSON encodes
// sections as [] rather than null.
func NewMainTree() *MainTree {
	return &MainTree{
		MyOKRTs:       []OKRT{},
		SharedOKRTs:   []OKRT{},
		Notifications: []Notification{},
		TimeBlocks:    []TimeBlock{},
		Groups:        []Group{},
		JiraTickets:   []JiraTicket{},
		Initiatives:   []Initiative{},
	}
}

// Clone returns a deep copy of the tree. Implemented with a JSON round
// trip: the tree is plain data, copies are taken once per consumer read,
// and the sizes involved (one user's workspace) make this cheap enough.
func (t *MainTree) Clone() *MainTree {
	if t == nil {
		return NewMainTree()
	}
	raw, err := json.Marshal(t)
	if err != nil {
		// The tree contains only marshalable types; this cannot fail
		// for well-formed data.
		return NewMainTree()
	}
	out := NewMainTree()
	if err := json.Unmarshal(raw, out); err != nil {
		return NewMainTree()
	}
	return out
}

// StreamMessage is one line of the progressive-fetch protocol: either a
// section payload or the informational end-of-stream marker.
type StreamMessage struct {
	Section  Section         `json:"section,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Complete bool            `json:"complete,omitempty"`
}

// CacheUpdate is the mutation cache-patch envelope carried by write
// endpoints under the "_cacheUpdate" response field. It is produced once
// per successful mutation and consumed exactly once.
type CacheUpdate struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}
