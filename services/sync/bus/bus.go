// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package bus carries invalidation signals between engine instances. The
// signal is an event, not a data store: observers react to the fact that
// authentication state changed somewhere, never to signal contents beyond
// routing metadata.
package bus

import (
	"context"
	"time"
)

// Kind classifies an invalidation signal.
type Kind string

const (
	// KindAuthChanged means authentication state changed in another
	// instance and all cached data must be discarded.
	KindAuthChanged Kind = "auth-changed"

	// KindLogout is an explicit logout broadcast.
	KindLogout Kind = "logout"
)

// Signal is one invalidation event.
type Signal struct {
	Kind Kind `json:"kind"`

	// Origin is the publishing instance's session id, so an instance can
	// ignore its own broadcasts.
	Origin string `json:"origin"`

	At time.Time `json:"at"`
}

// Handler receives delivered signals. Handlers must not block; slow work
// belongs in the handler's own goroutine.
type Handler func(Signal)

// Bus is a publish/subscribe channel for invalidation signals.
//
// Delivery is at-least-once and best-effort across instances; a full
// cache invalidation is idempotent, so duplicate delivery is harmless.
type Bus interface {
	// Publish broadcasts a signal to all other subscribers.
	Publish(ctx context.Context, sig Signal) error

	// Subscribe registers a handler and returns its unsubscribe func.
	Subscribe(h Handler) (unsubscribe func())

	// Close releases transport resources. A closed bus drops publishes
	// and delivers nothing.
	Close() error
}
