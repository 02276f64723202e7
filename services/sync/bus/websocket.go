// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketBus relays signals through a fan-out endpoint, for instances
// that do not share a filesystem. The relay is expected to broadcast
// every received message to all other connections.
//
// There is no automatic reconnect: a dropped connection stops delivery
// until the owner dials a new bus. Losing invalidation signals degrades
// to the freshness window, never to serving wrong data.
type WebSocketBus struct {
	conn   *websocket.Conn
	origin string
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int

	done      chan struct{}
	closeOnce sync.Once
}

// WebSocketBusOption configures a WebSocketBus.
type WebSocketBusOption func(*WebSocketBus)

// WithWebSocketLogger sets the structured logger.
func WithWebSocketLogger(logger *slog.Logger) WebSocketBusOption {
	return func(b *WebSocketBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// DialWebSocket connects to a signal relay.
func DialWebSocket(ctx context.Context, url, origin string, opts ...WebSocketBusOption) (*WebSocketBus, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing signal relay %s: %w", url, err)
	}

	b := &WebSocketBus{
		conn:     conn,
		origin:   origin,
		logger:   slog.Default(),
		handlers: make(map[int]Handler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.readPump()
	return b, nil
}

// Publish sends the signal to the relay.
func (b *WebSocketBus) Publish(ctx context.Context, sig Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		b.conn.SetWriteDeadline(deadline)
	} else {
		b.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if err := b.conn.WriteJSON(sig); err != nil {
		return fmt.Errorf("publishing to relay: %w", err)
	}
	signalsTotal.WithLabelValues("websocket", "published").Inc()
	return nil
}

// Subscribe registers a handler.
func (b *WebSocketBus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Close tears down the relay connection.
func (b *WebSocketBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		b.writeMu.Lock()
		b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		b.writeMu.Unlock()
		err = b.conn.Close()
	})
	return err
}

func (b *WebSocketBus) readPump() {
	for {
		var sig Signal
		if err := b.conn.ReadJSON(&sig); err != nil {
			select {
			case <-b.done:
			default:
				b.logger.Warn("signal relay connection lost", "error", err)
			}
			return
		}
		if sig.Origin != "" && sig.Origin == b.origin {
			continue
		}

		b.mu.RLock()
		handlers := make([]Handler, 0, len(b.handlers))
		for _, h := range b.handlers {
			handlers = append(handlers, h)
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			h(sig)
			signalsTotal.WithLabelValues("websocket", "delivered").Inc()
		}
	}
}
