// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// DefaultDebounce is the minimum spacing between delivered file signals.
// Atomic writes can surface as several filesystem events; one signal per
// window is enough because invalidation is idempotent.
const DefaultDebounce = 500 * time.Millisecond

// FileBus broadcasts signals between processes on one machine through a
// shared signal file. Only the change of the file matters to observers;
// the content exists to carry routing metadata (origin, kind).
type FileBus struct {
	path    string
	origin  string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	limiter *rate.Limiter

	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int

	done      chan struct{}
	closeOnce sync.Once
}

// FileBusOption configures a FileBus.
type FileBusOption func(*FileBus)

// WithDebounce overrides the delivery debounce window.
func WithDebounce(d time.Duration) FileBusOption {
	return func(b *FileBus) {
		if d > 0 {
			b.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithFileBusLogger sets the structured logger.
func WithFileBusLogger(logger *slog.Logger) FileBusOption {
	return func(b *FileBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewFileBus watches (and publishes to) the signal file at path. The
// origin id marks this instance's own publishes so they are not delivered
// back to it.
func NewFileBus(path, origin string, opts ...FileBusOption) (*FileBus, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating signal directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory, not the file: atomic rename replaces the
	// inode and a file-level watch would go dead after one publish.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	b := &FileBus{
		path:     filepath.Clean(path),
		origin:   origin,
		logger:   slog.Default(),
		watcher:  watcher,
		limiter:  rate.NewLimiter(rate.Every(DefaultDebounce), 1),
		handlers: make(map[int]Handler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.watch()
	return b, nil
}

// Publish writes the signal to the file atomically. Observing processes
// pick it up from the filesystem event.
func (b *FileBus) Publish(ctx context.Context, sig Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encoding signal: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing signal file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("publishing signal file: %w", err)
	}
	signalsTotal.WithLabelValues("file", "published").Inc()
	return nil
}

// Subscribe registers a handler.
func (b *FileBus) Subscribe(h Handler) func() {
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

// Close stops the watcher. Pending signals are dropped.
func (b *FileBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.watcher.Close()
	})
	return err
}

func (b *FileBus) watch() {
	for {
		select {
		case <-b.done:
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != b.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !b.limiter.Allow() {
				signalsTotal.WithLabelValues("file", "debounced").Inc()
				continue
			}
			b.deliverFromFile()
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("signal file watcher error", "error", err)
		}
	}
}

func (b *FileBus) deliverFromFile() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		b.logger.Warn("reading signal file", "error", err)
		return
	}

	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		// A torn or foreign write still means "something changed";
		// deliver a generic auth-changed signal.
		b.logger.Warn("undecodable signal file, treating as auth change", "error", err)
		sig = Signal{Kind: KindAuthChanged, At: time.Now()}
	}
	if sig.Origin != "" && sig.Origin == b.origin {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(sig)
		signalsTotal.WithLabelValues("file", "delivered").Inc()
	}
}
