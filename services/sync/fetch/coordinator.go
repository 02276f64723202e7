// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/compass/services/sync/datatypes"
	"github.com/AleutianAI/compass/services/sync/store"
)

// DefaultErrorCacheTTL is how long a failed primary fetch is remembered so
// that a burst of concurrent consumers does not turn one failure into a
// retry storm. It is short on purpose: the no-automatic-retry rule means
// the next natural trigger should get a real attempt soon.
const DefaultErrorCacheTTL = 5 * time.Second

// Coordinator guarantees at most one in-flight primary fetch and at most
// one in-flight calendar fetch per engine instance, no matter how many
// consumers request data concurrently.
//
// This is single-flight, not a queue: a caller arriving mid-flight joins
// the existing call and shares its result; once the flight resolves, new
// staleness starts a fresh cycle. Coordinators are per-engine values, not
// process globals, so tests can run independent instances.
type Coordinator struct {
	client   *Client
	store    *store.Store
	ingester *Ingester
	logger   *slog.Logger

	flight singleflight.Group

	// generation invalidates in-flight joins after a Reset: callers that
	// arrive post-invalidation use a new flight key and never attach to
	// a pre-invalidation call.
	generation atomic.Int64

	errTTL     time.Duration
	mu         sync.Mutex
	lastFailed *failedFetch

	// fetchCount is the number of underlying network fetch cycles, used
	// by tests to assert deduplication.
	fetchCount atomic.Int64
}

type failedFetch struct {
	err      error
	failedAt time.Time
	retryAt  time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithErrorCacheTTL overrides how long a failed primary fetch is cached.
func WithErrorCacheTTL(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d >= 0 {
			c.errTTL = d
		}
	}
}

// WithCoordinatorLogger sets the structured logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator wires a Coordinator to a client and store.
func NewCoordinator(client *Client, s *store.Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		client: client,
		store:  s,
		logger: slog.Default(),
		errTTL: DefaultErrorCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ingester = NewIngester(s, c.logger)
	return c
}

// FetchPrimary runs (or joins) the single in-flight primary fetch.
//
// On success all stream sections are freshly loaded. ErrAuthExpired is
// returned untouched so the caller can redirect to re-authentication; the
// store keeps its stale data. Any other failure is recorded on the store
// as a visible error and cached briefly; there is no automatic retry.
func (c *Coordinator) FetchPrimary(ctx context.Context) error {
	if err := c.cachedError(); err != nil {
		return err
	}

	// The flight is shared by every joiner, so it must not die with the
	// caller that happened to start it: a consumer that goes away
	// mid-fetch does not abort the request, which completes and feeds the
	// store regardless. The HTTP client's own timeout still bounds the
	// detached fetch.
	fetchCtx := context.WithoutCancel(ctx)

	key := fmt.Sprintf("primary#%d", c.generation.Load())
	_, err, shared := c.flight.Do(key, func() (any, error) {
		return nil, c.fetchPrimary(fetchCtx)
	})
	if shared {
		fetchJoinsTotal.WithLabelValues("primary").Inc()
	}
	return err
}

func (c *Coordinator) fetchPrimary(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Coordinator.fetchPrimary")
	defer span.End()

	c.fetchCount.Add(1)
	start := time.Now()

	for _, section := range datatypes.StreamSections {
		if err := c.store.SetLoading(section, true); err != nil {
			return err
		}
	}

	body, err := c.client.OpenStream(ctx)
	if err != nil {
		c.finishLoading()
		return c.recordFailure(err)
	}
	defer body.Close()

	if err := c.ingester.Ingest(ctx, body); err != nil {
		c.finishLoading()
		return c.recordFailure(&TransientError{Endpoint: "main-tree stream", Err: err})
	}

	c.finishLoading()
	c.store.ClearFetchError()
	fetchesTotal.WithLabelValues("primary", "ok").Inc()
	fetchDuration.WithLabelValues("primary").Observe(time.Since(start).Seconds())
	return nil
}

// FetchCalendar runs (or joins) the single in-flight calendar fetch.
//
// The calendar is fully isolated from the primary fetch: its failure never
// fails or blocks the primary and is not retried inline. On failure the
// section simply stays non-loaded, so the next freshness check retries.
func (c *Coordinator) FetchCalendar(ctx context.Context) error {
	fetchCtx := context.WithoutCancel(ctx)

	key := fmt.Sprintf("calendar#%d", c.generation.Load())
	_, err, shared := c.flight.Do(key, func() (any, error) {
		return nil, c.fetchCalendar(fetchCtx)
	})
	if shared {
		fetchJoinsTotal.WithLabelValues("calendar").Inc()
	}
	return err
}

func (c *Coordinator) fetchCalendar(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Coordinator.fetchCalendar")
	defer span.End()

	if err := c.store.SetLoading(datatypes.SectionCalendar, true); err != nil {
		return err
	}

	cal, err := c.client.FetchCalendar(ctx)
	if err != nil {
		// Leave the section non-loaded; no error surfaces on the
		// store for the secondary fetch.
		_ = c.store.SetLoading(datatypes.SectionCalendar, false)
		if errors.Is(err, ErrAuthExpired) {
			fetchesTotal.WithLabelValues("calendar", "auth_expired").Inc()
			return err
		}
		c.logger.Warn("calendar fetch failed", "error", err)
		fetchesTotal.WithLabelValues("calendar", "error").Inc()
		return err
	}

	c.store.SetCalendar(*cal)
	fetchesTotal.WithLabelValues("calendar", "ok").Inc()
	return nil
}

// Reset discards cached failures and detaches from any believed-in-flight
// call so the next access starts a clean fetch cycle. Called on cross-tab
// invalidation and logout.
func (c *Coordinator) Reset() {
	c.generation.Add(1)
	c.mu.Lock()
	c.lastFailed = nil
	c.mu.Unlock()
}

// FetchCount reports how many underlying primary fetch cycles have run.
func (c *Coordinator) FetchCount() int64 { return c.fetchCount.Load() }

func (c *Coordinator) recordFailure(err error) error {
	if errors.Is(err, ErrAuthExpired) {
		// Do not cache and do not touch the store: the caller is being
		// redirected and stale data should survive.
		fetchesTotal.WithLabelValues("primary", "auth_expired").Inc()
		return err
	}
	if errors.Is(err, context.Canceled) {
		// A canceled fetch says nothing about backend health: no visible
		// store error and no cached failure blocking the next attempt.
		fetchesTotal.WithLabelValues("primary", "canceled").Inc()
		return err
	}

	c.store.SetFetchError(err.Error())
	fetchesTotal.WithLabelValues("primary", "error").Inc()

	now := time.Now()
	c.mu.Lock()
	c.lastFailed = &failedFetch{err: err, failedAt: now, retryAt: now.Add(c.errTTL)}
	c.mu.Unlock()
	return err
}

func (c *Coordinator) cachedError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastFailed == nil {
		return nil
	}
	if time.Now().After(c.lastFailed.retryAt) {
		c.lastFailed = nil
		return nil
	}
	return &CachedFetchError{
		Err:      c.lastFailed.err,
		FailedAt: c.lastFailed.failedAt,
		RetryAt:  c.lastFailed.retryAt,
	}
}

// finishLoading drops any loading flags left set by an aborted stream so a
// failed fetch never strands a section in loading.
func (c *Coordinator) finishLoading() {
	for _, section := range datatypes.StreamSections {
		_ = c.store.SetLoading(section, false)
	}
}
