// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine assembles the sync components into one facade: a store,
// a single-flight fetch coordinator, a cache patcher, a confidence
// projector, an invalidation bus, and an optional persisted snapshot.
//
// One Engine corresponds to one authenticated session in one process.
// Multiple engines coordinate only through the invalidation bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/compass/services/sync/bus"
	"github.com/AleutianAI/compass/services/sync/confidence"
	"github.com/AleutianAI/compass/services/sync/datatypes"
	"github.com/AleutianAI/compass/services/sync/fetch"
	"github.com/AleutianAI/compass/services/sync/patch"
	"github.com/AleutianAI/compass/services/sync/snapshot"
	"github.com/AleutianAI/compass/services/sync/store"
)

var tracer = otel.Tracer("compass.sync.engine")

// Engine is the top-level sync facade.
type Engine struct {
	cfg       Config
	store     *store.Store
	client    *fetch.Client
	coord     *fetch.Coordinator
	patcher   *patch.Patcher
	projector *confidence.Projector
	policy    store.FreshnessPolicy
	sigBus    bus.Bus
	snaps     *snapshot.Store
	logger    *slog.Logger
	now       func() time.Time

	// instanceID identifies this engine on the bus for the engine's whole
	// lifetime; sessionID identifies the current data session and is
	// regenerated on every invalidation.
	instanceID string

	mu        sync.Mutex
	sessionID string

	ownsBus     bool
	ownsSnaps   bool
	unsubscribe func()
	closeOnce   sync.Once
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	sigBus     bus.Bus
	snaps      *snapshot.Store
	httpClient *http.Client
	authToken  func() string
	now        func() time.Time
}

// WithLogger sets the structured logger for the engine and everything it
// constructs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBus injects an invalidation bus. The engine will not close it.
func WithBus(b bus.Bus) Option {
	return func(o *options) { o.sigBus = b }
}

// WithSnapshotStore injects a snapshot store. The engine will not close it.
func WithSnapshotStore(s *snapshot.Store) Option {
	return func(o *options) { o.snaps = s }
}

// WithHTTPClient replaces the backend HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithAuthToken supplies the bearer-token source for backend requests.
func WithAuthToken(token func() string) Option {
	return func(o *options) { o.authToken = token }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New builds an Engine from a validated config.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	s := store.New(store.WithLogger(o.logger), store.WithClock(o.now))

	clientOpts := []fetch.ClientOption{fetch.WithClientLogger(o.logger)}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, fetch.WithHTTPClient(o.httpClient))
	}
	if o.authToken != nil {
		clientOpts = append(clientOpts, fetch.WithAuthToken(o.authToken))
	}
	client := fetch.NewClient(cfg.BaseURL, clientOpts...)

	e := &Engine{
		cfg:    cfg,
		store:  s,
		client: client,
		coord: fetch.NewCoordinator(client, s,
			fetch.WithErrorCacheTTL(cfg.ErrorCacheTTL),
			fetch.WithCoordinatorLogger(o.logger)),
		patcher: patch.New(s, o.logger),
		projector: confidence.New(
			confidence.WithWeights(cfg.Weights),
			confidence.WithClock(o.now),
			confidence.WithLogger(o.logger)),
		policy:     store.FreshnessPolicy{Window: cfg.FreshnessWindow},
		logger:     o.logger,
		now:        o.now,
		instanceID: uuid.NewString(),
		sessionID:  uuid.NewString(),
	}

	if err := e.setupBus(o); err != nil {
		return nil, err
	}
	if err := e.setupSnapshots(o); err != nil {
		e.teardown()
		return nil, err
	}

	e.unsubscribe = e.sigBus.Subscribe(e.onSignal)
	return e, nil
}

func (e *Engine) setupBus(o *options) error {
	switch {
	case o.sigBus != nil:
		e.sigBus = o.sigBus
	case e.cfg.SignalFile != "":
		b, err := bus.NewFileBus(e.cfg.SignalFile, e.instanceID,
			bus.WithFileBusLogger(e.logger))
		if err != nil {
			return fmt.Errorf("opening signal file bus: %w", err)
		}
		e.sigBus, e.ownsBus = b, true
	case e.cfg.SignalRelayURL != "":
		b, err := bus.DialWebSocket(context.Background(), e.cfg.SignalRelayURL,
			e.instanceID, bus.WithWebSocketLogger(e.logger))
		if err != nil {
			return fmt.Errorf("dialing signal relay: %w", err)
		}
		e.sigBus, e.ownsBus = b, true
	default:
		e.sigBus, e.ownsBus = bus.NewMemoryBus(), true
	}
	return nil
}

func (e *Engine) setupSnapshots(o *options) error {
	switch {
	case o.snaps != nil:
		e.snaps = o.snaps
	case e.cfg.SnapshotPath != "":
		st, err := snapshot.Open(snapshot.DefaultConfig(e.cfg.SnapshotPath))
		if err != nil {
			return fmt.Errorf("opening snapshot store: %w", err)
		}
		e.snaps, e.ownsSnaps = st, true
	}
	return nil
}

// Start warm-starts the engine from the persisted snapshot, if one
// exists. A missing or unreadable snapshot is not an error: the first
// Tree call fetches instead.
func (e *Engine) Start(ctx context.Context) error {
	if e.snaps == nil {
		return nil
	}

	snap, err := e.snaps.Load(ctx)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		e.logger.Warn("ignoring unreadable snapshot", "error", err)
		return nil
	}

	e.store.Restore(snap.Tree, snap.LastUpdated)
	e.logger.Info("warm start from snapshot", "saved_at", snap.SavedAt)
	return nil
}

// Tree returns the current MainTree snapshot, refetching stale sections
// first.
//
// The returned tree is always non-nil: on a transient fetch failure the
// cached (possibly stale) tree is returned together with the error, since
// stale-but-present beats a blank screen. ErrAuthExpired propagates
// unchanged. A stale calendar refreshes in the background and never
// delays the primary data.
func (e *Engine) Tree(ctx context.Context) (*datatypes.MainTree, error) {
	ctx, span := tracer.Start(ctx, "Engine.Tree")
	defer span.End()

	now := e.now()
	var err error
	if len(e.policy.StaleSections(e.store, datatypes.StreamSections, now)) > 0 {
		err = e.coord.FetchPrimary(ctx)
		if err == nil {
			e.persistSnapshot(ctx)
		}
	}

	if state, _ := e.store.State(datatypes.SectionCalendar); !e.policy.IsFresh(state, now) {
		go func() {
			calCtx, cancel := context.WithTimeout(context.Background(), fetch.DefaultRequestTimeout)
			defer cancel()
			if calErr := e.coord.FetchCalendar(calCtx); calErr != nil {
				e.logger.Debug("background calendar refresh failed", "error", calErr)
			}
		}()
	}

	return e.store.Tree(), err
}

// ApplyMutationResponse applies the cache-update envelope piggybacked on
// a write response and returns the response body with the envelope field
// stripped. A refresh-mainTree instruction triggers a full primary fetch.
func (e *Engine) ApplyMutationResponse(ctx context.Context, body []byte) ([]byte, error) {
	instr, rest, err := patch.ExtractCacheUpdate(body)
	if err != nil {
		return body, err
	}
	if instr == nil {
		return rest, nil
	}
	if err := e.ApplyPatch(ctx, *instr); err != nil {
		return rest, err
	}
	return rest, nil
}

// ApplyPatch applies one cache-update instruction to the store.
func (e *Engine) ApplyPatch(ctx context.Context, instr datatypes.CacheUpdate) error {
	ctx, span := tracer.Start(ctx, "Engine.ApplyPatch")
	defer span.End()

	outcome := e.patcher.Apply(ctx, instr)
	if outcome == patch.OutcomeRefreshRequired {
		if err := e.coord.FetchPrimary(ctx); err != nil {
			return err
		}
	}
	e.persistSnapshot(ctx)
	return nil
}

// Confidence returns the confidence score per owned Objective, refetching
// stale data first. Like Tree, a transient fetch failure still yields
// scores over the cached (possibly stale) data, with the error alongside;
// only ErrAuthExpired returns without scores.
func (e *Engine) Confidence(ctx context.Context) (map[string]int, error) {
	tree, err := e.Tree(ctx)
	if errors.Is(err, fetch.ErrAuthExpired) {
		return nil, err
	}
	return e.projector.ScoreAll(tree.MyOKRTs), err
}

// Score computes the confidence score of one objective subtree without
// touching the network.
func (e *Engine) Score(obj datatypes.OKRT, forest []datatypes.OKRT) int {
	return e.projector.Score(obj, forest)
}

// Invalidate clears all cached state, resets session identity, detaches
// from in-flight fetches, deletes the persisted snapshot, and broadcasts
// the invalidation so sibling instances do the same.
func (e *Engine) Invalidate(ctx context.Context) error {
	e.invalidateLocal(ctx)
	return e.publish(ctx, bus.KindAuthChanged)
}

// Logout performs a full invalidation and broadcasts an explicit logout.
func (e *Engine) Logout(ctx context.Context) error {
	e.invalidateLocal(ctx)
	return e.publish(ctx, bus.KindLogout)
}

// SessionID returns the current data-session identity.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Stats summarizes engine activity.
func (e *Engine) Stats() Stats {
	return Stats{
		Store:      e.store.Stats(),
		FetchCount: e.coord.FetchCount(),
		SessionID:  e.SessionID(),
	}
}

// Stats is the observable state of an engine.
type Stats struct {
	Store      store.Stats `json:"store"`
	FetchCount int64       `json:"fetch_count"`
	SessionID  string      `json:"session_id"`
}

// SectionStates returns the lifecycle metadata of every section.
func (e *Engine) SectionStates() map[datatypes.Section]store.SectionState {
	return e.store.States()
}

// Weights returns the active confidence coefficients.
func (e *Engine) Weights() confidence.Weights { return e.projector.Weights() }

// Close releases the bus subscription and any owned resources.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		err = e.teardown()
	})
	return err
}

func (e *Engine) teardown() error {
	var err error
	if e.ownsBus && e.sigBus != nil {
		err = errors.Join(err, e.sigBus.Close())
	}
	if e.ownsSnaps && e.snaps != nil {
		err = errors.Join(err, e.snaps.Close())
	}
	return err
}

// onSignal handles an invalidation observed on the bus.
func (e *Engine) onSignal(sig bus.Signal) {
	if sig.Origin == e.instanceID {
		return
	}
	e.logger.Info("invalidation signal received", "kind", string(sig.Kind))
	go e.invalidateLocal(context.Background())
}

func (e *Engine) invalidateLocal(ctx context.Context) {
	e.store.Clear()
	e.coord.Reset()

	e.mu.Lock()
	e.sessionID = uuid.NewString()
	e.mu.Unlock()

	if e.snaps != nil {
		if err := e.snaps.Delete(ctx); err != nil {
			e.logger.Warn("deleting persisted snapshot", "error", err)
		}
	}
}

func (e *Engine) publish(ctx context.Context, kind bus.Kind) error {
	return e.sigBus.Publish(ctx, bus.Signal{
		Kind:   kind,
		Origin: e.instanceID,
		At:     e.now(),
	})
}

// persistSnapshot saves the current tree if a snapshot store is
// configured. Failures are logged, not surfaced: the snapshot is a cache
// of a cache.
func (e *Engine) persistSnapshot(ctx context.Context) {
	if e.snaps == nil {
		return
	}

	lastUpdated := make(map[datatypes.Section]time.Time)
	for section, state := range e.store.States() {
		if state.Loaded && !state.LastUpdated.IsZero() {
			lastUpdated[section] = state.LastUpdated
		}
	}

	snap := snapshot.Snapshot{
		Tree:        *e.store.Tree(),
		LastUpdated: lastUpdated,
		SavedAt:     e.now(),
	}
	if err := e.snaps.Save(ctx, snap); err != nil {
		e.logger.Warn("persisting snapshot", "error", err)
	}
}
