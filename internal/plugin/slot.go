// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Phase is the lifecycle phase of a plugin mount point.
type Phase string

// Lifecycle phases.
const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseError   Phase = "error"
)

// LoadState is the single source of truth for one mount point.
type LoadState struct {
	Phase    Phase
	Manifest *Manifest
	Err      *Error

	// LoadedAt is set only when a load reaches ready.
	LoadedAt time.Time
}

// Engine materializes raw bundle source into a validated manifest.
type Engine interface {
	Load(ctx context.Context, source string) (*Manifest, error)
}

// Subscriber observes lifecycle transitions. Subscribers must not call
// back into the Slot from the callback.
type Subscriber func(LoadState)

// Slot is the lifecycle manager for one plugin mount point. It drives the
// fetch, materialize, validate, mount, unmount sequence as a state machine
// and guards against out-of-order completion of superseded loads.
type Slot struct {
	engine  Engine
	fetcher Fetcher
	policy  *OriginPolicy
	metrics *Metrics
	logger  *slog.Logger
	caps    Capabilities
	apiOpts []APIClientOption

	// hostVersion gates metadata engine constraints when non-empty.
	hostVersion string

	mu     sync.Mutex
	state  LoadState
	meta   Metadata
	coords Coordinates
	api    *APIClient
	subs   []Subscriber
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SlotOption configures a Slot.
type SlotOption func(*Slot)

// WithFetcher sets the bundle fetcher.
func WithFetcher(f Fetcher) SlotOption {
	return func(s *Slot) {
		s.fetcher = f
	}
}

// WithCapabilities sets the host capability surface passed to plugins.
func WithCapabilities(c Capabilities) SlotOption {
	return func(s *Slot) {
		s.caps = c
	}
}

// WithOriginPolicy restricts allowed bundle origins.
func WithOriginPolicy(p *OriginPolicy) SlotOption {
	return func(s *Slot) {
		s.policy = p
	}
}

// WithHostVersion enables engine constraint gating against this version.
func WithHostVersion(v string) SlotOption {
	return func(s *Slot) {
		s.hostVersion = v
	}
}

// WithMetrics wires Prometheus instruments.
func WithMetrics(m *Metrics) SlotOption {
	return func(s *Slot) {
		s.metrics = m
	}
}

// WithLogger sets the slot logger.
func WithLogger(l *slog.Logger) SlotOption {
	return func(s *Slot) {
		s.logger = l
	}
}

// WithAPIOptions sets options applied to the per-plugin API client.
func WithAPIOptions(opts ...APIClientOption) SlotOption {
	return func(s *Slot) {
		s.apiOpts = opts
	}
}

// NewSlot creates a lifecycle slot backed by the given engine.
func NewSlot(engine Engine, opts ...SlotOption) *Slot {
	s := &Slot{
		engine:  engine,
		fetcher: NewBundleFetcher(),
		logger:  slog.Default(),
		state:   LoadState{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a snapshot of the current load state.
func (s *Slot) State() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a transition observer.
func (s *Slot) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Mount attaches a metadata record to the slot and starts loading.
// Starting a new load supersedes any in-flight load for this slot: the
// stale load's eventual result is discarded.
func (s *Slot) Mount(ctx context.Context, meta Metadata) {
	s.mu.Lock()
	s.meta = meta
	s.coords = meta.Coordinates()
	s.rebuildAPIClientLocked()
	gen, loadCtx := s.beginLoadLocked(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(loadCtx, gen, meta)
}

// Update applies a changed metadata record. A change to the bundle's
// identifying coordinates (URL, version, enabled flag) triggers a reload;
// a config-only change while ready is delivered to onConfigChange.
func (s *Slot) Update(ctx context.Context, meta Metadata) {
	s.mu.Lock()
	prevID := s.meta.ID
	prevCoords := s.coords
	prevConfig := s.meta.Config
	s.meta = meta
	s.coords = meta.Coordinates()
	if meta.ID != prevID {
		s.rebuildAPIClientLocked()
	}

	if meta.ID != prevID || meta.Coordinates() != prevCoords {
		gen, loadCtx := s.beginLoadLocked(ctx)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.run(loadCtx, gen, meta)
		return
	}

	ready := s.state.Phase == PhaseReady
	manifest := s.state.Manifest
	s.mu.Unlock()

	if ready && !configEqual(prevConfig, meta.Config) {
		s.deliverConfigChange(ctx, manifest, meta)
	}
}

// Retry re-runs the whole load pipeline after an error (or reloads a
// ready plugin). The state passes through idle without side effects.
func (s *Slot) Retry(ctx context.Context) {
	s.mu.Lock()
	meta := s.meta
	s.setStateLocked(LoadState{Phase: PhaseIdle})
	gen, loadCtx := s.beginLoadLocked(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(loadCtx, gen, meta)
}

// Unmount tears the slot down: the in-flight load (if any) is aborted and
// marked stale, and onUnmount is invoked best-effort on a held manifest.
func (s *Slot) Unmount(ctx context.Context) {
	s.mu.Lock()
	s.gen++ // any in-flight load is now stale
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	manifest := s.state.Manifest
	meta := s.meta
	s.setStateLocked(LoadState{Phase: PhaseIdle})
	s.mu.Unlock()

	if manifest != nil && manifest.Hooks.OnUnmount != nil {
		pc := newContext(meta, s.apiClient(), s.caps, meta.Config)
		s.callHook(ctx, "onUnmount", manifest.Hooks.OnUnmount, pc)
	}
}

// Wait blocks until all in-flight loads have settled. Test helper and
// shutdown aid; stale loads still discard their results.
func (s *Slot) Wait() {
	s.wg.Wait()
}

// Context builds the capability object for the current metadata snapshot.
func (s *Slot) Context() *Context {
	s.mu.Lock()
	meta := s.meta
	api := s.api
	s.mu.Unlock()
	return newContext(meta, api, s.caps, meta.Config)
}

// apiClient returns the current scoped client (may be nil before Mount).
func (s *Slot) apiClient() *APIClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api
}

// beginLoadLocked supersedes any in-flight load and enters loading.
// Callers hold s.mu.
func (s *Slot) beginLoadLocked(ctx context.Context) (uint64, context.Context) {
	s.gen++
	if s.cancel != nil {
		s.cancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setStateLocked(LoadState{Phase: PhaseLoading})
	return s.gen, loadCtx
}

// run executes the load pipeline for one generation. Every state mutation
// goes through apply, which discards results of superseded loads.
func (s *Slot) run(ctx context.Context, gen uint64, meta Metadata) {
	defer s.wg.Done()

	loadID := ulid.Make()
	logger := s.logger.With("plugin", meta.ID, "load_id", loadID.String())
	started := time.Now()

	manifest, err := s.pipeline(ctx, meta)
	elapsed := time.Since(started).Seconds()

	if err != nil {
		perr := AsError(err)
		if !s.apply(gen, LoadState{Phase: PhaseError, Err: perr}) {
			logger.Debug("discarding stale load failure", "error", perr)
			return
		}
		s.metrics.observeLoad("error", perr.Kind, elapsed)
		logger.Error("plugin load failed",
			"kind", string(perr.Kind),
			"error", perr,
			"details", perr.Details)
		return
	}

	if !s.apply(gen, LoadState{Phase: PhaseReady, Manifest: manifest, LoadedAt: time.Now()}) {
		logger.Debug("discarding stale load success")
		return
	}
	s.metrics.observeLoad("success", "", elapsed)
	logger.Info("plugin loaded",
		"name", manifest.Metadata.Name,
		"version", manifest.Metadata.Version)

	// onMount runs exactly once after entering ready. A failing hook is
	// logged and swallowed; the plugin stays ready.
	if manifest.Hooks.OnMount != nil {
		pc := newContext(meta, s.apiClient(), s.caps, meta.Config)
		s.callHook(ctx, "onMount", manifest.Hooks.OnMount, pc)
	}
}

// pipeline runs the gate checks and the fetch/materialize/validate stages
// strictly in sequence. Classified errors pass through with their kind
// intact; anything foreign is wrapped as runtime by the caller.
func (s *Slot) pipeline(ctx context.Context, meta Metadata) (*Manifest, error) {
	if !meta.Enabled {
		return nil, NewError(KindCompatibility, "plugin is disabled")
	}
	if meta.BundleURL == "" {
		return nil, NewError(KindNetwork, "plugin bundle URL is missing")
	}
	if err := s.policy.Check(meta.BundleURL); err != nil {
		return nil, err
	}
	if s.hostVersion != "" {
		if err := CheckEngine(s.hostVersion, meta.Engine); err != nil {
			return nil, err
		}
	}

	if schemaErr := ValidateConfig(meta.ConfigSchema, meta.Config); schemaErr != nil {
		// Advisory only: a plugin's own schema must not block its mount.
		s.logger.Warn("plugin config does not satisfy its declared schema",
			"plugin", meta.ID,
			"error", schemaErr)
	}

	source, err := s.fetcher.Fetch(ctx, meta.BundleURL)
	if err != nil {
		return nil, err
	}

	manifest, err := s.engine.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// apply commits a state transition iff gen is still the current load.
func (s *Slot) apply(gen uint64, next LoadState) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	if next.Phase != PhaseLoading {
		s.cancel = nil
	}
	s.setStateLocked(next)
	s.mu.Unlock()
	return true
}

// setStateLocked stores the state and notifies subscribers. Callers hold
// s.mu; subscriber callbacks run outside critical work by contract (they
// must be non-blocking and must not re-enter the slot).
func (s *Slot) setStateLocked(next LoadState) {
	s.state = next
	for _, fn := range s.subs {
		fn(next)
	}
}

func (s *Slot) rebuildAPIClientLocked() {
	if s.meta.ID == "" {
		s.api = nil
		return
	}
	api, err := NewAPIClient(s.meta.ID, s.apiOpts...)
	if err != nil {
		s.logger.Error("failed to create scoped API client", "plugin", s.meta.ID, "error", err)
		s.api = nil
		return
	}
	s.api = api
}

func (s *Slot) deliverConfigChange(ctx context.Context, manifest *Manifest, meta Metadata) {
	if schemaErr := ValidateConfig(meta.ConfigSchema, meta.Config); schemaErr != nil {
		s.logger.Warn("plugin config does not satisfy its declared schema",
			"plugin", meta.ID,
			"error", schemaErr)
	}
	if manifest == nil || manifest.Hooks.OnConfigChange == nil {
		return
	}
	pc := newContext(meta, s.apiClient(), s.caps, meta.Config)
	s.callHook(ctx, "onConfigChange", manifest.Hooks.OnConfigChange, pc)
}

// callHook invokes a lifecycle hook with full isolation: errors and panics
// are logged and swallowed, never surfaced to lifecycle state.
func (s *Slot) callHook(ctx context.Context, name string, hook Hook, pc *Context) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.observeHookFailure(name)
			s.logger.Error("plugin hook panicked",
				"plugin", pc.Metadata.ID,
				"hook", name,
				"panic", r)
		}
	}()

	if err := hook(ctx, pc); err != nil {
		s.metrics.observeHookFailure(name)
		s.logger.Error("plugin hook failed",
			"plugin", pc.Metadata.ID,
			"hook", name,
			"error", err)
	}
}

// configEqual compares config payloads structurally. Registry payloads
// are JSON-decoded, so DeepEqual is reliable here.
func configEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}
