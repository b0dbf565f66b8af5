// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// CrashFunc notifies the host that a plugin crashed during render.
type CrashFunc func(pluginID string, err error)

// Boundary isolates render-time faults in a mounted component from the
// rest of the host. Load-time errors never reach it; those belong to the
// slot's state machine. The boundary's retry resets only its own fault
// flag and re-renders the same already-ready manifest.
type Boundary struct {
	onCrash CrashFunc
	metrics *Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	crashed bool
	err     error
}

// BoundaryOption configures a Boundary.
type BoundaryOption func(*Boundary)

// WithCrashFunc sets the host crash notification callback.
func WithCrashFunc(fn CrashFunc) BoundaryOption {
	return func(b *Boundary) {
		b.onCrash = fn
	}
}

// WithBoundaryMetrics wires the render crash counter.
func WithBoundaryMetrics(m *Metrics) BoundaryOption {
	return func(b *Boundary) {
		b.metrics = m
	}
}

// WithBoundaryLogger sets the boundary logger.
func WithBoundaryLogger(l *slog.Logger) BoundaryOption {
	return func(b *Boundary) {
		b.logger = l
	}
}

// NewBoundary creates a crash boundary.
func NewBoundary(opts ...BoundaryOption) *Boundary {
	b := &Boundary{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Crashed reports whether the boundary is in its fault state.
func (b *Boundary) Crashed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.crashed
}

// Reset clears the fault flag so the next Render re-attempts the
// component. If the renewed render also faults, the boundary re-catches.
func (b *Boundary) Reset() {
	b.mu.Lock()
	b.crashed = false
	b.err = nil
	b.mu.Unlock()
}

// Render invokes the component inside the boundary. Errors and panics are
// caught, logged, reported through the crash callback, and replaced with
// a minimal crash view. Raw failure detail stays in the logs.
func (b *Boundary) Render(ctx context.Context, component Component, pc *Context) string {
	b.mu.Lock()
	if b.crashed {
		b.mu.Unlock()
		return b.crashView()
	}
	b.mu.Unlock()

	out, err := b.renderSafe(ctx, component, pc)
	if err != nil {
		b.fault(pc.Metadata.ID, err)
		return b.crashView()
	}
	return out
}

// renderSafe calls the component, converting panics to runtime errors.
func (b *Boundary) renderSafe(ctx context.Context, component Component, pc *Context) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(KindRuntime, fmt.Sprintf("plugin render panicked: %v", r))
		}
	}()

	out, err = component(ctx, pc)
	if err != nil {
		err = WrapError(KindRuntime, "plugin render failed", err)
	}
	return out, err
}

func (b *Boundary) fault(pluginID string, err error) {
	b.mu.Lock()
	b.crashed = true
	b.err = err
	b.mu.Unlock()

	b.metrics.observeRenderCrash(pluginID)
	b.logger.Error("plugin render crashed",
		"plugin", pluginID,
		"error", err)
	if b.onCrash != nil {
		b.onCrash(pluginID, err)
	}
}

// crashView is the user-facing fault state. No stack traces here; full
// detail went to the logs.
func (b *Boundary) crashView() string {
	return "plugin crashed while rendering - retry to re-render"
}
