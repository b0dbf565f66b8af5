// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/panelkit/panelkit/internal/plugin"
)

// fetcherFunc adapts a function to the Fetcher interface.
type fetcherFunc func(ctx context.Context, url string) (string, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// engineFunc adapts a function to the Engine interface.
type engineFunc func(ctx context.Context, source string) (*plugin.Manifest, error)

func (f engineFunc) Load(ctx context.Context, source string) (*plugin.Manifest, error) {
	return f(ctx, source)
}

// stateRecorder captures every transition a slot publishes.
type stateRecorder struct {
	mu     sync.Mutex
	states []plugin.LoadState
}

func (r *stateRecorder) record(s plugin.LoadState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) phases() []plugin.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]plugin.Phase, len(r.states))
	for i, s := range r.states {
		out[i] = s.Phase
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticManifest(meta plugin.ManifestMeta, hooks plugin.Hooks) *plugin.Manifest {
	return &plugin.Manifest{
		Component: func(context.Context, *plugin.Context) (string, error) { return "ok", nil },
		Metadata:  meta,
		Hooks:     hooks,
	}
}

func okEngine(hooks plugin.Hooks) engineFunc {
	return func(context.Context, string) (*plugin.Manifest, error) {
		return staticManifest(plugin.ManifestMeta{Name: "w", Version: "1.0.0", Author: "a"}, hooks), nil
	}
}

func enabledMeta(url string) plugin.Metadata {
	return plugin.Metadata{
		ID:        "weather",
		Name:      "weather",
		Version:   "1.0.0",
		BundleURL: url,
		Enabled:   true,
	}
}

func TestSlot_SuccessfulLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &stateRecorder{}
	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(_ context.Context, url string) (string, error) {
			assert.Equal(t, "https://plugins.example.com/weather.lua", url)
			return "bundle source", nil
		})),
		plugin.WithLogger(quietLogger()),
	)
	slot.Subscribe(rec.record)

	slot.Mount(context.Background(), enabledMeta("https://plugins.example.com/weather.lua"))
	slot.Wait()

	state := slot.State()
	require.Equal(t, plugin.PhaseReady, state.Phase)
	require.NotNil(t, state.Manifest)
	assert.Nil(t, state.Err)
	assert.False(t, state.LoadedAt.IsZero(), "ready state carries a load timestamp")
	assert.Equal(t, []plugin.Phase{plugin.PhaseLoading, plugin.PhaseReady}, rec.phases())
}

func TestSlot_DisabledPlugin(t *testing.T) {
	defer goleak.VerifyNone(t)

	var fetchCalls int
	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
			fetchCalls++
			return "", nil
		})),
		plugin.WithLogger(quietLogger()),
	)

	meta := enabledMeta("https://plugins.example.com/weather.lua")
	meta.Enabled = false
	slot.Mount(context.Background(), meta)
	slot.Wait()

	state := slot.State()
	require.Equal(t, plugin.PhaseError, state.Phase)
	require.NotNil(t, state.Err)
	assert.Equal(t, plugin.KindCompatibility, state.Err.Kind)
	assert.Contains(t, state.Err.Message, "disabled")
	assert.True(t, state.LoadedAt.IsZero(), "error state has no load timestamp")
	assert.Zero(t, fetchCalls, "no network call for a disabled plugin")
}

func TestSlot_MissingBundleURL(t *testing.T) {
	defer goleak.VerifyNone(t)

	var fetchCalls int
	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
			fetchCalls++
			return "", nil
		})),
		plugin.WithLogger(quietLogger()),
	)

	slot.Mount(context.Background(), enabledMeta(""))
	slot.Wait()

	state := slot.State()
	require.Equal(t, plugin.PhaseError, state.Phase)
	require.NotNil(t, state.Err)
	assert.Equal(t, plugin.KindNetwork, state.Err.Kind)
	assert.Contains(t, state.Err.Message, "missing")
	assert.Zero(t, fetchCalls, "no network call without a bundle URL")
}

func TestSlot_StageErrorKindsPreserved(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name     string
		fetcher  fetcherFunc
		engine   engineFunc
		wantKind plugin.ErrorKind
	}{
		{
			name: "fetch failure",
			fetcher: func(context.Context, string) (string, error) {
				return "", plugin.NewError(plugin.KindNetwork, "failed to fetch plugin bundle: 502 Bad Gateway")
			},
			engine:   okEngine(plugin.Hooks{}),
			wantKind: plugin.KindNetwork,
		},
		{
			name: "validation failure",
			fetcher: func(context.Context, string) (string, error) {
				return "return {}", nil
			},
			engine: func(context.Context, string) (*plugin.Manifest, error) {
				return nil, plugin.NewError(plugin.KindParse, "plugin must have metadata")
			},
			wantKind: plugin.KindParse,
		},
		{
			name: "foreign engine failure wraps as runtime",
			fetcher: func(context.Context, string) (string, error) {
				return "x", nil
			},
			engine: func(context.Context, string) (*plugin.Manifest, error) {
				return nil, errors.New("engine exploded")
			},
			wantKind: plugin.KindRuntime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot := plugin.NewSlot(tt.engine,
				plugin.WithFetcher(tt.fetcher),
				plugin.WithLogger(quietLogger()),
			)
			slot.Mount(context.Background(), enabledMeta("https://plugins.example.com/weather.lua"))
			slot.Wait()

			state := slot.State()
			require.Equal(t, plugin.PhaseError, state.Phase)
			require.NotNil(t, state.Err)
			assert.Equal(t, tt.wantKind, state.Err.Kind)
		})
	}
}

func TestSlot_StaleLoadSuppressed(t *testing.T) {
	defer goleak.VerifyNone(t)

	releaseA := make(chan struct{})
	rec := &stateRecorder{}

	// Load A blocks until released and then succeeds; load B fails fast.
	// B supersedes A, so A's late success must be discarded.
	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(_ context.Context, url string) (string, error) {
			if url == "https://plugins.example.com/a.lua" {
				<-releaseA
				return "bundle a", nil
			}
			return "", plugin.NewError(plugin.KindNetwork, "failed to fetch plugin bundle: 500 Internal Server Error")
		})),
		plugin.WithLogger(quietLogger()),
	)
	slot.Subscribe(rec.record)

	slot.Mount(context.Background(), enabledMeta("https://plugins.example.com/a.lua"))
	slot.Update(context.Background(), enabledMeta("https://plugins.example.com/b.lua"))

	close(releaseA)
	slot.Wait()

	state := slot.State()
	require.Equal(t, plugin.PhaseError, state.Phase, "final state reflects B, not A's late success")
	require.NotNil(t, state.Err)
	assert.Equal(t, plugin.KindNetwork, state.Err.Kind)

	// A's success never surfaced as a ready transition.
	for _, phase := range rec.phases() {
		assert.NotEqual(t, plugin.PhaseReady, phase)
	}
}

func TestSlot_OnMountFailureKeepsReady(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name string
		hook plugin.Hook
	}{
		{
			name: "hook returns error",
			hook: func(context.Context, *plugin.Context) error {
				return errors.New("mount hook failed")
			},
		},
		{
			name: "hook panics",
			hook: func(context.Context, *plugin.Context) error {
				panic("mount hook panicked")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &stateRecorder{}
			slot := plugin.NewSlot(okEngine(plugin.Hooks{OnMount: tt.hook}),
				plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
					return "bundle", nil
				})),
				plugin.WithLogger(quietLogger()),
			)
			slot.Subscribe(rec.record)

			slot.Mount(context.Background(), enabledMeta("https://plugins.example.com/weather.lua"))
			slot.Wait()

			state := slot.State()
			require.Equal(t, plugin.PhaseReady, state.Phase)
			require.NotNil(t, state.Manifest)
			assert.Equal(t, "w", state.Manifest.Metadata.Name)
			assert.Equal(t, "1.0.0", state.Manifest.Metadata.Version)

			// No error phase was ever observed for this slot.
			for _, phase := range rec.phases() {
				assert.NotEqual(t, plugin.PhaseError, phase)
			}
		})
	}
}

func TestSlot_OnMountInvokedOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	var mounts int
	slot := plugin.NewSlot(okEngine(plugin.Hooks{
		OnMount: func(context.Context, *plugin.Context) error {
			mu.Lock()
			mounts++
			mu.Unlock()
			return nil
		},
	}),
		plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
			return "bundle", nil
		})),
		plugin.WithLogger(quietLogger()),
	)

	slot.Mount(context.Background(), enabledMeta("https://plugins.example.com/weather.lua"))
	slot.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, mounts)
}

func TestSlot_ConfigChangeDeliversHook(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	var gotConfigs []map[string]any
	slot := plugin.NewSlot(okEngine(plugin.Hooks{
		OnConfigChange: func(_ context.Context, pc *plugin.Context) error {
			mu.Lock()
			gotConfigs = append(gotConfigs, pc.Config)
			mu.Unlock()
			return nil
		},
	}),
		plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
			return "bundle", nil
		})),
		plugin.WithLogger(quietLogger()),
	)

	meta := enabledMeta("https://plugins.example.com/weather.lua")
	slot.Mount(context.Background(), meta)
	slot.Wait()
	require.Equal(t, plugin.PhaseReady, slot.State().Phase)

	updated := meta
	updated.Config = map[string]any{"city": "Bergen"}
	slot.Update(context.Background(), updated)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotConfigs, 1)
	assert.Equal(t, "Bergen", gotConfigs[0]["city"])
}

func TestSlot_ConfigChangeHookFailureSwallowed(t *testing.T) {
	defer goleak.VerifyNone(t)

	slot := plugin.NewSlot(okEngine(plugin.Hooks{
		OnConfigChange: func(context.Context, *plugin.Context) error {
			return errors.New("config hook failed")
		},
	}),
		plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
			return "bundle", nil
		})),
		plugin.WithLogger(quietLogger()),
	)

	meta := enabledMeta("https://plugins.example.com/weather.lua")
	slot.Mount(context.Background(), meta)
	slot.Wait()

	updated := meta
	updated.Config = map[string]any{"city": "Bergen"}
	slot.Update(context.Background(), updated)

	assert.Equal(t, plugin.PhaseReady, slot.State().Phase, "hook failure never alters state")
}

func TestSlot_CoordinateChangeReloads(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	var fetched []string
	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(_ context.Context, url string) (string, error) {
			mu.Lock()
			fetched = append(fetched, url)
			mu.Unlock()
			return "bundle", nil
		})),
		plugin.WithLogger(quietLogger()),
	)

	slot.Mount(context.Background(), enabledMeta("https://plugins.example.com/v1.lua"))
	slot.Wait()
	slot.Update(context.Background(), enabledMeta("https://plugins.example.com/v2.lua"))
	slot.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"https://plugins.example.com/v1.lua", "https://plugins.example.com/v2.lua"}, fetched)
}

func TestSlot_RetryAfterError(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	var attempts int
	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				return "", plugin.NewError(plugin.KindNetwork, "failed to fetch plugin bundle: 503 Service Unavailable")
			}
			return "bundle", nil
		})),
		plugin.WithLogger(quietLogger()),
	)

	slot.Mount(context.Background(), enabledMeta("https://plugins.example.com/weather.lua"))
	slot.Wait()
	require.Equal(t, plugin.PhaseError, slot.State().Phase)

	slot.Retry(context.Background())
	slot.Wait()
	assert.Equal(t, plugin.PhaseReady, slot.State().Phase)
}

func TestSlot_UnmountInvokesOnUnmount(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	var unmounts int
	slot := plugin.NewSlot(okEngine(plugin.Hooks{
		OnUnmount: func(context.Context, *plugin.Context) error {
			mu.Lock()
			unmounts++
			mu.Unlock()
			return errors.New("unmount failed anyway")
		},
	}),
		plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
			return "bundle", nil
		})),
		plugin.WithLogger(quietLogger()),
	)

	slot.Mount(context.Background(), enabledMeta("https://plugins.example.com/weather.lua"))
	slot.Wait()

	slot.Unmount(context.Background())
	assert.Equal(t, plugin.PhaseIdle, slot.State().Phase)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, unmounts, "onUnmount is best-effort but invoked")
}

func TestSlot_UnmountAbortsInFlightLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetchStarted := make(chan struct{})
	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(ctx context.Context, _ string) (string, error) {
			close(fetchStarted)
			<-ctx.Done()
			return "", plugin.WrapError(plugin.KindNetwork, "failed to fetch plugin bundle", ctx.Err())
		})),
		plugin.WithLogger(quietLogger()),
	)

	slot.Mount(context.Background(), enabledMeta("https://plugins.example.com/weather.lua"))
	<-fetchStarted
	slot.Unmount(context.Background())
	slot.Wait()

	// The aborted load is stale: its failure must not surface.
	assert.Equal(t, plugin.PhaseIdle, slot.State().Phase)
}

func TestSlot_EngineGate(t *testing.T) {
	defer goleak.VerifyNone(t)

	var fetchCalls int
	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
			fetchCalls++
			return "bundle", nil
		})),
		plugin.WithHostVersion("1.2.0"),
		plugin.WithLogger(quietLogger()),
	)

	meta := enabledMeta("https://plugins.example.com/weather.lua")
	meta.Engine = ">= 2.0.0"
	slot.Mount(context.Background(), meta)
	slot.Wait()

	state := slot.State()
	require.Equal(t, plugin.PhaseError, state.Phase)
	require.NotNil(t, state.Err)
	assert.Equal(t, plugin.KindCompatibility, state.Err.Kind)
	assert.Zero(t, fetchCalls)
}

func TestSlot_OriginPolicy(t *testing.T) {
	defer goleak.VerifyNone(t)

	policy, err := plugin.NewOriginPolicy([]string{"https://plugins.example.com/**"})
	require.NoError(t, err)

	var fetchCalls int
	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
			fetchCalls++
			return "bundle", nil
		})),
		plugin.WithOriginPolicy(policy),
		plugin.WithLogger(quietLogger()),
	)

	slot.Mount(context.Background(), enabledMeta("https://evil.example.org/weather.lua"))
	slot.Wait()

	state := slot.State()
	require.Equal(t, plugin.PhaseError, state.Phase)
	require.NotNil(t, state.Err)
	assert.Equal(t, plugin.KindSecurity, state.Err.Kind)
	assert.Zero(t, fetchCalls, "no network call for a disallowed origin")
}

func TestSlot_RenderView(t *testing.T) {
	defer goleak.VerifyNone(t)

	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
			return "bundle", nil
		})),
		plugin.WithLogger(quietLogger()),
	)
	boundary := plugin.NewBoundary(plugin.WithBoundaryLogger(quietLogger()))

	assert.Contains(t, slot.RenderView(context.Background(), boundary), "ready to load")

	slot.Mount(context.Background(), enabledMeta("https://plugins.example.com/weather.lua"))
	slot.Wait()
	assert.Equal(t, "ok", slot.RenderView(context.Background(), boundary))
}

func TestSlot_RenderViewError(t *testing.T) {
	defer goleak.VerifyNone(t)

	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(context.Context, string) (string, error) {
			return "", plugin.NewError(plugin.KindNetwork, "failed to fetch plugin bundle: 404 Not Found")
		})),
		plugin.WithLogger(quietLogger()),
	)
	boundary := plugin.NewBoundary(plugin.WithBoundaryLogger(quietLogger()))

	slot.Mount(context.Background(), enabledMeta("https://plugins.example.com/weather.lua"))
	slot.Wait()

	view := slot.RenderView(context.Background(), boundary)
	assert.Contains(t, view, "404")
	assert.Contains(t, view, "retry")
}

func TestSlot_LoadTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Timeouts compose externally: a deadline on the mount context aborts
	// the fetch.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	slot := plugin.NewSlot(okEngine(plugin.Hooks{}),
		plugin.WithFetcher(fetcherFunc(func(fctx context.Context, _ string) (string, error) {
			<-fctx.Done()
			return "", plugin.WrapError(plugin.KindNetwork, "failed to fetch plugin bundle", fctx.Err())
		})),
		plugin.WithLogger(quietLogger()),
	)

	slot.Mount(ctx, enabledMeta("https://plugins.example.com/weather.lua"))
	slot.Wait()

	state := slot.State()
	require.Equal(t, plugin.PhaseError, state.Phase)
	require.NotNil(t, state.Err)
	assert.Equal(t, plugin.KindNetwork, state.Err.Kind)
}
