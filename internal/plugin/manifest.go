// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

import "context"

// Component renders the plugin's output for one context snapshot.
type Component func(ctx context.Context, pc *Context) (string, error)

// Hook is an optional plugin extension point. Hook failures are logged
// and swallowed; they never alter lifecycle state.
type Hook func(ctx context.Context, pc *Context) error

// ManifestMeta is the identity triple a bundle declares for itself.
// It is independent of, and not required to match, the registry record.
type ManifestMeta struct {
	Name    string
	Version string
	Author  string
}

// Hooks are the optional lifecycle callbacks a bundle may expose.
// A nil entry means the bundle does not define that hook.
type Hooks struct {
	OnMount        Hook
	OnUnmount      Hook
	OnConfigChange Hook
}

// Manifest is the validated contract extracted from a bundle's export.
// It is never exposed to the host until validation has passed, and is
// exclusively owned by one lifecycle slot for the duration of one load.
type Manifest struct {
	Component Component
	Metadata  ManifestMeta
	Hooks     Hooks
}
