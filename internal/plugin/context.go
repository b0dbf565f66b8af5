// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

// Theme is the host theme snapshot passed to plugins.
type Theme struct {
	Mode   string
	Colors map[string]string
}

// NavigateFunc asks the host to navigate to a path.
type NavigateFunc func(path string)

// ToastFunc asks the host to show a notification.
type ToastFunc func(message, severity string)

// Capabilities is the host-exposed utility surface. The runtime passes it
// through unchanged; implementations live outside this subsystem.
type Capabilities struct {
	Theme    Theme
	Navigate NavigateFunc
	Toast    ToastFunc
}

// Context is the capability object passed into a plugin's component and
// lifecycle hooks. It is immutable per render; the slot constructs a new
// instance whenever any constituent changes.
type Context struct {
	Theme    Theme
	API      *APIClient
	Metadata Metadata
	Config   map[string]any
	Navigate NavigateFunc
	Toast    ToastFunc
}

// newContext assembles a context snapshot. Nil utility funcs are replaced
// with no-ops so plugin code can call them unconditionally.
func newContext(meta Metadata, api *APIClient, caps Capabilities, config map[string]any) *Context {
	nav := caps.Navigate
	if nav == nil {
		nav = func(string) {}
	}
	toast := caps.Toast
	if toast == nil {
		toast = func(string, string) {}
	}
	return &Context{
		Theme:    caps.Theme,
		API:      api,
		Metadata: meta,
		Config:   config,
		Navigate: nav,
		Toast:    toast,
	}
}
