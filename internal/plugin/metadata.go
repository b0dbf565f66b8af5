// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

import (
	"encoding/json"
	"time"
)

// Metadata is a registry record describing a plugin. It is owned by the
// external registry; the runtime only reads it.
type Metadata struct {
	ID          string         `json:"id" jsonschema:"required"`
	Name        string         `json:"name" jsonschema:"required"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Version     string         `json:"version" jsonschema:"required"`
	Author      string         `json:"author,omitempty"`
	BundleURL   string         `json:"bundleUrl"`
	Icon        string         `json:"icon,omitempty"`
	Category    string         `json:"category,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Enabled     bool           `json:"enabled"`
	Engine      string         `json:"engine,omitempty"`
	Config      map[string]any `json:"config,omitempty"`

	// ConfigSchema is an optional JSON Schema the Config payload is
	// validated against. Violations are advisory (logged, not fatal).
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Coordinates identify the loadable bundle. The lifecycle slot reloads
// when any of them change.
type Coordinates struct {
	BundleURL string
	Version   string
	Enabled   bool
}

// Coordinates returns the identifying coordinates of the metadata record.
func (m Metadata) Coordinates() Coordinates {
	return Coordinates{
		BundleURL: m.BundleURL,
		Version:   m.Version,
		Enabled:   m.Enabled,
	}
}
