// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

// Package config loads host runtime configuration from defaults, an
// optional YAML file, and command-line flags, in that precedence order.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the host runtime configuration.
type Config struct {
	// RegistryURL is the base URL of the external plugin registry.
	RegistryURL string `koanf:"registry_url"`

	// APIBaseURL is the backend origin for scoped plugin API calls.
	APIBaseURL string `koanf:"api_base_url"`

	// PluginBasePath is the namespace prefix for scoped plugin calls.
	PluginBasePath string `koanf:"plugin_base_path"`

	// BundleAllowlist holds glob patterns of allowed bundle origins.
	// Empty means every origin is allowed.
	BundleAllowlist []string `koanf:"bundle_allowlist"`

	// FetchTimeout bounds a single bundle fetch.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`

	// EngineVersion is the host version plugins may gate against.
	EngineVersion string `koanf:"engine_version"`

	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`

	// MetricsAddr is the observability server listen address.
	MetricsAddr string `koanf:"metrics_addr"`
}

// defaults returns the baseline configuration map.
func defaults() map[string]any {
	return map[string]any{
		"registry_url":     "",
		"api_base_url":     "http://localhost:8080",
		"plugin_base_path": "/api/plugins",
		"fetch_timeout":    30 * time.Second,
		"engine_version":   "1.0.0",
		"log_format":       "json",
		"metrics_addr":     ":9190",
	}
}

// Load builds the configuration. path may be empty (no file); flags may
// be nil (no flag overrides).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, oops.In("config").Hint("failed to load defaults").Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").With("path", path).Hint("failed to load config file").Wrap(err)
		}
	}

	if flags != nil {
		// Flag names use dashes ("registry-url"); config keys use
		// underscores.
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Hint("failed to load flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Hint("failed to unmarshal config").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration constraints.
func (c *Config) Validate() error {
	if c.FetchTimeout <= 0 {
		return oops.In("config").With("fetch_timeout", c.FetchTimeout.String()).New("fetch_timeout must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.In("config").With("log_format", c.LogFormat).New("log_format must be 'json' or 'text'")
	}
	return nil
}
