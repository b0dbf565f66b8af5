// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// RegistryClient reads plugin metadata records from the external registry.
// The registry owns the records; this client never writes.
type RegistryClient struct {
	baseURL string
	client  *http.Client
	retries uint64
}

// RegistryOption configures a RegistryClient.
type RegistryOption func(*RegistryClient)

// WithRegistryHTTPClient overrides the HTTP client.
func WithRegistryHTTPClient(c *http.Client) RegistryOption {
	return func(r *RegistryClient) {
		r.client = c
	}
}

// WithRegistryRetries sets the maximum retry count for transient failures.
func WithRegistryRetries(n uint64) RegistryOption {
	return func(r *RegistryClient) {
		r.retries = n
	}
}

// NewRegistryClient creates a registry client for the given base URL.
func NewRegistryClient(baseURL string, opts ...RegistryOption) (*RegistryClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, NewError(KindNetwork, "registry URL is required")
	}

	r := &RegistryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		retries: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// GetPlugin fetches one metadata record by plugin ID. Transient failures
// (5xx, transport errors) are retried with fibonacci backoff.
func (r *RegistryClient) GetPlugin(ctx context.Context, id string) (*Metadata, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewError(KindNetwork, "plugin ID is required")
	}

	var meta *Metadata
	backoff := retry.WithMaxRetries(r.retries, retry.NewFibonacci(250*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		m, err := r.getOnce(ctx, "/plugins/"+id)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, WrapError(KindNetwork, "failed to fetch plugin metadata", err).WithDetail("plugin", id)
	}
	return meta, nil
}

// ListPlugins fetches all registered metadata records.
func (r *RegistryClient) ListPlugins(ctx context.Context) ([]Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/plugins", nil)
	if err != nil {
		return nil, WrapError(KindNetwork, "invalid registry request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, WrapError(KindNetwork, "registry request failed", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindNetwork, fmt.Sprintf("registry request failed: %d", resp.StatusCode))
	}

	var out []Metadata
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, WrapError(KindParse, "invalid registry response", err)
	}
	return out, nil
}

func (r *RegistryClient) getOnce(ctx context.Context, path string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, WrapError(KindNetwork, "invalid registry request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, retry.RetryableError(err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, retry.RetryableError(fmt.Errorf("registry returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewError(KindNetwork, "plugin not found in registry")
	default:
		return nil, NewError(KindNetwork, fmt.Sprintf("registry request failed: %d", resp.StatusCode))
	}

	var meta Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, WrapError(KindParse, "invalid registry response", err)
	}
	return &meta, nil
}
