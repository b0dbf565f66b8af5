// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultPluginBasePath is the backend namespace prefix for plugin calls.
const DefaultPluginBasePath = "/api/plugins"

// APIClient is a per-plugin backend facade. Every call is prefixed with
// the plugin's own namespace; a plugin cannot address another plugin's
// namespace or arbitrary host endpoints.
type APIClient struct {
	pluginID string
	baseURL  string
	scope    string
	client   *http.Client
	logger   *slog.Logger
}

// RequestOptions carry per-call extras. The zero value is valid.
type RequestOptions struct {
	Headers map[string]string
	Query   url.Values
	Timeout time.Duration
}

// APIClientOption configures an APIClient.
type APIClientOption func(*APIClient)

// WithAPIHTTPClient overrides the HTTP client used for backend calls.
func WithAPIHTTPClient(c *http.Client) APIClientOption {
	return func(a *APIClient) {
		a.client = c
	}
}

// WithAPIBaseURL sets the backend origin, e.g. "http://localhost:8080".
func WithAPIBaseURL(base string) APIClientOption {
	return func(a *APIClient) {
		a.baseURL = strings.TrimRight(base, "/")
	}
}

// WithAPIBasePath overrides the plugin namespace prefix.
func WithAPIBasePath(base string) APIClientOption {
	return func(a *APIClient) {
		a.scope = "/" + strings.Trim(base, "/")
	}
}

// WithAPILogger sets the logger for request failures.
func WithAPILogger(l *slog.Logger) APIClientOption {
	return func(a *APIClient) {
		a.logger = l
	}
}

// NewAPIClient creates a client scoped to one plugin identity.
// There is no such thing as an unscoped client: a blank id is an error.
func NewAPIClient(pluginID string, opts ...APIClientOption) (*APIClient, error) {
	if strings.TrimSpace(pluginID) == "" {
		return nil, NewError(KindRuntime, "plugin ID is required to create an API client")
	}

	a := &APIClient{
		pluginID: pluginID,
		scope:    DefaultPluginBasePath,
		client:   &http.Client{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ScopedPath resolves a plugin-relative path to its fully-qualified form,
// normalized so leading slashes on rel make no difference.
func (a *APIClient) ScopedPath(rel string) string {
	rel = strings.TrimLeft(rel, "/")
	p := a.scope + "/" + a.pluginID
	if rel == "" {
		return p
	}
	return p + "/" + rel
}

// Get issues a GET within the plugin's namespace, decoding JSON into out.
func (a *APIClient) Get(ctx context.Context, rel string, out any, opts ...RequestOptions) error {
	return a.do(ctx, http.MethodGet, rel, nil, out, first(opts))
}

// Post issues a POST with a JSON-encoded body.
func (a *APIClient) Post(ctx context.Context, rel string, body, out any, opts ...RequestOptions) error {
	return a.do(ctx, http.MethodPost, rel, body, out, first(opts))
}

// Put issues a PUT with a JSON-encoded body.
func (a *APIClient) Put(ctx context.Context, rel string, body, out any, opts ...RequestOptions) error {
	return a.do(ctx, http.MethodPut, rel, body, out, first(opts))
}

// Patch issues a PATCH with a JSON-encoded body.
func (a *APIClient) Patch(ctx context.Context, rel string, body, out any, opts ...RequestOptions) error {
	return a.do(ctx, http.MethodPatch, rel, body, out, first(opts))
}

// Delete issues a DELETE within the plugin's namespace.
func (a *APIClient) Delete(ctx context.Context, rel string, out any, opts ...RequestOptions) error {
	return a.do(ctx, http.MethodDelete, rel, nil, out, first(opts))
}

func first(opts []RequestOptions) RequestOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return RequestOptions{}
}

func (a *APIClient) do(ctx context.Context, method, rel string, body, out any, opts RequestOptions) error {
	if err := a.roundTrip(ctx, method, rel, body, out, opts); err != nil {
		// Log with the owning plugin's identity before re-surfacing, so
		// host-side diagnosis can attribute the failure.
		a.logger.Error("plugin API request failed",
			"plugin", a.pluginID,
			"method", method,
			"path", a.ScopedPath(rel),
			"error", err)
		return err
	}
	return nil
}

func (a *APIClient) roundTrip(ctx context.Context, method, rel string, body, out any, opts RequestOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	target := a.baseURL + a.ScopedPath(rel)
	if len(opts.Query) > 0 {
		target += "?" + opts.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return WrapError(KindRuntime, "failed to encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return WrapError(KindNetwork, "invalid API request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return WrapError(KindNetwork, "API request failed", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return WrapError(KindNetwork, "failed to read API response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NewError(KindNetwork,
			fmt.Sprintf("API request failed: %d %s", resp.StatusCode, extractMessage(resp.Header.Get("Content-Type"), raw))).
			WithDetail("status", resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	// A successful non-JSON response resolves to the caller's zero value
	// rather than an error.
	if ct, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || ct != "application/json" {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return WrapError(KindParse, "failed to decode API response", err)
	}
	return nil
}

// extractMessage pulls a best-effort human message out of an error body:
// a JSON "message" or "error" field when present, otherwise trimmed text,
// otherwise the status text alone.
func extractMessage(contentType string, raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "no response body"
	}

	if ct, _, err := mime.ParseMediaType(contentType); err == nil && ct == "application/json" {
		var payload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(raw, &payload); err == nil {
			if payload.Message != "" {
				return payload.Message
			}
			if payload.Error != "" {
				return payload.Error
			}
		}
	}
	return trimmed
}
