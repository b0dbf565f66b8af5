// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// bundleAccept favors executable text content types when fetching bundles.
const bundleAccept = "application/javascript, text/javascript, text/x-lua, text/plain;q=0.9, */*;q=0.8"

// defaultFetchTimeout bounds a bundle fetch when the caller's context
// carries no deadline of its own.
const defaultFetchTimeout = 30 * time.Second

// Fetcher retrieves raw bundle source text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// BundleFetcher retrieves plugin source over HTTP. It performs exactly one
// GET per call; cancellation is propagated through the request context.
type BundleFetcher struct {
	client *http.Client
}

// FetcherOption configures a BundleFetcher.
type FetcherOption func(*BundleFetcher)

// WithHTTPClient overrides the HTTP client used for bundle requests.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *BundleFetcher) {
		f.client = c
	}
}

// NewBundleFetcher creates a bundle fetcher.
func NewBundleFetcher(opts ...FetcherOption) *BundleFetcher {
	f := &BundleFetcher{
		client: &http.Client{Timeout: defaultFetchTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the bundle source at url as UTF-8 text.
// An empty URL fails fast without any network call.
func (f *BundleFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", NewError(KindNetwork, "plugin bundle URL is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", WrapError(KindNetwork, "invalid bundle URL", err).WithDetail("url", url)
	}
	req.Header.Set("Accept", bundleAccept)

	resp, err := f.client.Do(req)
	if err != nil {
		// Context cancellation surfaces here as a wrapped transport error.
		return "", WrapError(KindNetwork, "failed to fetch plugin bundle", err).WithDetail("url", url)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", NewError(KindNetwork,
			fmt.Sprintf("failed to fetch plugin bundle: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))).
			WithDetail("url", url).
			WithDetail("status", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", WrapError(KindNetwork, "failed to read plugin bundle", err).WithDetail("url", url)
	}

	source := string(body)
	if strings.TrimSpace(source) == "" {
		return "", NewError(KindParse, "plugin bundle is empty").WithDetail("url", url)
	}

	return source, nil
}
