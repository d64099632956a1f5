// Package backend implements the resilient HTTP client for the character
// service and its typed endpoint bindings.
//
// The client applies a fixed per-request timeout, retries failed attempts
// with linearly increasing backoff, and surfaces classified
// [fault.Error] failures instead of raw transport errors. It holds no
// session or cache state of its own — that belongs to its callers.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxtale/voxtale/internal/fault"
	"github.com/voxtale/voxtale/internal/observe"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	defaultBackoff    = time.Second
)

// Option is a functional option for configuring the [Client].
type Option func(*Client)

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxRetries sets the number of additional attempts after the first
// failure.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the base retry delay; attempt n waits n × d.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

// WithHTTPClient replaces the underlying [http.Client]. Mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMetrics wires request/retry counters. When nil, recording is skipped.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client issues JSON requests against one backend API root.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	metrics    *observe.Metrics
}

// New creates a [Client] for the given API root. baseURL must be non-empty;
// a trailing slash is stripped.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("backend: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the configured API root without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Call issues method against path (joined to the base URL) with an optional
// JSON body and returns the response body and HTTP status.
//
// Transport failures and non-2xx statuses are retried up to the configured
// limit with linear backoff before the final classified error is returned:
// [fault.Transport] for network-level failures, [fault.Protocol] for
// persistent non-2xx responses. Context cancellation aborts immediately and
// is never retried.
func (c *Client) Call(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	const op = "backend.call"

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, 0, fault.Wrap(fault.Protocol, op, fmt.Errorf("encode request: %w", err))
		}
	}

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.BackendRetries.Add(ctx, 1)
			}
			slog.Debug("backend: retrying request",
				"method", method, "path", path, "attempt", attempt)
			if err := sleepCtx(ctx, time.Duration(attempt)*c.backoff); err != nil {
				return nil, 0, fault.Wrap(fault.Transport, op, err)
			}
		}

		respBody, status, err := c.do(ctx, method, path, payload)
		if err == nil && status >= 200 && status < 300 {
			c.record(ctx, path, "ok")
			return respBody, status, nil
		}

		if err != nil {
			if ctx.Err() != nil {
				c.record(ctx, path, "cancelled")
				return nil, 0, fault.Wrap(fault.Transport, op, ctx.Err())
			}
			lastErr = err
			lastStatus = 0
			continue
		}

		lastErr = fmt.Errorf("unexpected status %d: %s", status, truncate(respBody, 200))
		lastStatus = status
	}

	c.record(ctx, path, "error")
	if lastStatus != 0 {
		return nil, lastStatus, fault.Wrap(fault.Protocol, op, lastErr)
	}
	return nil, 0, fault.Wrap(fault.Transport, op, lastErr)
}

// CallJSON issues the request and decodes a 2xx response body into out.
// out may be nil when the body is irrelevant.
func (c *Client) CallJSON(ctx context.Context, method, path string, body, out any) error {
	respBody, _, err := c.Call(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fault.Wrap(fault.Protocol, "backend.decode",
			fmt.Errorf("decode %s %s response: %w", method, path, err))
	}
	return nil
}

// do performs a single HTTP attempt.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// record increments the request counter when metrics are wired.
func (c *Client) record(ctx context.Context, endpoint, status string) {
	if c.metrics != nil {
		c.metrics.RecordBackendRequest(ctx, endpoint, status)
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// truncate renders at most n bytes of b for error messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
