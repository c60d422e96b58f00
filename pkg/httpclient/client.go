// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient is the retrying HTTP client used for outbound calls to
// the renderer, the worker endpoint, and webhook receivers.
//
// Every caller gets the same policy: 429 and 503 honor Retry-After up to
// MaxRetryAfter, other gateway failures back off exponentially, and
// everything else is returned on the first attempt.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultTimeout    = 60 * time.Second

	// MaxRetryAfter caps server-provided Retry-After hints. A render service
	// asking for longer than this is treated as down.
	MaxRetryAfter = 30 * time.Second
)

type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. The webhook notifier uses it
// to install its address-checking dialer.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTransport keeps the default client and swaps its transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.client.Transport = rt
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay > 0 {
			c.baseDelay = delay
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Retryable reports whether a response status is worth another attempt.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable,
		http.StatusBadGateway,
		http.StatusGatewayTimeout,
		http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

// Do sends req and retries retryable statuses. Requests with a body are only
// retried when req.GetBody is set. Waiting between attempts stops early when
// the request context is done.
//
// Any non-2xx response is returned together with a *StatusError; the caller
// owns the body in both cases.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := rewind(req); err != nil {
				return nil, err
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		serr := &StatusError{StatusCode: resp.StatusCode, Attempts: attempt + 1}
		if !Retryable(resp.StatusCode) {
			return resp, serr
		}

		delay, ok := c.delay(attempt, resp.Header)
		if !ok || attempt >= c.maxRetries {
			serr.Exhausted = true
			return resp, serr
		}

		drain(resp)
		c.logger.Warn("Outbound request failed, retrying",
			"host", req.URL.Host, "status", resp.StatusCode,
			"delay", delay, "attempt", attempt+1, "max_retries", c.maxRetries)
		if err := sleep(req.Context(), delay); err != nil {
			return nil, err
		}
	}
}

// delay picks the wait before the next attempt. It returns false when the
// server asked for a pause longer than MaxRetryAfter.
func (c *Client) delay(attempt int, h http.Header) (time.Duration, bool) {
	if d, ok := retryAfter(h.Get("Retry-After"), time.Now()); ok {
		if d > MaxRetryAfter {
			return 0, false
		}
		return d, true
	}
	return c.baseDelay << attempt, true
}

// retryAfter parses delta seconds or an HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func rewind(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	if req.GetBody == nil {
		return fmt.Errorf("cannot retry %s %s without GetBody", req.Method, req.URL.Redacted())
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to recreate request body for retry: %w", err)
	}
	req.Body = body
	return nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
