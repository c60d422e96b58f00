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

package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kadirpekel/quill/pkg/httpclient"
)

// maxPDFSize caps how much of a renderer response is read.
const maxPDFSize = 50 << 20

// HTTPRenderer posts HTML to a headless-browser rendering service and
// returns the PDF it answers with.
type HTTPRenderer struct {
	endpoint string
	client   *httpclient.Client
	timeout  time.Duration
	format   string
	validate bool
	logger   *slog.Logger
}

// HTTPOption configures an HTTPRenderer.
type HTTPOption func(*HTTPRenderer)

// WithClient sets the HTTP client.
func WithClient(c *httpclient.Client) HTTPOption {
	return func(r *HTTPRenderer) {
		if c != nil {
			r.client = c
		}
	}
}

// WithTimeout bounds one render. Default: DefaultTimeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(r *HTTPRenderer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithPaperFormat sets the page format requested from the service.
func WithPaperFormat(format string) HTTPOption {
	return func(r *HTTPRenderer) {
		if format != "" {
			r.format = format
		}
	}
}

// WithValidation toggles parsing the output before returning it.
func WithValidation(enabled bool) HTTPOption {
	return func(r *HTTPRenderer) { r.validate = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(r *HTTPRenderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewHTTPRenderer creates a renderer for endpoint.
func NewHTTPRenderer(endpoint string, opts ...HTTPOption) (*HTTPRenderer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("renderer endpoint is required")
	}
	r := &HTTPRenderer{
		endpoint: endpoint,
		timeout:  DefaultTimeout,
		format:   "A4",
		validate: true,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = httpclient.New(httpclient.WithMaxRetries(1), httpclient.WithLogger(r.logger))
	}
	return r, nil
}

type renderRequest struct {
	HTML                string `json:"html"`
	Format              string `json:"format"`
	PrintBackground     bool   `json:"printBackground"`
	NavigationTimeoutMs int64  `json:"navigationTimeoutMs"`
	RenderTimeoutMs     int64  `json:"renderTimeoutMs"`
}

// Render implements Renderer. The context deadline is shortened to the
// configured timeout.
func (r *HTTPRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(renderRequest{
		HTML:                html,
		Format:              r.format,
		PrintBackground:     true,
		NavigationTimeoutMs: r.timeout.Milliseconds(),
		RenderTimeoutMs:     r.timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	start := time.Now()
	resp, err := r.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("renderer failed: %w: %s", err, bytes.TrimSpace(msg))
		}
		return nil, fmt.Errorf("renderer failed: %w", err)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered PDF: %w", err)
	}
	if len(out) > maxPDFSize {
		return nil, fmt.Errorf("rendered PDF exceeds %d bytes", maxPDFSize)
	}

	if r.validate {
		pages, err := Validate(out)
		if err != nil {
			return nil, err
		}
		r.logger.Debug("Rendered PDF", "bytes", len(out), "pages", pages, "duration", time.Since(start))
	}
	return out, nil
}

var _ Renderer = (*HTTPRenderer)(nil)
