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

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kadirpekel/quill/pkg/auth"
	"github.com/kadirpekel/quill/pkg/httpclient"
	"github.com/kadirpekel/quill/pkg/observability"
)

// SignatureHeader carries the HS256 token bound to the request body.
const SignatureHeader = "X-Quill-Signature"

// Payload is the completion callback body.
type Payload struct {
	JobID         string `json:"jobId"`
	OfferID       string `json:"offerId"`
	PDFURL        string `json:"pdfUrl"`
	DownloadToken string `json:"downloadToken"`
}

// Notifier posts callbacks that pass its Policy.
type Notifier struct {
	policy  Policy
	client  *httpclient.Client
	signer  *auth.Signer
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics observability.Metrics
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSigner signs every request body.
func WithSigner(s *auth.Signer) Option {
	return func(n *Notifier) { n.signer = s }
}

// WithRateLimit throttles outbound deliveries to perSecond with burst.
// perSecond <= 0 disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(n *Notifier) {
		if perSecond <= 0 {
			n.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClient replaces the HTTP client. The dial-time address check is only
// applied to the default client.
func WithClient(c *httpclient.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.Metrics) Option {
	return func(n *Notifier) {
		if m != nil {
			n.metrics = m
		}
	}
}

// NewNotifier creates a Notifier enforcing policy.
func NewNotifier(policy Policy, opts ...Option) *Notifier {
	n := &Notifier{
		policy:  policy,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.client == nil {
		n.client = httpclient.New(
			httpclient.WithHTTPClient(newHTTPClient(policy)),
			httpclient.WithMaxRetries(2),
			httpclient.WithLogger(n.logger),
		)
	}
	return n
}

func newHTTPClient(policy Policy) *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second, Control: policy.dialControl}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Notify delivers p to callbackURL and waits for the answer. A URL rejected
// by the policy returns ErrDisallowedURL without any network traffic.
func (n *Notifier) Notify(ctx context.Context, callbackURL string, p Payload) (err error) {
	defer func() { n.metrics.RecordWebhook(ctx, err) }()

	u, err := n.policy.Check(callbackURL)
	if err != nil {
		return err
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("webhook throttled: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "quill-webhook/1")
	if n.signer != nil {
		token, err := n.signer.Sign(p.JobID, auth.AudienceWebhook, body)
		if err != nil {
			return err
		}
		req.Header.Set(SignatureHeader, token)
	}

	resp, err := n.client.Do(req)
	if resp != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}
	if httpclient.IsExhausted(err) {
		return fmt.Errorf("webhook receiver %s stayed unavailable: %w", u.Host, err)
	}
	if err != nil {
		return fmt.Errorf("webhook delivery to %s failed: %w", u.Host, err)
	}
	return nil
}

// Go delivers in the background. The returned channel yields the delivery
// error, or nil, and is then closed. A disallowed URL is logged and yields
// ErrDisallowedURL.
func (n *Notifier) Go(ctx context.Context, callbackURL string, p Payload) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		err := n.Notify(ctx, callbackURL, p)
		switch {
		case errors.Is(err, ErrDisallowedURL):
			n.logger.Warn("Webhook skipped", "job_id", p.JobID, "error", err)
		case err != nil:
			n.logger.Warn("Webhook delivery failed", "job_id", p.JobID, "error", err)
		default:
			n.logger.Debug("Webhook delivered", "job_id", p.JobID)
		}
		errc <- err
	}()
	return errc
}
