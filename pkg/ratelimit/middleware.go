// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kadirpekel/quill/pkg/observability"
)

// IdentifierFunc extracts the rate limit identifier from an HTTP request.
// An empty identifier bypasses the limiter.
type IdentifierFunc func(r *http.Request) string

// DefaultIdentifierFunc uses the X-User-ID header set by the auth layer,
// falling back to the client IP.
func DefaultIdentifierFunc(r *http.Request) string {
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return ""
	}
	return "ip:" + host
}

// MiddlewareConfig configures the rate limiting middleware.
type MiddlewareConfig struct {
	// Limiter is the rate limiter to use. A nil limiter disables the middleware.
	Limiter *Limiter

	// Rule is the window applied to every request passing through.
	Rule Rule

	// Name labels metrics and logs, e.g. "offer_pdf".
	Name string

	// Scheme turns the identifier into the primary and legacy keys.
	// Defaults to IdentityKeyScheme(Name).
	Scheme *KeyScheme

	// IdentifierFunc extracts the identifier. Defaults to DefaultIdentifierFunc.
	IdentifierFunc IdentifierFunc

	// ExcludedPaths bypass rate limiting.
	ExcludedPaths []string

	// OnLimited writes the rejection. Defaults to a 429 JSON response.
	OnLimited func(w http.ResponseWriter, r *http.Request, result *Result)

	// OnError writes the response when the store fails. Defaults to 503.
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	Metrics observability.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Middleware creates an HTTP middleware that enforces cfg.Rule.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.IdentifierFunc == nil {
		cfg.IdentifierFunc = DefaultIdentifierFunc
	}
	scheme := IdentityKeyScheme(cfg.Name)
	if cfg.Scheme != nil {
		scheme = *cfg.Scheme
	}
	if cfg.OnLimited == nil {
		cfg.OnLimited = WriteLimited
	}
	if cfg.OnError == nil {
		cfg.OnError = defaultOnError
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			identifier := cfg.IdentifierFunc(r)
			if identifier == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			primary, legacy := scheme.Keys(identifier)

			var (
				result *Result
				err    error
			)
			if len(legacy) > 0 {
				result, err = cfg.Limiter.ConsumeWithMigration(ctx, primary, legacy, cfg.Rule, cfg.Now())
			} else {
				result, err = cfg.Limiter.Consume(ctx, primary, cfg.Rule, cfg.Now())
			}
			if err != nil {
				cfg.Logger.Error("Rate limit check failed", "error", err, "key", primary, "rule", cfg.Name)
				cfg.OnError(w, r, err)
				return
			}

			cfg.Metrics.RecordRateLimit(ctx, cfg.Name, result.Allowed)
			WriteHeaders(w, result)

			if !result.Allowed {
				cfg.Logger.Info("Rate limit exceeded", "key", primary, "rule", cfg.Name, "retry_after_ms", result.RetryAfterMs())
				cfg.OnLimited(w, r, result)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, resultKey{}, result)))
		})
	}
}

type resultKey struct{}

// ResultFromContext returns the Result the middleware stored for the request.
func ResultFromContext(ctx context.Context) *Result {
	if result, ok := ctx.Value(resultKey{}).(*Result); ok {
		return result
	}
	return nil
}

// WriteHeaders sets the X-RateLimit-* headers.
func WriteHeaders(w http.ResponseWriter, result *Result) {
	if result == nil {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// WriteLimited sends a 429 with Retry-After rounded up to whole seconds.
func WriteLimited(w http.ResponseWriter, _ *http.Request, result *Result) {
	WriteHeaders(w, result)

	retryMs := result.RetryAfterMs()
	w.Header().Set("Retry-After", strconv.FormatInt((retryMs+999)/1000, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "rate_limit_exceeded",
			"message": "Too many requests, please retry later",
		},
		"retry_after_ms": retryMs,
	})
}

func defaultOnError(w http.ResponseWriter, _ *http.Request, _ error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "rate_limit_unavailable",
			"message": "Rate limiting is temporarily unavailable",
		},
	})
}
