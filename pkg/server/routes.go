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

package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/quill/pkg/auth"
	"github.com/kadirpekel/quill/pkg/config"
	"github.com/kadirpekel/quill/pkg/observability"
	"github.com/kadirpekel/quill/pkg/ratelimit"
	"github.com/kadirpekel/quill/pkg/storage"
)

// Request headers set by the gateway.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

const defaultFilesPrefix = "/files"

func (s *Server) routes(cfg *config.Config) (http.Handler, error) {
	h := &handlers{Server: s, cfg: cfg}
	metrics := observability.Metrics(observability.NoopMetrics{})

	r := chi.NewRouter()
	if s.observability != nil {
		metrics = s.observability.GetMetrics()
		r.Use(observability.HTTPMiddleware(s.observability.GetTracer("quill/server"), metrics))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", h.health)
	if s.observability != nil && cfg.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Observability.Metrics.Endpoint, metrics.Handler())
	}

	limited, err := s.rateLimit(cfg, config.RouteOfferPDF, metrics)
	if err != nil {
		return nil, err
	}
	r.With(limited).Post("/v1/offers/{offerID}/pdf", h.createOfferPDF)

	r.Get("/v1/jobs/{jobID}", h.getJob)
	if s.storage != nil {
		r.Get("/v1/jobs/{jobID}/pdf", h.downloadPDF)
	}
	if s.enforcer != nil {
		r.Get("/v1/usage", h.usage)
	}

	if s.workerSigner != nil {
		r.With(s.workerSigner.HTTPMiddleware(auth.AudienceWorker)).
			Post("/internal/jobs/{jobID}/process", h.processJob)
	}

	if fs, ok := s.storage.(*storage.FileStorage); ok && cfg.Storage.ShouldServe() {
		prefix := filesPrefix(cfg.Storage.PublicBaseURL)
		r.Handle(prefix+"/*", http.StripPrefix(prefix, noListing(http.FileServer(http.Dir(fs.Root())))))
		s.logger.Debug("Serving stored objects", "prefix", prefix, "root", fs.Root())
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
	return r, nil
}

// rateLimit builds the limiter middleware for a configured route. It passes
// everything through when rate limiting is off.
func (s *Server) rateLimit(cfg *config.Config, route string, metrics observability.Metrics) (func(http.Handler) http.Handler, error) {
	if s.limiter == nil || !cfg.RateLimiting.IsEnabled() {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	rule, scheme, err := ratelimit.RouteFromConfig(&cfg.RateLimiting, route)
	if err != nil {
		return nil, fmt.Errorf("failed to configure rate limiting: %w", err)
	}

	identify := ratelimit.DefaultIdentifierFunc
	if r := cfg.RateLimiting.Rule(route); r != nil && r.KeyScheme == "email" {
		identify = emailIdentifier
	}

	return ratelimit.Middleware(ratelimit.MiddlewareConfig{
		Limiter:        s.limiter,
		Rule:           rule,
		Name:           route,
		Scheme:         &scheme,
		IdentifierFunc: identify,
		Metrics:        metrics,
		Logger:         s.logger,
		Now:            s.now,
	}), nil
}

// emailIdentifier keys on the caller's address as typed; the key scheme
// normalizes it. Callers without one are keyed the default way.
func emailIdentifier(r *http.Request) string {
	if email := r.Header.Get(HeaderUserEmail); strings.TrimSpace(email) != "" {
		return email
	}
	return ratelimit.DefaultIdentifierFunc(r)
}

// filesPrefix is the path component of the public base URL.
func filesPrefix(publicBaseURL string) string {
	u, err := url.Parse(publicBaseURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return defaultFilesPrefix
	}
	return "/" + strings.Trim(u.Path, "/")
}

// noListing hides directory indexes. Object names are download tokens.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			writeError(w, http.StatusNotFound, CodeNotFound, "object not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
