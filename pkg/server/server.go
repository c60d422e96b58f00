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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kadirpekel/quill/pkg/auth"
	"github.com/kadirpekel/quill/pkg/config"
	"github.com/kadirpekel/quill/pkg/observability"
	"github.com/kadirpekel/quill/pkg/pipeline"
	"github.com/kadirpekel/quill/pkg/quota"
	"github.com/kadirpekel/quill/pkg/ratelimit"
	"github.com/kadirpekel/quill/pkg/runtime"
	"github.com/kadirpekel/quill/pkg/storage"
)

// Server is the quill HTTP server.
type Server struct {
	pipeline *pipeline.Pipeline
	worker   *pipeline.InlineDispatcher

	storage       storage.ObjectStorage
	enforcer      *quota.Enforcer
	limiter       *ratelimit.Limiter
	workerSigner  *auth.Signer
	observability *observability.Manager
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.RWMutex
	cfg     *config.Config
	handler http.Handler
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithStorage enables PDF downloads from s.
func WithStorage(s storage.ObjectStorage) Option {
	return func(srv *Server) { srv.storage = s }
}

// WithEnforcer enables the usage endpoint.
func WithEnforcer(e *quota.Enforcer) Option {
	return func(s *Server) { s.enforcer = e }
}

// WithLimiter rate limits PDF requests. Without it they are unlimited.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithWorkerSigner mounts the worker endpoint, accepting tokens from signer.
func WithWorkerSigner(signer *auth.Signer) Option {
	return func(s *Server) { s.workerSigner = signer }
}

// WithObservability enables tracing, request metrics and the metrics endpoint.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) { s.observability = obs }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used for usage periods and rate limiting.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a server for p configured by cfg.
func New(cfg *config.Config, p *pipeline.Pipeline, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if p == nil {
		return nil, fmt.Errorf("pipeline is required")
	}

	s := &Server{
		pipeline: p,
		worker:   pipeline.NewInlineDispatcher(p),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Reload(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromRuntime creates a server over every component of rt.
func NewFromRuntime(rt *runtime.Runtime, opts ...Option) (*Server, error) {
	base := []Option{
		WithStorage(rt.Storage()),
		WithEnforcer(rt.Enforcer()),
		WithLimiter(rt.Limiter()),
		WithWorkerSigner(rt.WorkerSigner()),
		WithObservability(rt.Observability()),
		WithLogger(rt.Logger()),
	}
	return New(rt.Config(), rt.Pipeline(), append(base, opts...)...)
}

// Reload rebuilds the routes from cfg. Rate limit rules, quota limits and
// body limits change for the next request; listeners and components stay.
func (s *Server) Reload(cfg *config.Config) error {
	h, err := s.routes(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.handler = h
	s.mu.Unlock()
	return nil
}

// Handler returns the current route tree. It follows Reload.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		h := s.handler
		s.mu.RUnlock()
		h.ServeHTTP(w, r)
	})
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Server.Address()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	srvCfg := s.cfg.Server
	s.server = &http.Server{
		Addr:         srvCfg.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  srvCfg.ReadTimeout,
		WriteTimeout: srvCfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("HTTP server starting", "address", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	timeout := s.cfg.Server.ShutdownTimeout
	s.mu.RUnlock()

	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}
