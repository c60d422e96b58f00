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

// Package runtime assembles the quill components from configuration.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kadirpekel/quill/pkg/auth"
	"github.com/kadirpekel/quill/pkg/config"
	"github.com/kadirpekel/quill/pkg/httpclient"
	"github.com/kadirpekel/quill/pkg/job"
	"github.com/kadirpekel/quill/pkg/observability"
	"github.com/kadirpekel/quill/pkg/offer"
	"github.com/kadirpekel/quill/pkg/pipeline"
	"github.com/kadirpekel/quill/pkg/quota"
	"github.com/kadirpekel/quill/pkg/ratelimit"
	"github.com/kadirpekel/quill/pkg/render"
	"github.com/kadirpekel/quill/pkg/storage"
)

// Runtime owns every long-lived component built from one Config.
type Runtime struct {
	config        *config.Config
	pool          *config.DBPool
	observability *observability.Manager
	logger        *slog.Logger

	limiter      *ratelimit.Limiter
	enforcer     *quota.Enforcer
	jobs         job.Store
	offers       offer.Store
	storage      storage.ObjectStorage
	renderer     render.Renderer
	pipeline     *pipeline.Pipeline
	workerSigner *auth.Signer

	closers []io.Closer
}

// Options tweaks assembly.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// TraceOutput receives spans from the stdout exporter.
	TraceOutput io.Writer

	// Renderer replaces the configured renderer.
	Renderer render.Renderer
}

// New builds the runtime. On error everything created so far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{
		config: cfg,
		pool:   config.NewDBPool(),
		logger: logger,
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.observability = observability.NewManager(cfg.Observability)
	if opts.TraceOutput != nil {
		rt.observability.WithTraceOutput(opts.TraceOutput)
	}
	if err := rt.observability.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	metrics := rt.observability.GetMetrics()
	tracer := rt.observability.GetTracer(observability.InstrumentationName)

	if rt.limiter, err = ratelimit.NewLimiterFromConfig(cfg, rt.pool, ratelimit.WithLogger(logger)); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if rt.limiter != nil {
		rt.closers = append(rt.closers, rt.limiter.Store())
	}

	if rt.enforcer, err = quota.NewEnforcerFromConfig(cfg, rt.pool, quota.WithLogger(logger), quota.WithMetrics(metrics)); err != nil {
		return nil, fmt.Errorf("quota: %w", err)
	}

	if rt.jobs, err = job.NewStoreFromConfig(cfg, rt.pool); err != nil {
		return nil, fmt.Errorf("jobs: %w", err)
	}
	rt.closers = append(rt.closers, rt.jobs)

	if rt.offers, err = offer.NewStoreFromConfig(cfg, rt.pool); err != nil {
		return nil, fmt.Errorf("offers: %w", err)
	}
	rt.closers = append(rt.closers, rt.offers)

	if rt.storage, err = DefaultStorageFactory(&cfg.Storage); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	rt.renderer = opts.Renderer
	if rt.renderer == nil {
		if rt.renderer, err = DefaultRendererFactory(&cfg.Renderer, logger); err != nil {
			return nil, fmt.Errorf("renderer: %w", err)
		}
	}

	notifier, err := DefaultNotifierFactory(&cfg.Webhooks, metrics, logger)
	if err != nil {
		return nil, err
	}

	if rt.workerSigner, err = WorkerSigner(&cfg.Pipeline); err != nil {
		return nil, err
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithNotifier(notifier),
		pipeline.WithRenderTimeout(cfg.Pipeline.RenderTimeout),
		pipeline.WithStorageTimeout(cfg.Pipeline.StorageTimeout),
		pipeline.WithWebhookTimeout(cfg.Pipeline.WebhookTimeout),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
		pipeline.WithTracer(tracer),
	}
	if cfg.Pipeline.Dispatch == config.DispatchHTTP {
		client := httpclient.New(httpclient.WithMaxRetries(2), httpclient.WithLogger(logger))
		d, err := pipeline.NewHTTPDispatcher(cfg.Pipeline.WorkerURL, rt.workerSigner, client)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: %w", err)
		}
		pipeOpts = append(pipeOpts, pipeline.WithDispatcher(d))
	}

	if rt.pipeline, err = pipeline.New(rt.jobs, rt.renderer, rt.storage, rt.enforcer, rt.offers, pipeOpts...); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if cfg.Pipeline.Dispatch != config.DispatchHTTP {
		pipeline.UseInlineDispatcher(rt.pipeline)
	}

	logger.Info("Runtime ready",
		"rate_limit_backend", cfg.RateLimiting.Backend,
		"quota_backend", cfg.Quota.Backend,
		"atomic_quota", rt.enforcer.Atomic(),
		"jobs_backend", cfg.Jobs.Backend,
		"dispatch", cfg.Pipeline.Dispatch,
		"renderer", cfg.Renderer.Type,
	)
	return rt, nil
}

func (r *Runtime) Config() *config.Config { return r.config }
func (r *Runtime) Limiter() *ratelimit.Limiter { return r.limiter }
func (r *Runtime) Enforcer() *quota.Enforcer { return r.enforcer }
func (r *Runtime) Jobs() job.Store { return r.jobs }
func (r *Runtime) Offers() offer.Store { return r.offers }
func (r *Runtime) Storage() storage.ObjectStorage { return r.storage }
func (r *Runtime) Pipeline() *pipeline.Pipeline { return r.pipeline }
func (r *Runtime) Observability() *observability.Manager { return r.observability }
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// WorkerSigner returns the worker token signer, or nil when none is configured.
func (r *Runtime) WorkerSigner() *auth.Signer { return r.workerSigner }

// Close waits for in-flight jobs, then closes stores, connections and
// exporters in that order.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	if r.pipeline != nil {
		if err := r.pipeline.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pipeline shutdown: %w", err))
		}
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.pool != nil {
		if err := r.pool.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.observability != nil {
		if err := r.observability.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		r.logger.Warn("Runtime cleanup error", "error", err)
		return err
	}
	return nil
}
