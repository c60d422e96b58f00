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

// Package pipeline drives a PDF job from enqueue to a terminal state.
//
// Process runs render, upload, user quota, device quota and finalize in that
// order. Quota is only charged once the object is stored. When any step
// fails, the side effects already applied are rolled back by a Compensator
// and the job is marked failed with the original cause, so a failed job
// leaves neither an object nor a quota charge behind.
//
// Enqueue writes the durable job row; Dispatch triggers processing once.
// A dispatch that never fires leaves the job queued until something external
// picks it up.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/quill/pkg/job"
	"github.com/kadirpekel/quill/pkg/observability"
	"github.com/kadirpekel/quill/pkg/offer"
	"github.com/kadirpekel/quill/pkg/quota"
	"github.com/kadirpekel/quill/pkg/render"
	"github.com/kadirpekel/quill/pkg/storage"
	"github.com/kadirpekel/quill/pkg/webhook"
)

const (
	// DefaultWebhookTimeout bounds one callback delivery, retries included.
	DefaultWebhookTimeout = 30 * time.Second

	// DefaultStorageTimeout bounds one object upload or delete.
	DefaultStorageTimeout = 30 * time.Second

	// compensationTimeout bounds rollback after the caller's context is gone.
	compensationTimeout = 30 * time.Second

	pdfContentType = "application/pdf"
)

// Notifier delivers completion callbacks in the background.
type Notifier interface {
	Go(ctx context.Context, callbackURL string, p webhook.Payload) <-chan error
}

// Dispatcher triggers processing of a queued job.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Input is what a caller supplies to Enqueue.
type Input struct {
	// JobID is generated when empty.
	JobID   string
	OfferID string
	UserID  string

	// StoragePath defaults to DefaultStoragePath.
	StoragePath string
	HTML        string
	CallbackURL string

	// UsagePeriodStart defaults to the current calendar month.
	UsagePeriodStart time.Time
	UserLimit        *int64
	DeviceID         string
	DeviceLimit      *int64

	TemplateID          string
	RequestedTemplateID string
}

// DefaultStoragePath is where a job's PDF is stored unless the caller says
// otherwise.
func DefaultStoragePath(offerID, jobID string) string {
	return fmt.Sprintf("offers/%s/%s.pdf", offerID, jobID)
}

// Pipeline wires the job store to its collaborators.
type Pipeline struct {
	jobs       job.Store
	renderer   render.Renderer
	storage    storage.ObjectStorage
	quota      *quota.Enforcer
	offers     offer.Updater
	notifier   Notifier
	dispatcher Dispatcher

	compensator    *Compensator
	renderTimeout  time.Duration
	storageTimeout time.Duration
	webhookTimeout time.Duration

	logger  *slog.Logger
	metrics observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string

	wg sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

func WithDispatcher(d Dispatcher) Option {
	return func(p *Pipeline) { p.dispatcher = d }
}

// WithRenderTimeout bounds the render step. Default: render.DefaultTimeout.
func WithRenderTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.renderTimeout = d
		}
	}
}

// WithStorageTimeout bounds the upload and the compensating delete.
// Default: DefaultStorageTimeout.
func WithStorageTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.storageTimeout = d
		}
	}
}

func WithWebhookTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.webhookTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m observability.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithClock sets the time source for timestamps and default periods.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDGenerator sets how job ids are minted. Default: random UUIDs.
func WithIDGenerator(f func() string) Option {
	return func(p *Pipeline) {
		if f != nil {
			p.newID = f
		}
	}
}

// New creates a Pipeline. All collaborators are required.
func New(jobs job.Store, r render.Renderer, s storage.ObjectStorage, q *quota.Enforcer, o offer.Updater, opts ...Option) (*Pipeline, error) {
	switch {
	case jobs == nil:
		return nil, fmt.Errorf("job store is required")
	case r == nil:
		return nil, fmt.Errorf("renderer is required")
	case s == nil:
		return nil, fmt.Errorf("object storage is required")
	case q == nil:
		return nil, fmt.Errorf("quota enforcer is required")
	case o == nil:
		return nil, fmt.Errorf("offer updater is required")
	}

	p := &Pipeline{
		jobs:           jobs,
		renderer:       r,
		storage:        s,
		quota:          q,
		offers:         o,
		renderTimeout:  render.DefaultTimeout,
		storageTimeout: DefaultStorageTimeout,
		webhookTimeout: DefaultWebhookTimeout,
		logger:         slog.Default(),
		metrics:        observability.NoopMetrics{},
		tracer:         observability.Tracer(),
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.compensator = NewCompensator(p.logger, p.metrics, p.tracer)
	return p, nil
}

// Jobs returns the job store.
func (p *Pipeline) Jobs() job.Store {
	return p.jobs
}

// Enqueue records a queued job for in.
func (p *Pipeline) Enqueue(ctx context.Context, in Input) (*job.Job, error) {
	now := p.now().UTC()

	id := in.JobID
	if id == "" {
		id = p.newID()
	}
	path := in.StoragePath
	if path == "" {
		path = DefaultStoragePath(in.OfferID, id)
	}
	period := in.UsagePeriodStart
	if period.IsZero() {
		period = quota.MonthStart(now)
	}

	j := &job.Job{
		ID:                  id,
		OfferID:             in.OfferID,
		UserID:              in.UserID,
		StoragePath:         path,
		HTML:                in.HTML,
		CallbackURL:         in.CallbackURL,
		UsagePeriodStart:    quota.PeriodDate(period),
		UserLimit:           in.UserLimit,
		DeviceID:            in.DeviceID,
		DeviceLimit:         in.DeviceLimit,
		TemplateID:          in.TemplateID,
		RequestedTemplateID: in.RequestedTemplateID,
		Status:              job.StatusQueued,
		CreatedAt:           now,
	}
	if err := p.jobs.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	p.logger.Info("Job queued", "job_id", j.ID, "offer_id", j.OfferID, "user_id", j.UserID)
	return j, nil
}

// Dispatch asks the configured dispatcher to process jobID. Failures are
// logged and returned; the job stays queued.
func (p *Pipeline) Dispatch(ctx context.Context, jobID string) error {
	if p.dispatcher == nil {
		p.logger.Error("Job dispatch failed", "job_id", jobID, "error", ErrNoDispatcher)
		return ErrNoDispatcher
	}
	if err := p.dispatcher.Dispatch(ctx, jobID); err != nil {
		p.logger.Error("Job dispatch failed", "job_id", jobID, "error", err)
		return fmt.Errorf("failed to dispatch job %s: %w", jobID, err)
	}
	return nil
}

// Submit enqueues and dispatches. A dispatch failure does not fail Submit.
func (p *Pipeline) Submit(ctx context.Context, in Input) (*job.Job, error) {
	j, err := p.Enqueue(ctx, in)
	if err != nil {
		return nil, err
	}
	_ = p.Dispatch(ctx, j.ID)
	return j, nil
}

// ProcessByID loads and processes a job.
func (p *Pipeline) ProcessByID(ctx context.Context, jobID string) error {
	j, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return p.Process(ctx, j)
}

// effects tracks what Process has applied and must undo on failure.
type effects struct {
	uploadedToStorage      bool
	userUsageIncremented   bool
	deviceUsageIncremented bool
}

// Process claims j and runs it to completed or failed. A job that is not
// queued is rejected with job.ErrInvalidTransition and left untouched.
// Step failures are returned as *StepError after compensation.
func (p *Pipeline) Process(ctx context.Context, j *job.Job) error {
	ctx, span := p.tracer.Start(ctx, observability.SpanJobProcess, trace.WithAttributes(
		attribute.String(observability.AttrJobID, j.ID),
		attribute.String(observability.AttrOfferID, j.OfferID),
	))
	defer span.End()

	start := p.now()
	if err := p.jobs.MarkProcessing(ctx, j.ID, start.UTC()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return fmt.Errorf("failed to claim job %s: %w", j.ID, err)
	}
	p.logger.Info("Job processing", "job_id", j.ID, "offer_id", j.OfferID)

	var fx effects
	pdfURL, err := p.run(ctx, j, &fx)
	if err != nil {
		p.fail(ctx, j, &fx, err)
		p.metrics.RecordJob(ctx, string(job.StatusFailed), p.now().Sub(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	p.metrics.RecordJob(ctx, string(job.StatusCompleted), p.now().Sub(start))
	span.SetAttributes(attribute.String(observability.AttrStatus, string(job.StatusCompleted)))
	p.logger.Info("Job completed", "job_id", j.ID, "offer_id", j.OfferID, "pdf_url", pdfURL)

	p.notify(j, pdfURL)
	return nil
}

func (p *Pipeline) run(ctx context.Context, j *job.Job, fx *effects) (string, error) {
	var pdf []byte
	err := p.step(ctx, StepRender, func(ctx context.Context) error {
		rctx, cancel := context.WithTimeout(ctx, p.renderTimeout)
		defer cancel()
		var err error
		pdf, err = p.renderer.Render(rctx, j.HTML)
		return err
	})
	if err != nil {
		return "", err
	}

	if err := p.step(ctx, StepUpload, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, p.storageTimeout)
		defer cancel()
		return p.storage.Put(sctx, j.StoragePath, pdf, pdfContentType)
	}); err != nil {
		return "", err
	}
	fx.uploadedToStorage = true

	if err := p.step(ctx, StepUserQuota, func(ctx context.Context) error {
		return p.charge(ctx, quota.User(j.UserID), j.UserLimit, j.UsagePeriodStart)
	}); err != nil {
		return "", err
	}
	fx.userUsageIncremented = true

	if j.ChargesDevice() {
		if err := p.step(ctx, StepDeviceQuota, func(ctx context.Context) error {
			return p.charge(ctx, quota.Device(j.UserID, j.DeviceID), j.DeviceLimit, j.UsagePeriodStart)
		}); err != nil {
			return "", err
		}
		fx.deviceUsageIncremented = true
	}

	pdfURL := p.storage.PublicURL(j.StoragePath)
	if err := p.step(ctx, StepFinalize, func(ctx context.Context) error {
		now := p.now().UTC()
		if err := p.offers.SetPDFURL(ctx, j.OfferID, pdfURL, now); err != nil {
			return err
		}
		return p.jobs.MarkCompleted(ctx, j.ID, pdfURL, now)
	}); err != nil {
		return "", err
	}
	return pdfURL, nil
}

// step runs fn in a child span and tags its error with the step.
func (p *Pipeline) step(ctx context.Context, s Step, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, observability.SpanJobStep, trace.WithAttributes(
		attribute.String(observability.AttrStep, string(s)),
	))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StepError{Step: s, Err: err}
	}
	return nil
}

// charge increments a quota and turns a rejection into an error.
func (p *Pipeline) charge(ctx context.Context, s quota.Subject, limit *int64, period time.Time) error {
	out, err := p.quota.Increment(ctx, s, limit, period)
	if err != nil {
		return err
	}
	if !out.Allowed {
		return quota.Exceeded(s, limit, out)
	}
	return nil
}

// fail rolls back fx and marks j failed with cause. Rollback runs on a
// context detached from the caller so a cancelled request still cleans up.
func (p *Pipeline) fail(ctx context.Context, j *job.Job, fx *effects, cause error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var actions []Action
	if fx.uploadedToStorage {
		actions = append(actions, Action{Name: ActionDeleteObject, Run: func(ctx context.Context) error {
			sctx, cancel := context.WithTimeout(ctx, p.storageTimeout)
			defer cancel()
			return p.storage.Delete(sctx, j.StoragePath)
		}})
	}
	if fx.userUsageIncremented {
		actions = append(actions, Action{Name: ActionRollbackUserQuota, Run: func(ctx context.Context) error {
			return p.quota.Rollback(ctx, quota.User(j.UserID), j.UsagePeriodStart)
		}})
	}
	if fx.deviceUsageIncremented {
		actions = append(actions, Action{Name: ActionRollbackDeviceQuota, Run: func(ctx context.Context) error {
			return p.quota.Rollback(ctx, quota.Device(j.UserID, j.DeviceID), j.UsagePeriodStart)
		}})
	}

	if cerr := p.compensator.Run(cctx, actions); cerr != nil {
		p.logger.Error("Job compensation incomplete", "job_id", j.ID, "error", cerr)
	}

	if err := p.jobs.MarkFailed(cctx, j.ID, cause.Error(), p.now().UTC()); err != nil {
		p.logger.Error("Failed to mark job failed", "job_id", j.ID, "cause", cause, "error", err)
	}

	level := slog.LevelError
	if errors.Is(cause, quota.ErrQuotaExceeded) {
		level = slog.LevelInfo
	}
	p.logger.Log(cctx, level, "Job failed", "job_id", j.ID, "offer_id", j.OfferID, "step", FailedStep(cause), "error", cause)
}

// notify starts the completion webhook. Its outcome is only logged.
func (p *Pipeline) notify(j *job.Job, pdfURL string) {
	if p.notifier == nil || j.CallbackURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.webhookTimeout)
	errc := p.notifier.Go(ctx, j.CallbackURL, webhook.Payload{
		JobID:         j.ID,
		OfferID:       j.OfferID,
		PDFURL:        pdfURL,
		DownloadToken: j.ID,
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		if err := <-errc; err != nil {
			p.logger.Debug("Webhook outcome", "job_id", j.ID, "error", err)
		}
	}()
}

// Wait blocks until background work started by the pipeline has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Shutdown waits for background work or until ctx is done.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
