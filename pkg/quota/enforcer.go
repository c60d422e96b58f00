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

package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/quill/pkg/observability"
)

// Enforcer charges generations against quota counters.
type Enforcer struct {
	store   Store
	logger  *slog.Logger
	metrics observability.Metrics
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Enforcer) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.Metrics) Option {
	return func(e *Enforcer) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEnforcer creates an Enforcer over store.
func NewEnforcer(store Store, opts ...Option) *Enforcer {
	e := &Enforcer{
		store:   store,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Atomic reports whether increments go through the store's transactional path.
func (e *Enforcer) Atomic() bool {
	_, ok := e.atomic()
	return ok
}

func (e *Enforcer) atomic() (AtomicIncrementer, bool) {
	ai, ok := e.store.(AtomicIncrementer)
	if !ok || !ai.SupportsAtomicIncrement() {
		return nil, false
	}
	return ai, true
}

// Increment charges one generation to s for periodStart.
//
// A rejected increment returns Allowed=false with the counter unchanged; it
// is not an error. A nil limit always allows.
func (e *Enforcer) Increment(ctx context.Context, s Subject, limit *int64, periodStart time.Time) (*Outcome, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	period := PeriodDate(periodStart)

	var (
		out *Outcome
		err error
	)
	if ai, ok := e.atomic(); ok {
		out, err = ai.IncrementAtomic(ctx, s, limit, period)
	} else {
		out, err = e.incrementFallback(ctx, s, limit, period)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment %s quota: %w", s.Kind, err)
	}

	e.metrics.RecordQuota(ctx, string(s.Kind), out.Allowed)
	if !out.Allowed {
		e.logger.Info("Quota exceeded", "kind", s.Kind, "user_id", s.UserID, "device_id", s.DeviceID, "generated", out.Generated)
	}
	return out, nil
}

// incrementFallback is not transactional; see the package documentation.
func (e *Enforcer) incrementFallback(ctx context.Context, s Subject, limit *int64, period time.Time) (*Outcome, error) {
	if _, err := e.store.EnsureCounter(ctx, s, period); err != nil {
		return nil, fmt.Errorf("ensure counter: %w", err)
	}

	c, err := e.store.ResetIfStale(ctx, s, period)
	if err != nil {
		return nil, fmt.Errorf("reset stale counter: %w", err)
	}

	if limit != nil && c.Generated >= *limit {
		return &Outcome{Allowed: false, Generated: c.Generated, PeriodStart: period}, nil
	}

	c, err = e.store.AddOne(ctx, s, period)
	if err != nil {
		return nil, fmt.Errorf("write counter: %w", err)
	}
	return &Outcome{Allowed: true, Generated: c.Generated, PeriodStart: period}, nil
}

// Rollback undoes one successful Increment for the same period.
func (e *Enforcer) Rollback(ctx context.Context, s Subject, periodStart time.Time) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := e.store.Decrement(ctx, s, PeriodDate(periodStart)); err != nil {
		return fmt.Errorf("failed to roll back %s quota: %w", s.Kind, err)
	}
	return nil
}

// Usage reports consumption for periodStart. A counter still on an older
// period counts as zero; nothing is written.
func (e *Enforcer) Usage(ctx context.Context, s Subject, limit *int64, periodStart time.Time) (*Usage, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	period := PeriodDate(periodStart)

	c, err := e.store.Get(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s quota: %w", s.Kind, err)
	}

	u := &Usage{Subject: s, PeriodStart: period, Limit: limit}
	if c != nil && c.PeriodStart.Equal(period) {
		u.Generated = c.Generated
	}
	if limit != nil {
		remaining := *limit - u.Generated
		if remaining < 0 {
			remaining = 0
		}
		u.Remaining = &remaining
	}
	return u, nil
}

// Exceeded builds the error for a rejected outcome.
func Exceeded(s Subject, limit *int64, out *Outcome) error {
	var l int64
	if limit != nil {
		l = *limit
	}
	return &ExceededError{Subject: s, Limit: l, Generated: out.Generated}
}
