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

package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/quill/pkg/observability"
)

// Compensation action names.
const (
	ActionDeleteObject        = "delete_object"
	ActionRollbackUserQuota   = "rollback_user_quota"
	ActionRollbackDeviceQuota = "rollback_device_quota"
)

// Action is one rollback step.
type Action struct {
	Name string
	Run  func(ctx context.Context) error
}

// Compensator runs rollback actions independently: every action is attempted
// whatever happened to the ones before it.
type Compensator struct {
	logger  *slog.Logger
	metrics observability.Metrics
	tracer  trace.Tracer
}

// NewCompensator creates a Compensator. Nil arguments fall back to defaults.
func NewCompensator(logger *slog.Logger, metrics observability.Metrics, tracer trace.Tracer) *Compensator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if tracer == nil {
		tracer = observability.Tracer()
	}
	return &Compensator{logger: logger, metrics: metrics, tracer: tracer}
}

// Run executes actions in order and returns the failures, or nil.
func (c *Compensator) Run(ctx context.Context, actions []Action) *CompensationError {
	if len(actions) == 0 {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, observability.SpanCompensation)
	defer span.End()

	var failed []CompensationFailure
	for _, a := range actions {
		err := c.runOne(ctx, a)
		c.metrics.RecordCompensation(ctx, a.Name, err)
		if err != nil {
			c.logger.Error("Compensation action failed", "action", a.Name, "error", err)
			span.AddEvent("compensation failed", trace.WithAttributes(
				attribute.String(observability.AttrAction, a.Name),
			))
			failed = append(failed, CompensationFailure{Action: a.Name, Err: err})
		}
	}

	if len(failed) == 0 {
		return nil
	}
	cerr := &CompensationError{Failures: failed}
	span.SetStatus(codes.Error, cerr.Error())
	return cerr
}

func (c *Compensator) runOne(ctx context.Context, a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Run(ctx)
}
