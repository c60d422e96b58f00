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

package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records the business events of the service.
type Metrics interface {
	RecordRateLimit(ctx context.Context, route string, allowed bool)
	RecordQuota(ctx context.Context, kind string, allowed bool)
	RecordJob(ctx context.Context, status string, duration time.Duration)
	RecordCompensation(ctx context.Context, action string, err error)
	RecordWebhook(ctx context.Context, err error)
	RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration)
	Handler() http.Handler
}

var (
	globalMetrics Metrics = NoopMetrics{}
	metricsMu     sync.RWMutex
)

// SetGlobalMetrics installs m as the process-wide recorder. nil restores the noop.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m == nil {
		m = NoopMetrics{}
	}
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

// PrometheusMetrics is backed by the OpenTelemetry SDK and exposed through
// a dedicated Prometheus registry.
type PrometheusMetrics struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	rateLimitDecisions metric.Int64Counter
	quotaDecisions     metric.Int64Counter
	jobOutcomes        metric.Int64Counter
	jobDuration        metric.Float64Histogram
	compensations      metric.Int64Counter
	webhookDeliveries  metric.Int64Counter
	httpRequests       metric.Int64Counter
	httpDuration       metric.Float64Histogram
}

var _ Metrics = (*PrometheusMetrics)(nil)

// NewMetrics returns NoopMetrics when metrics are disabled.
func NewMetrics(cfg MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}
	return NewPrometheusMetrics(cfg.Namespace)
}

// NewPrometheusMetrics creates all instruments under the given namespace.
func NewPrometheusMetrics(namespace string) (*PrometheusMetrics, error) {
	registry := promclient.NewRegistry()

	opts := []prometheus.Option{prometheus.WithRegisterer(registry)}
	if namespace != "" {
		opts = append(opts, prometheus.WithNamespace(namespace))
	}
	exporter, err := prometheus.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(InstrumentationName)

	m := &PrometheusMetrics{registry: registry, provider: provider}

	if m.rateLimitDecisions, err = meter.Int64Counter(
		"ratelimit_decisions",
		metric.WithDescription("Rate limit decisions by route and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}

	if m.quotaDecisions, err = meter.Int64Counter(
		"quota_increments",
		metric.WithDescription("Quota increment attempts by counter kind and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create quota counter: %w", err)
	}

	if m.jobOutcomes, err = meter.Int64Counter(
		"jobs",
		metric.WithDescription("Jobs reaching a terminal status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create job counter: %w", err)
	}

	if m.jobDuration, err = meter.Float64Histogram(
		"job_process_duration_seconds",
		metric.WithDescription("Job processing duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create job duration histogram: %w", err)
	}

	if m.compensations, err = meter.Int64Counter(
		"compensation_actions",
		metric.WithDescription("Compensating actions by action and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create compensation counter: %w", err)
	}

	if m.webhookDeliveries, err = meter.Int64Counter(
		"webhook_deliveries",
		metric.WithDescription("Webhook deliveries by outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create webhook counter: %w", err)
	}

	if m.httpRequests, err = meter.Int64Counter(
		"http_requests",
		metric.WithDescription("HTTP requests by method, route and status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http counter: %w", err)
	}

	if m.httpDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return m, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *PrometheusMetrics) RecordRateLimit(ctx context.Context, route string, allowed bool) {
	if m == nil || m.rateLimitDecisions == nil {
		return
	}
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRoute, route),
		attribute.Bool(AttrAllowed, allowed),
	))
}

func (m *PrometheusMetrics) RecordQuota(ctx context.Context, kind string, allowed bool) {
	if m == nil || m.quotaDecisions == nil {
		return
	}
	m.quotaDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrKind, kind),
		attribute.Bool(AttrAllowed, allowed),
	))
}

func (m *PrometheusMetrics) RecordJob(ctx context.Context, status string, duration time.Duration) {
	if m == nil || m.jobOutcomes == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrStatus, status))
	m.jobOutcomes.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *PrometheusMetrics) RecordCompensation(ctx context.Context, action string, err error) {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAction, action),
		attribute.String(AttrOutcome, outcome(err)),
	))
}

func (m *PrometheusMetrics) RecordWebhook(ctx context.Context, err error) {
	if m == nil || m.webhookDeliveries == nil {
		return
	}
	m.webhookDeliveries.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, outcome(err))))
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrMethod, method),
		attribute.String(AttrRoute, route),
		attribute.Int(AttrStatusCode, statusCode),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *PrometheusMetrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
