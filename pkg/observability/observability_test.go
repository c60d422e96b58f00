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
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusMetrics_Exposition(t *testing.T) {
	ctx := context.Background()
	m, err := NewPrometheusMetrics("quill")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	m.RecordRateLimit(ctx, "offers.pdf", false)
	m.RecordQuota(ctx, "user", true)
	m.RecordJob(ctx, "completed", 150*time.Millisecond)
	m.RecordCompensation(ctx, "delete_object", errors.New("gone"))
	m.RecordWebhook(ctx, nil)
	m.RecordHTTPRequest(ctx, http.MethodPost, "/v1/offers/{offerID}/pdf", 202, time.Millisecond)

	body := scrape(t, m.Handler())
	for _, name := range []string{
		"quill_ratelimit_decisions_total",
		"quill_quota_increments_total",
		"quill_jobs_total",
		"quill_job_process_duration_seconds",
		"quill_compensation_actions_total",
		"quill_webhook_deliveries_total",
		"quill_http_requests_total",
	} {
		assert.Contains(t, body, name)
	}
	assert.Contains(t, body, `route="offers.pdf"`)
	assert.Contains(t, body, `outcome="error"`)
}

func TestPrometheusMetrics_NilSafe(t *testing.T) {
	var m *PrometheusMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordRateLimit(ctx, "r", true)
		m.RecordQuota(ctx, "device", false)
		m.RecordJob(ctx, "failed", time.Second)
		m.RecordCompensation(ctx, "rollback_user_quota", nil)
		m.RecordWebhook(ctx, nil)
		m.RecordHTTPRequest(ctx, "GET", "/", 200, 0)
		require.NoError(t, m.Shutdown(ctx))
	})
}

func TestNewMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, NoopMetrics{}, m)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGlobalMetrics(t *testing.T) {
	t.Cleanup(func() { SetGlobalMetrics(nil) })

	assert.IsType(t, NoopMetrics{}, GetGlobalMetrics())

	m, err := NewPrometheusMetrics("")
	require.NoError(t, err)
	SetGlobalMetrics(m)
	assert.Same(t, m, GetGlobalMetrics())

	SetGlobalMetrics(nil)
	assert.IsType(t, NoopMetrics{}, GetGlobalMetrics())
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	assert.Equal(t, DefaultServiceName, cfg.Tracing.ServiceName)
	assert.Equal(t, ExporterOTLP, cfg.Tracing.Exporter)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Endpoint)
	assert.Equal(t, 1.0, cfg.Tracing.Sampling())
	assert.True(t, cfg.Tracing.IsInsecure())
	require.NoError(t, cfg.Validate())

	cfg.Tracing.Enabled = true
	rate := 2.0
	cfg.Tracing.SamplingRate = &rate
	assert.ErrorContains(t, cfg.Validate(), "sampling_rate")

	rate = 0
	require.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.Tracing.Sampling(), "zero is kept, not defaulted")

	cfg.Tracing.Endpoint = "http://collector:4317"
	assert.ErrorContains(t, cfg.Validate(), "without a scheme")

	cfg.Tracing.Endpoint = DefaultOTLPEndpoint
	cfg.Tracing.Exporter = "zipkin"
	assert.Error(t, cfg.Validate())
}

func TestMetricsConfig_Endpoint(t *testing.T) {
	for _, tt := range []struct {
		endpoint, namespace, wantErr string
	}{
		{"/metrics", "quill", ""},
		{"/internal/metrics", "quill_prod", ""},
		{"metrics", "quill", "absolute path"},
		{"/v1/metrics", "quill", "collides with the /v1 routes"},
		{"/healthz", "quill", "collides with the /healthz routes"},
		{"/files", "quill", "collides with the /files routes"},
		{"/metrics", "quill-prod", "namespace"},
	} {
		c := MetricsConfig{Enabled: true, Endpoint: tt.endpoint, Namespace: tt.namespace}
		err := c.Validate()
		if tt.wantErr == "" {
			assert.NoError(t, err, tt.endpoint)
			continue
		}
		assert.ErrorContains(t, err, tt.wantErr, tt.endpoint)
	}

	assert.NoError(t, (&MetricsConfig{Endpoint: "/v1/x"}).Validate(), "disabled metrics are not checked")
}

func TestManager_StdoutTracer(t *testing.T) {
	var out bytes.Buffer
	cfg := Config{
		Tracing: TracingConfig{Enabled: true, Exporter: ExporterStdout},
		Metrics: MetricsConfig{Enabled: true},
	}
	cfg.SetDefaults()

	mgr := NewManager(cfg).WithTraceOutput(&out)
	require.NoError(t, mgr.Initialize(context.Background()))

	_, span := mgr.GetTracer("test").Start(context.Background(), SpanJobProcess)
	span.End()

	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.Contains(t, out.String(), SpanJobProcess)
	assert.IsType(t, NoopMetrics{}, GetGlobalMetrics())
}

func TestManager_BeforeInitialize(t *testing.T) {
	mgr := NewManager(Config{})
	assert.IsType(t, NoopMetrics{}, mgr.GetMetrics())

	_, span := mgr.GetTracer("test").Start(context.Background(), "s")
	span.End()
	assert.NoError(t, mgr.Shutdown(context.Background()))
}

func TestHTTPMiddleware_UsesRoutePattern(t *testing.T) {
	m, err := NewPrometheusMetrics("quill")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware(nil, m))
	r.Get("/v1/jobs/{jobID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := scrape(t, m.Handler())
	assert.Contains(t, body, `route="/v1/jobs/{jobID}"`)
	assert.NotContains(t, body, "/v1/jobs/abc")
}
