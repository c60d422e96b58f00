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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/quill/pkg/auth"
	"github.com/kadirpekel/quill/pkg/config"
	"github.com/kadirpekel/quill/pkg/job"
	"github.com/kadirpekel/quill/pkg/offer"
	"github.com/kadirpekel/quill/pkg/pipeline"
	"github.com/kadirpekel/quill/pkg/quota"
	"github.com/kadirpekel/quill/pkg/ratelimit"
	"github.com/kadirpekel/quill/pkg/render"
	"github.com/kadirpekel/quill/pkg/storage"
)

var t0 = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	srv      *Server
	pipeline *pipeline.Pipeline
	storage  storage.ObjectStorage
	enforcer *quota.Enforcer
	cfg      *config.Config
}

func newFixture(t *testing.T, mutate func(*config.Config), opts ...Option) *fixture {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	store := storage.NewMemoryStorage("https://cdn.example.com/pdf")
	enforcer := quota.NewEnforcer(quota.NewMemoryStore())
	p, err := pipeline.New(job.NewMemoryStore(), render.NewTextRenderer(), store, enforcer, offer.NewMemoryStore())
	require.NoError(t, err)
	pipeline.UseInlineDispatcher(p)
	t.Cleanup(p.Wait)

	base := []Option{
		WithStorage(store),
		WithEnforcer(enforcer),
		WithLimiter(ratelimit.NewLimiter(ratelimit.NewMemoryStore())),
		WithClock(func() time.Time { return t0 }),
	}
	srv, err := New(cfg, p, append(base, opts...)...)
	require.NoError(t, err)

	return &fixture{srv: srv, pipeline: p, storage: store, enforcer: enforcer, cfg: cfg}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func asUser(id string) map[string]string {
	return map[string]string{HeaderUserID: id}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorBody](t, rec).Error.Code
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
	_, err = New(config.Default(), nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateOfferPDF_CompletesAndDownloads(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/offers/o1/pdf",
		OfferPDFRequest{HTML: "<h1>Offer</h1><p>Hello</p>", TemplateID: "t1"}, asUser("u1"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	created := decode[JobResponse](t, rec)
	assert.NotEmpty(t, created.JobID)
	assert.Equal(t, created.JobID, created.DownloadToken)
	assert.Equal(t, "o1", created.OfferID)
	assert.Equal(t, job.StatusQueued, created.Status)

	f.pipeline.Wait()

	rec = f.do(t, http.MethodGet, "/v1/jobs/"+created.JobID, nil, asUser("u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[JobResponse](t, rec)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, "https://cdn.example.com/pdf/"+pipeline.DefaultStoragePath("o1", created.JobID), got.PDFURL)
	assert.NotNil(t, got.CompletedAt)

	rec = f.do(t, http.MethodGet, "/v1/jobs/"+created.JobID+"/pdf", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "o1.pdf")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
}

func TestCreateOfferPDF_BadRequests(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Server.MaxBodyBytes = 64 })

	tests := []struct {
		name    string
		body    any
		headers map[string]string
		status  int
		code    string
	}{
		{"missing user", OfferPDFRequest{HTML: "<p>x</p>"}, nil, http.StatusBadRequest, CodeBadRequest},
		{"empty html", OfferPDFRequest{HTML: "  "}, asUser("u1"), http.StatusBadRequest, CodeBadRequest},
		{"invalid json", "{", asUser("u1"), http.StatusBadRequest, CodeBadRequest},
		{"too large", OfferPDFRequest{HTML: strings.Repeat("x", 200)}, asUser("u1"), http.StatusRequestEntityTooLarge, CodeTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/offers/o1/pdf", tt.body, tt.headers)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestCreateOfferPDF_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimiting.Rules[config.RouteOfferPDF].MaxRequests = 2
	})

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/v1/offers/o1/pdf", OfferPDFRequest{HTML: "<p>x</p>"}, asUser("u1"))
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := f.do(t, http.MethodPost, "/v1/offers/o1/pdf", OfferPDFRequest{HTML: "<p>x</p>"}, asUser("u1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another user has a separate window.
	rec = f.do(t, http.MethodPost, "/v1/offers/o1/pdf", OfferPDFRequest{HTML: "<p>x</p>"}, asUser("u2"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCreateOfferPDF_EmailKeyScheme(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		rule := c.RateLimiting.Rules[config.RouteOfferPDF]
		rule.MaxRequests = 1
		rule.KeyScheme = "email"
	})

	headers := map[string]string{HeaderUserID: "u1", HeaderUserEmail: "Ann@Example.com"}
	rec := f.do(t, http.MethodPost, "/v1/offers/o1/pdf", OfferPDFRequest{HTML: "<p>x</p>"}, headers)
	require.Equal(t, http.StatusAccepted, rec.Code)

	headers[HeaderUserEmail] = " ann@example.com "
	rec = f.do(t, http.MethodPost, "/v1/offers/o1/pdf", OfferPDFRequest{HTML: "<p>x</p>"}, headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "normalized addresses share a window")
}

func TestCreateOfferPDF_RateLimitingDisabled(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		disabled := false
		c.RateLimiting.Enabled = &disabled
		c.RateLimiting.Rules[config.RouteOfferPDF].MaxRequests = 1
	})

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/v1/offers/o1/pdf", OfferPDFRequest{HTML: "<p>x</p>"}, asUser("u1"))
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestCreateOfferPDF_DeviceQuota(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Quota.UserLimit = quota.Limit(10)
		c.Quota.DeviceLimit = quota.Limit(1)
	})

	submit := func(deviceID string) JobResponse {
		rec := f.do(t, http.MethodPost, "/v1/offers/o1/pdf",
			OfferPDFRequest{HTML: "<p>x</p>", DeviceID: deviceID}, asUser("u1"))
		require.Equal(t, http.StatusAccepted, rec.Code)
		f.pipeline.Wait()
		rec = f.do(t, http.MethodGet, "/v1/jobs/"+decode[JobResponse](t, rec).JobID, nil, nil)
		return decode[JobResponse](t, rec)
	}

	assert.Equal(t, job.StatusCompleted, submit("d1").Status)

	second := submit("d1")
	assert.Equal(t, job.StatusFailed, second.Status)
	assert.Contains(t, second.ErrorMessage, "device quota exceeded")

	// Without a device id only the user quota applies.
	assert.Equal(t, job.StatusCompleted, submit("").Status)

	rec := f.do(t, http.MethodGet, "/v1/usage?deviceId=d1", nil, asUser("u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode[UsageResponse](t, rec)
	assert.Equal(t, "2025-03-01", usage.PeriodStart)
	assert.Equal(t, int64(2), usage.User.Generated)
	assert.Equal(t, int64(8), *usage.User.Remaining)
	require.NotNil(t, usage.Device)
	assert.Equal(t, int64(1), usage.Device.Generated)
	assert.Equal(t, int64(0), *usage.Device.Remaining)
}

func TestUsage_RequiresUser(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/v1/usage", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/usage", nil, asUser("u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode[UsageResponse](t, rec)
	assert.Equal(t, int64(0), usage.User.Generated)
	assert.Nil(t, usage.User.Remaining, "unmetered")
	assert.Nil(t, usage.Device)
}

func TestGetJob_NotFoundAndOwnership(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/jobs/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, errorCode(t, rec))

	j, err := f.pipeline.Enqueue(context.Background(), pipeline.Input{OfferID: "o1", UserID: "u1", HTML: "<p>x</p>"})
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/v1/jobs/"+j.ID, nil, asUser("u2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/jobs/"+j.ID, nil, asUser("u1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/jobs/"+j.ID+"/pdf", nil, asUser("u1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeNotReady, errorCode(t, rec))
}

func TestProcessJob(t *testing.T) {
	signer, err := auth.NewSigner("worker-secret")
	require.NoError(t, err)
	f := newFixture(t, nil, WithWorkerSigner(signer))

	j, err := f.pipeline.Enqueue(context.Background(), pipeline.Input{OfferID: "o1", UserID: "u1", HTML: "<p>x</p>"})
	require.NoError(t, err)
	path := pipeline.WorkerPath(j.ID)

	bearer := func(subject string) map[string]string {
		token, err := signer.Sign(subject, auth.AudienceWorker, nil)
		require.NoError(t, err)
		return map[string]string{"Authorization": "Bearer " + token}
	}

	rec := f.do(t, http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, path, nil, bearer("other-job"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, pipeline.WorkerPath("missing"), nil, bearer("missing"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, path, nil, bearer(j.ID))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	f.pipeline.Wait()

	got, err := f.pipeline.Jobs().Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)

	rec = f.do(t, http.MethodPost, path, nil, bearer(j.ID))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProcessJob_NotMountedWithoutSigner(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, pipeline.WorkerPath("j1"), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReload_AppliesNewRule(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimiting.Rules[config.RouteOfferPDF].MaxRequests = 1
	})

	rec := f.do(t, http.MethodPost, "/v1/offers/o1/pdf", OfferPDFRequest{HTML: "<p>x</p>"}, asUser("u1"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/offers/o1/pdf", OfferPDFRequest{HTML: "<p>x</p>"}, asUser("u1"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	next := config.Default()
	next.RateLimiting.Rules[config.RouteOfferPDF].MaxRequests = 5
	require.NoError(t, f.srv.Reload(next))

	rec = f.do(t, http.MethodPost, "/v1/offers/o1/pdf", OfferPDFRequest{HTML: "<p>x</p>"}, asUser("u1"))
	assert.Equal(t, http.StatusAccepted, rec.Code, "the stored window is reused under the larger limit")
}

func TestFilesServedFromFileStorage(t *testing.T) {
	dir := t.TempDir()
	fs, err := storage.NewFileStorage(dir, "http://localhost:8080/files")
	require.NoError(t, err)
	require.NoError(t, fs.Put(context.Background(), "offers/o1/j1.pdf", []byte("%PDF-1.4"), "application/pdf"))

	f := newFixture(t, func(c *config.Config) {
		c.Storage.Type = config.StorageFile
		c.Storage.Directory = dir
	}, WithStorage(fs))

	u, err := url.Parse(fs.PublicURL("offers/o1/j1.pdf"))
	require.NoError(t, err)
	rec := f.do(t, http.MethodGet, u.Path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/files/offers/o1/", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no directory listings")
}

func TestFilesPrefix(t *testing.T) {
	assert.Equal(t, "/files", filesPrefix("http://localhost:8080/files"))
	assert.Equal(t, "/static/pdf", filesPrefix("https://cdn.example.com/static/pdf/"))
	assert.Equal(t, "/files", filesPrefix("https://cdn.example.com"))
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, errorCode(t, rec))
}
