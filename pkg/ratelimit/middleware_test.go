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

package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, cfg MiddlewareConfig) http.Handler {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return t0 }
	}
	return Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ResultFromContext(r.Context()) == nil {
			t.Error("result missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestMiddleware_RejectsWith429(t *testing.T) {
	h := newTestHandler(t, MiddlewareConfig{
		Limiter: NewLimiter(NewMemoryStore()),
		Rule:    Rule{MaxRequests: 2, Window: 90 * time.Second},
		Name:    "offer_pdf",
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/offers/o1/pdf", nil)
		req.Header.Set("X-User-ID", "u1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusNoContent, send().Code)

	limited := send()
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "90", limited.Header().Get("Retry-After"))
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "application/json", limited.Header().Get("Content-Type"))

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		RetryAfterMs int64 `json:"retry_after_ms"`
	}
	require.NoError(t, json.NewDecoder(limited.Body).Decode(&body))
	assert.Equal(t, "rate_limit_exceeded", body.Error.Code)
	assert.Equal(t, int64(90_000), body.RetryAfterMs)
}

func TestMiddleware_SeparateIdentifiers(t *testing.T) {
	h := newTestHandler(t, MiddlewareConfig{
		Limiter: NewLimiter(NewMemoryStore()),
		Rule:    Rule{MaxRequests: 1, Window: time.Minute},
	})

	for _, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code, addr)
	}
}

func TestMiddleware_ExcludedPathsAndEmptyIdentifier(t *testing.T) {
	h := Middleware(MiddlewareConfig{
		Limiter:        NewLimiter(NewMemoryStore()),
		Rule:           Rule{MaxRequests: 1, Window: time.Minute},
		ExcludedPaths:  []string{"/healthz"},
		IdentifierFunc: func(r *http.Request) string { return r.URL.Query().Get("id") },
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?id=a", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMiddleware_StoreFailureIsNotAllowed(t *testing.T) {
	down := errors.New("db down")
	store := &failingStore{MemoryStore: NewMemoryStore(), getErr: down, incrementErr: down}
	called := false
	h := Middleware(MiddlewareConfig{
		Limiter: NewLimiter(store),
		Rule:    Rule{MaxRequests: 10, Window: time.Minute},
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, called)
}

func TestMiddleware_NilLimiterPassesThrough(t *testing.T) {
	h := Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddleware_EmailSchemeMigrates(t *testing.T) {
	store := NewMemoryStore()
	scheme := EmailKeyScheme("login")
	require.NoError(t, store.Put(t.Context(), Record{Key: "login:dave@example.com", Count: 1, ExpiresAt: t0.Add(time.Minute)}))

	h := newTestHandler(t, MiddlewareConfig{
		Limiter:        NewLimiter(store),
		Rule:           Rule{MaxRequests: 2, Window: time.Minute},
		Scheme:         &scheme,
		IdentifierFunc: func(r *http.Request) string { return r.FormValue("email") },
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login?email=Dave@Example.com", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	migrated, err := store.Get(t.Context(), "login:"+NormalizedEmailSHA256("dave@example.com"))
	require.NoError(t, err)
	require.NotNil(t, migrated)
	assert.Equal(t, int64(2), migrated.Count)
}
