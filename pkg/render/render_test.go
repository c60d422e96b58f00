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

package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kadirpekel/quill/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	pages, err := Validate(BuildTextPDF([]string{"hello"}))
	require.NoError(t, err)
	assert.Equal(t, 1, pages)

	_, err = Validate([]byte("<html>not a pdf</html>"))
	assert.ErrorIs(t, err, ErrInvalidPDF)

	_, err = Validate([]byte("%PDF-1.4\ngarbage"))
	assert.ErrorIs(t, err, ErrInvalidPDF)
}

func TestBuildTextPDF_Paginates(t *testing.T) {
	lines := make([]string, linesPerPage*2+1)
	for i := range lines {
		lines[i] = "line (with parens) \\ and backslash"
	}
	pages, err := Validate(BuildTextPDF(lines))
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
}

func TestTextRenderer(t *testing.T) {
	doc := `<html><head><style>h1{color:red}</style><script>alert(1)</script></head>
<body><h1>Offer &amp; terms</h1><p>Total: 1200 EUR</p></body></html>`

	text := visibleText(doc)
	assert.Contains(t, text, "Offer & terms")
	assert.Contains(t, text, "Total: 1200 EUR")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color:red")

	out, err := NewTextRenderer().Render(context.Background(), doc)
	require.NoError(t, err)
	_, err = Validate(out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewTextRenderer().Render(ctx, doc)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWrap(t *testing.T) {
	lines := wrap("one two three four\n\nfive", 9)
	assert.Equal(t, []string{"one two", "three", "four", "five"}, lines)
	assert.Equal(t, []string{""}, wrap("   ", 10))
}

func TestHTTPRenderer_Render(t *testing.T) {
	pdf := BuildTextPDF([]string{"rendered"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/pdf", r.Header.Get("Accept"))

		var req renderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "<p>hi</p>", req.HTML)
		assert.Equal(t, "A4", req.Format)
		assert.Equal(t, int64(5000), req.RenderTimeoutMs)

		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdf)
	}))
	defer srv.Close()

	r, err := NewHTTPRenderer(srv.URL, WithTimeout(5*time.Second))
	require.NoError(t, err)

	out, err := r.Render(context.Background(), "<p>hi</p>")
	require.NoError(t, err)
	assert.Equal(t, pdf, out)
}

func TestHTTPRenderer_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/bad") {
			http.Error(w, "chromium crashed", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	client := httpclient.New(httpclient.WithMaxRetries(0))

	r, err := NewHTTPRenderer(srv.URL+"/bad", WithClient(client))
	require.NoError(t, err)
	_, err = r.Render(context.Background(), "<p/>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chromium crashed")

	r, err = NewHTTPRenderer(srv.URL+"/html", WithClient(client))
	require.NoError(t, err)
	_, err = r.Render(context.Background(), "<p/>")
	assert.ErrorIs(t, err, ErrInvalidPDF)

	r, err = NewHTTPRenderer(srv.URL+"/html", WithClient(client), WithValidation(false))
	require.NoError(t, err)
	_, err = r.Render(context.Background(), "<p/>")
	assert.NoError(t, err)

	_, err = NewHTTPRenderer("")
	assert.Error(t, err)
}

func TestHTTPRenderer_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r, err := NewHTTPRenderer(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = r.Render(context.Background(), "<p/>")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
