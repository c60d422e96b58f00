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
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kadirpekel/quill/pkg/auth"
	"github.com/kadirpekel/quill/pkg/httpclient"
)

// InlineDispatcher processes jobs on a background goroutine of this process.
// Processing does not inherit the caller's cancellation.
type InlineDispatcher struct {
	p *Pipeline
}

// NewInlineDispatcher creates a dispatcher bound to p.
func NewInlineDispatcher(p *Pipeline) *InlineDispatcher {
	return &InlineDispatcher{p: p}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, jobID string) error {
	ctx = context.WithoutCancel(ctx)

	d.p.wg.Add(1)
	go func() {
		defer d.p.wg.Done()
		// Process logs and records its own failures.
		_ = d.p.ProcessByID(ctx, jobID)
	}()
	return nil
}

// UseInlineDispatcher installs an InlineDispatcher on p and returns it.
func UseInlineDispatcher(p *Pipeline) *InlineDispatcher {
	d := NewInlineDispatcher(p)
	p.dispatcher = d
	return d
}

// WorkerPath is the worker endpoint for jobID, relative to the worker URL.
func WorkerPath(jobID string) string {
	return "/internal/jobs/" + url.PathEscape(jobID) + "/process"
}

// HTTPDispatcher asks a worker service to process the job. The request
// carries a worker-audience token for the job id.
type HTTPDispatcher struct {
	baseURL string
	client  *httpclient.Client
	signer  *auth.Signer
}

// NewHTTPDispatcher creates a dispatcher posting to workerURL.
func NewHTTPDispatcher(workerURL string, signer *auth.Signer, client *httpclient.Client) (*HTTPDispatcher, error) {
	if workerURL == "" {
		return nil, fmt.Errorf("worker URL is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("worker signer is required")
	}
	if client == nil {
		client = httpclient.New()
	}
	return &HTTPDispatcher{baseURL: strings.TrimSuffix(workerURL, "/"), client: client, signer: signer}, nil
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, jobID string) error {
	token, err := d.signer.Sign(jobID, auth.AudienceWorker, nil)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+WorkerPath(jobID), nil)
	if err != nil {
		return fmt.Errorf("failed to build dispatch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			if httpclient.StatusCode(err) == http.StatusUnauthorized {
				return fmt.Errorf("worker rejected the job token, check pipeline.worker_secret: %w: %s", err, strings.TrimSpace(string(msg)))
			}
			return fmt.Errorf("worker rejected job: %w: %s", err, strings.TrimSpace(string(msg)))
		}
		return fmt.Errorf("worker unreachable: %w", err)
	}
	return nil
}

var (
	_ Dispatcher = (*InlineDispatcher)(nil)
	_ Dispatcher = (*HTTPDispatcher)(nil)
)
