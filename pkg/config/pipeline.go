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

package config

import (
	"fmt"
	"net/url"
	"time"
)

// Dispatch modes.
const (
	DispatchInline = "inline"
	DispatchHTTP   = "http"
)

// PipelineConfig configures job processing.
//
// Example:
//
//	pipeline:
//	  dispatch: http
//	  worker_url: https://worker.internal:8080
//	  worker_secret: ${QUILL_WORKER_SECRET}
type PipelineConfig struct {
	// RenderTimeout bounds one render call. Default: 60s
	RenderTimeout time.Duration `yaml:"render_timeout,omitempty" jsonschema:"title=Render Timeout,default=60s"`

	// StorageTimeout bounds one object upload or delete. Default: 30s
	StorageTimeout time.Duration `yaml:"storage_timeout,omitempty" jsonschema:"title=Storage Timeout,default=30s"`

	// WebhookTimeout bounds one callback delivery. Default: 30s
	WebhookTimeout time.Duration `yaml:"webhook_timeout,omitempty" jsonschema:"title=Webhook Timeout,default=30s"`

	// Dispatch is inline (process in this server) or http (POST to a
	// worker). Default: inline
	Dispatch string `yaml:"dispatch,omitempty" jsonschema:"title=Dispatch Mode,enum=inline,enum=http,default=inline"`

	// WorkerURL is the base URL of the worker for http dispatch.
	WorkerURL string `yaml:"worker_url,omitempty" jsonschema:"title=Worker URL"`

	// WorkerSecret signs worker tokens. The worker endpoint is only
	// mounted when it is set.
	WorkerSecret string `yaml:"worker_secret,omitempty" jsonschema:"title=Worker Secret"`

	// WorkerTokenTTL is the lifetime of one worker token. Default: 5m
	WorkerTokenTTL time.Duration `yaml:"worker_token_ttl,omitempty" jsonschema:"title=Worker Token TTL,default=5m"`
}

// SetDefaults applies default values.
func (c *PipelineConfig) SetDefaults() {
	if c.RenderTimeout == 0 {
		c.RenderTimeout = 60 * time.Second
	}
	if c.StorageTimeout == 0 {
		c.StorageTimeout = 30 * time.Second
	}
	if c.WebhookTimeout == 0 {
		c.WebhookTimeout = 30 * time.Second
	}
	if c.Dispatch == "" {
		c.Dispatch = DispatchInline
	}
	if c.WorkerTokenTTL == 0 {
		c.WorkerTokenTTL = 5 * time.Minute
	}
}

// Validate checks the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	if c.RenderTimeout < 0 || c.StorageTimeout < 0 || c.WebhookTimeout < 0 || c.WorkerTokenTTL < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}
	switch c.Dispatch {
	case DispatchInline:
	case DispatchHTTP:
		if c.WorkerURL == "" {
			return fmt.Errorf("worker_url is required when dispatch is http")
		}
		if u, err := url.Parse(c.WorkerURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid worker_url %q", c.WorkerURL)
		}
		if c.WorkerSecret == "" {
			return fmt.Errorf("worker_secret is required when dispatch is http")
		}
	default:
		return fmt.Errorf("invalid dispatch %q (valid: inline, http)", c.Dispatch)
	}
	return nil
}
