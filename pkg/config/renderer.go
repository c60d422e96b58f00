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
	"time"

	"github.com/kadirpekel/quill/pkg/httpclient"
)

// Renderer types.
const (
	RendererHTTP = "http"
	RendererText = "text"
)

// RendererConfig configures HTML to PDF rendering.
//
// The http renderer posts HTML to a headless browser service. The text
// renderer lays out the visible text locally and is meant for development.
type RendererConfig struct {
	// Type is http or text. Default: text
	Type string `yaml:"type,omitempty" jsonschema:"title=Type,enum=http,enum=text,default=text"`

	// Endpoint of the render service.
	Endpoint string `yaml:"endpoint,omitempty" jsonschema:"title=Endpoint"`

	// Timeout bounds navigation and render on the service. Default: 60s
	Timeout time.Duration `yaml:"timeout,omitempty" jsonschema:"title=Timeout,default=60s"`

	// PaperFormat such as A4 or Letter. Default: A4
	PaperFormat string `yaml:"paper_format,omitempty" jsonschema:"title=Paper Format,default=A4"`

	// ValidateOutput parses the returned document before it is stored.
	// Default: true
	ValidateOutput *bool `yaml:"validate,omitempty" jsonschema:"title=Validate Output,default=true"`

	// TLS for the render service connection.
	TLS *httpclient.TLSConfig `yaml:"tls,omitempty" jsonschema:"title=TLS"`
}

// ShouldValidate returns whether output validation is on.
func (c *RendererConfig) ShouldValidate() bool {
	return c.ValidateOutput == nil || *c.ValidateOutput
}

// SetDefaults applies default values.
func (c *RendererConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = RendererText
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.PaperFormat == "" {
		c.PaperFormat = "A4"
	}
	if c.ValidateOutput == nil {
		validate := true
		c.ValidateOutput = &validate
	}
}

// Validate checks the renderer configuration.
func (c *RendererConfig) Validate() error {
	switch c.Type {
	case RendererText:
	case RendererHTTP:
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required when type is http")
		}
	default:
		return fmt.Errorf("invalid type %q (valid: http, text)", c.Type)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	return nil
}
