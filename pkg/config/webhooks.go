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
	"strings"
)

// WebhooksConfig configures completion callbacks.
//
// Callbacks go only to listed hosts. With no hosts configured every
// callback URL is rejected and jobs complete without notification.
//
// Example:
//
//	webhooks:
//	  hosts: ["hooks.example.com", "*.partner.example"]
//	  signing_secret: ${QUILL_WEBHOOK_SECRET}
type WebhooksConfig struct {
	// Schemes allowed. Default: [https]
	Schemes []string `yaml:"schemes,omitempty" jsonschema:"title=Schemes"`

	// Hosts allowed, exact or "*.example.com" for any subdomain.
	Hosts []string `yaml:"hosts,omitempty" jsonschema:"title=Hosts"`

	// AllowPrivateNetworks permits loopback and private targets.
	AllowPrivateNetworks bool `yaml:"allow_private_networks,omitempty" jsonschema:"title=Allow Private Networks"`

	// SigningSecret signs each delivery in the X-Quill-Signature header.
	SigningSecret string `yaml:"signing_secret,omitempty" jsonschema:"title=Signing Secret"`

	// RatePerSecond caps outbound deliveries. Zero disables the cap.
	// Default: 10
	RatePerSecond float64 `yaml:"rate_per_second,omitempty" jsonschema:"title=Rate Per Second,default=10"`

	// Burst is the number of deliveries allowed above the rate. Default: 20
	Burst int `yaml:"burst,omitempty" jsonschema:"title=Burst,default=20"`
}

// SetDefaults applies default values.
func (c *WebhooksConfig) SetDefaults() {
	if len(c.Schemes) == 0 {
		c.Schemes = []string{"https"}
	}
	if c.RatePerSecond == 0 {
		c.RatePerSecond = 10
	}
	if c.Burst == 0 {
		c.Burst = 20
	}
}

// Validate checks the webhooks configuration.
func (c *WebhooksConfig) Validate() error {
	for _, s := range c.Schemes {
		if s != "https" && s != "http" {
			return fmt.Errorf("invalid scheme %q (valid: http, https)", s)
		}
	}
	for _, h := range c.Hosts {
		if h == "" || strings.ContainsAny(h, "/:@") {
			return fmt.Errorf("invalid host %q", h)
		}
	}
	if c.RatePerSecond < 0 || c.Burst < 0 {
		return fmt.Errorf("rate_per_second and burst must be non-negative")
	}
	return nil
}
