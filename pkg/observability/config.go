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
	"fmt"
	"strings"
	"time"
)

// reservedPrefixes are served by quill itself; the metrics path must not
// shadow them.
var reservedPrefixes = []string{"/v1/", "/healthz", "/files/"}

// Config is the observability section.
//
//	observability:
//	  tracing:
//	    enabled: true
//	    endpoint: otel-collector:4317
//	    sampling_rate: 0.1
//	    headers:
//	      x-honeycomb-team: ${HONEYCOMB_KEY}
//	  metrics:
//	    enabled: true
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty" jsonschema:"title=Tracing"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" jsonschema:"title=Metrics"`
}

// TracingConfig configures spans for offer requests, job steps and
// compensation.
type TracingConfig struct {
	Enabled bool `yaml:"enabled,omitempty" jsonschema:"title=Enabled,default=false"`

	// Exporter is otlp (gRPC) or stdout. Default: otlp
	Exporter string `yaml:"exporter,omitempty" jsonschema:"title=Exporter,enum=otlp,enum=stdout,default=otlp"`

	// Endpoint is the OTLP collector address. Default: localhost:4317
	Endpoint string `yaml:"endpoint,omitempty" jsonschema:"title=Endpoint,default=localhost:4317"`

	// Headers are sent with every OTLP export, typically an API key for a
	// hosted collector.
	Headers map[string]string `yaml:"headers,omitempty" jsonschema:"title=Headers"`

	// SamplingRate is the fraction of new traces kept. Zero keeps none and
	// only continues sampled parents. Default: 1
	SamplingRate *float64 `yaml:"sampling_rate,omitempty" jsonschema:"title=Sampling Rate,minimum=0,maximum=1,default=1"`

	ServiceName    string `yaml:"service_name,omitempty" jsonschema:"title=Service Name,default=quill"`
	ServiceVersion string `yaml:"service_version,omitempty" jsonschema:"title=Service Version"`

	// Insecure disables TLS to the collector. Default: true
	Insecure *bool `yaml:"insecure,omitempty" jsonschema:"title=Insecure,default=true"`

	// Timeout bounds each export batch. Default: 10s
	Timeout time.Duration `yaml:"timeout,omitempty" jsonschema:"title=Timeout,default=10s"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty" jsonschema:"title=Enabled,default=false"`

	// Endpoint is the path metrics are served on. Default: /metrics
	Endpoint string `yaml:"endpoint,omitempty" jsonschema:"title=Endpoint,default=/metrics"`

	// Namespace prefixes every metric name. Default: quill
	Namespace string `yaml:"namespace,omitempty" jsonschema:"title=Namespace,default=quill"`
}

func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == nil {
		rate := DefaultSamplingRate
		c.SamplingRate = &rate
	}
	if c.Exporter == "" {
		c.Exporter = ExporterOTLP
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultOTLPEndpoint
	}
	if c.Insecure == nil {
		insecure := true
		c.Insecure = &insecure
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate only checks an enabled tracer.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if rate := c.Sampling(); rate < 0 || rate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %g", rate)
	}
	switch c.Exporter {
	case ExporterOTLP:
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the otlp exporter")
		}
		if strings.Contains(c.Endpoint, "://") {
			return fmt.Errorf("endpoint %q must be host:port without a scheme", c.Endpoint)
		}
	case ExporterStdout:
	default:
		return fmt.Errorf("invalid exporter %q (valid: otlp, stdout)", c.Exporter)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}

// Sampling returns the configured rate, or DefaultSamplingRate if unset.
func (c *TracingConfig) Sampling() float64 {
	if c.SamplingRate == nil {
		return DefaultSamplingRate
	}
	return *c.SamplingRate
}

// IsInsecure returns whether to use an insecure OTLP connection.
func (c *TracingConfig) IsInsecure() bool {
	return c.Insecure == nil || *c.Insecure
}

func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultMetricsPath
	}
	if c.Namespace == "" {
		c.Namespace = DefaultServiceName
	}
}

func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !strings.HasPrefix(c.Endpoint, "/") {
		return fmt.Errorf("endpoint %q must be an absolute path", c.Endpoint)
	}
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(c.Endpoint+"/", p) || strings.HasPrefix(c.Endpoint, p) {
			return fmt.Errorf("endpoint %q collides with the %s routes", c.Endpoint, strings.TrimSuffix(p, "/"))
		}
	}
	if strings.ContainsAny(c.Namespace, "-. ") {
		return fmt.Errorf("namespace %q may only contain letters, digits and underscores", c.Namespace)
	}
	return nil
}
