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
)

// Route names used by the HTTP API.
const (
	RouteOfferPDF = "offer_pdf"
)

// RateLimitConfig configures request rate limiting.
//
// Example:
//
//	rate_limiting:
//	  backend: redis
//	  redis:
//	    addr: localhost:6379
//	  rules:
//	    offer_pdf:
//	      max_requests: 5
//	      window: 1m
//	      key_scheme: identity
type RateLimitConfig struct {
	// Enabled toggles the limiter. Default: true
	Enabled *bool `yaml:"enabled,omitempty" jsonschema:"title=Enabled,default=true"`

	// Backend stores window records: memory, sql or redis. Default: memory
	Backend string `yaml:"backend,omitempty" jsonschema:"title=Backend,enum=memory,enum=sql,enum=redis,default=memory"`

	// Database names the entry under databases used by the sql backend.
	Database string `yaml:"database,omitempty" jsonschema:"title=Database"`

	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis,omitempty" jsonschema:"title=Redis"`

	// Rules maps a route name to its window.
	Rules map[string]*RateLimitRule `yaml:"rules,omitempty" jsonschema:"title=Rules"`
}

// RateLimitRule is one fixed-window limit.
type RateLimitRule struct {
	MaxRequests int64         `yaml:"max_requests" jsonschema:"title=Max Requests,minimum=1"`
	Window      time.Duration `yaml:"window" jsonschema:"title=Window,description=Window length such as 60s or 1h"`

	// KeyScheme derives the store key from the identifier: identity or
	// email. The email scheme reads counters written under older formats.
	KeyScheme string `yaml:"key_scheme,omitempty" jsonschema:"title=Key Scheme,enum=identity,enum=email,default=identity"`
}

// RedisConfig configures a Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" jsonschema:"title=Address,default=localhost:6379"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`

	// Prefix namespaces keys. Default: "quill:ratelimit:"
	Prefix string `yaml:"prefix,omitempty"`
}

// IsEnabled returns whether rate limiting is on.
func (c *RateLimitConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Rule returns the rule for route, or nil.
func (c *RateLimitConfig) Rule(route string) *RateLimitRule {
	return c.Rules[route]
}

// SetDefaults applies default values.
func (c *RateLimitConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Backend == BackendRedis {
		if c.Redis.Addr == "" {
			c.Redis.Addr = "localhost:6379"
		}
		if c.Redis.Prefix == "" {
			c.Redis.Prefix = "quill:ratelimit:"
		}
	}
	if c.Rules == nil {
		c.Rules = make(map[string]*RateLimitRule)
	}
	if _, ok := c.Rules[RouteOfferPDF]; !ok {
		c.Rules[RouteOfferPDF] = &RateLimitRule{MaxRequests: 5, Window: time.Minute}
	}
	for _, r := range c.Rules {
		if r != nil && r.KeyScheme == "" {
			r.KeyScheme = "identity"
		}
	}
}

// Validate checks the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQL:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when backend is redis")
		}
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql, redis)", c.Backend)
	}

	for route, r := range c.Rules {
		if r == nil {
			return fmt.Errorf("rules.%s: rule is empty", route)
		}
		if r.MaxRequests <= 0 {
			return fmt.Errorf("rules.%s: max_requests must be positive", route)
		}
		if r.Window <= 0 {
			return fmt.Errorf("rules.%s: window must be positive", route)
		}
		switch r.KeyScheme {
		case "identity", "email":
		default:
			return fmt.Errorf("rules.%s: invalid key_scheme %q (valid: identity, email)", route, r.KeyScheme)
		}
	}
	return nil
}
