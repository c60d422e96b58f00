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

// Package config loads and validates the quill configuration.
//
// A config file names shared databases once and lets every store refer to
// them by name:
//
//	databases:
//	  main:
//	    driver: postgres
//	    host: localhost
//	    database: quill
//
//	rate_limiting:
//	  backend: sql
//	  database: main
//
//	quota:
//	  backend: sql
//	  database: main
//	  user_limit: 50
//
// Every section applies its own defaults, so an empty file yields a working
// in-memory development setup.
package config

import (
	"fmt"
	"sort"

	"github.com/kadirpekel/quill/pkg/observability"
)

// Backend names shared by the store sections.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
)

// Config is the root configuration.
type Config struct {
	// Databases are named connections shared through DBPool.
	Databases map[string]*DatabaseConfig `yaml:"databases,omitempty" jsonschema:"title=Databases,description=Named SQL databases referenced by the store sections"`

	RateLimiting RateLimitConfig `yaml:"rate_limiting,omitempty" jsonschema:"title=Rate Limiting"`
	Quota        QuotaConfig     `yaml:"quota,omitempty" jsonschema:"title=Quota"`
	Jobs         JobsConfig      `yaml:"jobs,omitempty" jsonschema:"title=Jobs"`
	Pipeline     PipelineConfig  `yaml:"pipeline,omitempty" jsonschema:"title=Pipeline"`
	Renderer     RendererConfig  `yaml:"renderer,omitempty" jsonschema:"title=Renderer"`
	Storage      StorageConfig   `yaml:"storage,omitempty" jsonschema:"title=Storage"`
	Offers       OffersConfig    `yaml:"offers,omitempty" jsonschema:"title=Offers"`
	Webhooks     WebhooksConfig  `yaml:"webhooks,omitempty" jsonschema:"title=Webhooks"`
	Server       ServerConfig    `yaml:"server,omitempty" jsonschema:"title=Server"`
	Logger       LoggerConfig    `yaml:"logger,omitempty" jsonschema:"title=Logger"`

	Observability observability.Config `yaml:"observability,omitempty" jsonschema:"title=Observability"`
}

// SetDefaults applies default values to every section.
func (c *Config) SetDefaults() {
	if c.Databases == nil {
		c.Databases = make(map[string]*DatabaseConfig)
	}
	for _, db := range c.Databases {
		if db != nil {
			db.SetDefaults()
		}
	}

	c.RateLimiting.SetDefaults()
	c.Quota.SetDefaults()
	c.Jobs.SetDefaults()
	c.Pipeline.SetDefaults()
	c.Renderer.SetDefaults()
	c.Storage.SetDefaults()
	c.Offers.SetDefaults()
	c.Webhooks.SetDefaults()
	c.Server.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks every section and the references between them.
func (c *Config) Validate() error {
	for _, name := range c.DatabaseNames() {
		db := c.Databases[name]
		if db == nil {
			return fmt.Errorf("databases.%s: config is empty", name)
		}
		if err := db.Validate(); err != nil {
			return fmt.Errorf("databases.%s: %w", name, err)
		}
	}

	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"rate_limiting", &c.RateLimiting},
		{"quota", &c.Quota},
		{"jobs", &c.Jobs},
		{"pipeline", &c.Pipeline},
		{"renderer", &c.Renderer},
		{"storage", &c.Storage},
		{"offers", &c.Offers},
		{"webhooks", &c.Webhooks},
		{"server", &c.Server},
		{"logger", &c.Logger},
		{"observability", &c.Observability},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}

	return c.validateReferences()
}

// validateReferences checks that every sql backend names a declared database.
func (c *Config) validateReferences() error {
	refs := []struct {
		section, backend, database string
	}{
		{"rate_limiting", c.RateLimiting.Backend, c.RateLimiting.Database},
		{"quota", c.Quota.Backend, c.Quota.Database},
		{"jobs", c.Jobs.Backend, c.Jobs.Database},
		{"offers", c.Offers.Backend, c.Offers.Database},
	}
	for _, r := range refs {
		if r.backend != BackendSQL {
			continue
		}
		if r.database == "" {
			return fmt.Errorf("%s.database is required when backend is sql", r.section)
		}
		if _, ok := c.GetDatabase(r.database); !ok {
			return fmt.Errorf("%s.database references unknown database %q", r.section, r.database)
		}
	}
	return nil
}

// GetDatabase returns the named database config.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, ok := c.Databases[name]
	return db, ok && db != nil
}

// DatabaseNames returns the declared database names in sorted order.
func (c *Config) DatabaseNames() []string {
	names := make([]string, 0, len(c.Databases))
	for name := range c.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
