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

import "fmt"

// QuotaConfig configures generation quotas.
//
// Example:
//
//	quota:
//	  backend: sql
//	  database: main
//	  user_limit: 50
//	  device_limit: 10
type QuotaConfig struct {
	// Backend stores counters: memory or sql. Default: memory
	Backend string `yaml:"backend,omitempty" jsonschema:"title=Backend,enum=memory,enum=sql,default=memory"`

	// Database names the entry under databases used by the sql backend.
	Database string `yaml:"database,omitempty" jsonschema:"title=Database"`

	// Atomic selects the single-transaction increment. Turning it off uses
	// three separate statements, which may over-charge by one under
	// concurrent requests. Default: true
	Atomic *bool `yaml:"atomic,omitempty" jsonschema:"title=Atomic Increment,default=true"`

	// UserLimit is the monthly allowance per user. Unset means unmetered.
	UserLimit *int64 `yaml:"user_limit,omitempty" jsonschema:"title=User Limit,minimum=0"`

	// DeviceLimit is the monthly allowance per user device. Unset means
	// device usage is not charged.
	DeviceLimit *int64 `yaml:"device_limit,omitempty" jsonschema:"title=Device Limit,minimum=0"`
}

// IsAtomic returns whether the atomic increment path is enabled.
func (c *QuotaConfig) IsAtomic() bool {
	return c.Atomic == nil || *c.Atomic
}

// SetDefaults applies default values.
func (c *QuotaConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Atomic == nil {
		atomic := true
		c.Atomic = &atomic
	}
}

// Validate checks the quota configuration.
func (c *QuotaConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQL:
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql)", c.Backend)
	}
	if c.UserLimit != nil && *c.UserLimit < 0 {
		return fmt.Errorf("user_limit must be non-negative")
	}
	if c.DeviceLimit != nil && *c.DeviceLimit < 0 {
		return fmt.Errorf("device_limit must be non-negative")
	}
	return nil
}
