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

// JobsConfig configures the job store.
type JobsConfig struct {
	// Backend stores jobs: memory or sql. Default: memory
	Backend string `yaml:"backend,omitempty" jsonschema:"title=Backend,enum=memory,enum=sql,default=memory"`

	// Database names the entry under databases used by the sql backend.
	Database string `yaml:"database,omitempty" jsonschema:"title=Database"`

	// StaleAfter is the age at which the sweep command reports a job still
	// queued. Default: 15m
	StaleAfter time.Duration `yaml:"stale_after,omitempty" jsonschema:"title=Stale After,default=15m"`
}

// SetDefaults applies default values.
func (c *JobsConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 15 * time.Minute
	}
}

// Validate checks the jobs configuration.
func (c *JobsConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQL:
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql)", c.Backend)
	}
	if c.StaleAfter < 0 {
		return fmt.Errorf("stale_after must be non-negative")
	}
	return nil
}
