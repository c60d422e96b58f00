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

// Storage types.
const (
	StorageFile   = "file"
	StorageMemory = "memory"
)

// StorageConfig configures where rendered documents are kept.
type StorageConfig struct {
	// Type is file or memory. Default: file
	Type string `yaml:"type,omitempty" jsonschema:"title=Type,enum=file,enum=memory,default=file"`

	// Directory holds objects for the file type. Default: ./data/objects
	Directory string `yaml:"directory,omitempty" jsonschema:"title=Directory,default=./data/objects"`

	// PublicBaseURL prefixes object paths to form download URLs.
	// Default: http://localhost:8080/files
	PublicBaseURL string `yaml:"public_base_url,omitempty" jsonschema:"title=Public Base URL"`

	// Serve exposes the directory under /files on the API server.
	// Default: true for the file type
	Serve *bool `yaml:"serve,omitempty" jsonschema:"title=Serve Files"`
}

// ShouldServe returns whether the server exposes stored files.
func (c *StorageConfig) ShouldServe() bool {
	if c.Serve == nil {
		return c.Type == StorageFile
	}
	return *c.Serve
}

// SetDefaults applies default values.
func (c *StorageConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = StorageFile
	}
	if c.Type == StorageFile && c.Directory == "" {
		c.Directory = "./data/objects"
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = "http://localhost:8080/files"
	}
}

// Validate checks the storage configuration.
func (c *StorageConfig) Validate() error {
	switch c.Type {
	case StorageFile:
		if c.Directory == "" {
			return fmt.Errorf("directory is required when type is file")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("invalid type %q (valid: file, memory)", c.Type)
	}
	return nil
}

// OffersConfig configures the offer store that receives document URLs.
type OffersConfig struct {
	// Backend is memory or sql. Default: memory
	Backend string `yaml:"backend,omitempty" jsonschema:"title=Backend,enum=memory,enum=sql,default=memory"`

	// Database names the entry under databases used by the sql backend.
	Database string `yaml:"database,omitempty" jsonschema:"title=Database"`
}

// SetDefaults applies default values.
func (c *OffersConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
}

// Validate checks the offers configuration.
func (c *OffersConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQL:
		return nil
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql)", c.Backend)
	}
}
