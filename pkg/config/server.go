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
	"net"
	"strconv"
	"time"
)

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Host to bind to. Default: 0.0.0.0
	Host string `yaml:"host,omitempty" jsonschema:"title=Host,default=0.0.0.0"`

	// Port to listen on. Default: 8080
	Port int `yaml:"port,omitempty" jsonschema:"title=Port,minimum=1,maximum=65535,default=8080"`

	// ReadTimeout for whole requests. Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" jsonschema:"title=Read Timeout,default=30s"`

	// WriteTimeout for responses. Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" jsonschema:"title=Write Timeout,default=30s"`

	// ShutdownTimeout bounds graceful shutdown, in-flight jobs included.
	// Default: 90s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" jsonschema:"title=Shutdown Timeout,default=90s"`

	// MaxBodyBytes caps request bodies. Default: 2MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes,omitempty" jsonschema:"title=Max Body Bytes,default=2097152"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 90 * time.Second
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 2 << 20
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must be non-negative")
	}
	return nil
}

// Address returns host:port.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
