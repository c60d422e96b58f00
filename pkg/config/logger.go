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

// Log formats understood by pkg/logger.
const (
	LogFormatSimple  = "simple"
	LogFormatVerbose = "verbose"
	LogFormatJSON    = "json"
	LogFormatText    = "text"
)

// LoggerConfig is the logger section. It only applies to serve, and only
// when no --log-* flag or LOG_* variable is set.
//
//	logger:
//	  level: info
//	  file: /var/log/quill/quill.log
//	  format: json
type LoggerConfig struct {
	// Level is debug, info, warn or error. Below debug, records from
	// dependencies are dropped. Default: info
	Level string `yaml:"level,omitempty" jsonschema:"title=Level,enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// File receives the log instead of stderr. It is opened for append.
	File string `yaml:"file,omitempty" jsonschema:"title=File"`

	// Format is simple, verbose (simple with timestamps), json or text.
	// Default: simple
	Format string `yaml:"format,omitempty" jsonschema:"title=Format,enum=simple,enum=verbose,enum=json,enum=text,default=simple"`
}

func (c *LoggerConfig) SetDefaults() {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = LogFormatSimple
	}
}

func (c *LoggerConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid level %q (valid: debug, info, warn, error)", c.Level)
	}
	switch c.Format {
	case "", LogFormatSimple, LogFormatVerbose, LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("invalid format %q (valid: simple, verbose, json, text)", c.Format)
	}
	return nil
}
