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

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/quill/pkg/config"
	"github.com/kadirpekel/quill/pkg/logger"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "simple"
)

// initLogger installs the process logger. kong has already folded the
// LOG_* environment variables into the flag values.
func initLogger(level, file, format string) (func(), error) {
	if level == "" {
		level = defaultLogLevel
	}
	if format == "" {
		format = defaultLogFormat
	}

	var (
		output  io.Writer = os.Stderr
		cleanup func()
	)
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(logger.ParseLevel(level), output, format)
	return cleanup, nil
}

// loggerFlagsSet reports whether any logging flag or LOG_* variable was given.
func (c *CLI) loggerFlagsSet() bool {
	return c.LogLevel != "" || c.LogFile != "" || c.LogFormat != ""
}

// applyConfigLogger re-initializes the logger from the config file's logger
// section when nothing was set on the command line.
func applyConfigLogger(cli *CLI, cfg *config.LoggerConfig) (func(), error) {
	if cli.loggerFlagsSet() || cfg == nil {
		return nil, nil
	}
	return initLogger(cfg.Level, cfg.File, cfg.Format)
}
