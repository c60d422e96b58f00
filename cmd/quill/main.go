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

// Command quill runs the offer PDF service.
//
// Usage:
//
//	quill serve --config quill.yaml --watch
//	quill migrate --config quill.yaml
//	quill sweep --config quill.yaml --redispatch
//	quill validate quill.yaml
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/quill"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Migrate  MigrateCmd  `cmd:"" help:"Create the tables of every SQL backend."`
	Sweep    SweepCmd    `cmd:"" help:"Delete expired rate limit records and report stale queued jobs."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of the configuration."`

	Config    string   `short:"c" help:"Config file path, or key for remote providers." env:"QUILL_CONFIG"`
	Provider  string   `help:"Config provider (file, consul, etcd, zookeeper)." default:"file" env:"QUILL_CONFIG_PROVIDER"`
	Endpoints []string `help:"Endpoints of a remote config provider." sep:"," env:"QUILL_CONFIG_ENDPOINTS"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL"`
	LogFile   string `help:"Log file path (empty = stderr)." env:"LOG_FILE"`
	LogFormat string `help:"Log format (simple, verbose, json)." env:"LOG_FORMAT"`

	stdout io.Writer
}

func (c *CLI) out() io.Writer {
	if c.stdout == nil {
		return os.Stdout
	}
	return c.stdout
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Fprintln(cli.out(), quill.GetVersion())
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("quill"),
		kong.Description("Offer PDF generation with rate limits and usage quotas"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
