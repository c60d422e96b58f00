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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/quill"
	"github.com/kadirpekel/quill/pkg/config"
	"github.com/kadirpekel/quill/pkg/runtime"
	"github.com/kadirpekel/quill/pkg/server"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on. Overrides server.port."`
	Watch bool `help:"Reload rate limits, quotas and body limits when the config changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *server.Server
	onChange := func(next *config.Config) {
		if srv == nil {
			return
		}
		c.override(next)
		if err := srv.Reload(next); err != nil {
			slog.Error("Failed to apply reloaded config", "error", err)
			return
		}
		slog.Info("Routes rebuilt from reloaded config")
	}

	cfg, loader, err := loadConfig(ctx, cli, config.WithOnChange(onChange))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	c.override(cfg)

	cleanup, err := applyConfigLogger(cli, &cfg.Logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	rt, err := runtime.New(ctx, cfg, runtime.Options{Logger: slog.Default()})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			slog.Error("Runtime shutdown incomplete", "error", err)
		}
	}()

	srv, err = server.NewFromRuntime(rt)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	out := cli.out()
	fmt.Fprintf(out, "\nquill %s ready\n", quill.GetVersion().Version)
	fmt.Fprintf(out, "   Offers:   POST http://%s/v1/offers/{offerID}/pdf\n", srv.Address())
	fmt.Fprintf(out, "   Jobs:     GET  http://%s/v1/jobs/{jobID}\n", srv.Address())
	fmt.Fprintf(out, "   Health:   GET  http://%s/healthz\n", srv.Address())
	if cfg.Observability.Metrics.Enabled {
		fmt.Fprintf(out, "   Metrics:  GET  http://%s%s\n", srv.Address(), cfg.Observability.Metrics.Endpoint)
	}
	fmt.Fprintf(out, "   Dispatch: %s\n\n", cfg.Pipeline.Dispatch)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if c.Watch && loader != nil {
		g.Go(func() error {
			if err := loader.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("config watch failed: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	slog.Info("Shutting down")
	return err
}

func (c *ServeCmd) override(cfg *config.Config) {
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if cfg.Observability.Tracing.ServiceVersion == "" {
		cfg.Observability.Tracing.ServiceVersion = quill.GetVersion().Version
	}
}
