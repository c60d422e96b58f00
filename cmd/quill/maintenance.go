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
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/quill/pkg/config"
	"github.com/kadirpekel/quill/pkg/job"
	"github.com/kadirpekel/quill/pkg/offer"
	"github.com/kadirpekel/quill/pkg/quota"
	"github.com/kadirpekel/quill/pkg/ratelimit"
	"github.com/kadirpekel/quill/pkg/runtime"
)

// MigrateCmd creates the tables of every SQL backend. Stores create their
// schema on construction, so migrating is opening each one once.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	pool := config.NewDBPool()
	defer pool.Close()

	type component struct {
		name     string
		backend  string
		database string
		open     func() (io.Closer, error)
	}
	components := []component{
		{"rate_limiting", cfg.RateLimiting.Backend, cfg.RateLimiting.Database, func() (io.Closer, error) {
			return ratelimit.NewStoreFromConfig(cfg, pool)
		}},
		{"quota", cfg.Quota.Backend, cfg.Quota.Database, func() (io.Closer, error) {
			return quota.NewStoreFromConfig(cfg, pool)
		}},
		{"jobs", cfg.Jobs.Backend, cfg.Jobs.Database, func() (io.Closer, error) {
			return job.NewStoreFromConfig(cfg, pool)
		}},
		{"offers", cfg.Offers.Backend, cfg.Offers.Database, func() (io.Closer, error) {
			return offer.NewStoreFromConfig(cfg, pool)
		}},
	}

	out := cli.out()
	var errs []error
	for _, comp := range components {
		if comp.backend != config.BackendSQL {
			fmt.Fprintf(out, "- %s: %s backend, nothing to migrate\n", comp.name, comp.backend)
			continue
		}
		store, err := comp.open()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", comp.name, err))
			fmt.Fprintf(out, "x %s: %v\n", comp.name, err)
			continue
		}
		_ = store.Close()
		fmt.Fprintf(out, "ok %s: tables ready in database %q\n", comp.name, comp.database)
	}
	if names := pool.Names(); len(names) > 0 {
		fmt.Fprintf(out, "Databases used: %s\n", strings.Join(names, ", "))
	}
	return errors.Join(errs...)
}

// SweepCmd is the periodic maintenance task.
type SweepCmd struct {
	Limit      int  `help:"Maximum stale jobs to report." default:"100"`
	Redispatch bool `help:"Dispatch stale queued jobs again."`
}

func (c *SweepCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	rt, err := runtime.New(ctx, cfg, runtime.Options{Logger: slog.Default()})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = rt.Close(closeCtx)
	}()

	return c.sweep(ctx, cli.out(), rt, time.Now())
}

func (c *SweepCmd) sweep(ctx context.Context, out io.Writer, rt *runtime.Runtime, now time.Time) error {
	if l := rt.Limiter(); l != nil {
		n, err := l.Store().DeleteExpired(ctx, now)
		if err != nil {
			return fmt.Errorf("failed to delete expired rate limit records: %w", err)
		}
		fmt.Fprintf(out, "Deleted %d expired rate limit records\n", n)
	}

	cutoff := now.Add(-rt.Config().Jobs.StaleAfter)
	stale, err := rt.Jobs().ListByStatus(ctx, job.StatusQueued, cutoff, c.Limit)
	if err != nil {
		return fmt.Errorf("failed to list stale jobs: %w", err)
	}
	fmt.Fprintf(out, "Found %d jobs queued before %s\n", len(stale), cutoff.UTC().Format(time.RFC3339))

	var errs []error
	for _, j := range stale {
		fmt.Fprintf(out, "  %s offer=%s user=%s created=%s\n", j.ID, j.OfferID, j.UserID, j.CreatedAt.UTC().Format(time.RFC3339))
		if !c.Redispatch {
			continue
		}
		if err := rt.Pipeline().Dispatch(ctx, j.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
