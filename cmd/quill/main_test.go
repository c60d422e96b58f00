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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/quill/pkg/config"
	"github.com/kadirpekel/quill/pkg/job"
	"github.com/kadirpekel/quill/pkg/runtime"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func sqliteConfig(t *testing.T) string {
	dir := t.TempDir()
	return writeConfig(t, fmt.Sprintf(`
databases:
  main:
    driver: sqlite
    database: %s
rate_limiting:
  backend: sql
  database: main
quota:
  backend: sql
  database: main
jobs:
  backend: sql
  database: main
storage:
  directory: %s
`, filepath.Join(dir, "quill.db"), filepath.Join(dir, "objects")))
}

func TestParse(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("quill"), kong.Exit(func(int) {}))
	require.NoError(t, err)

	ctx, err := parser.Parse([]string{"--endpoints", "a:8500,b:8500", "--provider", "consul", "-c", "quill/config", "serve", "--port", "9090", "--watch"})
	require.NoError(t, err)
	assert.Equal(t, "serve", ctx.Command())
	assert.Equal(t, 9090, cli.Serve.Port)
	assert.True(t, cli.Serve.Watch)
	assert.Equal(t, []string{"a:8500", "b:8500"}, cli.Endpoints)
	assert.Equal(t, "quill/config", cli.Config)

	ctx, err = parser.Parse([]string{"validate", "cfg.yaml", "-f", "json"})
	require.NoError(t, err)
	assert.Equal(t, "validate <config>", ctx.Command())
	assert.Equal(t, "json", cli.Validate.Format)
}

func TestVersion(t *testing.T) {
	var buf bytes.Buffer
	cli := &CLI{stdout: &buf}
	require.NoError(t, (&VersionCmd{}).Run(cli))
	assert.Contains(t, buf.String(), "quill ")
}

func TestLoadConfig(t *testing.T) {
	t.Run("explicit file", func(t *testing.T) {
		cli := &CLI{Config: sqliteConfig(t)}
		cfg, loader, err := loadConfig(context.Background(), cli)
		require.NoError(t, err)
		require.NotNil(t, loader)
		defer loader.Close()
		assert.Equal(t, config.BackendSQL, cfg.Jobs.Backend)
	})

	t.Run("defaults without a file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, loader, err := loadConfig(context.Background(), &CLI{})
		require.NoError(t, err)
		assert.Nil(t, loader)
		assert.Equal(t, config.BackendMemory, cfg.Jobs.Backend)
	})

	t.Run("quill.yaml in the working directory", func(t *testing.T) {
		path := sqliteConfig(t)
		t.Chdir(filepath.Dir(path))
		cfg, loader, err := loadConfig(context.Background(), &CLI{})
		require.NoError(t, err)
		require.NotNil(t, loader)
		defer loader.Close()
		assert.Equal(t, config.BackendSQL, cfg.Quota.Backend)
	})

	t.Run("remote provider needs endpoints", func(t *testing.T) {
		_, _, err := loadConfig(context.Background(), &CLI{Provider: "etcd"})
		assert.ErrorContains(t, err, "endpoints are required")
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, _, err := loadConfig(context.Background(), &CLI{Provider: "s3"})
		assert.Error(t, err)
	})
}

func TestValidateCmd(t *testing.T) {
	var buf bytes.Buffer
	cli := &CLI{stdout: &buf}

	path := sqliteConfig(t)
	require.NoError(t, (&ValidateCmd{Config: path, Format: "json"}).Run(cli))
	var res jsonOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, path, res.File)

	buf.Reset()
	require.NoError(t, (&ValidateCmd{Config: path, Format: "compact", PrintConfig: true}).Run(cli))
	assert.Contains(t, buf.String(), "# Expanded Configuration from:")
	assert.Contains(t, buf.String(), "offer_pdf:")

	bad := writeConfig(t, "quota:\n  backend: sql\n  database: missing\n")
	buf.Reset()
	assert.Error(t, (&ValidateCmd{Config: bad, Format: "json"}).Run(cli))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "load", res.Errors[0].Type)
}

func TestSchemaCmd(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&SchemaCmd{Compact: true}).Run(&CLI{stdout: &buf}))

	var schema map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &schema))
	assert.Equal(t, "Quill Configuration", schema["title"])
}

func TestMigrateCmd(t *testing.T) {
	var buf bytes.Buffer
	cli := &CLI{Config: sqliteConfig(t), stdout: &buf}
	require.NoError(t, (&MigrateCmd{}).Run(cli))

	out := buf.String()
	assert.Contains(t, out, "ok rate_limiting")
	assert.Contains(t, out, "ok quota")
	assert.Contains(t, out, "ok jobs")
	assert.Contains(t, out, "- offers: memory backend")
	assert.Contains(t, out, "Databases used: main")
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.Directory = t.TempDir()

	rt, err := runtime.New(ctx, cfg, runtime.Options{})
	require.NoError(t, err)
	defer rt.Close(ctx)

	now := time.Now()
	old := &job.Job{
		ID:               "stale-1",
		OfferID:          "o1",
		UserID:           "u1",
		StoragePath:      "offers/o1/stale-1.pdf",
		HTML:             "<p>stale</p>",
		UsagePeriodStart: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
		Status:           job.StatusQueued,
		CreatedAt:        now.Add(-time.Hour),
	}
	require.NoError(t, rt.Jobs().Create(ctx, old))
	fresh := *old
	fresh.ID = "fresh-1"
	fresh.CreatedAt = now
	require.NoError(t, rt.Jobs().Create(ctx, &fresh))

	var buf bytes.Buffer
	require.NoError(t, (&SweepCmd{Limit: 10}).sweep(ctx, &buf, rt, now))
	assert.Contains(t, buf.String(), "Deleted 0 expired rate limit records")
	assert.Contains(t, buf.String(), "Found 1 jobs queued before")
	assert.Contains(t, buf.String(), "stale-1")
	assert.NotContains(t, buf.String(), "fresh-1")

	buf.Reset()
	require.NoError(t, (&SweepCmd{Limit: 10, Redispatch: true}).sweep(ctx, &buf, rt, now))
	rt.Pipeline().Wait()

	got, err := rt.Jobs().Get(ctx, "stale-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
}

func TestApplyConfigLogger(t *testing.T) {
	t.Cleanup(func() { _, _ = initLogger("", "", "") })

	cleanup, err := applyConfigLogger(&CLI{LogLevel: "debug"}, &config.LoggerConfig{File: filepath.Join(t.TempDir(), "x.log")})
	require.NoError(t, err)
	assert.Nil(t, cleanup, "flags win over the config file")

	path := filepath.Join(t.TempDir(), "quill.log")
	cleanup, err = applyConfigLogger(&CLI{}, &config.LoggerConfig{Level: "info", File: path, Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, cleanup)
	cleanup()
	assert.FileExists(t, path)
}
