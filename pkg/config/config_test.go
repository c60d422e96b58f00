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
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
databases:
  main:
    driver: sqlite
    database: ${QUILL_TEST_DB_PATH}

rate_limiting:
  backend: sql
  database: main
  rules:
    offer_pdf:
      max_requests: 3
      window: 30s
      key_scheme: email

quota:
  backend: sql
  database: main
  atomic: false
  user_limit: 50

jobs:
  backend: sql
  database: main

pipeline:
  render_timeout: 45s
  dispatch: http
  worker_url: http://worker:8080
  worker_secret: ${QUILL_TEST_WORKER_SECRET:-fallback-secret}

webhooks:
  hosts: hooks.example.com,*.partner.example

server:
  port: "9090"
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendMemory, cfg.RateLimiting.Backend)
	assert.True(t, cfg.RateLimiting.IsEnabled())
	rule := cfg.RateLimiting.Rule(RouteOfferPDF)
	require.NotNil(t, rule)
	assert.Equal(t, int64(5), rule.MaxRequests)
	assert.Equal(t, time.Minute, rule.Window)
	assert.Equal(t, "identity", rule.KeyScheme)

	assert.True(t, cfg.Quota.IsAtomic())
	assert.Nil(t, cfg.Quota.UserLimit)
	assert.Equal(t, DispatchInline, cfg.Pipeline.Dispatch)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.RenderTimeout)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.StorageTimeout)
	assert.Equal(t, RendererText, cfg.Renderer.Type)
	assert.True(t, cfg.Renderer.ShouldValidate())
	assert.Equal(t, StorageFile, cfg.Storage.Type)
	assert.True(t, cfg.Storage.ShouldServe())
	assert.Equal(t, []string{"https"}, cfg.Webhooks.Schemes)
	assert.Empty(t, cfg.Webhooks.Hosts)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QUILL_TEST_DB_PATH", filepath.Join(dir, "quill.db"))
	path := writeConfig(t, dir, sampleConfig)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()

	db, ok := cfg.GetDatabase("main")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "quill.db"), db.Database)
	assert.Equal(t, "sqlite", db.Dialect())

	rule := cfg.RateLimiting.Rule(RouteOfferPDF)
	require.NotNil(t, rule)
	assert.Equal(t, int64(3), rule.MaxRequests)
	assert.Equal(t, 30*time.Second, rule.Window)
	assert.Equal(t, "email", rule.KeyScheme)

	assert.False(t, cfg.Quota.IsAtomic())
	require.NotNil(t, cfg.Quota.UserLimit)
	assert.Equal(t, int64(50), *cfg.Quota.UserLimit)

	assert.Equal(t, 45*time.Second, cfg.Pipeline.RenderTimeout)
	assert.Equal(t, "fallback-secret", cfg.Pipeline.WorkerSecret)
	assert.Equal(t, []string{"hooks.example.com", "*.partner.example"}, cfg.Webhooks.Hosts)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadConfigFile_DotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QUILL_TEST_DB_PATH", filepath.Join(dir, "quill.db"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("QUILL_TEST_WORKER_SECRET=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("QUILL_TEST_WORKER_SECRET") })

	cfg, loader, err := LoadConfigFile(context.Background(), writeConfig(t, dir, sampleConfig))
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, "from-dotenv", cfg.Pipeline.WorkerSecret)
}

func TestLoadConfigFile_RendererValidateFlag(t *testing.T) {
	body := "renderer:\n  type: http\n  endpoint: http://render:3000\n  validate: false\n"
	cfg, loader, err := LoadConfigFile(context.Background(), writeConfig(t, t.TempDir(), body))
	require.NoError(t, err)
	defer loader.Close()

	assert.False(t, cfg.Renderer.ShouldValidate())
	require.NoError(t, cfg.Renderer.Validate())
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(envPath, []byte("QUILL_TEST_KEEP=file\nQUILL_TEST_NEW=file\n"), 0o600))
	t.Setenv("QUILL_TEST_KEEP", "process")
	t.Cleanup(func() { _ = os.Unsetenv("QUILL_TEST_NEW") })

	require.NoError(t, LoadDotEnv(envPath, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "process", os.Getenv("QUILL_TEST_KEEP"))
	assert.Equal(t, "file", os.Getenv("QUILL_TEST_NEW"))
}

func TestLoad_RejectsInvalid(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), writeConfig(t, t.TempDir(), "quota: [unclosed"))
	assert.Error(t, err)

	_, _, err = LoadConfigFile(context.Background(), writeConfig(t, t.TempDir(), "quota:\n  backend: etcd\n"))
	assert.ErrorContains(t, err, "quota: invalid backend")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "sql backend without database",
			mutate:  func(c *Config) { c.Quota.Backend = BackendSQL },
			wantErr: "quota.database is required",
		},
		{
			name: "unknown database reference",
			mutate: func(c *Config) {
				c.Jobs.Backend = BackendSQL
				c.Jobs.Database = "nope"
			},
			wantErr: `unknown database "nope"`,
		},
		{
			name: "invalid database",
			mutate: func(c *Config) {
				c.Databases["main"] = &DatabaseConfig{Driver: "oracle", Database: "x"}
			},
			wantErr: "databases.main: invalid driver",
		},
		{
			name:    "http dispatch without worker",
			mutate:  func(c *Config) { c.Pipeline.Dispatch = DispatchHTTP },
			wantErr: "worker_url is required",
		},
		{
			name: "http dispatch without secret",
			mutate: func(c *Config) {
				c.Pipeline.Dispatch = DispatchHTTP
				c.Pipeline.WorkerURL = "http://worker:8080"
			},
			wantErr: "worker_secret is required",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logger.Format = "xml" },
			wantErr: `logger: invalid format "xml"`,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logger.Level = "trace" },
			wantErr: `logger: invalid level "trace"`,
		},
		{
			name:    "http renderer without endpoint",
			mutate:  func(c *Config) { c.Renderer.Type = RendererHTTP },
			wantErr: "endpoint is required",
		},
		{
			name: "negative quota",
			mutate: func(c *Config) {
				n := int64(-1)
				c.Quota.DeviceLimit = &n
			},
			wantErr: "device_limit must be non-negative",
		},
		{
			name:    "bad key scheme",
			mutate:  func(c *Config) { c.RateLimiting.Rules[RouteOfferPDF].KeyScheme = "sha1" },
			wantErr: "invalid key_scheme",
		},
		{
			name:    "zero window",
			mutate:  func(c *Config) { c.RateLimiting.Rules[RouteOfferPDF].Window = 0 },
			wantErr: "window must be positive",
		},
		{
			name:    "webhook host with port",
			mutate:  func(c *Config) { c.Webhooks.Hosts = []string{"hooks.example.com:8443"} },
			wantErr: "invalid host",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := &DatabaseConfig{Driver: "postgres", Host: "db", Database: "quill", Username: "u", Password: "p@ss word"}
	pg.SetDefaults()
	u, err := url.Parse(pg.DSN())
	require.NoError(t, err)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/quill", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))

	my := &DatabaseConfig{Driver: "mysql", Host: "db", Database: "quill", Username: "u", Password: "p/w"}
	my.SetDefaults()
	mc, err := mysql.ParseDSN(my.DSN())
	require.NoError(t, err)
	assert.Equal(t, "db:3306", mc.Addr)
	assert.Equal(t, "quill", mc.DBName)
	assert.Equal(t, "p/w", mc.Passwd)
	assert.True(t, mc.ParseTime)

	lite := &DatabaseConfig{Driver: "sqlite3", Database: "/tmp/q.db"}
	assert.Equal(t, "sqlite3", lite.DriverName())
	assert.Equal(t, "sqlite", lite.Dialect())
	assert.False(t, lite.SingleConn())
	assert.Equal(t, "file:/tmp/q.db?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", lite.DSN())

	lite.BusyTimeout = 250 * time.Millisecond
	assert.Contains(t, lite.DSN(), "_busy_timeout=250&")

	mem := &DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	assert.Equal(t, ":memory:", mem.DSN())
	assert.True(t, mem.SingleConn())
}

func TestDatabaseConfig_Defaults(t *testing.T) {
	lite := &DatabaseConfig{Driver: "sqlite", Database: "q.db"}
	lite.SetDefaults()
	assert.Equal(t, 25, lite.MaxConns)
	assert.Equal(t, time.Hour, lite.ConnMaxLifetime)
	assert.Equal(t, 5*time.Second, lite.BusyTimeout)
	assert.Zero(t, lite.Port)

	assert.ErrorContains(t, (&DatabaseConfig{Database: "q"}).Validate(), "driver is required")
	assert.ErrorContains(t, (&DatabaseConfig{Driver: "mysql", Database: "q"}).Validate(), "host is required")
	assert.ErrorContains(t, (&DatabaseConfig{Driver: "sqlite"}).Validate(), "database is required")
	assert.ErrorContains(t, (&DatabaseConfig{Driver: "sqlite", Database: "q", BusyTimeout: -1}).Validate(), "non-negative")
}

func TestDBPool_Named(t *testing.T) {
	cfg := Default()
	path := filepath.Join(t.TempDir(), "quill.db")
	cfg.Databases["main"] = &DatabaseConfig{Driver: "sqlite", Database: path}
	cfg.Databases["alias"] = &DatabaseConfig{Driver: "sqlite3", Database: path}

	pool := NewDBPool()
	defer pool.Close()

	db1, dbCfg, err := pool.Named(cfg, "main")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", dbCfg.Dialect())

	db2, _, err := pool.Named(cfg, "alias")
	require.NoError(t, err)
	assert.Same(t, db1, db2, "one pool per DSN")
	assert.Equal(t, []string{"alias", "main"}, pool.Names())

	var mode string
	require.NoError(t, db1.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	_, _, err = pool.Named(cfg, "missing")
	assert.ErrorContains(t, err, `"missing" not found`)

	require.NoError(t, pool.Close())
	assert.Empty(t, pool.Names())
}

func TestLoader_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  port: 9000\n")

	reloaded := make(chan *Config, 1)
	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Same(t, cfg, loader.Current())

	loader.onChange = func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loader.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	next := "server:\n  port: 9100\nrate_limiting:\n  rules:\n    offer_pdf:\n      max_requests: 9\n      window: 10s\n"
	require.NoError(t, os.WriteFile(path, []byte(next), 0o600))

	select {
	case c := <-reloaded:
		assert.Equal(t, 9100, c.Server.Port)
		assert.Equal(t, int64(9), c.RateLimiting.Rule(RouteOfferPDF).MaxRequests)
		assert.Same(t, c, loader.Current())
		assert.Equal(t, []string{"server.address"}, RestartRequired(cfg, c))
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestLoader_InvalidReloadKeepsCurrent(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server:\n  port: 9000\n")
	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()

	var calls int
	loader.onChange = func(*Config) { calls++ }

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 70000\n"), 0o600))
	loader.reload(context.Background())
	assert.Zero(t, calls)
	// A rejected document never replaces the running config.
	assert.Equal(t, cfg.Server.Port, loader.Current().Server.Port)
}

func TestParse_UnknownSection(t *testing.T) {
	_, err := Parse([]byte("rate_limit:\n  backend: redis\nquotas: {}\n"))
	require.ErrorIs(t, err, ErrUnknownSection)
	assert.Contains(t, err.Error(), "quotas, rate_limit")
	assert.Contains(t, err.Error(), "rate_limiting")
}

func TestParse_Documents(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Parse([]byte("# nothing yet\n"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)

	cfg, err = Parse([]byte(`{"quota": {"user_limit": 7}, "server": {"port": 9001}}`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Quota.UserLimit)
	assert.Equal(t, int64(7), *cfg.Quota.UserLimit)
	assert.Equal(t, 9001, cfg.Server.Port)

	_, err = Parse([]byte("server: [unclosed"))
	assert.ErrorContains(t, err, "neither valid YAML nor JSON")

	_, err = Parse([]byte("server:\n  port: 0x\n"))
	assert.ErrorContains(t, err, "failed to decode config")

	_, err = Parse([]byte("quota:\n  backend: sql\n"))
	assert.ErrorContains(t, err, "invalid config: quota.database is required")
}

func TestLookupEnv(t *testing.T) {
	t.Setenv("QUILL_TEST_SET", "value")
	t.Setenv("QUILL_TEST_EMPTY", "")

	assert.Equal(t, "value", lookupEnv("QUILL_TEST_SET"))
	assert.Equal(t, "value", lookupEnv("QUILL_TEST_SET:-other"))
	assert.Equal(t, "other", lookupEnv("QUILL_TEST_EMPTY:-other"))
	assert.Equal(t, "", lookupEnv("QUILL_TEST_EMPTY"))
	assert.Equal(t, "a:b", lookupEnv("QUILL_TEST_UNSET:-a:b"))

	got := expandValue(map[string]any{
		"url":  "postgres://$QUILL_TEST_SET@${QUILL_TEST_UNSET:-localhost}/db",
		"list": []any{"${QUILL_TEST_SET}", 3},
	}).(map[string]any)
	assert.Equal(t, "postgres://value@localhost/db", got["url"])
	assert.Equal(t, []any{"value", 3}, got["list"])
}

func TestRestartRequired(t *testing.T) {
	prev := Default()
	next := Default()
	assert.Empty(t, RestartRequired(prev, next))
	assert.Empty(t, RestartRequired(nil, next))

	limit := int64(3)
	next.Quota.UserLimit = &limit
	next.RateLimiting.Rules[RouteOfferPDF].MaxRequests = 1
	next.Server.MaxBodyBytes = 1 << 10
	assert.Empty(t, RestartRequired(prev, next), "limits apply on reload")

	next.Storage.Directory = "/elsewhere"
	next.RateLimiting.Backend = BackendRedis
	assert.Equal(t, []string{"rate_limiting.backend", "storage"}, RestartRequired(prev, next))
}

func TestSections(t *testing.T) {
	s := Sections()
	assert.Contains(t, s, "databases")
	assert.Contains(t, s, "observability")
	assert.Len(t, s, 12)
	assert.IsIncreasing(t, s)
}

func TestSchema(t *testing.T) {
	out, err := SchemaJSON("  ")
	require.NoError(t, err)

	s := string(out)
	for _, key := range []string{`"rate_limiting"`, `"max_requests"`, `"worker_url"`, `"databases"`, SchemaID} {
		assert.Contains(t, s, key)
	}
	assert.NotContains(t, s, `"RateLimiting"`)
}
