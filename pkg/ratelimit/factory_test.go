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

package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/quill/pkg/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		store, err := NewStoreFromConfig(config.Default(), nil)
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("sql", func(t *testing.T) {
		cfg := config.Default()
		cfg.Databases["main"] = &config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "rl.db")}
		cfg.RateLimiting.Backend = config.BackendSQL
		cfg.RateLimiting.Database = "main"
		require.NoError(t, cfg.Validate())

		pool := config.NewDBPool()
		defer pool.Close()

		store, err := NewStoreFromConfig(cfg, pool)
		require.NoError(t, err)
		assert.IsType(t, &SQLStore{}, store)

		_, err = NewStoreFromConfig(cfg, nil)
		assert.ErrorContains(t, err, "DBPool is required")
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.Default()
		cfg.RateLimiting.Backend = config.BackendRedis
		cfg.RateLimiting.Redis.Addr = mr.Addr()
		cfg.SetDefaults()

		store, err := NewStoreFromConfig(cfg, nil)
		require.NoError(t, err)
		defer store.Close()

		ctx := context.Background()
		exp := time.Now().Add(time.Minute)
		require.NoError(t, store.Put(ctx, Record{Key: "k", Count: 1, ExpiresAt: exp}))
		assert.True(t, mr.Exists("quill:ratelimit:k"))
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.Default()
		cfg.RateLimiting.Backend = "etcd"
		_, err := NewStoreFromConfig(cfg, nil)
		assert.Error(t, err)
	})
}

func TestNewLimiterFromConfig_Disabled(t *testing.T) {
	cfg := config.Default()
	off := false
	cfg.RateLimiting.Enabled = &off

	l, err := NewLimiterFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestRouteFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimiting.Rules[config.RouteOfferPDF].KeyScheme = "email"

	rule, scheme, err := RouteFromConfig(&cfg.RateLimiting, config.RouteOfferPDF)
	require.NoError(t, err)
	assert.Equal(t, Rule{MaxRequests: 5, Window: time.Minute}, rule)

	primary, legacy := scheme.Keys("Jane.Doe@Example.com ")
	assert.Equal(t, config.RouteOfferPDF+":"+NormalizedEmailSHA256("Jane.Doe@Example.com "), primary)
	assert.Len(t, legacy, 2)

	_, _, err = RouteFromConfig(&cfg.RateLimiting, "missing")
	assert.Error(t, err)
}
