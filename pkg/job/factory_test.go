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

package job

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/quill/pkg/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	store, err := NewStoreFromConfig(config.Default(), nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	cfg := config.Default()
	cfg.Databases["main"] = &config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "jobs.db")}
	cfg.Jobs.Backend = config.BackendSQL
	cfg.Jobs.Database = "main"

	pool := config.NewDBPool()
	defer pool.Close()

	store, err = NewStoreFromConfig(cfg, pool)
	require.NoError(t, err)
	require.IsType(t, &SQLStore{}, store)

	j := &Job{ID: "j1", OfferID: "o1", UserID: "u1", StoragePath: "offers/o1/j1.pdf", HTML: "<p>x</p>", UsagePeriodStart: period, CreatedAt: t0}
	require.NoError(t, store.Create(context.Background(), j))
	got, err := store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)

	cfg.Jobs.Backend = "mongo"
	_, err = NewStoreFromConfig(cfg, pool)
	assert.Error(t, err)
}
