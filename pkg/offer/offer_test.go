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

package offer

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetPDFURL(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	sqlStore, err := NewSQLStore(db, "sqlite")
	require.NoError(t, err)

	t0 := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	for name, s := range map[string]Store{"memory": NewMemoryStore(), "sqlite": sqlStore} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "o1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.SetPDFURL(ctx, "o1", "https://cdn/a.pdf", t0))
			require.NoError(t, s.SetPDFURL(ctx, "o1", "https://cdn/b.pdf", t0.Add(time.Minute)))

			o, err := s.Get(ctx, "o1")
			require.NoError(t, err)
			assert.Equal(t, "https://cdn/b.pdf", o.PDFURL)
			assert.True(t, o.PDFUpdatedAt.Equal(t0.Add(time.Minute)))
		})
	}
}
