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

package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	for _, d := range []string{Postgres, MySQL, SQLite} {
		assert.NoError(t, Validate(d))
	}
	assert.Error(t, Validate("oracle"))
	assert.Error(t, Validate(""))
}

func TestRebind(t *testing.T) {
	q := "UPDATE t SET a = ? WHERE b = ? AND c < ?"
	assert.Equal(t, q, Rebind(SQLite, q))
	assert.Equal(t, q, Rebind(MySQL, q))
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2 AND c < $3", Rebind(Postgres, q))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "`key`", Quote(MySQL, "key"))
	assert.Equal(t, `"key"`, Quote(Postgres, "key"))
	assert.Equal(t, `"key"`, Quote(SQLite, "key"))
}

func TestUpsert(t *testing.T) {
	cols := []string{"key", "count", "expires_at"}
	keys := []string{"key"}

	assert.Equal(t,
		"INSERT INTO rate_limits (key, count, expires_at) VALUES (?, ?, ?) ON CONFLICT (key) DO UPDATE SET count = EXCLUDED.count, expires_at = EXCLUDED.expires_at",
		Upsert(SQLite, "rate_limits", cols, keys))
	assert.Equal(t,
		"INSERT INTO rate_limits (key, count, expires_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET count = EXCLUDED.count, expires_at = EXCLUDED.expires_at",
		Upsert(Postgres, "rate_limits", cols, keys))
	assert.Equal(t,
		"INSERT INTO rate_limits (key, count, expires_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE count = VALUES(count), expires_at = VALUES(expires_at)",
		Upsert(MySQL, "rate_limits", cols, keys))
}

func TestInsertIgnore(t *testing.T) {
	cols := []string{"user_id", "period_start"}
	assert.Equal(t, "INSERT OR IGNORE INTO c (user_id, period_start) VALUES (?, ?)", InsertIgnore(SQLite, "c", cols))
	assert.Equal(t, "INSERT IGNORE INTO c (user_id, period_start) VALUES (?, ?)", InsertIgnore(MySQL, "c", cols))
	assert.Equal(t, "INSERT INTO c (user_id, period_start) VALUES ($1, $2) ON CONFLICT DO NOTHING", InsertIgnore(Postgres, "c", cols))
}
