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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/quill/internal/dialect"
)

// SQLStore is a SQL-based implementation of Store.
// It supports Postgres, MySQL, and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect string

	getSQL       string
	putSQL       string
	seedSQL      string
	incrementSQL string
	deleteSQL    string
	expiredSQL   string
}

// NewSQLStore creates a new SQL-based store and ensures its table exists.
// Supported dialects: "postgres", "mysql", "sqlite".
func NewSQLStore(db *sql.DB, d string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := dialect.Validate(d); err != nil {
		return nil, err
	}

	key := dialect.Quote(d, "key")
	s := &SQLStore{
		db:      db,
		dialect: d,
		getSQL:  dialect.Rebind(d, fmt.Sprintf(`SELECT %s, count, expires_at FROM rate_limits WHERE %s = ?`, key, key)),
		putSQL:  dialect.Upsert(d, "rate_limits", []string{key, "count", "expires_at"}, []string{key}),
		seedSQL: dialect.InsertIgnore(d, "rate_limits", []string{key, "count", "expires_at"}),
		// count is assigned first: MySQL evaluates SET left to right.
		incrementSQL: dialect.Rebind(d, fmt.Sprintf(`UPDATE rate_limits SET
    count = CASE WHEN expires_at <= ? THEN 1 ELSE count + 1 END,
    expires_at = CASE WHEN expires_at <= ? THEN ? ELSE expires_at END
WHERE %s = ?`, key)),
		deleteSQL:  dialect.Rebind(d, fmt.Sprintf(`DELETE FROM rate_limits WHERE %s = ?`, key)),
		expiredSQL: dialect.Rebind(d, `DELETE FROM rate_limits WHERE expires_at <= ?`),
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := dialect.Quote(s.dialect, "key")
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rate_limits (
    %s VARCHAR(255) NOT NULL PRIMARY KEY,
    count BIGINT NOT NULL DEFAULT 0,
    expires_at TIMESTAMP NOT NULL
)`, key),
	}
	// MySQL has no CREATE INDEX IF NOT EXISTS; DeleteExpired is a sweep, a scan is fine there.
	if s.dialect != dialect.MySQL {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_rate_limits_expires_at ON rate_limits(expires_at)`)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create rate_limits table: %w", err)
		}
	}
	return nil
}

// Get returns the record for key or nil.
func (s *SQLStore) Get(ctx context.Context, key string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, s.getSQL, key).Scan(&rec.Key, &rec.Count, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rate limit: %w", err)
	}
	return &rec, nil
}

// Increment seeds a zero row if none exists, then applies the attempt with one
// conditional UPDATE and reads the row back, all in one transaction. The
// UPDATE holds the row lock until commit, so concurrent attempts serialize.
func (s *SQLStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (rec Record, err error) {
	now = now.UTC()
	expiresAt := now.Add(window)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.seedSQL, key, 0, expiresAt); err != nil {
		return Record{}, fmt.Errorf("failed to seed rate limit: %w", err)
	}
	if _, err = tx.ExecContext(ctx, s.incrementSQL, now, now, expiresAt, key); err != nil {
		return Record{}, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if err = tx.QueryRowContext(ctx, s.getSQL, key).Scan(&rec.Key, &rec.Count, &rec.ExpiresAt); err != nil {
		return Record{}, fmt.Errorf("failed to read rate limit: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("failed to commit rate limit: %w", err)
	}
	return rec, nil
}

// Put upserts rec.
func (s *SQLStore) Put(ctx context.Context, rec Record) error {
	if _, err := s.db.ExecContext(ctx, s.putSQL, rec.Key, rec.Count, rec.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("failed to upsert rate limit: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.deleteSQL, key); err != nil {
		return fmt.Errorf("failed to delete rate limit: %w", err)
	}
	return nil
}

// DeleteExpired removes records expiring at or before the given time.
func (s *SQLStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.expiredSQL, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rate limits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Close closes the store.
// Note: This does NOT close the underlying database connection,
// as that connection may be shared with other components.
func (s *SQLStore) Close() error {
	return nil
}

// Dialect returns the SQL dialect.
func (s *SQLStore) Dialect() string {
	return s.dialect
}
