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

package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/quill/internal/dialect"
)

const (
	createUsageCountersSQL = `
CREATE TABLE IF NOT EXISTS usage_counters (
    user_id VARCHAR(255) NOT NULL PRIMARY KEY,
    period_start DATE NOT NULL,
    offers_generated BIGINT NOT NULL DEFAULT 0
)`

	createDeviceUsageCountersSQL = `
CREATE TABLE IF NOT EXISTS device_usage_counters (
    user_id VARCHAR(255) NOT NULL,
    device_id VARCHAR(255) NOT NULL,
    period_start DATE NOT NULL,
    offers_generated BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, device_id)
)`
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore keeps counters in usage_counters and device_usage_counters.
// It supports Postgres, MySQL, and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect string
	atomic  bool
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithAtomic sets the atomic capability flag. Default: true.
func WithAtomic(enabled bool) SQLOption {
	return func(s *SQLStore) { s.atomic = enabled }
}

// NewSQLStore creates the store and ensures both tables exist.
func NewSQLStore(db *sql.DB, d string, opts ...SQLOption) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := dialect.Validate(d); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, dialect: d, atomic: true}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createUsageCountersSQL); err != nil {
		return fmt.Errorf("failed to create usage_counters table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createDeviceUsageCountersSQL); err != nil {
		return fmt.Errorf("failed to create device_usage_counters table: %w", err)
	}
	return nil
}

// target resolves the table, key predicate and key arguments for a subject.
func target(sub Subject) (table, where string, keys []any) {
	if sub.Kind == KindDevice {
		return "device_usage_counters", "user_id = ? AND device_id = ?", []any{sub.UserID, sub.DeviceID}
	}
	return "usage_counters", "user_id = ?", []any{sub.UserID}
}

func keyColumns(sub Subject) []string {
	if sub.Kind == KindDevice {
		return []string{"user_id", "device_id"}
	}
	return []string{"user_id"}
}

func (s *SQLStore) q(query string) string {
	return dialect.Rebind(s.dialect, query)
}

func (s *SQLStore) get(ctx context.Context, ex execer, sub Subject) (*Counter, error) {
	table, where, keys := target(sub)
	query := s.q(fmt.Sprintf(`SELECT period_start, offers_generated FROM %s WHERE %s`, table, where))

	var (
		period    periodColumn
		generated int64
	)
	err := ex.QueryRowContext(ctx, query, keys...).Scan(&period, &generated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query counter: %w", err)
	}
	return &Counter{Subject: sub, PeriodStart: period.t, Generated: generated}, nil
}

func (s *SQLStore) ensure(ctx context.Context, ex execer, sub Subject, period time.Time) error {
	table, _, keys := target(sub)
	cols := append(keyColumns(sub), "period_start", "offers_generated")
	args := append(append([]any{}, keys...), FormatPeriod(period), 0)

	if _, err := ex.ExecContext(ctx, dialect.InsertIgnore(s.dialect, table, cols), args...); err != nil {
		return fmt.Errorf("failed to insert counter: %w", err)
	}
	return nil
}

func (s *SQLStore) reset(ctx context.Context, ex execer, sub Subject, period time.Time) error {
	table, where, keys := target(sub)
	query := s.q(fmt.Sprintf(`UPDATE %s SET period_start = ?, offers_generated = 0 WHERE %s AND period_start <> ?`, table, where))

	p := FormatPeriod(period)
	args := append(append([]any{p}, keys...), p)
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	return nil
}

// EnsureCounter selects the counter, inserting a zero row first if needed.
func (s *SQLStore) EnsureCounter(ctx context.Context, sub Subject, periodStart time.Time) (*Counter, error) {
	if err := s.ensure(ctx, s.db, sub, PeriodDate(periodStart)); err != nil {
		return nil, err
	}
	return s.mustGet(ctx, s.db, sub)
}

// ResetIfStale moves a stale counter to periodStart with zero generated.
func (s *SQLStore) ResetIfStale(ctx context.Context, sub Subject, periodStart time.Time) (*Counter, error) {
	if err := s.reset(ctx, s.db, sub, PeriodDate(periodStart)); err != nil {
		return nil, err
	}
	return s.mustGet(ctx, s.db, sub)
}

func (s *SQLStore) mustGet(ctx context.Context, ex execer, sub Subject) (*Counter, error) {
	c, err := s.get(ctx, ex, sub)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("counter for %s disappeared", sub)
	}
	return c, nil
}

// SetGenerated upserts the counter.
func (s *SQLStore) SetGenerated(ctx context.Context, sub Subject, periodStart time.Time, generated int64) error {
	table, _, keys := target(sub)
	cols := append(keyColumns(sub), "period_start", "offers_generated")
	args := append(append([]any{}, keys...), FormatPeriod(periodStart), generated)

	if _, err := s.db.ExecContext(ctx, dialect.Upsert(s.dialect, table, cols, keyColumns(sub)), args...); err != nil {
		return fmt.Errorf("failed to write counter: %w", err)
	}
	return nil
}

// AddOne adds one within the same period.
func (s *SQLStore) AddOne(ctx context.Context, sub Subject, periodStart time.Time) (*Counter, error) {
	table, where, keys := target(sub)
	query := s.q(fmt.Sprintf(
		`UPDATE %s SET offers_generated = offers_generated + 1 WHERE %s AND period_start = ?`,
		table, where))

	period := PeriodDate(periodStart)
	args := append(append([]any{}, keys...), FormatPeriod(period))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to increment counter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPeriodMoved, sub)
	}
	return s.mustGet(ctx, s.db, sub)
}

// Decrement subtracts one within the same period, never below zero.
func (s *SQLStore) Decrement(ctx context.Context, sub Subject, periodStart time.Time) error {
	table, where, keys := target(sub)
	query := s.q(fmt.Sprintf(
		`UPDATE %s SET offers_generated = offers_generated - 1 WHERE %s AND period_start = ? AND offers_generated > 0`,
		table, where))

	args := append(append([]any{}, keys...), FormatPeriod(periodStart))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to decrement counter: %w", err)
	}
	return nil
}

// Get returns the counter or nil.
func (s *SQLStore) Get(ctx context.Context, sub Subject) (*Counter, error) {
	return s.get(ctx, s.db, sub)
}

// SupportsAtomicIncrement reports the configured capability flag.
func (s *SQLStore) SupportsAtomicIncrement() bool {
	return s.atomic
}

// IncrementAtomic ensures, resets and conditionally increments inside one
// transaction. The increment is a single UPDATE guarded by
// offers_generated < limit, so concurrent callers cannot both pass the check.
func (s *SQLStore) IncrementAtomic(ctx context.Context, sub Subject, limit *int64, periodStart time.Time) (out *Outcome, err error) {
	period := PeriodDate(periodStart)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.ensure(ctx, tx, sub, period); err != nil {
		return nil, err
	}
	if err = s.reset(ctx, tx, sub, period); err != nil {
		return nil, err
	}

	table, where, keys := target(sub)
	query := fmt.Sprintf(`UPDATE %s SET offers_generated = offers_generated + 1 WHERE %s`, table, where)
	args := append([]any{}, keys...)
	if limit != nil {
		query += " AND offers_generated < ?"
		args = append(args, *limit)
	}

	res, err := tx.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to increment counter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	c, err := s.mustGet(ctx, tx, sub)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit increment: %w", err)
	}
	return &Outcome{Allowed: affected > 0, Generated: c.Generated, PeriodStart: period}, nil
}

// Close does not close the shared database connection.
func (s *SQLStore) Close() error {
	return nil
}
