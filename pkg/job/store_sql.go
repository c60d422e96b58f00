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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/quill/internal/dialect"
	"github.com/kadirpekel/quill/pkg/quota"
)

const (
	createJobsTableSQL = `
CREATE TABLE IF NOT EXISTS jobs (
    job_id VARCHAR(255) NOT NULL PRIMARY KEY,
    offer_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    storage_path VARCHAR(1024) NOT NULL,
    html TEXT NOT NULL,
    callback_url VARCHAR(2048),
    usage_period_start VARCHAR(10) NOT NULL,
    user_limit BIGINT,
    device_id VARCHAR(255),
    device_limit BIGINT,
    template_id VARCHAR(255) NOT NULL DEFAULT '',
    requested_template_id VARCHAR(255) NOT NULL DEFAULT '',
    status VARCHAR(32) NOT NULL,
    pdf_url VARCHAR(2048),
    error_message TEXT,
    created_at TIMESTAMP NOT NULL,
    started_at TIMESTAMP NULL,
    completed_at TIMESTAMP NULL
)`

	createJobsStatusIndexSQL = `CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at)`

	jobColumns = `job_id, offer_id, user_id, storage_path, html, callback_url, usage_period_start,
    user_limit, device_id, device_limit, template_id, requested_template_id,
    status, pdf_url, error_message, created_at, started_at, completed_at`
)

// SQLStore persists jobs in the jobs table. It supports Postgres, MySQL, and
// SQLite. MySQL connections need parseTime=true.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the store and ensures the table exists.
func NewSQLStore(db *sql.DB, d string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := dialect.Validate(d); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createJobsTableSQL); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	// MySQL has no CREATE INDEX IF NOT EXISTS.
	if s.dialect != dialect.MySQL {
		if _, err := s.db.ExecContext(ctx, createJobsStatusIndexSQL); err != nil {
			return fmt.Errorf("failed to create jobs index: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return dialect.Rebind(s.dialect, query)
}

func (s *SQLStore) Create(ctx context.Context, j *Job) error {
	if err := j.Validate(); err != nil {
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", 18), ", ")
	query := s.q(fmt.Sprintf("INSERT INTO jobs (%s) VALUES (%s)", jobColumns, placeholders))

	_, err := s.db.ExecContext(ctx, query,
		j.ID, j.OfferID, j.UserID, j.StoragePath, j.HTML, nullString(j.CallbackURL),
		quota.FormatPeriod(j.UsagePeriodStart),
		nullInt(j.UserLimit), nullString(j.DeviceID), nullInt(j.DeviceLimit),
		j.TemplateID, j.RequestedTemplateID,
		string(StatusQueued), nil, nil, j.CreatedAt.UTC(), nil, nil,
	)
	if err != nil {
		if _, getErr := s.Get(ctx, j.ID); getErr == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, j.ID)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                      Job
		callbackURL, deviceID  sql.NullString
		pdfURL, errMsg         sql.NullString
		userLimit, deviceLimit sql.NullInt64
		period, status         string
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.OfferID, &j.UserID, &j.StoragePath, &j.HTML, &callbackURL, &period,
		&userLimit, &deviceID, &deviceLimit, &j.TemplateID, &j.RequestedTemplateID,
		&status, &pdfURL, &errMsg, &j.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.UsagePeriodStart, err = quota.ParsePeriod(period); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.CallbackURL = callbackURL.String
	j.DeviceID = deviceID.String
	j.PDFURL = pdfURL.String
	j.ErrorMessage = errMsg.String
	j.CreatedAt = j.CreatedAt.UTC()
	if userLimit.Valid {
		j.UserLimit = &userLimit.Int64
	}
	if deviceLimit.Valid {
		j.DeviceLimit = &deviceLimit.Int64
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		j.CompletedAt = &t
	}
	return &j, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	query := s.q(fmt.Sprintf("SELECT %s FROM jobs WHERE job_id = ?", jobColumns))

	j, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return j, nil
}

// transition runs a conditional UPDATE guarded by the allowed source statuses.
// When nothing matched, a follow-up read tells a missing job from a wrong state.
func (s *SQLStore) transition(ctx context.Context, id string, target Status, set string, args ...any) error {
	from := transitions[target]
	in := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := s.q(fmt.Sprintf("UPDATE jobs SET status = ?, %s WHERE job_id = ? AND status IN (%s)", set, in))

	all := append([]any{string(target)}, args...)
	all = append(all, id)
	for _, st := range from {
		all = append(all, string(st))
	}

	res, err := s.db.ExecContext(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidTransition, id, current.Status, target)
}

func (s *SQLStore) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	return s.transition(ctx, id, StatusProcessing, "started_at = ?", startedAt.UTC())
}

func (s *SQLStore) MarkCompleted(ctx context.Context, id, pdfURL string, completedAt time.Time) error {
	return s.transition(ctx, id, StatusCompleted, "pdf_url = ?, error_message = NULL, completed_at = ?", pdfURL, completedAt.UTC())
}

func (s *SQLStore) MarkFailed(ctx context.Context, id, message string, completedAt time.Time) error {
	return s.transition(ctx, id, StatusFailed, "error_message = ?, completed_at = ?", message, completedAt.UTC())
}

func (s *SQLStore) ListByStatus(ctx context.Context, status Status, createdBefore time.Time, limit int) ([]*Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE status = ? AND created_at < ? ORDER BY created_at", jobColumns)
	args := []any{string(status), createdBefore.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return out, nil
}

// Close does not close the shared database connection.
func (s *SQLStore) Close() error {
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
