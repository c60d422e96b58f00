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
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/quill/internal/dialect"
)

const createOffersTableSQL = `
CREATE TABLE IF NOT EXISTS offers (
    offer_id VARCHAR(255) NOT NULL PRIMARY KEY,
    pdf_url VARCHAR(2048),
    pdf_updated_at TIMESTAMP NULL
)`

// SQLStore writes to the offers table. Rows the service has not seen yet are
// created on first write.
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createOffersTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create offers table: %w", err)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) SetPDFURL(ctx context.Context, offerID, pdfURL string, at time.Time) error {
	query := dialect.Upsert(s.dialect, "offers", []string{"offer_id", "pdf_url", "pdf_updated_at"}, []string{"offer_id"})
	if _, err := s.db.ExecContext(ctx, query, offerID, pdfURL, at.UTC()); err != nil {
		return fmt.Errorf("failed to update offer %s: %w", offerID, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, offerID string) (*Offer, error) {
	query := dialect.Rebind(s.dialect, "SELECT offer_id, pdf_url, pdf_updated_at FROM offers WHERE offer_id = ?")

	var (
		o         Offer
		pdfURL    sql.NullString
		updatedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, offerID).Scan(&o.ID, &pdfURL, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query offer: %w", err)
	}
	o.PDFURL = pdfURL.String
	if updatedAt.Valid {
		o.PDFUpdatedAt = updatedAt.Time.UTC()
	}
	return &o, nil
}

// Close does not close the shared database connection.
func (s *SQLStore) Close() error {
	return nil
}
