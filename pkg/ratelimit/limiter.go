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
	"fmt"
	"log/slog"
	"time"
)

// Limiter is a fixed-window rate limiter.
//
// It performs no in-process locking. Every count change goes through
// Store.Increment, which each backend applies atomically.
type Limiter struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for migration events.
func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) {
		if l != nil {
			lim.logger = l
		}
	}
}

// NewLimiter creates a Limiter over store.
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying store.
func (l *Limiter) Store() Store {
	return l.store
}

// Consume counts one attempt against key.
//
// An absent or expired record starts a new window with count 1. Otherwise the
// count is incremented and the expiry kept. Store errors are returned as-is
// (wrapped) and never converted into a decision.
func (l *Limiter) Consume(ctx context.Context, key string, rule Rule, now time.Time) (*Result, error) {
	if err := validate(key, rule); err != nil {
		return nil, err
	}
	return l.increment(ctx, key, rule, now)
}

// ConsumeWithMigration behaves like Consume on primaryKey, but when the primary
// record is absent or expired it checks legacyKeys in order. The first
// unexpired legacy record is carried over: the primary key is written with
// count+1 and the legacy expiry, then the legacy record is deleted.
//
// A live primary record goes through the atomic increment. The migration
// itself is a write and a delete, two store calls: two concurrent first hits
// on the same legacy key may both migrate it.
//
// TODO: add a Store.Migrate(ctx, from, to Record) that the SQL store runs in
// one transaction and the Redis store in one MULTI, and call it here.
func (l *Limiter) ConsumeWithMigration(ctx context.Context, primaryKey string, legacyKeys []string, rule Rule, now time.Time) (*Result, error) {
	if err := validate(primaryKey, rule); err != nil {
		return nil, err
	}

	existing, err := l.store.Get(ctx, primaryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit record %q: %w", primaryKey, err)
	}
	if !existing.Expired(now) {
		return l.increment(ctx, primaryKey, rule, now)
	}

	for _, legacyKey := range legacyKeys {
		if legacyKey == "" || legacyKey == primaryKey {
			continue
		}

		legacy, err := l.store.Get(ctx, legacyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read legacy rate limit record %q: %w", legacyKey, err)
		}
		if legacy.Expired(now) {
			continue
		}

		migrated := Record{Key: primaryKey, Count: legacy.Count + 1, ExpiresAt: legacy.ExpiresAt}
		result, err := l.write(ctx, migrated, rule, now)
		if err != nil {
			return nil, err
		}
		if err := l.store.Delete(ctx, legacyKey); err != nil {
			return nil, fmt.Errorf("failed to delete legacy rate limit record %q: %w", legacyKey, err)
		}

		l.logger.Debug("Migrated rate limit record", "from", legacyKey, "to", primaryKey, "count", migrated.Count)
		return result, nil
	}

	return l.increment(ctx, primaryKey, rule, now)
}

func (l *Limiter) increment(ctx context.Context, key string, rule Rule, now time.Time) (*Result, error) {
	rec, err := l.store.Increment(ctx, key, rule.Window, now)
	if err != nil {
		return nil, fmt.Errorf("failed to increment rate limit record %q: %w", key, err)
	}
	return evaluate(rec, rule, now), nil
}

func (l *Limiter) write(ctx context.Context, rec Record, rule Rule, now time.Time) (*Result, error) {
	if err := l.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to write rate limit record %q: %w", rec.Key, err)
	}
	return evaluate(rec, rule, now), nil
}

func validate(key string, rule Rule) error {
	if key == "" {
		return ErrInvalidKey
	}
	return rule.Validate()
}
