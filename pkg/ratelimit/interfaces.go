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
	"time"
)

// Store persists key -> (count, expiresAt) records.
//
// Implementations return expired records as-is; expiry is decided by the
// Limiter against the time it was given. All methods must be safe for
// concurrent use.
type Store interface {
	// Get returns the record for key, or nil if none exists.
	Get(ctx context.Context, key string) (*Record, error)

	// Increment counts one attempt against key in a single atomic step. An
	// absent record, or one expiring at or before now, restarts as count 1
	// expiring at now+window; otherwise count grows by one and the expiry is
	// kept. It returns the record as written.
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error)

	// Put creates or overwrites the record for rec.Key.
	Put(ctx context.Context, rec Record) error

	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteExpired removes records whose expiry is at or before the given time
	// and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	// Close releases resources owned by the store.
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
	_ Store = (*RedisStore)(nil)
)
