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
	"time"
)

// Store persists one counter per subject.
type Store interface {
	// EnsureCounter returns the subject's counter, inserting a zero counter
	// for periodStart when none exists.
	EnsureCounter(ctx context.Context, s Subject, periodStart time.Time) (*Counter, error)

	// ResetIfStale resets the counter to zero for periodStart when its stored
	// period differs, and returns the current counter.
	ResetIfStale(ctx context.Context, s Subject, periodStart time.Time) (*Counter, error)

	// SetGenerated overwrites the counter value for periodStart.
	SetGenerated(ctx context.Context, s Subject, periodStart time.Time, generated int64) error

	// AddOne adds one to the counter if its stored period equals periodStart
	// and returns the counter afterwards. It returns ErrPeriodMoved when the
	// counter is missing or on another period.
	AddOne(ctx context.Context, s Subject, periodStart time.Time) (*Counter, error)

	// Decrement subtracts one, floored at zero, if the stored period still
	// equals periodStart. A counter that moved on is left untouched.
	Decrement(ctx context.Context, s Subject, periodStart time.Time) error

	// Get returns the counter or nil.
	Get(ctx context.Context, s Subject) (*Counter, error)

	Close() error
}

// AtomicIncrementer is implemented by stores that can reset, check and
// increment a counter in one transaction.
type AtomicIncrementer interface {
	// SupportsAtomicIncrement reports whether IncrementAtomic may be used.
	SupportsAtomicIncrement() bool

	// IncrementAtomic applies the increment when generated < *limit, or
	// always when limit is nil.
	IncrementAtomic(ctx context.Context, s Subject, limit *int64, periodStart time.Time) (*Outcome, error)
}

var (
	_ Store             = (*MemoryStore)(nil)
	_ AtomicIncrementer = (*MemoryStore)(nil)
	_ Store             = (*SQLStore)(nil)
	_ AtomicIncrementer = (*SQLStore)(nil)
)
