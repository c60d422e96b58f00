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
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps counters in a map. Its atomic capability can be switched
// off to exercise the fallback path.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[Subject]Counter
	atomic   bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithAtomicIncrement toggles the atomic capability. Default: true.
func WithAtomicIncrement(enabled bool) MemoryOption {
	return func(s *MemoryStore) { s.atomic = enabled }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{counters: make(map[Subject]Counter), atomic: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) EnsureCounter(_ context.Context, sub Subject, periodStart time.Time) (*Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[sub]
	if !ok {
		c = Counter{Subject: sub, PeriodStart: PeriodDate(periodStart)}
		s.counters[sub] = c
	}
	return &c, nil
}

func (s *MemoryStore) ResetIfStale(_ context.Context, sub Subject, periodStart time.Time) (*Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	period := PeriodDate(periodStart)
	c, ok := s.counters[sub]
	if !ok || !c.PeriodStart.Equal(period) {
		c = Counter{Subject: sub, PeriodStart: period}
		s.counters[sub] = c
	}
	return &c, nil
}

func (s *MemoryStore) SetGenerated(_ context.Context, sub Subject, periodStart time.Time, generated int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[sub] = Counter{Subject: sub, PeriodStart: PeriodDate(periodStart), Generated: generated}
	return nil
}

func (s *MemoryStore) AddOne(_ context.Context, sub Subject, periodStart time.Time) (*Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[sub]
	if !ok || !c.PeriodStart.Equal(PeriodDate(periodStart)) {
		return nil, fmt.Errorf("%w: %s", ErrPeriodMoved, sub)
	}
	c.Generated++
	s.counters[sub] = c
	return &c, nil
}

func (s *MemoryStore) Decrement(_ context.Context, sub Subject, periodStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[sub]
	if !ok || !c.PeriodStart.Equal(PeriodDate(periodStart)) || c.Generated == 0 {
		return nil
	}
	c.Generated--
	s.counters[sub] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sub Subject) (*Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[sub]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// SupportsAtomicIncrement reports the configured capability.
func (s *MemoryStore) SupportsAtomicIncrement() bool {
	return s.atomic
}

// IncrementAtomic runs reset, check and increment under the store lock.
func (s *MemoryStore) IncrementAtomic(_ context.Context, sub Subject, limit *int64, periodStart time.Time) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	period := PeriodDate(periodStart)
	c, ok := s.counters[sub]
	if !ok || !c.PeriodStart.Equal(period) {
		c = Counter{Subject: sub, PeriodStart: period}
	}

	if limit != nil && c.Generated >= *limit {
		s.counters[sub] = c
		return &Outcome{Allowed: false, Generated: c.Generated, PeriodStart: period}, nil
	}

	c.Generated++
	s.counters[sub] = c
	return &Outcome{Allowed: true, Generated: c.Generated, PeriodStart: period}, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
