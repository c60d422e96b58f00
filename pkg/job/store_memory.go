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
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps jobs in a map. Returned jobs are copies.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Create(_ context.Context, j *Job) error {
	if err := j.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, j.ID)
	}
	c := j.clone()
	c.Status = StatusQueued
	c.UsagePeriodStart = j.UsagePeriodStart.UTC()
	c.CreatedAt = j.CreatedAt.UTC()
	s.jobs[j.ID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.clone(), nil
}

func (s *MemoryStore) transition(id string, target Status, apply func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !allowedFrom(target, j.Status) {
		return fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidTransition, id, j.Status, target)
	}
	j.Status = target
	apply(j)
	return nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id string, startedAt time.Time) error {
	return s.transition(id, StatusProcessing, func(j *Job) {
		t := startedAt.UTC()
		j.StartedAt = &t
	})
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id, pdfURL string, completedAt time.Time) error {
	return s.transition(id, StatusCompleted, func(j *Job) {
		t := completedAt.UTC()
		j.PDFURL = pdfURL
		j.ErrorMessage = ""
		j.CompletedAt = &t
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id, message string, completedAt time.Time) error {
	return s.transition(id, StatusFailed, func(j *Job) {
		t := completedAt.UTC()
		j.ErrorMessage = message
		j.CompletedAt = &t
	})
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, createdBefore time.Time, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Job
	for _, j := range s.jobs {
		if j.Status == status && j.CreatedAt.Before(createdBefore) {
			out = append(out, j.clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
