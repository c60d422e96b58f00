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
	"time"
)

// Store persists jobs. Jobs are never deleted.
type Store interface {
	// Create inserts j in status queued.
	Create(ctx context.Context, j *Job) error

	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// MarkProcessing moves a queued job to processing.
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error

	// MarkCompleted moves a processing job to completed with its URL.
	MarkCompleted(ctx context.Context, id, pdfURL string, completedAt time.Time) error

	// MarkFailed moves a queued or processing job to failed.
	MarkFailed(ctx context.Context, id, message string, completedAt time.Time) error

	// ListByStatus returns up to limit jobs in status created before the
	// given time, oldest first. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, status Status, createdBefore time.Time, limit int) ([]*Job, error)

	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)

// transitions lists the statuses each target may be entered from.
var transitions = map[Status][]Status{
	StatusProcessing: {StatusQueued},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusQueued, StatusProcessing},
}

func allowedFrom(target, current Status) bool {
	for _, s := range transitions[target] {
		if s == current {
			return true
		}
	}
	return false
}
