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
	"fmt"
	"time"
)

// Record is the persisted state of one key.
// Count is only meaningful while now < ExpiresAt.
type Record struct {
	Key       string    `json:"key"`
	Count     int64     `json:"count"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record must be treated as absent at now.
func (r *Record) Expired(now time.Time) bool {
	return r == nil || !now.Before(r.ExpiresAt)
}

// Rule is a fixed-window limit.
type Rule struct {
	MaxRequests int64         `json:"max_requests"`
	Window      time.Duration `json:"window"`
}

// Validate checks that the rule can produce a decision.
func (r Rule) Validate() error {
	if r.MaxRequests <= 0 {
		return fmt.Errorf("%w: max_requests must be positive, got %d", ErrInvalidRule, r.MaxRequests)
	}
	if r.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidRule, r.Window)
	}
	return nil
}

// Result is the outcome of one consumption.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int64         `json:"remaining"`
	Limit      int64         `json:"limit"`
	RetryAfter time.Duration `json:"retry_after"`
	ResetAt    time.Time     `json:"reset_at"`
}

// RetryAfterMs returns RetryAfter in whole milliseconds.
func (r *Result) RetryAfterMs() int64 {
	if r == nil {
		return 0
	}
	return r.RetryAfter.Milliseconds()
}

// evaluate derives the caller-facing result from the record just written.
func evaluate(rec Record, rule Rule, now time.Time) *Result {
	remaining := rule.MaxRequests - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	retryAfter := rec.ExpiresAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Result{
		Allowed:    rec.Count <= rule.MaxRequests,
		Remaining:  remaining,
		Limit:      rule.MaxRequests,
		RetryAfter: retryAfter,
		ResetAt:    rec.ExpiresAt,
	}
}
