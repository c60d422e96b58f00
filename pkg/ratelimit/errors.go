// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimitExceeded is returned when a rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("invalid rate limit key")

	// ErrInvalidRule is returned for rules without a positive limit or window.
	ErrInvalidRule = errors.New("invalid rate limit rule")
)

// LimitError carries the rejected Result.
type LimitError struct {
	Key    string
	Result *Result
}

func (e *LimitError) Error() string {
	if e.Result == nil {
		return ErrRateLimitExceeded.Error()
	}
	return fmt.Sprintf("rate limit exceeded for %q, retry after %dms", e.Key, e.Result.RetryAfterMs())
}

func (e *LimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// IsRateLimitError reports whether err signals a rejection.
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}

// ResultFromError extracts the Result from a LimitError chain.
func ResultFromError(err error) *Result {
	var le *LimitError
	if errors.As(err, &le) {
		return le.Result
	}
	return nil
}
