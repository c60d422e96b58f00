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
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is returned when a subject has no generations left.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidSubject is returned for subjects missing required ids.
	ErrInvalidSubject = errors.New("invalid quota subject")

	// ErrPeriodMoved is returned when a counter left the period being charged.
	ErrPeriodMoved = errors.New("counter period moved")
)

// ExceededError describes a rejected increment.
type ExceededError struct {
	Subject   Subject
	Limit     int64
	Generated int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d of %d generated this period", e.Subject.Kind, e.Generated, e.Limit)
}

func (e *ExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// IsExceeded reports whether err is a quota rejection.
func IsExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
