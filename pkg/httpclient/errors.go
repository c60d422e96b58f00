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

package httpclient

import (
	"errors"
	"fmt"
)

// StatusError is returned with every non-2xx response.
type StatusError struct {
	StatusCode int
	Attempts   int
	// Exhausted is set when the status was retryable but the client gave up.
	Exhausted bool
}

func (e *StatusError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("upstream returned %d after %d attempts", e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}

// StatusCode extracts the upstream status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsExhausted reports whether err gave up on a retryable status.
func IsExhausted(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Exhausted
}
