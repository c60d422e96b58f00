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
	"fmt"
	"time"
)

// Kind distinguishes user and device counters.
type Kind string

const (
	KindUser   Kind = "user"
	KindDevice Kind = "device"
)

// Subject identifies a counter row.
type Subject struct {
	Kind     Kind   `json:"kind"`
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

// User returns the user subject for userID.
func User(userID string) Subject {
	return Subject{Kind: KindUser, UserID: userID}
}

// Device returns the device subject owned by userID.
func Device(userID, deviceID string) Subject {
	return Subject{Kind: KindDevice, UserID: userID, DeviceID: deviceID}
}

// Validate checks the subject carries the ids its kind needs.
func (s Subject) Validate() error {
	switch s.Kind {
	case KindUser:
		if s.UserID == "" {
			return fmt.Errorf("%w: user_id is required", ErrInvalidSubject)
		}
	case KindDevice:
		if s.UserID == "" || s.DeviceID == "" {
			return fmt.Errorf("%w: user_id and device_id are required for device counters", ErrInvalidSubject)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSubject, s.Kind)
	}
	return nil
}

func (s Subject) String() string {
	if s.Kind == KindDevice {
		return fmt.Sprintf("device:%s/%s", s.UserID, s.DeviceID)
	}
	return fmt.Sprintf("user:%s", s.UserID)
}

// Counter is the stored state of a subject.
type Counter struct {
	Subject     Subject   `json:"subject"`
	PeriodStart time.Time `json:"period_start"`
	Generated   int64     `json:"generated"`
}

// Outcome is the result of one increment attempt.
type Outcome struct {
	Allowed     bool      `json:"allowed"`
	Generated   int64     `json:"generated"`
	PeriodStart time.Time `json:"period_start"`
}

// Usage reports a subject's consumption for a period.
// Remaining is nil for unmetered plans.
type Usage struct {
	Subject     Subject   `json:"subject"`
	PeriodStart time.Time `json:"period_start"`
	Generated   int64     `json:"generated"`
	Limit       *int64    `json:"limit,omitempty"`
	Remaining   *int64    `json:"remaining,omitempty"`
}

// Limit returns a pointer to n, for building limits inline.
func Limit(n int64) *int64 {
	return &n
}
