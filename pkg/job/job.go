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

// Package job persists PDF generation jobs and guards their lifecycle.
//
// A job moves queued -> processing -> completed|failed. Transitions are
// conditional updates on the current status, so a terminal job can never be
// moved again and concurrent workers cannot both claim the same job.
package job

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

var (
	// ErrNotFound is returned when no job has the given id.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyExists is returned when creating a job with a used id.
	ErrAlreadyExists = errors.New("job already exists")

	// ErrInvalidTransition is returned when the job is not in a state the
	// requested transition may start from.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Job is one PDF generation request. ID doubles as the download token
// handed to the caller.
type Job struct {
	ID          string `json:"jobId"`
	OfferID     string `json:"offerId"`
	UserID      string `json:"userId"`
	StoragePath string `json:"storagePath"`
	HTML        string `json:"-"`
	CallbackURL string `json:"callbackUrl,omitempty"`

	UsagePeriodStart time.Time `json:"usagePeriodStart"`
	UserLimit        *int64    `json:"userLimit,omitempty"`
	DeviceID         string    `json:"deviceId,omitempty"`
	DeviceLimit      *int64    `json:"deviceLimit,omitempty"`

	TemplateID          string `json:"templateId,omitempty"`
	RequestedTemplateID string `json:"requestedTemplateId,omitempty"`

	Status       Status     `json:"status"`
	PDFURL       string     `json:"pdfUrl,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// ChargesDevice reports whether the job carries a device quota.
func (j *Job) ChargesDevice() bool {
	return j.DeviceID != "" && j.DeviceLimit != nil
}

// Validate checks the fields required at creation.
func (j *Job) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("job id is required")
	case j.OfferID == "":
		return fmt.Errorf("offer id is required")
	case j.UserID == "":
		return fmt.Errorf("user id is required")
	case j.StoragePath == "":
		return fmt.Errorf("storage path is required")
	case j.UsagePeriodStart.IsZero():
		return fmt.Errorf("usage period start is required")
	}
	return nil
}

func (j *Job) clone() *Job {
	c := *j
	if j.UserLimit != nil {
		v := *j.UserLimit
		c.UserLimit = &v
	}
	if j.DeviceLimit != nil {
		v := *j.DeviceLimit
		c.DeviceLimit = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}
