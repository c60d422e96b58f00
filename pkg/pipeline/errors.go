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

package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Step names a stage of Process.
type Step string

const (
	StepRender      Step = "render"
	StepUpload      Step = "upload"
	StepUserQuota   Step = "user_quota"
	StepDeviceQuota Step = "device_quota"
	StepFinalize    Step = "finalize"
)

var (
	// ErrRender matches failures of the external renderer.
	ErrRender = errors.New("render failed")

	// ErrStorage matches failures writing the rendered object.
	ErrStorage = errors.New("storage upload failed")

	// ErrQuota matches quota charges that failed or were rejected.
	ErrQuota = errors.New("quota charge failed")

	// ErrFinalize matches failures recording the result.
	ErrFinalize = errors.New("finalize failed")

	// ErrNoDispatcher is returned by Dispatch when none is configured.
	ErrNoDispatcher = errors.New("no dispatcher configured")
)

// StepError is the error Process returns when a step fails. It wraps the
// original cause.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the failed step.
func (e *StepError) Is(target error) bool {
	switch e.Step {
	case StepRender:
		return target == ErrRender
	case StepUpload:
		return target == ErrStorage
	case StepUserQuota, StepDeviceQuota:
		return target == ErrQuota
	case StepFinalize:
		return target == ErrFinalize
	}
	return false
}

// FailedStep returns the step err came from, or "".
func FailedStep(err error) Step {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// CompensationFailure is one rollback action that failed.
type CompensationFailure struct {
	Action string
	Err    error
}

// CompensationError collects the rollback actions that failed. It is logged,
// never returned in place of the original failure.
type CompensationError struct {
	Failures []CompensationFailure
}

func (e *CompensationError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Action, f.Err)
	}
	return "compensation incomplete: " + strings.Join(parts, "; ")
}

func (e *CompensationError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
