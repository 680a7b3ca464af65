/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package executor runs dispatched jobs and reports back when they finish.
package executor

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRejected is returned when an executor refuses a dispatch.
	ErrRejected = errors.New("dispatch rejected")

	// ErrUnknownJob is returned by Cancel for jobs the executor is not running.
	ErrUnknownJob = errors.New("job not running on executor")
)

// Outcomes reported on completion.
const (
	OutcomeSucceeded = "succeeded"
)

// RejectedError carries the reason an executor gave for refusing a job.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "dispatch rejected: " + e.Reason }

// Unwrap lets errors.Is match ErrRejected.
func (e *RejectedError) Unwrap() error { return ErrRejected }

// Reject builds a RejectedError.
func Reject(reason string) error { return &RejectedError{Reason: reason} }

// Executor accepts jobs for execution. Dispatch returns once the job is
// accepted or rejected; the outcome arrives later through Callbacks.
type Executor interface {
	Dispatch(ctx context.Context, jobID string, duration time.Duration) error
	// Cancel asks the executor to stop a job. Confirmation arrives as an
	// OnFailed callback.
	Cancel(ctx context.Context, jobID string) error
}

// Callbacks receive job outcomes from an executor.
type Callbacks interface {
	OnComplete(ctx context.Context, jobID, outcome string, actualEmissionsG *float64) error
	OnFailed(ctx context.Context, jobID, reason string) error
}

// Binder is implemented by executors that deliver outcomes via Callbacks.
type Binder interface {
	Bind(cb Callbacks) error
}
