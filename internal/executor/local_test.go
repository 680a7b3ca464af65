/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type outcome struct {
	jobID   string
	outcome string
	reason  string
	failed  bool
}

type recorder struct {
	events chan outcome
}

func newRecorder() *recorder { return &recorder{events: make(chan outcome, 16)} }

func (r *recorder) OnComplete(_ context.Context, jobID, result string, _ *float64) error {
	r.events <- outcome{jobID: jobID, outcome: result}
	return nil
}

func (r *recorder) OnFailed(_ context.Context, jobID, reason string) error {
	r.events <- outcome{jobID: jobID, reason: reason, failed: true}
	return nil
}

func (r *recorder) wait(t *testing.T) outcome {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no callback received")
		return outcome{}
	}
}

func TestLocalCompletes(t *testing.T) {
	l := NewLocal(1, 1.0/3600/1000, zerolog.Nop()) // 1h -> 1ms
	defer l.Close()
	cb := newRecorder()
	if err := l.Bind(cb); err != nil {
		t.Fatal(err)
	}

	if err := l.Dispatch(context.Background(), "job-1", time.Hour); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	ev := cb.wait(t)
	if ev.failed || ev.jobID != "job-1" || ev.outcome != OutcomeSucceeded {
		t.Errorf("callback = %+v", ev)
	}
	if l.Running() != 0 {
		t.Errorf("Running() = %d after completion", l.Running())
	}
}

func TestLocalRejectsWhenFull(t *testing.T) {
	l := NewLocal(1, 1, zerolog.Nop())
	defer l.Close()
	if err := l.Bind(newRecorder()); err != nil {
		t.Fatal(err)
	}

	if err := l.Dispatch(context.Background(), "a", time.Hour); err != nil {
		t.Fatalf("Dispatch(a) error = %v", err)
	}
	err := l.Dispatch(context.Background(), "b", time.Hour)
	var rejected *RejectedError
	if !errors.As(err, &rejected) || !errors.Is(err, ErrRejected) {
		t.Fatalf("Dispatch(b) error = %v, want RejectedError", err)
	}
	if rejected.Reason == "" {
		t.Error("rejection without reason")
	}
}

func TestLocalUnboundRejects(t *testing.T) {
	l := NewLocal(1, 1, zerolog.Nop())
	if err := l.Dispatch(context.Background(), "a", time.Hour); !errors.Is(err, ErrRejected) {
		t.Errorf("Dispatch() error = %v, want ErrRejected", err)
	}
}

func TestLocalCancelConfirms(t *testing.T) {
	l := NewLocal(2, 1, zerolog.Nop())
	defer l.Close()
	cb := newRecorder()
	if err := l.Bind(cb); err != nil {
		t.Fatal(err)
	}

	if err := l.Dispatch(context.Background(), "a", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := l.Cancel(context.Background(), "a"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	ev := cb.wait(t)
	if !ev.failed || ev.reason != "cancelled" {
		t.Errorf("callback = %+v, want cancelled failure", ev)
	}
	if err := l.Cancel(context.Background(), "a"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("second Cancel() error = %v, want ErrUnknownJob", err)
	}
}

func TestLocalCloseIsSilent(t *testing.T) {
	l := NewLocal(1, 1, zerolog.Nop())
	cb := newRecorder()
	if err := l.Bind(cb); err != nil {
		t.Fatal(err)
	}
	if err := l.Dispatch(context.Background(), "a", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-cb.events:
		t.Errorf("unexpected callback after Close: %+v", ev)
	default:
	}
	if err := l.Dispatch(context.Background(), "b", time.Hour); !errors.Is(err, ErrRejected) {
		t.Errorf("Dispatch() after Close error = %v", err)
	}
}
