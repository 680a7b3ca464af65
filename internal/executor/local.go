/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Local runs jobs in-process as timers. Scale shrinks wall time so demos
// and tests can run hour-long jobs in milliseconds.
type Local struct {
	slots  int
	scale  float64
	logger zerolog.Logger

	mu      sync.Mutex
	cb      Callbacks
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewLocal creates a local executor with the given number of concurrent
// slots. scale <= 0 means real time.
func NewLocal(slots int, scale float64, logger zerolog.Logger) *Local {
	if slots <= 0 {
		slots = 1
	}
	if scale <= 0 {
		scale = 1
	}
	return &Local{
		slots:   slots,
		scale:   scale,
		logger:  logger.With().Str("component", "executor-local").Logger(),
		running: make(map[string]context.CancelFunc),
	}
}

// Bind implements Binder.
func (l *Local) Bind(cb Callbacks) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = cb
	return nil
}

// Running returns the number of occupied slots.
func (l *Local) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.running)
}

// Dispatch implements Executor.
func (l *Local) Dispatch(_ context.Context, jobID string, duration time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.closed:
		return Reject("executor shutting down")
	case l.cb == nil:
		return Reject("executor not bound")
	case len(l.running) >= l.slots:
		return Reject(fmt.Sprintf("all %d slots busy", l.slots))
	}
	if _, dup := l.running[jobID]; dup {
		return Reject("job already running")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l.running[jobID] = cancel
	cb := l.cb
	wall := time.Duration(float64(duration) * l.scale)

	l.wg.Add(1)
	go l.run(runCtx, cb, jobID, wall)

	l.logger.Debug().Str("job_id", jobID).Dur("wall", wall).Msg("job started")
	return nil
}

func (l *Local) run(ctx context.Context, cb Callbacks, jobID string, wall time.Duration) {
	defer l.wg.Done()

	timer := time.NewTimer(wall)
	defer timer.Stop()

	var err error
	select {
	case <-timer.C:
		l.release(jobID)
		err = cb.OnComplete(context.Background(), jobID, OutcomeSucceeded, nil)
	case <-ctx.Done():
		if !l.release(jobID) {
			// shut down by Close, no confirmation owed
			return
		}
		err = cb.OnFailed(context.Background(), jobID, "cancelled")
	}
	if err != nil {
		l.logger.Warn().Err(err).Str("job_id", jobID).Msg("outcome callback failed")
	}
}

// release frees the slot; it reports whether the job was still tracked.
func (l *Local) release(jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[jobID]
	delete(l.running, jobID)
	return ok
}

// Cancel implements Executor.
func (l *Local) Cancel(_ context.Context, jobID string) error {
	l.mu.Lock()
	cancel, ok := l.running[jobID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	cancel()
	return nil
}

// Close stops all jobs without reporting outcomes and waits for them.
func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	for id, cancel := range l.running {
		delete(l.running, id)
		cancel()
	}
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}
