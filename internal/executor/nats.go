/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects used between the scheduler and remote workers.
type Subjects struct {
	Dispatch  string
	Cancel    string
	Completed string
	Failed    string
}

// DefaultSubjects returns the carbonwise.jobs.* subjects.
func DefaultSubjects() Subjects {
	return Subjects{
		Dispatch:  "carbonwise.jobs.dispatch",
		Cancel:    "carbonwise.jobs.cancel",
		Completed: "carbonwise.jobs.completed",
		Failed:    "carbonwise.jobs.failed",
	}
}

// WorkerQueue is the queue group remote workers share for dispatches.
const WorkerQueue = "carbonwise-workers"

type dispatchRequest struct {
	JobID           string  `json:"job_id"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type cancelRequest struct {
	JobID string `json:"job_id"`
}

type reply struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type outcomeMessage struct {
	JobID            string   `json:"job_id"`
	Outcome          string   `json:"outcome,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	ActualEmissionsG *float64 `json:"actual_emissions_g,omitempty"`
}

// NATS dispatches jobs to remote workers with request/reply and consumes
// their outcomes from the completed/failed subjects.
type NATS struct {
	conn     *nats.Conn
	subjects Subjects
	timeout  time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATS creates a NATS executor on an existing connection.
func NewNATS(conn *nats.Conn, subjects Subjects, timeout time.Duration, logger zerolog.Logger) *NATS {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATS{
		conn:     conn,
		subjects: subjects,
		timeout:  timeout,
		logger:   logger.With().Str("component", "executor-nats").Logger(),
	}
}

// Dispatch implements Executor.
func (n *NATS) Dispatch(ctx context.Context, jobID string, duration time.Duration) error {
	data, err := json.Marshal(dispatchRequest{JobID: jobID, DurationSeconds: duration.Seconds()})
	if err != nil {
		return fmt.Errorf("marshal dispatch: %w", err)
	}
	resp, err := n.request(ctx, n.subjects.Dispatch, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return Reject("no workers available")
		}
		return fmt.Errorf("dispatch %s: %w", jobID, err)
	}
	if !resp.Accepted {
		return Reject(resp.Reason)
	}
	return nil
}

// Cancel implements Executor. Only the worker running the job answers.
func (n *NATS) Cancel(ctx context.Context, jobID string) error {
	data, err := json.Marshal(cancelRequest{JobID: jobID})
	if err != nil {
		return fmt.Errorf("marshal cancel: %w", err)
	}
	resp, err := n.request(ctx, n.subjects.Cancel, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
		}
		return fmt.Errorf("cancel %s: %w", jobID, err)
	}
	if !resp.Accepted {
		return fmt.Errorf("%w: %s: %s", ErrUnknownJob, jobID, resp.Reason)
	}
	return nil
}

func (n *NATS) request(ctx context.Context, subject string, data []byte) (reply, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg, err := n.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return reply{}, err
	}
	var resp reply
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return reply{}, fmt.Errorf("decode reply: %w", err)
	}
	return resp, nil
}

// Bind implements Binder by subscribing to worker outcomes.
func (n *NATS) Bind(cb Callbacks) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	completed, err := n.conn.Subscribe(n.subjects.Completed, func(msg *nats.Msg) {
		var out outcomeMessage
		if err := json.Unmarshal(msg.Data, &out); err != nil {
			n.logger.Warn().Err(err).Msg("malformed completion")
			return
		}
		if err := cb.OnComplete(context.Background(), out.JobID, out.Outcome, out.ActualEmissionsG); err != nil {
			n.logger.Warn().Err(err).Str("job_id", out.JobID).Msg("completion not applied")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.subjects.Completed, err)
	}
	failed, err := n.conn.Subscribe(n.subjects.Failed, func(msg *nats.Msg) {
		var out outcomeMessage
		if err := json.Unmarshal(msg.Data, &out); err != nil {
			n.logger.Warn().Err(err).Msg("malformed failure")
			return
		}
		if err := cb.OnFailed(context.Background(), out.JobID, out.Reason); err != nil {
			n.logger.Warn().Err(err).Str("job_id", out.JobID).Msg("failure not applied")
		}
	})
	if err != nil {
		_ = completed.Unsubscribe()
		return fmt.Errorf("subscribe %s: %w", n.subjects.Failed, err)
	}
	n.subs = append(n.subs, completed, failed)
	return nil
}

// Close drops outcome subscriptions. The connection is owned by the caller.
func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var errs []error
	for _, sub := range n.subs {
		errs = append(errs, sub.Unsubscribe())
	}
	n.subs = nil
	return errors.Join(errs...)
}

// Worker serves dispatches from NATS on a local executor and publishes the
// outcomes back.
type Worker struct {
	conn     *nats.Conn
	subjects Subjects
	local    *Local
	logger   zerolog.Logger
	subs     []*nats.Subscription
}

// NewWorker binds local to publish outcomes on conn.
func NewWorker(conn *nats.Conn, subjects Subjects, local *Local, logger zerolog.Logger) *Worker {
	return &Worker{
		conn:     conn,
		subjects: subjects,
		local:    local,
		logger:   logger.With().Str("component", "worker").Logger(),
	}
}

// Start subscribes to dispatch and cancel requests.
func (w *Worker) Start() error {
	if err := w.local.Bind(w); err != nil {
		return err
	}

	dispatch, err := w.conn.QueueSubscribe(w.subjects.Dispatch, WorkerQueue, func(msg *nats.Msg) {
		var req dispatchRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			w.respond(msg, reply{Reason: "malformed request"})
			return
		}
		duration := time.Duration(req.DurationSeconds * float64(time.Second))
		if err := w.local.Dispatch(context.Background(), req.JobID, duration); err != nil {
			var rejected *RejectedError
			reason := err.Error()
			if errors.As(err, &rejected) {
				reason = rejected.Reason
			}
			w.respond(msg, reply{Reason: reason})
			return
		}
		w.logger.Info().Str("job_id", req.JobID).Dur("duration", duration).Msg("job accepted")
		w.respond(msg, reply{Accepted: true})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.subjects.Dispatch, err)
	}

	cancel, err := w.conn.Subscribe(w.subjects.Cancel, func(msg *nats.Msg) {
		var req cancelRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		if err := w.local.Cancel(context.Background(), req.JobID); err != nil {
			// another worker owns it
			return
		}
		w.respond(msg, reply{Accepted: true})
	})
	if err != nil {
		_ = dispatch.Unsubscribe()
		return fmt.Errorf("subscribe %s: %w", w.subjects.Cancel, err)
	}
	w.subs = []*nats.Subscription{dispatch, cancel}
	return nil
}

// Stop unsubscribes and stops local jobs.
func (w *Worker) Stop() error {
	var errs []error
	for _, sub := range w.subs {
		errs = append(errs, sub.Unsubscribe())
	}
	errs = append(errs, w.local.Close())
	return errors.Join(errs...)
}

// OnComplete implements Callbacks by publishing to the completed subject.
func (w *Worker) OnComplete(_ context.Context, jobID, outcome string, actual *float64) error {
	return w.publish(w.subjects.Completed, outcomeMessage{JobID: jobID, Outcome: outcome, ActualEmissionsG: actual})
}

// OnFailed implements Callbacks by publishing to the failed subject.
func (w *Worker) OnFailed(_ context.Context, jobID, reason string) error {
	return w.publish(w.subjects.Failed, outcomeMessage{JobID: jobID, Reason: reason})
}

func (w *Worker) publish(subject string, out outcomeMessage) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return w.conn.Publish(subject, data)
}

func (w *Worker) respond(msg *nats.Msg, r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		w.logger.Debug().Err(err).Msg("reply failed")
	}
}
