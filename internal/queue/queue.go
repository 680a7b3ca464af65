/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue is the concurrency-safe store of scheduled jobs.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/carbonwise/internal/models"
)

var (
	ErrDuplicateID       = errors.New("duplicate job id")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrNotFound          = errors.New("job not found")
	ErrNotTerminal       = errors.New("job is not in a terminal state")
)

// Queue maps job ids to jobs. Every read returns a copy; jobs only change
// through state-guarded operations.
type Queue struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
	seq  uint64
	now  func() time.Time
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{jobs: make(map[string]*models.Job), now: time.Now}
}

// WithClock overrides the clock used for UpdatedAt stamps.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Submit admits a job in the Pending state and returns its id. A missing id
// is generated. The caller supplies BaselineIntensity on the job.
func (q *Queue) Submit(job models.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := q.jobs[job.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, job.ID)
	}
	q.seq++
	stored := job.Clone()
	stored.State = models.JobPending
	stored.Seq = q.seq
	stored.UpdatedAt = q.now()
	if stored.SubmittedAt.IsZero() {
		stored.SubmittedAt = stored.UpdatedAt
	}
	q.jobs[stored.ID] = &stored
	return stored.ID, nil
}

// Get returns a copy of the job.
func (q *Queue) Get(id string) (models.Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job.Clone(), nil
}

// ListByState returns jobs in any of the given states in evaluation order:
// priority descending, deadline ascending (none last), submission ascending.
// No states means all jobs.
func (q *Queue) ListByState(states ...models.JobState) []models.Job {
	want := make(map[models.JobState]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	q.mu.RLock()
	out := make([]models.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if len(want) == 0 || want[job.State] {
			out = append(out, job.Clone())
		}
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func less(a, b models.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	switch {
	case a.Deadline != nil && b.Deadline == nil:
		return true
	case a.Deadline == nil && b.Deadline != nil:
		return false
	case a.Deadline != nil && !a.Deadline.Equal(*b.Deadline):
		return a.Deadline.Before(*b.Deadline)
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.Seq < b.Seq
}

// Transition moves a job from one state to another. It fails with
// ErrInvalidTransition when the current state is not from or the edge does
// not exist; the job is then left untouched. update, if non-nil, is applied
// to the job atomically with the state change.
func (q *Queue) Transition(id string, from, to models.JobState, update func(*models.Job)) (models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if job.State != from {
		return models.Job{}, fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition, id, job.State, from)
	}
	if !models.CanTransition(from, to) {
		return models.Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	next := job.Clone()
	if update != nil {
		update(&next)
	}
	next.ID = job.ID
	next.Seq = job.Seq
	next.State = to
	next.UpdatedAt = q.now()
	q.jobs[id] = &next
	return next.Clone(), nil
}

// Update mutates a job without changing its state, guarded on the expected
// state.
func (q *Queue) Update(id string, expect models.JobState, update func(*models.Job)) (models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if job.State != expect {
		return models.Job{}, fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition, id, job.State, expect)
	}
	next := job.Clone()
	update(&next)
	next.ID = job.ID
	next.Seq = job.Seq
	next.State = expect
	next.UpdatedAt = q.now()
	q.jobs[id] = &next
	return next.Clone(), nil
}

// Remove deletes a terminal job.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !job.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, id, job.State)
	}
	delete(q.jobs, id)
	return nil
}

// Len returns the number of jobs held.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.jobs)
}

// Stats counts jobs per state.
type Stats struct {
	Total   int                     `json:"total"`
	ByState map[models.JobState]int `json:"by_state"`
}

// Stats returns per-state counts.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	st := Stats{Total: len(q.jobs), ByState: make(map[models.JobState]int, len(models.AllJobStates))}
	for _, s := range models.AllJobStates {
		st.ByState[s] = 0
	}
	for _, job := range q.jobs {
		st.ByState[job.State]++
	}
	return st
}

// Snapshot returns copies of all jobs in admission order.
func (q *Queue) Snapshot() []models.Job {
	q.mu.RLock()
	out := make([]models.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, job.Clone())
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Restore loads jobs into an empty queue, keeping their states and order.
func (q *Queue) Restore(jobs []models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) > 0 {
		return errors.New("restore into non-empty queue")
	}
	loaded := make(map[string]*models.Job, len(jobs))
	var maxSeq uint64
	for _, job := range jobs {
		if job.ID == "" {
			return errors.New("restore: job without id")
		}
		if !job.State.Valid() {
			return fmt.Errorf("restore: job %s has unknown state %q", job.ID, job.State)
		}
		if _, dup := loaded[job.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, job.ID)
		}
		cp := job.Clone()
		if cp.Seq > maxSeq {
			maxSeq = cp.Seq
		}
		loaded[job.ID] = &cp
	}
	// Jobs from older snapshots may lack a sequence.
	for _, job := range jobs {
		if loaded[job.ID].Seq == 0 {
			maxSeq++
			loaded[job.ID].Seq = maxSeq
		}
	}
	q.jobs = loaded
	q.seq = maxSeq
	return nil
}
