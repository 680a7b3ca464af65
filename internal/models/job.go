/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/friendsincode/carbonwise/internal/forecast"
)

// JobState is the lifecycle state of a deferrable job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobDeferred  JobState = "deferred"
	JobReady     JobState = "ready"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// AllJobStates lists every state in lifecycle order.
var AllJobStates = []JobState{JobPending, JobDeferred, JobReady, JobRunning, JobCompleted, JobFailed}

var jobEdges = map[JobState][]JobState{
	JobPending:  {JobDeferred, JobReady, JobFailed},
	JobDeferred: {JobDeferred, JobReady, JobFailed},
	JobReady:    {JobRunning, JobFailed},
	JobRunning:  {JobCompleted, JobFailed},
}

// Valid reports whether s is a known state.
func (s JobState) Valid() bool {
	for _, known := range AllJobStates {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether from -> to is a lifecycle edge.
// Terminal states have no outgoing edges.
func CanTransition(from, to JobState) bool {
	for _, next := range jobEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Decision reasons recorded on a job when the scheduler moves it.
const (
	ReasonNoBetterWindow = "no_better_window"
	ReasonDeferred       = "better_window_later"
	ReasonReoptimized    = "reoptimized"
	ReasonWindowReached  = "window_reached"
	ReasonDeadlineForced = "deadline_forced"
	ReasonHorizonShort   = "horizon_too_short"
)

// Failure reasons.
const (
	FailureCancelled = "cancelled"
)

// DefaultPowerWatts is assumed when a job does not state its draw, which
// makes baseline emissions equal intensity x hours.
const DefaultPowerWatts = 1000

// Decision is the basis recorded for a scheduling decision.
type Decision struct {
	Reason           string          `json:"reason"`
	Window           forecast.Window `json:"window"`
	CurrentIntensity float64         `json:"current_intensity"`
	ProjectedSavings float64         `json:"projected_savings"`
	DecidedAt        time.Time       `json:"decided_at"`
}

// Job is a unit of deferrable work.
type Job struct {
	ID          string        `json:"id"`
	Owner       string        `json:"owner,omitempty"`
	Priority    int           `json:"priority"`
	Duration    time.Duration `json:"duration"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Deadline    *time.Time    `json:"deadline,omitempty"`
	State       JobState      `json:"state"`
	Region      string        `json:"region"`
	PowerWatts  float64       `json:"power_watts,omitempty"`
	// PUE is the facility overhead recorded at submission. It scales both
	// the baseline and the estimated actual emissions; zero means 1.
	PUE float64 `json:"pue,omitempty"`

	// BaselineIntensity is the run-now intensity at submission. Nil when the
	// forecast was unavailable at submission and not yet backfilled.
	BaselineIntensity *float64         `json:"baseline_intensity,omitempty"`
	ChosenWindow      *forecast.Window `json:"chosen_window,omitempty"`
	Decision          *Decision        `json:"decision,omitempty"`

	FailureReason    string     `json:"failure_reason,omitempty"`
	Outcome          string     `json:"outcome,omitempty"`
	DispatchedAt     *time.Time `json:"dispatched_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	ActualEmissionsG *float64   `json:"actual_emissions_g,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`

	// Seq is the queue admission order, used as the final FIFO tie-break.
	Seq uint64 `json:"seq"`
}

// Clone returns a deep copy.
func (j Job) Clone() Job {
	out := j
	if j.Deadline != nil {
		d := *j.Deadline
		out.Deadline = &d
	}
	if j.BaselineIntensity != nil {
		v := *j.BaselineIntensity
		out.BaselineIntensity = &v
	}
	if j.ChosenWindow != nil {
		w := *j.ChosenWindow
		out.ChosenWindow = &w
	}
	if j.Decision != nil {
		d := *j.Decision
		out.Decision = &d
	}
	if j.DispatchedAt != nil {
		t := *j.DispatchedAt
		out.DispatchedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.ActualEmissionsG != nil {
		v := *j.ActualEmissionsG
		out.ActualEmissionsG = &v
	}
	return out
}

// Watts returns the declared power draw or the default.
func (j Job) Watts() float64 {
	if j.PowerWatts > 0 {
		return j.PowerWatts
	}
	return DefaultPowerWatts
}

// EnergyKWh is the energy the job draws over its declared duration,
// including facility overhead.
func (j Job) EnergyKWh() float64 {
	pue := j.PUE
	if pue <= 0 {
		pue = 1
	}
	return pue * j.Watts() / 1000 * j.Duration.Hours()
}

// BaselineEmissionsG is baseline intensity times the job's energy.
func (j Job) BaselineEmissionsG() (float64, bool) {
	if j.BaselineIntensity == nil {
		return 0, false
	}
	return *j.BaselineIntensity * j.EnergyKWh(), true
}

// Savings returns 1 - actual/baseline. ok is false when either value is
// missing or the baseline is zero.
func (j Job) Savings() (float64, bool) {
	if j.ActualEmissionsG == nil {
		return 0, false
	}
	baseline, ok := j.BaselineEmissionsG()
	if !ok || baseline <= 0 {
		return 0, false
	}
	return 1 - *j.ActualEmissionsG/baseline, true
}

// SearchUntil bounds the forecast search: now+horizon, clipped to the deadline.
func (j Job) SearchUntil(now time.Time, horizon time.Duration) time.Time {
	until := now.Add(horizon)
	if j.Deadline != nil && j.Deadline.Before(until) {
		return *j.Deadline
	}
	return until
}

// Snapshot is the serializable scheduler state: every job held plus the
// time of the last completed evaluation tick.
type Snapshot struct {
	Jobs           []Job     `json:"jobs"`
	LastEvaluation time.Time `json:"last_evaluation"`
	TakenAt        time.Time `json:"taken_at"`
}
