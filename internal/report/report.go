/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package report turns finished jobs into savings reports and aggregates.
package report

import (
	"math"
	"time"

	"github.com/friendsincode/carbonwise/internal/forecast"
	"github.com/friendsincode/carbonwise/internal/models"
)

// JobReport is the archived record of one terminal job.
type JobReport struct {
	JobID         string           `json:"job_id"`
	Owner         string           `json:"owner,omitempty"`
	Region        string           `json:"region"`
	Priority      int              `json:"priority"`
	State         models.JobState  `json:"state"`
	Outcome       string           `json:"outcome,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Duration      string           `json:"duration"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	Deadline      *time.Time       `json:"deadline,omitempty"`
	DispatchedAt  *time.Time       `json:"dispatched_at,omitempty"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	Reason        string           `json:"decision_reason,omitempty"`
	Window        *forecast.Window `json:"window,omitempty"`

	BaselineIntensity  *float64 `json:"baseline_intensity,omitempty"`
	BaselineEmissionsG *float64 `json:"baseline_emissions_g,omitempty"`
	ActualEmissionsG   *float64 `json:"actual_emissions_g,omitempty"`
	// Savings is nil when either side of the comparison is unknown.
	Savings *float64 `json:"savings,omitempty"`
}

// ForJob builds the report for a job.
func ForJob(job models.Job) JobReport {
	r := JobReport{
		JobID:             job.ID,
		Owner:             job.Owner,
		Region:            job.Region,
		Priority:          job.Priority,
		State:             job.State,
		Outcome:           job.Outcome,
		FailureReason:     job.FailureReason,
		Duration:          job.Duration.String(),
		SubmittedAt:       job.SubmittedAt,
		Deadline:          job.Deadline,
		DispatchedAt:      job.DispatchedAt,
		FinishedAt:        job.FinishedAt,
		Window:            job.ChosenWindow,
		BaselineIntensity: job.BaselineIntensity,
		ActualEmissionsG:  job.ActualEmissionsG,
	}
	if job.Decision != nil {
		r.Reason = job.Decision.Reason
	}
	if baseline, ok := job.BaselineEmissionsG(); ok {
		r.BaselineEmissionsG = &baseline
	}
	if savings, ok := job.Savings(); ok {
		r.Savings = &savings
	}
	return r
}

// Summary aggregates emissions over completed jobs.
type Summary struct {
	TotalJobs          int     `json:"total_jobs"`
	Completed          int     `json:"completed"`
	Failed             int     `json:"failed"`
	Metered            int     `json:"metered"`
	TotalEmissionsG    float64 `json:"total_emissions_g"`
	AvgEmissionsG      float64 `json:"avg_emissions_g"`
	MinEmissionsG      float64 `json:"min_emissions_g"`
	MaxEmissionsG      float64 `json:"max_emissions_g"`
	TotalRunHours      float64 `json:"total_run_hours"`
	BaselineEmissionsG float64 `json:"baseline_emissions_g"`
	AvoidedEmissionsG  float64 `json:"avoided_emissions_g"`
}

// Summarize aggregates jobs. Emission figures only count completed jobs
// that were metered; all zero when none were.
func Summarize(jobs []models.Job) Summary {
	var s Summary
	for _, job := range jobs {
		s.Add(job)
	}
	return s
}

// Add folds one job into the summary.
func (s *Summary) Add(job models.Job) {
	s.TotalJobs++
	switch job.State {
	case models.JobFailed:
		s.Failed++
		return
	case models.JobCompleted:
		s.Completed++
	default:
		return
	}
	s.TotalRunHours += runDuration(job).Hours()

	if job.ActualEmissionsG == nil {
		return
	}
	actual := *job.ActualEmissionsG
	if s.Metered == 0 || actual < s.MinEmissionsG {
		s.MinEmissionsG = actual
	}
	if s.Metered == 0 || actual > s.MaxEmissionsG {
		s.MaxEmissionsG = actual
	}
	s.Metered++
	s.TotalEmissionsG += actual
	s.AvgEmissionsG = s.TotalEmissionsG / float64(s.Metered)
	if baseline, ok := job.BaselineEmissionsG(); ok {
		s.BaselineEmissionsG += baseline
		s.AvoidedEmissionsG += baseline - actual
	}
}

// Merge combines two summaries over disjoint job sets.
func Merge(a, b Summary) Summary {
	out := Summary{
		TotalJobs:          a.TotalJobs + b.TotalJobs,
		Completed:          a.Completed + b.Completed,
		Failed:             a.Failed + b.Failed,
		Metered:            a.Metered + b.Metered,
		TotalEmissionsG:    a.TotalEmissionsG + b.TotalEmissionsG,
		TotalRunHours:      a.TotalRunHours + b.TotalRunHours,
		BaselineEmissionsG: a.BaselineEmissionsG + b.BaselineEmissionsG,
		AvoidedEmissionsG:  a.AvoidedEmissionsG + b.AvoidedEmissionsG,
	}
	switch {
	case a.Metered == 0:
		out.MinEmissionsG, out.MaxEmissionsG = b.MinEmissionsG, b.MaxEmissionsG
	case b.Metered == 0:
		out.MinEmissionsG, out.MaxEmissionsG = a.MinEmissionsG, a.MaxEmissionsG
	default:
		out.MinEmissionsG = math.Min(a.MinEmissionsG, b.MinEmissionsG)
		out.MaxEmissionsG = math.Max(a.MaxEmissionsG, b.MaxEmissionsG)
	}
	if out.Metered > 0 {
		out.AvgEmissionsG = out.TotalEmissionsG / float64(out.Metered)
	}
	return out
}

func runDuration(job models.Job) time.Duration {
	if job.DispatchedAt != nil && job.FinishedAt != nil && job.FinishedAt.After(*job.DispatchedAt) {
		return job.FinishedAt.Sub(*job.DispatchedAt)
	}
	return job.Duration
}
