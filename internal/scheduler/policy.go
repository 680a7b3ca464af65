/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"errors"
	"time"

	"github.com/friendsincode/carbonwise/internal/events"
	"github.com/friendsincode/carbonwise/internal/forecast"
	"github.com/friendsincode/carbonwise/internal/models"
	"github.com/friendsincode/carbonwise/internal/scheduler/decisions"
	"github.com/friendsincode/carbonwise/internal/telemetry"
)

// evaluate decides between running a pending or deferred job now and
// waiting for its best window.
func (s *Service) evaluate(job models.Job, series *forecast.Series, now time.Time) (models.Job, error) {
	from := now
	if from.Before(series.Start()) {
		from = series.Start()
	}
	runNow, err := forecast.PartialWindowAt(series, from, job.Duration)
	if err != nil {
		return job, err
	}
	if job.BaselineIntensity == nil {
		filled, err := s.backfillBaseline(job, runNow)
		if err != nil {
			return job, err
		}
		job = filled
	}
	until := job.SearchUntil(now, s.policy.Horizon)
	if until.After(series.End()) {
		until = series.End()
	}

	best, err := forecast.FindOptimalWindow(series, job.Duration, from, until)
	if errors.Is(err, forecast.ErrInsufficientHorizon) {
		// No full window fits: the job runs now.
		reason := models.ReasonHorizonShort
		if job.Deadline != nil && until.Equal(*job.Deadline) {
			reason = models.ReasonDeadlineForced
		}
		return s.decide(job, models.JobReady, reason, runNow, runNow, now)
	}
	if err != nil {
		return job, err
	}

	if job.State == models.JobDeferred && job.ChosenWindow != nil {
		return s.reoptimize(job, series, best, runNow, now)
	}
	if !best.Start.After(now.Add(s.policy.Epsilon)) {
		return s.decide(job, models.JobReady, models.ReasonNoBetterWindow, best, runNow, now)
	}
	return s.decide(job, models.JobDeferred, models.ReasonDeferred, best, runNow, now)
}

// reoptimize adopts a fresher window for a deferred job only when it beats
// the currently chosen window scored against the same forecast. The search
// never extends past the deadline, so adopting cannot make it miss one.
func (s *Service) reoptimize(job models.Job, series *forecast.Series, best, runNow forecast.Window, now time.Time) (models.Job, error) {
	current, err := forecast.WindowAt(series, job.ChosenWindow.Start, job.Duration)
	if err == nil && best.MeanIntensity >= current.MeanIntensity {
		s.markChecked(job.ID, now)
		return job, nil
	}
	to := models.JobDeferred
	if !best.Start.After(now.Add(s.policy.Epsilon)) {
		to = models.JobReady
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Time("old_window_start", job.ChosenWindow.Start).
		Time("window_start", best.Start).
		Float64("mean_intensity", best.MeanIntensity).
		Msg("adopting better window")
	return s.decide(job, to, models.ReasonReoptimized, best, runNow, now)
}

// backfillBaseline records the run-now intensity of a job submitted while
// its forecast was unavailable, without touching its state.
func (s *Service) backfillBaseline(job models.Job, runNow forecast.Window) (models.Job, error) {
	v := runNow.MeanIntensity
	next, err := s.queue.Update(job.ID, job.State, func(j *models.Job) {
		if j.BaselineIntensity == nil {
			j.BaselineIntensity = &v
		}
	})
	if err != nil {
		return job, err
	}
	s.logger.Debug().Str("job_id", job.ID).Float64("baseline_intensity", v).Msg("baseline backfilled")
	return next, nil
}

// decide applies a decision together with its basis in one transition.
func (s *Service) decide(job models.Job, to models.JobState, reason string, win, runNow forecast.Window, now time.Time) (models.Job, error) {
	next, err := s.queue.Transition(job.ID, job.State, to, func(j *models.Job) {
		w := win
		j.ChosenWindow = &w
		j.Decision = &models.Decision{
			Reason:           reason,
			Window:           win,
			CurrentIntensity: runNow.MeanIntensity,
			ProjectedSavings: forecast.ProjectedSavings(runNow.MeanIntensity, win.MeanIntensity),
			DecidedAt:        now,
		}
	})
	if err != nil {
		return job, err
	}
	telemetry.SchedulerDecisionsTotal.WithLabelValues(reason).Inc()
	s.afterDecision(next)
	return next, nil
}

// afterDecision logs, records and announces a decision.
func (s *Service) afterDecision(job models.Job) {
	if job.State != models.JobDeferred {
		s.forgetChecked(job.ID)
	}
	if job.Decision == nil {
		return
	}
	d := job.Decision
	s.log.Add(decisions.Entry{
		JobID:            job.ID,
		Region:           job.Region,
		State:            string(job.State),
		Reason:           d.Reason,
		WindowStart:      d.Window.Start,
		WindowEnd:        d.Window.End,
		MeanIntensity:    d.Window.MeanIntensity,
		CurrentIntensity: d.CurrentIntensity,
		DecidedAt:        d.DecidedAt,
	})
	s.logger.Info().
		Str("job_id", job.ID).
		Str("region", job.Region).
		Str("state", string(job.State)).
		Str("reason", d.Reason).
		Time("window_start", d.Window.Start).
		Float64("mean_intensity", d.Window.MeanIntensity).
		Float64("projected_savings", d.ProjectedSavings).
		Msg("job scheduled")
	s.publishJob(job)
}

var stateEvents = map[models.JobState]events.EventType{
	models.JobPending:   events.EventJobSubmitted,
	models.JobDeferred:  events.EventJobDeferred,
	models.JobReady:     events.EventJobReady,
	models.JobRunning:   events.EventJobRunning,
	models.JobCompleted: events.EventJobCompleted,
	models.JobFailed:    events.EventJobFailed,
}

func (s *Service) publishJob(job models.Job) {
	s.events.Publish(stateEvents[job.State], jobPayload(job))
}

func jobPayload(job models.Job) events.Payload {
	p := events.Payload{
		"job_id":   job.ID,
		"state":    string(job.State),
		"region":   job.Region,
		"priority": job.Priority,
	}
	if job.ChosenWindow != nil {
		p["window_start"] = job.ChosenWindow.Start
		p["window_end"] = job.ChosenWindow.End
		p["mean_intensity"] = job.ChosenWindow.MeanIntensity
	}
	if job.Decision != nil {
		p["reason"] = job.Decision.Reason
		p["projected_savings"] = job.Decision.ProjectedSavings
	}
	if job.FailureReason != "" {
		p["failure_reason"] = job.FailureReason
	}
	if job.State == models.JobCompleted {
		if savings, ok := job.Savings(); ok {
			p["savings"] = savings
		} else {
			p["savings"] = "unavailable"
		}
	}
	return p
}
