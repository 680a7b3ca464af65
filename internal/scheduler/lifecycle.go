/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/carbonwise/internal/events"
	"github.com/friendsincode/carbonwise/internal/executor"
	"github.com/friendsincode/carbonwise/internal/forecast"
	"github.com/friendsincode/carbonwise/internal/models"
	"github.com/friendsincode/carbonwise/internal/queue"
	"github.com/friendsincode/carbonwise/internal/telemetry"
)

// SubmitRequest describes a job to admit.
type SubmitRequest struct {
	ID         string
	Owner      string
	Priority   int
	Duration   time.Duration
	Deadline   *time.Time
	Region     string
	PowerWatts float64
}

// SubmitJob validates and queues a job, recording its run-now intensity as
// the baseline. A forecast outage at submission does not reject the job;
// the baseline is then taken at its first evaluation.
func (s *Service) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Duration <= 0 {
		return "", ErrInvalidDuration
	}
	region := req.Region
	if region == "" {
		region = s.policy.DefaultRegion
	}
	if region == "" {
		return "", ErrInvalidRegion
	}
	now := s.now()
	if req.Deadline != nil && req.Deadline.Sub(now) < req.Duration {
		return "", fmt.Errorf("%w: %s until deadline, job needs %s", ErrInvalidDeadline, req.Deadline.Sub(now), req.Duration)
	}

	job := models.Job{
		ID:          req.ID,
		Owner:       req.Owner,
		Priority:    req.Priority,
		Duration:    req.Duration,
		SubmittedAt: now,
		Deadline:    req.Deadline,
		Region:      region,
		PowerWatts:  req.PowerWatts,
		PUE:         s.policy.PUE,
	}
	if series, err := s.fetch(ctx, region); err != nil {
		s.logger.Warn().Err(err).Str("region", region).Msg("no baseline at submission, deferring to first evaluation")
	} else if win, err := forecast.PartialWindowAt(series, series.Start(), req.Duration); err == nil {
		v := win.MeanIntensity
		job.BaselineIntensity = &v
	}

	id, err := s.queue.Submit(job)
	if err != nil {
		return "", err
	}
	stored, err := s.queue.Get(id)
	if err == nil {
		s.publishJob(stored)
	}
	s.logger.Info().
		Str("job_id", id).
		Str("region", region).
		Int("priority", req.Priority).
		Dur("duration", req.Duration).
		Msg("job submitted")
	s.Trigger()
	return id, nil
}

// dispatchReady hands Ready jobs to the executor in queue order. A job is
// marked Running before the executor sees it so that a fast completion
// callback always finds it Running.
func (s *Service) dispatchReady(ctx context.Context, now time.Time, res *TickResult) {
	for _, job := range s.queue.ListByState(models.JobReady) {
		if ctx.Err() != nil {
			return
		}
		if job.Decision == nil {
			s.logger.Error().Str("job_id", job.ID).Msg("ready job has no decision basis")
			if _, err := s.fail(job.ID, models.JobReady, "no decision basis", now); err == nil {
				res.Failed++
			}
			continue
		}
		running, err := s.queue.Transition(job.ID, models.JobReady, models.JobRunning, func(j *models.Job) {
			t := now
			j.DispatchedAt = &t
		})
		if err != nil {
			s.logger.Debug().Err(err).Str("job_id", job.ID).Msg("dispatch skipped")
			continue
		}

		if err := s.executor.Dispatch(ctx, job.ID, job.Duration); err != nil {
			reason := err.Error()
			var rejected *executor.RejectedError
			if errors.As(err, &rejected) {
				reason = rejected.Reason
			}
			telemetry.DispatchTotal.WithLabelValues("rejected").Inc()
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("dispatch rejected")
			if _, ferr := s.fail(job.ID, models.JobRunning, reason, now); ferr != nil {
				s.logger.Warn().Err(ferr).Str("job_id", job.ID).Msg("could not fail rejected job")
				continue
			}
			res.Failed++
			continue
		}
		telemetry.DispatchTotal.WithLabelValues("accepted").Inc()
		res.Dispatched++
		s.logger.Info().
			Str("job_id", job.ID).
			Str("region", job.Region).
			Time("window_start", job.Decision.Window.Start).
			Msg("job dispatched")
		s.publishJob(running)
	}
}

func (s *Service) fail(id string, from models.JobState, reason string, now time.Time) (models.Job, error) {
	failed, err := s.queue.Transition(id, from, models.JobFailed, func(j *models.Job) {
		t := now
		j.FailureReason = reason
		j.FinishedAt = &t
	})
	if err != nil {
		return models.Job{}, err
	}
	s.forgetChecked(id)
	s.publishJob(failed)
	return failed, nil
}

// OnComplete records a successful run. Without an emissions reading from
// the executor the meter is consulted; without either, savings for the job
// are unavailable.
func (s *Service) OnComplete(ctx context.Context, jobID, outcome string, actualEmissionsG *float64) error {
	job, err := s.queue.Get(jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyFinished, jobID, job.State)
	}
	now := s.now()
	job.FinishedAt = &now

	emissions := actualEmissionsG
	if emissions == nil && s.meter != nil {
		grams, ok, err := s.meter.ActualEmissions(ctx, job)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("emissions meter failed")
		case ok:
			emissions = &grams
		}
	}

	done, err := s.queue.Transition(jobID, models.JobRunning, models.JobCompleted, func(j *models.Job) {
		t := now
		j.FinishedAt = &t
		j.Outcome = outcome
		if emissions != nil {
			v := *emissions
			j.ActualEmissionsG = &v
		}
	})
	if err != nil {
		return err
	}

	ev := s.logger.Info().Str("job_id", jobID).Str("outcome", outcome)
	if savings, ok := done.Savings(); ok {
		telemetry.JobSavingsRatio.Observe(savings)
		ev = ev.Float64("savings", savings)
	} else {
		ev = ev.Str("savings", "unavailable")
	}
	if done.ActualEmissionsG != nil {
		telemetry.JobEmissionsGrams.WithLabelValues(done.Region).Add(*done.ActualEmissionsG)
	}
	ev.Msg("job completed")
	s.publishJob(done)
	s.archive(ctx, done)
	return nil
}

// OnFailed records an executor-reported failure, including confirmation of
// a cancellation.
func (s *Service) OnFailed(ctx context.Context, jobID, reason string) error {
	job, err := s.queue.Get(jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyFinished, jobID, job.State)
	}
	failed, err := s.fail(jobID, models.JobRunning, reason, s.now())
	if err != nil {
		return err
	}
	s.logger.Warn().Str("job_id", jobID).Str("reason", reason).Msg("job failed")
	s.archive(ctx, failed)
	return nil
}

// Withdraw cancels a job for its owner. Jobs not yet dispatched fail
// immediately with reason cancelled. For a running job the executor is asked
// to cancel and the job stays Running until the executor confirms.
func (s *Service) Withdraw(ctx context.Context, jobID string) (models.Job, error) {
	for attempt := 0; attempt < 3; attempt++ {
		job, err := s.queue.Get(jobID)
		if err != nil {
			return models.Job{}, err
		}
		switch job.State {
		case models.JobCompleted, models.JobFailed:
			return job, fmt.Errorf("%w: %s is %s", ErrAlreadyFinished, jobID, job.State)
		case models.JobRunning:
			if err := s.executor.Cancel(ctx, jobID); err != nil {
				return job, fmt.Errorf("cancel %s: %w", jobID, err)
			}
			s.logger.Info().Str("job_id", jobID).Msg("cancellation requested")
			return job, nil
		}
		failed, err := s.fail(jobID, job.State, models.FailureCancelled, s.now())
		if errors.Is(err, queue.ErrInvalidTransition) {
			// The scheduler moved the job meanwhile; look again.
			continue
		}
		if err != nil {
			return job, err
		}
		s.logger.Info().Str("job_id", jobID).Msg("job withdrawn")
		s.archive(ctx, failed)
		return failed, nil
	}
	return models.Job{}, fmt.Errorf("%w: %s kept changing state", queue.ErrInvalidTransition, jobID)
}

// archive hands a terminal job to the reporter and removes it from the
// queue once the report is stored. Failures leave the job for the next tick.
func (s *Service) archive(ctx context.Context, job models.Job) bool {
	if s.reporter == nil || !job.State.Terminal() {
		return false
	}
	if err := s.reporter.Report(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("report failed, job kept for retry")
		telemetry.SchedulerErrorsTotal.WithLabelValues("report").Inc()
		return false
	}
	if err := s.queue.Remove(job.ID); err != nil {
		if !errors.Is(err, queue.ErrNotFound) {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("archive remove failed")
		}
		return false
	}
	s.events.Publish(events.EventJobArchived, jobPayload(job))
	return true
}

func (s *Service) archiveTerminal(ctx context.Context) int {
	if s.reporter == nil {
		return 0
	}
	n := 0
	for _, job := range s.queue.ListByState(models.JobCompleted, models.JobFailed) {
		if ctx.Err() != nil {
			break
		}
		if s.archive(ctx, job) {
			n++
		}
	}
	return n
}
