/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs the carbon-aware evaluation loop: it decides for
// every queued job whether to run now or wait for a cleaner window, hands
// ready jobs to the executor and reconciles their outcomes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/carbonwise/internal/events"
	"github.com/friendsincode/carbonwise/internal/executor"
	"github.com/friendsincode/carbonwise/internal/footprint"
	"github.com/friendsincode/carbonwise/internal/forecast"
	"github.com/friendsincode/carbonwise/internal/models"
	"github.com/friendsincode/carbonwise/internal/provider"
	"github.com/friendsincode/carbonwise/internal/queue"
	"github.com/friendsincode/carbonwise/internal/scheduler/decisions"
	"github.com/friendsincode/carbonwise/internal/telemetry"
)

var (
	// ErrInvalidDuration is returned for a zero or negative job duration.
	ErrInvalidDuration = errors.New("job duration must be positive")
	// ErrInvalidDeadline is returned when the deadline is closer than the duration.
	ErrInvalidDeadline = errors.New("deadline leaves no room for the job")
	// ErrInvalidRegion is returned when neither the job nor the policy names a region.
	ErrInvalidRegion = errors.New("region is required")
	// ErrAlreadyFinished is returned for callbacks or withdrawals on terminal jobs.
	ErrAlreadyFinished = errors.New("job already finished")
)

// Policy holds the scheduler's tunables.
type Policy struct {
	// Horizon bounds how far ahead a job may be deferred.
	Horizon time.Duration
	// Epsilon is the lookahead under which waiting is not worth it: a best
	// window starting at or before now+Epsilon runs immediately.
	Epsilon time.Duration
	// ReoptimizeInterval is how often deferred jobs are re-scored against a
	// fresh forecast. Zero re-scores every tick, negative never.
	ReoptimizeInterval time.Duration
	// FetchTimeout bounds each region's forecast fetch within a tick.
	FetchTimeout time.Duration
	TickInterval time.Duration
	// DefaultRegion is used for submissions that name none.
	DefaultRegion string
	// PUE is stamped on submitted jobs and scales every energy estimate.
	PUE float64
}

// DefaultPolicy returns the stock tunables.
func DefaultPolicy() Policy {
	return Policy{
		Horizon:            24 * time.Hour,
		ReoptimizeInterval: 5 * time.Minute,
		FetchTimeout:       10 * time.Second,
		TickInterval:       30 * time.Second,
		PUE:                1,
	}
}

// Reporter reads terminal jobs before they are archived out of the queue.
type Reporter interface {
	Report(ctx context.Context, job models.Job) error
}

// SnapshotSaver persists scheduler state after each tick.
type SnapshotSaver interface {
	Save(ctx context.Context, snap models.Snapshot) error
}

// Option configures optional collaborators.
type Option func(*Service)

// WithMeter sets the emissions meter consulted when an executor reports no
// reading of its own.
func WithMeter(m footprint.Meter) Option { return func(s *Service) { s.meter = m } }

// WithReporter sets the reporting collaborator that archives terminal jobs.
func WithReporter(r Reporter) Option { return func(s *Service) { s.reporter = r } }

// WithEvents sets where state-change events are published.
func WithEvents(p events.Publisher) Option { return func(s *Service) { s.events = p } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithSnapshotSaver persists a snapshot at the end of every tick.
func WithSnapshotSaver(saver SnapshotSaver) Option { return func(s *Service) { s.saver = saver } }

type nopPublisher struct{}

func (nopPublisher) Publish(events.EventType, events.Payload) {}

// Service is the carbon-aware scheduler. It owns the queue it is given.
type Service struct {
	queue    *queue.Queue
	provider provider.Provider
	executor executor.Executor
	meter    footprint.Meter
	reporter Reporter
	events   events.Publisher
	saver    SnapshotSaver
	policy   Policy
	now      func() time.Time
	logger   zerolog.Logger
	log      *decisions.Log

	tickMu  sync.Mutex
	trigger chan struct{}

	mu             sync.Mutex
	lastEvaluation time.Time
	checked        map[string]time.Time
}

// New constructs the scheduler service. Zero policy fields fall back to
// DefaultPolicy.
func New(q *queue.Queue, p provider.Provider, exec executor.Executor, policy Policy, logger zerolog.Logger, opts ...Option) *Service {
	def := DefaultPolicy()
	if policy.Horizon <= 0 {
		policy.Horizon = def.Horizon
	}
	if policy.FetchTimeout <= 0 {
		policy.FetchTimeout = def.FetchTimeout
	}
	if policy.TickInterval <= 0 {
		policy.TickInterval = def.TickInterval
	}
	if policy.PUE <= 0 {
		policy.PUE = def.PUE
	}
	if policy.Epsilon < 0 {
		policy.Epsilon = 0
	}
	s := &Service{
		queue:    q,
		provider: p,
		executor: exec,
		events:   nopPublisher{},
		policy:   policy,
		now:      time.Now,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		log:      decisions.NewLog(decisions.DefaultCapacity),
		trigger:  make(chan struct{}, 1),
		checked:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BindExecutor registers the service for outcome callbacks when the
// executor delivers them asynchronously.
func (s *Service) BindExecutor() error {
	if b, ok := s.executor.(executor.Binder); ok {
		return b.Bind(s)
	}
	return nil
}

// Policy returns the effective tunables.
func (s *Service) Policy() Policy { return s.policy }

// Queue returns the queue the service owns, for read access.
func (s *Service) Queue() *queue.Queue { return s.queue }

// Decisions returns the most recent scheduling decisions, newest first.
func (s *Service) Decisions(limit int) []decisions.Entry { return s.log.Recent(limit) }

// JobDecisions returns the recorded decisions for one job, oldest first.
func (s *Service) JobDecisions(jobID string) []decisions.Entry { return s.log.ForJob(jobID) }

// Run executes the scheduler loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.policy.TickInterval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.policy.TickInterval).Msg("scheduler loop started")
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.trigger:
			s.Tick(ctx)
		}
	}
}

// Trigger requests an evaluation ahead of the next periodic tick. It never
// blocks; triggers coalesce.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// TickResult summarizes one evaluation tick.
type TickResult struct {
	At         time.Time `json:"at"`
	Promoted   int       `json:"promoted"`
	Evaluated  int       `json:"evaluated"`
	Deferred   int       `json:"deferred"`
	Ready      int       `json:"ready"`
	Skipped    int       `json:"skipped"`
	Dispatched int       `json:"dispatched"`
	Failed     int       `json:"failed"`
	Archived   int       `json:"archived"`
	// Unavailable lists regions whose forecast could not be used this tick.
	Unavailable []string `json:"unavailable,omitempty"`
}

// Tick runs one evaluation pass. Ticks never overlap. Errors are absorbed:
// jobs whose forecast is unavailable keep their state until the next tick.
func (s *Service) Tick(ctx context.Context) TickResult {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	started := time.Now()
	telemetry.SchedulerTicksTotal.Inc()
	ctx, span := telemetry.StartTickSpan(ctx)

	now := s.now()
	res := TickResult{At: now}
	defer func() {
		telemetry.EndTickSpan(span, telemetry.TickSummary{
			Evaluated:   res.Evaluated,
			Dispatched:  res.Dispatched,
			Skipped:     res.Skipped,
			Unavailable: res.Unavailable,
		})
	}()

	s.promoteReached(now, &res)

	candidates := s.candidates(now)
	regions := uniqueRegions(candidates)
	series, failed := s.fetchAll(ctx, regions)
	for region, err := range failed {
		res.Unavailable = append(res.Unavailable, region)
		s.logger.Warn().Err(err).Str("region", region).Msg("forecast unavailable, region skipped this tick")
		s.events.Publish(events.EventForecastUnavailable, events.Payload{"region": region, "error": err.Error()})
	}
	sort.Strings(res.Unavailable)

	for _, job := range candidates {
		if ctx.Err() != nil {
			break
		}
		ser, ok := series[job.Region]
		if !ok {
			res.Skipped++
			continue
		}
		next, err := s.evaluate(job, ser, now)
		if err != nil {
			res.Skipped++
			if errors.Is(err, queue.ErrInvalidTransition) || errors.Is(err, queue.ErrNotFound) {
				s.logger.Debug().Err(err).Str("job_id", job.ID).Msg("job changed during evaluation")
				continue
			}
			s.logger.Warn().Err(err).Str("job_id", job.ID).Str("region", job.Region).Msg("job evaluation failed")
			telemetry.SchedulerErrorsTotal.WithLabelValues("evaluate").Inc()
			continue
		}
		res.Evaluated++
		switch next.State {
		case models.JobDeferred:
			res.Deferred++
		case models.JobReady:
			res.Ready++
		}
	}

	s.dispatchReady(ctx, now, &res)
	res.Archived = s.archiveTerminal(ctx)

	s.mu.Lock()
	s.lastEvaluation = now
	s.mu.Unlock()

	s.recordGauges()
	if err := s.SaveSnapshot(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("snapshot save failed")
		telemetry.SchedulerErrorsTotal.WithLabelValues("snapshot").Inc()
	}

	telemetry.SchedulerTickDuration.Observe(time.Since(started).Seconds())
	s.events.Publish(events.EventSchedulerTick, events.Payload{
		"at":         now,
		"evaluated":  res.Evaluated,
		"deferred":   res.Deferred,
		"ready":      res.Ready,
		"dispatched": res.Dispatched,
		"failed":     res.Failed,
		"skipped":    res.Skipped,
	})
	s.logger.Debug().
		Int("evaluated", res.Evaluated).
		Int("deferred", res.Deferred).
		Int("dispatched", res.Dispatched).
		Int("skipped", res.Skipped).
		Msg("tick complete")
	return res
}

// promoteReached moves deferred jobs whose window has opened to Ready
// without consulting the forecast again.
func (s *Service) promoteReached(now time.Time, res *TickResult) {
	for _, job := range s.queue.ListByState(models.JobDeferred) {
		if job.ChosenWindow == nil || now.Before(job.ChosenWindow.Start) {
			continue
		}
		next, err := s.queue.Transition(job.ID, models.JobDeferred, models.JobReady, func(j *models.Job) {
			d := models.Decision{Reason: models.ReasonWindowReached, Window: *j.ChosenWindow, DecidedAt: now}
			if j.Decision != nil {
				d.CurrentIntensity = j.Decision.CurrentIntensity
				d.ProjectedSavings = j.Decision.ProjectedSavings
			}
			j.Decision = &d
		})
		if err != nil {
			s.logger.Debug().Err(err).Str("job_id", job.ID).Msg("promotion skipped")
			continue
		}
		res.Promoted++
		s.afterDecision(next)
	}
}

// candidates lists jobs to evaluate this tick in queue order. Deferred jobs
// are included only when due for re-optimization.
func (s *Service) candidates(now time.Time) []models.Job {
	jobs := s.queue.ListByState(models.JobPending, models.JobDeferred)
	out := jobs[:0]
	for _, job := range jobs {
		if job.State == models.JobDeferred && job.ChosenWindow != nil && !s.dueForReoptimize(job, now) {
			continue
		}
		out = append(out, job)
	}
	return out
}

func (s *Service) dueForReoptimize(job models.Job, now time.Time) bool {
	interval := s.policy.ReoptimizeInterval
	if interval < 0 {
		return false
	}
	last := time.Time{}
	if job.Decision != nil {
		last = job.Decision.DecidedAt
	}
	s.mu.Lock()
	if t, ok := s.checked[job.ID]; ok && t.After(last) {
		last = t
	}
	s.mu.Unlock()
	return !now.Before(last.Add(interval))
}

func (s *Service) markChecked(id string, at time.Time) {
	s.mu.Lock()
	s.checked[id] = at
	s.mu.Unlock()
}

func (s *Service) forgetChecked(id string) {
	s.mu.Lock()
	delete(s.checked, id)
	s.mu.Unlock()
}

// fetchAll retrieves each region's forecast concurrently. One region's
// failure or timeout does not affect the others.
func (s *Service) fetchAll(ctx context.Context, regions []string) (map[string]*forecast.Series, map[string]error) {
	out := make(map[string]*forecast.Series, len(regions))
	failed := make(map[string]error)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, region := range regions {
		g.Go(func() error {
			series, err := s.fetch(gctx, region)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[region] = err
				return nil
			}
			out[region] = series
			return nil
		})
	}
	_ = g.Wait()
	return out, failed
}

// fetch gets one region's forecast under the per-region timeout and checks
// it before use. Every failure wraps forecast.ErrUnavailable.
func (s *Service) fetch(ctx context.Context, region string) (*forecast.Series, error) {
	ctx, cancel := context.WithTimeout(ctx, s.policy.FetchTimeout)
	defer cancel()
	ctx, span := telemetry.StartFetchSpan(ctx, region)

	started := time.Now()
	series, err := s.provider.GetForecast(ctx, region, s.policy.Horizon)
	telemetry.ForecastFetchDuration.WithLabelValues(region).Observe(time.Since(started).Seconds())
	if err == nil {
		err = series.Validate()
	}
	if err == nil && series.Region() != region {
		err = fmt.Errorf("%w: got region %q", forecast.ErrMalformedSeries, series.Region())
	}
	samples := 0
	if err == nil {
		samples = series.Len()
	}
	telemetry.EndFetchSpan(span, samples, err)
	if err != nil {
		telemetry.ForecastFetchFailuresTotal.WithLabelValues(region).Inc()
		if !errors.Is(err, forecast.ErrUnavailable) {
			err = fmt.Errorf("%w: %s: %w", forecast.ErrUnavailable, region, err)
		}
		return nil, err
	}
	return series, nil
}

// Forecast returns the current forecast for a region.
func (s *Service) Forecast(ctx context.Context, region string) (*forecast.Series, error) {
	if region == "" {
		region = s.policy.DefaultRegion
	}
	if region == "" {
		return nil, ErrInvalidRegion
	}
	return s.fetch(ctx, region)
}

func (s *Service) recordGauges() {
	st := s.queue.Stats()
	for state, n := range st.ByState {
		telemetry.JobsByState.WithLabelValues(string(state)).Set(float64(n))
	}
}

// LastEvaluation is the time of the last completed tick.
func (s *Service) LastEvaluation() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEvaluation
}

// Snapshot captures every job and the last evaluation time.
func (s *Service) Snapshot() models.Snapshot {
	return models.Snapshot{
		Jobs:           s.queue.Snapshot(),
		LastEvaluation: s.LastEvaluation(),
		TakenAt:        s.now(),
	}
}

// SaveSnapshot hands the current snapshot to the configured saver.
func (s *Service) SaveSnapshot(ctx context.Context) error {
	if s.saver == nil {
		return nil
	}
	return s.saver.Save(ctx, s.Snapshot())
}

// Restore loads a snapshot into the service's empty queue. Running jobs
// stay Running and await their executor's callback.
func (s *Service) Restore(snap models.Snapshot) error {
	if err := s.queue.Restore(snap.Jobs); err != nil {
		return fmt.Errorf("restore queue: %w", err)
	}
	s.mu.Lock()
	s.lastEvaluation = snap.LastEvaluation
	s.mu.Unlock()
	s.recordGauges()
	s.logger.Info().
		Int("jobs", len(snap.Jobs)).
		Time("last_evaluation", snap.LastEvaluation).
		Msg("scheduler state restored")
	return nil
}

func uniqueRegions(jobs []models.Job) []string {
	seen := make(map[string]bool)
	var out []string
	for _, job := range jobs {
		if !seen[job.Region] {
			seen[job.Region] = true
			out = append(out, job.Region)
		}
	}
	return out
}
