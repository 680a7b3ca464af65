/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/carbonwise/internal/archive"
	"github.com/friendsincode/carbonwise/internal/auth"
	"github.com/friendsincode/carbonwise/internal/events"
	"github.com/friendsincode/carbonwise/internal/executor"
	"github.com/friendsincode/carbonwise/internal/forecast"
	"github.com/friendsincode/carbonwise/internal/queue"
	"github.com/friendsincode/carbonwise/internal/report"
	"github.com/friendsincode/carbonwise/internal/scheduler"
	"github.com/friendsincode/carbonwise/internal/version"
)

// ReportArchive looks up reports of jobs that already left the queue.
type ReportArchive interface {
	Lookup(ctx context.Context, jobID string) (report.JobReport, error)
	Summary() report.Summary
}

// ForecastInvalidator drops cached forecasts for a region.
type ForecastInvalidator interface {
	Invalidate(ctx context.Context, region string) error
}

// API exposes HTTP handlers.
type API struct {
	db          *gorm.DB
	jwtSecret   []byte
	scheduler   *scheduler.Service
	bus         events.Broker
	archive     ReportArchive
	invalidator ForecastInvalidator
	logger      zerolog.Logger
}

// New creates the API router wrapper. Authentication is enforced when a
// JWT secret is configured; API keys are then accepted as well.
func New(db *gorm.DB, jwtSecret []byte, sched *scheduler.Service, bus events.Broker, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		jwtSecret: jwtSecret,
		scheduler: sched,
		bus:       bus,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// SetArchive enables report lookups for archived jobs.
func (a *API) SetArchive(arc ReportArchive) {
	a.archive = arc
}

// SetForecastInvalidator lets forecast refreshes bypass the cache.
func (a *API) SetForecastInvalidator(inv ForecastInvalidator) {
	a.invalidator = inv
}

// Routes registers every endpoint under /api/v1.
func (a *API) Routes(r chi.Router) {
	operator := auth.RequireRole(auth.RoleOperator)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			if len(a.jwtSecret) > 0 {
				pr.Use(auth.Middleware(a.db, a.jwtSecret))
			}

			pr.Route("/jobs", func(r chi.Router) {
				r.Get("/", a.handleJobsList)
				r.With(auth.RequireRole(auth.RoleSubmitter)).Post("/", a.handleJobsSubmit)
				r.Route("/{jobID}", func(r chi.Router) {
					r.Get("/", a.handleJobsGet)
					r.Delete("/", a.handleJobsWithdraw)
					r.Get("/report", a.handleJobsReport)
					r.Get("/decisions", a.handleJobsDecisions)

					// executor callbacks
					r.With(operator).Post("/complete", a.handleJobsComplete)
					r.With(operator).Post("/fail", a.handleJobsFail)
				})
			})

			pr.Route("/forecast/{region}", func(r chi.Router) {
				r.Get("/", a.handleForecastGet)
				r.Get("/optimal", a.handleForecastOptimal)
				r.With(operator).Post("/refresh", a.handleForecastRefresh)
			})
			pr.Get("/regions/compare", a.handleRegionsCompare)

			pr.Get("/stats", a.handleStats)
			pr.With(operator).Get("/snapshot", a.handleSnapshot)
			pr.With(operator).Post("/schedule/evaluate", a.handleScheduleEvaluate)
			pr.Get("/schedule/decisions", a.handleScheduleDecisions)

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         version.Version,
		"last_evaluation": a.scheduler.LastEvaluation(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeServiceError maps domain errors to status codes.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrInvalidDuration), errors.Is(err, forecast.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, "invalid_duration")
	case errors.Is(err, scheduler.ErrInvalidDeadline):
		writeError(w, http.StatusBadRequest, "invalid_deadline")
	case errors.Is(err, scheduler.ErrInvalidRegion):
		writeError(w, http.StatusBadRequest, "region_required")
	case errors.Is(err, queue.ErrDuplicateID):
		writeError(w, http.StatusConflict, "duplicate_id")
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "job_not_found")
	case errors.Is(err, scheduler.ErrAlreadyFinished):
		writeError(w, http.StatusConflict, "already_finished")
	case errors.Is(err, queue.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition")
	case errors.Is(err, forecast.ErrInsufficientHorizon):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_horizon")
	case errors.Is(err, executor.ErrUnknownJob):
		writeError(w, http.StatusConflict, "not_cancellable")
	case errors.Is(err, executor.ErrRejected):
		writeError(w, http.StatusBadGateway, "executor_rejected")
	case errors.Is(err, forecast.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "forecast_unavailable")
	case errors.Is(err, archive.ErrNotArchived):
		writeError(w, http.StatusNotFound, "report_not_found")
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
