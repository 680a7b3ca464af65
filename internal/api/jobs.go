/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/carbonwise/internal/archive"
	"github.com/friendsincode/carbonwise/internal/auth"
	"github.com/friendsincode/carbonwise/internal/models"
	"github.com/friendsincode/carbonwise/internal/queue"
	"github.com/friendsincode/carbonwise/internal/report"
	"github.com/friendsincode/carbonwise/internal/scheduler"
)

type submitRequest struct {
	ID              string     `json:"id"`
	Priority        int        `json:"priority"`
	Duration        string     `json:"duration"`
	DurationMinutes int        `json:"duration_minutes"`
	Deadline        *time.Time `json:"deadline"`
	Region          string     `json:"region"`
	PowerWatts      float64    `json:"power_watts"`
}

func (req submitRequest) duration() (time.Duration, error) {
	if req.Duration != "" {
		return time.ParseDuration(req.Duration)
	}
	return time.Duration(req.DurationMinutes) * time.Minute, nil
}

type completeRequest struct {
	Outcome          string   `json:"outcome"`
	ActualEmissionsG *float64 `json:"actual_emissions_g"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

// canAccess allows the job owner and operators. Requests on an
// unauthenticated deployment see everything.
func canAccess(r *http.Request, job models.Job) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return true
	}
	return claims.HasRole(auth.RoleOperator) || job.Owner == claims.UserID
}

// visibleOwner returns the owner filter for listings, empty for all.
func visibleOwner(r *http.Request) string {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.HasRole(auth.RoleOperator) {
		return ""
	}
	return claims.UserID
}

func (a *API) handleJobsList(w http.ResponseWriter, r *http.Request) {
	var states []models.JobState
	for _, raw := range parseList(r.URL.Query().Get("state")) {
		state := models.JobState(raw)
		if !state.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_state")
			return
		}
		states = append(states, state)
	}

	owner := visibleOwner(r)
	jobs := a.scheduler.Queue().ListByState(states...)
	out := make([]models.Job, 0, len(jobs))
	for _, job := range jobs {
		if owner != "" && job.Owner != owner {
			continue
		}
		out = append(out, job)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "count": len(out)})
}

func (a *API) handleJobsSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	dur, err := req.duration()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_duration")
		return
	}

	id, err := a.scheduler.SubmitJob(r.Context(), scheduler.SubmitRequest{
		ID:         req.ID,
		Owner:      auth.Owner(r.Context()),
		Priority:   req.Priority,
		Duration:   dur,
		Deadline:   req.Deadline,
		Region:     req.Region,
		PowerWatts: req.PowerWatts,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	job, err := a.scheduler.Queue().Get(id)
	if err != nil {
		// Already archived by a concurrent tick.
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// lookupJob loads the job in the URL and enforces ownership. It writes the
// error response itself and reports whether the handler should go on.
func (a *API) lookupJob(w http.ResponseWriter, r *http.Request) (models.Job, bool) {
	job, err := a.scheduler.Queue().Get(chi.URLParam(r, "jobID"))
	if err != nil {
		a.writeServiceError(w, err)
		return models.Job{}, false
	}
	if !canAccess(r, job) {
		// Hide other owners' jobs.
		writeError(w, http.StatusNotFound, "job_not_found")
		return models.Job{}, false
	}
	return job, true
}

func (a *API) handleJobsGet(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleJobsWithdraw(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookupJob(w, r)
	if !ok {
		return
	}
	updated, err := a.scheduler.Withdraw(r.Context(), job.ID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if updated.State == models.JobRunning {
		// Cancellation requested; the executor confirms later.
		status = http.StatusAccepted
	}
	writeJSON(w, status, updated)
}

func (a *API) handleJobsReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := a.scheduler.Queue().Get(id)
	if err == nil {
		if !canAccess(r, job) {
			writeError(w, http.StatusNotFound, "job_not_found")
			return
		}
		writeJSON(w, http.StatusOK, report.ForJob(job))
		return
	}
	if !errors.Is(err, queue.ErrNotFound) || a.archive == nil {
		a.writeServiceError(w, err)
		return
	}

	rep, err := a.archive.Lookup(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if owner := visibleOwner(r); owner != "" && rep.Owner != owner {
		a.writeServiceError(w, archive.ErrNotArchived)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleJobsDecisions(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":    job.ID,
		"decisions": a.scheduler.JobDecisions(job.ID),
	})
}

func (a *API) handleJobsComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
	}
	if req.ActualEmissionsG != nil && *req.ActualEmissionsG < 0 {
		writeError(w, http.StatusBadRequest, "invalid_emissions")
		return
	}

	id := chi.URLParam(r, "jobID")
	if err := a.scheduler.OnComplete(r.Context(), id, req.Outcome, req.ActualEmissionsG); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": string(models.JobCompleted)})
}

func (a *API) handleJobsFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason_required")
		return
	}

	id := chi.URLParam(r, "jobID")
	if err := a.scheduler.OnFailed(r.Context(), id, req.Reason); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": string(models.JobFailed)})
}
