/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/friendsincode/carbonwise/internal/report"
	"github.com/friendsincode/carbonwise/internal/scheduler/decisions"
)

const defaultDecisionLimit = 50

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	q := a.scheduler.Queue()
	summary := report.Summarize(q.ListByState())
	if a.archive != nil {
		summary = report.Merge(a.archive.Summary(), summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":           q.Stats(),
		"emissions":       summary,
		"last_evaluation": a.scheduler.LastEvaluation(),
	})
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.scheduler.Snapshot())
}

// handleScheduleEvaluate runs one scheduling pass synchronously.
func (a *API) handleScheduleEvaluate(w http.ResponseWriter, r *http.Request) {
	res := a.scheduler.Tick(r.Context())
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleScheduleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := defaultDecisionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}

	var entries []decisions.Entry
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		entries = a.scheduler.JobDecisions(jobID)
		if len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
	} else {
		entries = a.scheduler.Decisions(limit)
	}
	if entries == nil {
		entries = []decisions.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": entries})
}
