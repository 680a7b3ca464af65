/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/carbonwise/internal/events"
	"github.com/friendsincode/carbonwise/internal/footprint"
	"github.com/friendsincode/carbonwise/internal/forecast"
	"github.com/friendsincode/carbonwise/internal/scheduler"
)

func (a *API) handleForecastGet(w http.ResponseWriter, r *http.Request) {
	series, err := a.scheduler.Forecast(r.Context(), chi.URLParam(r, "region"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	current := series.At(0).Intensity
	g := forecast.Classify(current)
	writeJSON(w, http.StatusOK, map[string]any{
		"region":         series.Region(),
		"current":        current,
		"greenness":      g,
		"recommendation": g.Recommendation(),
		"forecast":       series,
	})
}

// handleForecastOptimal answers "when should a job of this length run".
// Query: duration (Go duration, required), deadline (RFC 3339),
// power_watts.
func (a *API) handleForecastOptimal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dur, err := time.ParseDuration(q.Get("duration"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_duration")
		return
	}

	req := scheduler.PlanRequest{Region: chi.URLParam(r, "region"), Duration: dur}
	if raw := q.Get("deadline"); raw != "" {
		deadline, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_deadline")
			return
		}
		req.Deadline = &deadline
	}
	if raw := q.Get("power_watts"); raw != "" {
		watts, err := strconv.ParseFloat(raw, 64)
		if err != nil || watts <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_power")
			return
		}
		req.Units = []footprint.Unit{{Count: 1, Watts: watts}}
	}

	plan, err := a.scheduler.Plan(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleForecastRefresh drops the cached forecast, fetches a fresh one and
// tells every scheduler instance to re-evaluate.
func (a *API) handleForecastRefresh(w http.ResponseWriter, r *http.Request) {
	region := chi.URLParam(r, "region")
	if a.invalidator != nil {
		if err := a.invalidator.Invalidate(r.Context(), region); err != nil {
			a.logger.Warn().Err(err).Str("region", region).Msg("forecast cache invalidation failed")
		}
	}

	series, err := a.scheduler.Forecast(r.Context(), region)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if a.bus != nil {
		a.bus.Publish(events.EventForecastUpdated, events.Payload{
			"region":  series.Region(),
			"samples": series.Len(),
			"start":   series.Start(),
			"end":     series.End(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"region":  series.Region(),
		"samples": series.Len(),
		"start":   series.Start(),
		"end":     series.End(),
	})
}

func (a *API) handleRegionsCompare(w http.ResponseWriter, r *http.Request) {
	regions := parseList(r.URL.Query().Get("regions"))
	if len(regions) == 0 {
		writeError(w, http.StatusBadRequest, "regions_required")
		return
	}
	cmp, err := a.scheduler.CompareRegions(r.Context(), regions)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}
