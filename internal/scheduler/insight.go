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

	"github.com/friendsincode/carbonwise/internal/footprint"
	"github.com/friendsincode/carbonwise/internal/forecast"
)

// RegionIntensity is one region's current intensity in a comparison.
type RegionIntensity struct {
	Region         string             `json:"region"`
	Intensity      float64            `json:"intensity"`
	Greenness      forecast.Greenness `json:"greenness,omitempty"`
	Recommendation string             `json:"recommendation,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// Comparison ranks regions by current intensity.
type Comparison struct {
	Regions    []RegionIntensity `json:"regions"`
	Greenest   string            `json:"greenest"`
	ComparedAt time.Time         `json:"compared_at"`
}

// CompareRegions looks up the current intensity of each region and names
// the greenest. Regions whose forecast fails are listed with their error;
// the call fails only when none succeed.
func (s *Service) CompareRegions(ctx context.Context, regions []string) (Comparison, error) {
	regions = dedupe(regions)
	if len(regions) == 0 {
		return Comparison{}, ErrInvalidRegion
	}
	series, failed := s.fetchAll(ctx, regions)

	out := Comparison{ComparedAt: s.now()}
	best := -1.0
	for _, region := range regions {
		ser, ok := series[region]
		if !ok {
			out.Regions = append(out.Regions, RegionIntensity{Region: region, Error: failed[region].Error()})
			continue
		}
		intensity := ser.At(0).Intensity
		g := forecast.Classify(intensity)
		out.Regions = append(out.Regions, RegionIntensity{
			Region:         region,
			Intensity:      intensity,
			Greenness:      g,
			Recommendation: g.Recommendation(),
		})
		if best < 0 || intensity < best {
			best = intensity
			out.Greenest = region
		}
	}
	if out.Greenest == "" {
		return out, fmt.Errorf("%w: no region could be compared", forecast.ErrUnavailable)
	}
	return out, nil
}

// PlanRequest asks when a job would best run without queueing it.
type PlanRequest struct {
	Region   string
	Duration time.Duration
	Deadline *time.Time
	// Units describe the job's power draw; none means one 1 kW unit.
	Units []footprint.Unit
}

// Plan is the run-now versus best-window comparison for a job.
type Plan struct {
	Region           string              `json:"region"`
	Now              forecast.Window     `json:"now"`
	Best             forecast.Window     `json:"best"`
	ProjectedSavings float64             `json:"projected_savings"`
	Greenness        forecast.Greenness  `json:"greenness"`
	Recommendation   string              `json:"recommendation"`
	Estimates        footprint.Estimates `json:"estimates"`
	// Forced is set when no full window fits before the deadline or horizon
	// and the job would have to run now.
	Forced bool `json:"forced"`
}

// Plan computes the best window for a hypothetical job.
func (s *Service) Plan(ctx context.Context, req PlanRequest) (Plan, error) {
	if req.Duration <= 0 {
		return Plan{}, ErrInvalidDuration
	}
	now := s.now()
	if req.Deadline != nil && req.Deadline.Sub(now) < req.Duration {
		return Plan{}, ErrInvalidDeadline
	}
	series, err := s.Forecast(ctx, req.Region)
	if err != nil {
		return Plan{}, err
	}

	from := now
	if from.Before(series.Start()) {
		from = series.Start()
	}
	runNow, err := forecast.PartialWindowAt(series, from, req.Duration)
	if err != nil {
		return Plan{}, err
	}
	until := now.Add(s.policy.Horizon)
	if req.Deadline != nil && req.Deadline.Before(until) {
		until = *req.Deadline
	}
	if until.After(series.End()) {
		until = series.End()
	}

	p := Plan{Region: series.Region(), Now: runNow, Best: runNow}
	best, err := forecast.FindOptimalWindow(series, req.Duration, from, until)
	switch {
	case errors.Is(err, forecast.ErrInsufficientHorizon):
		p.Forced = true
	case err != nil:
		return Plan{}, err
	default:
		p.Best = best
	}

	units := req.Units
	if len(units) == 0 {
		units = []footprint.Unit{{Count: 1, Watts: 1000}}
	}
	p.ProjectedSavings = forecast.ProjectedSavings(p.Now.MeanIntensity, p.Best.MeanIntensity)
	p.Greenness = forecast.Classify(series.At(0).Intensity)
	p.Recommendation = p.Greenness.Recommendation()
	p.Estimates = footprint.Estimate(s.policy.PUE, units, req.Duration, p.Best.MeanIntensity, p.Now.MeanIntensity)
	return p, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
