/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package footprint converts power draw, runtime and grid intensity into
// emissions, and supplies the estimate-based emissions meter.
package footprint

import (
	"context"
	"time"

	"github.com/friendsincode/carbonwise/internal/models"
)

// Unit is a group of identical devices, e.g. 4 GPUs at 300 W.
type Unit struct {
	Count int     `json:"count" yaml:"count"`
	Watts float64 `json:"watts" yaml:"watts"`
}

// Estimates compares running now with running in the best window, in gCO2.
type Estimates struct {
	NowG     float64 `json:"now_g"`
	BestG    float64 `json:"best_g"`
	SavingsG float64 `json:"savings_g"`
}

// EnergyKWh is PUE x hours x total draw in kW.
func EnergyKWh(pue float64, runtime time.Duration, units []Unit) float64 {
	if pue <= 0 {
		pue = 1
	}
	watts := 0.0
	for _, u := range units {
		watts += float64(u.Count) * u.Watts
	}
	return pue * runtime.Hours() * watts / 1000
}

// Estimate returns emissions for now and best mean intensities.
func Estimate(pue float64, units []Unit, runtime time.Duration, bestIntensity, nowIntensity float64) Estimates {
	energy := EnergyKWh(pue, runtime, units)
	now := energy * nowIntensity
	best := energy * bestIntensity
	return Estimates{NowG: now, BestG: best, SavingsG: now - best}
}

// Meter supplies the measured emissions of a finished job. ok is false when
// no reading exists; savings for that job are then unavailable.
type Meter interface {
	ActualEmissions(ctx context.Context, job models.Job) (grams float64, ok bool, err error)
}

// EstimateMeter derives emissions from the job's energy over its declared
// duration and the mean intensity of the window it was dispatched in. The
// energy is the same figure the baseline uses, so the job's PUE applies to
// both, and wall-clock runtime (scaled by simulated executors) is ignored.
type EstimateMeter struct{}

// ActualEmissions implements Meter.
func (EstimateMeter) ActualEmissions(_ context.Context, job models.Job) (float64, bool, error) {
	if job.Decision == nil || job.DispatchedAt == nil {
		return 0, false, nil
	}
	return job.EnergyKWh() * job.Decision.Window.MeanIntensity, true, nil
}
