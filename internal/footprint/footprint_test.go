/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package footprint

import (
	"context"
	"testing"
	"time"

	"github.com/friendsincode/carbonwise/internal/forecast"
	"github.com/friendsincode/carbonwise/internal/models"
)

func TestEstimate(t *testing.T) {
	units := []Unit{{Count: 2, Watts: 250}, {Count: 1, Watts: 500}}

	// 1 kW for 2h at PUE 1.5 = 3 kWh
	if got := EnergyKWh(1.5, 2*time.Hour, units); got != 3 {
		t.Fatalf("EnergyKWh() = %v, want 3", got)
	}

	est := Estimate(1.5, units, 2*time.Hour, 100, 500)
	if est.NowG != 1500 || est.BestG != 300 || est.SavingsG != 1200 {
		t.Errorf("Estimate() = %+v", est)
	}
	if got := EnergyKWh(0, time.Hour, units); got != 1 {
		t.Errorf("EnergyKWh() with zero PUE = %v, want 1", got)
	}
}

func TestEstimateMeter(t *testing.T) {
	dispatched := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	// A time-scaled executor finishes long before the declared duration.
	finished := dispatched.Add(time.Second)
	baseline := 100.0
	job := models.Job{
		Duration:          2 * time.Hour,
		PowerWatts:        2000,
		PUE:               1.5,
		BaselineIntensity: &baseline,
		DispatchedAt:      &dispatched,
		FinishedAt:        &finished,
		Decision:          &models.Decision{Window: forecast.Window{MeanIntensity: 100}},
	}

	got, ok, err := EstimateMeter{}.ActualEmissions(context.Background(), job)
	if err != nil || !ok {
		t.Fatalf("ActualEmissions() = %v, %v, %v", got, ok, err)
	}
	// 1.5 PUE * 2 kW * 2 h * 100 g/kWh
	if got != 600 {
		t.Errorf("ActualEmissions() = %v, want 600", got)
	}
	if want, _ := job.BaselineEmissionsG(); got != want {
		t.Errorf("ActualEmissions() = %v, baseline = %v; same intensity must match", got, want)
	}

	job.Decision = nil
	if _, ok, _ := (EstimateMeter{}).ActualEmissions(context.Background(), job); ok {
		t.Error("ActualEmissions() ok without a decision")
	}
}
