/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/friendsincode/carbonwise/internal/forecast"
)

// MockInterval is the sampling interval of synthetic forecasts.
const MockInterval = 30 * time.Minute

// Typical average intensity per grid, gCO2/kWh.
var mockBase = map[string]float64{
	"IN": 700,
	"US": 400,
	"DE": 350,
	"NO": 50,
	"AU": 600,
	"GB": 200,
	"FR": 80,
}

const mockDefaultBase = 500

// Mock produces a deterministic synthetic forecast that follows a daily
// demand curve: clean overnight, an evening peak.
type Mock struct {
	Now func() time.Time
}

// NewMock creates a mock provider on the wall clock.
func NewMock() *Mock { return &Mock{Now: time.Now} }

// Name implements Provider.
func (m *Mock) Name() string { return "mock" }

// GetForecast implements Provider.
func (m *Mock) GetForecast(ctx context.Context, region string, horizon time.Duration) (*forecast.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(m.Name(), region, err)
	}
	now := m.now().UTC()
	start := now.Truncate(MockInterval)
	n := samplesFor(horizon, MockInterval)

	samples := make([]forecast.Sample, n)
	for i := range samples {
		ts := start.Add(time.Duration(i) * MockInterval)
		samples[i] = forecast.Sample{Timestamp: ts, Intensity: MockIntensity(region, ts)}
	}
	return build(m.Name(), region, MockInterval, samples, now, horizon)
}

func (m *Mock) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// MockIntensity is the synthetic intensity for a region at ts.
func MockIntensity(region string, ts time.Time) float64 {
	base, ok := mockBase[region]
	if !ok {
		base = mockDefaultBase
	}

	var factor, spread float64
	switch h := ts.UTC().Hour(); {
	case h >= 2 && h < 6:
		factor, spread = 0.4, 20
	case h >= 6 && h < 9:
		factor, spread = 0.7, 30
	case h >= 9 && h < 17:
		factor, spread = 0.8, 40
	case h >= 17 && h < 22:
		factor, spread = 1.1, 30
	default:
		factor, spread = 0.6, 25
	}

	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(region))
	_, _ = hasher.Write([]byte(ts.UTC().Format(time.RFC3339)))
	// map the hash onto [-1, 1]
	unit := float64(hasher.Sum64()%2001)/1000 - 1

	return math.Max(20, math.Round(base*factor+unit*spread))
}
