/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package provider supplies carbon-intensity forecasts from grid data
// sources behind a single interface.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/carbonwise/internal/forecast"
)

// ErrInvalidLocation is returned when a data source rejects the region.
var ErrInvalidLocation = errors.New("invalid location")

// Provider returns a forecast for a region covering at least the horizon
// where the source allows it.
type Provider interface {
	Name() string
	GetForecast(ctx context.Context, region string, horizon time.Duration) (*forecast.Series, error)
}

// Func adapts a function to Provider.
type Func struct {
	ID string
	Fn func(ctx context.Context, region string, horizon time.Duration) (*forecast.Series, error)
}

// Name implements Provider.
func (f Func) Name() string { return f.ID }

// GetForecast implements Provider.
func (f Func) GetForecast(ctx context.Context, region string, horizon time.Duration) (*forecast.Series, error) {
	return f.Fn(ctx, region, horizon)
}

// unavailable marks err as a forecast fetch failure for the given source.
func unavailable(source, region string, err error) error {
	if errors.Is(err, forecast.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %w", forecast.ErrUnavailable, source, region, err)
}

// build validates raw samples into a series trimmed to [now, now+horizon].
func build(source, region string, interval time.Duration, samples []forecast.Sample, now time.Time, horizon time.Duration) (*forecast.Series, error) {
	s, err := forecast.NewSeries(region, interval, samples)
	if err != nil {
		return nil, unavailable(source, region, err)
	}
	s, ok := s.From(now)
	if !ok {
		return nil, unavailable(source, region, errors.New("forecast ends before now"))
	}
	if horizon > 0 {
		s = s.Truncate(s.Start().Add(horizon))
	}
	return s, nil
}

func samplesFor(horizon, interval time.Duration) int {
	n := forecast.SamplesPerWindow(horizon, interval)
	if n < 1 {
		n = 1
	}
	return n
}
