/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/carbonwise/internal/forecast"
)

// Static serves fixed forecasts, either absolute series or relative
// profiles that are re-anchored at the current interval on every fetch.
type Static struct {
	Now func() time.Time

	mu       sync.RWMutex
	series   map[string]*forecast.Series
	profiles map[string]profile
}

type profile struct {
	interval time.Duration
	values   []float64
}

// NewStatic serves the given series keyed by their region.
func NewStatic(series ...*forecast.Series) *Static {
	s := &Static{
		Now:      time.Now,
		series:   make(map[string]*forecast.Series),
		profiles: make(map[string]profile),
	}
	for _, ser := range series {
		s.series[ser.Region()] = ser
	}
	return s
}

// Name implements Provider.
func (s *Static) Name() string { return "static" }

// Set replaces the series for its region.
func (s *Static) Set(series *forecast.Series) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[series.Region()] = series
	delete(s.profiles, series.Region())
}

// SetProfile installs a relative profile for region.
func (s *Static) SetProfile(region string, interval time.Duration, values []float64) error {
	if interval <= 0 || len(values) == 0 {
		return fmt.Errorf("%w: empty profile for %s", forecast.ErrMalformedSeries, region)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[region] = profile{interval: interval, values: append([]float64(nil), values...)}
	delete(s.series, region)
	return nil
}

// GetForecast implements Provider.
func (s *Static) GetForecast(ctx context.Context, region string, horizon time.Duration) (*forecast.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(s.Name(), region, err)
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	s.mu.RLock()
	ser, hasSeries := s.series[region]
	prof, hasProfile := s.profiles[region]
	s.mu.RUnlock()

	switch {
	case hasSeries:
		return build(s.Name(), region, ser.Interval(), ser.Samples(), now, horizon)
	case hasProfile:
		start := now.UTC().Truncate(prof.interval)
		samples := make([]forecast.Sample, len(prof.values))
		for i, v := range prof.values {
			samples[i] = forecast.Sample{Timestamp: start.Add(time.Duration(i) * prof.interval), Intensity: v}
		}
		return build(s.Name(), region, prof.interval, samples, now, horizon)
	default:
		return nil, unavailable(s.Name(), region, errors.New("no forecast configured"))
	}
}

// ReplayFile is the YAML layout of a forecast replay file.
//
//	regions:
//	  GB:
//	    interval: 30m
//	    intensities: [210, 190, 120]
//	  DE:
//	    interval: 1h
//	    start: 2026-03-01T00:00:00Z
//	    intensities: [350, 340]
type ReplayFile struct {
	Regions map[string]ReplayRegion `yaml:"regions"`
}

// ReplayRegion is one region's forecast. Without Start the values are
// anchored at the current interval.
type ReplayRegion struct {
	Interval    string     `yaml:"interval"`
	Start       *time.Time `yaml:"start,omitempty"`
	Intensities []float64  `yaml:"intensities"`
}

// LoadStatic reads a replay file.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	return ParseStatic(data)
}

// ParseStatic builds a Static provider from replay YAML.
func ParseStatic(data []byte) (*Static, error) {
	var file ReplayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse replay file: %w", err)
	}
	st := NewStatic()
	for region, r := range file.Regions {
		interval, err := time.ParseDuration(r.Interval)
		if err != nil {
			return nil, fmt.Errorf("region %s interval: %w", region, err)
		}
		if r.Start == nil {
			if err := st.SetProfile(region, interval, r.Intensities); err != nil {
				return nil, err
			}
			continue
		}
		samples := make([]forecast.Sample, len(r.Intensities))
		for i, v := range r.Intensities {
			samples[i] = forecast.Sample{Timestamp: r.Start.Add(time.Duration(i) * interval), Intensity: v}
		}
		ser, err := forecast.NewSeries(region, interval, samples)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", region, err)
		}
		st.Set(ser)
	}
	return st, nil
}
