/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package forecast holds carbon-intensity forecast series and the windowed
// search used to pick the cleanest execution slot for a job.
package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrUnavailable marks a forecast that could not be fetched or was rejected.
	ErrUnavailable = errors.New("forecast unavailable")
	// ErrMalformedSeries is returned when samples violate the series invariants.
	ErrMalformedSeries = errors.New("malformed forecast series")
)

// Sample is one carbon-intensity reading in gCO2/kWh.
type Sample struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Intensity float64   `json:"intensity" yaml:"intensity"`
	Region    string    `json:"region,omitempty" yaml:"region,omitempty"`
}

// Series is an immutable, contiguous run of samples at a fixed interval.
type Series struct {
	region   string
	interval time.Duration
	samples  []Sample
}

// NewSeries copies and validates samples. Samples with an empty region
// inherit the series region.
func NewSeries(region string, interval time.Duration, samples []Sample) (*Series, error) {
	cp := make([]Sample, len(samples))
	copy(cp, samples)
	for i := range cp {
		if cp[i].Region == "" {
			cp[i].Region = region
		}
		cp[i].Timestamp = cp[i].Timestamp.UTC()
	}
	s := &Series{region: region, interval: interval, samples: cp}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks contiguity, ordering, region and intensity bounds.
func (s *Series) Validate() error {
	if s == nil || len(s.samples) == 0 {
		return fmt.Errorf("%w: no samples", ErrMalformedSeries)
	}
	if s.interval <= 0 {
		return fmt.Errorf("%w: non-positive interval %s", ErrMalformedSeries, s.interval)
	}
	for i, sample := range s.samples {
		if sample.Region != s.region {
			return fmt.Errorf("%w: sample %d region %q differs from %q", ErrMalformedSeries, i, sample.Region, s.region)
		}
		if math.IsNaN(sample.Intensity) || math.IsInf(sample.Intensity, 0) || sample.Intensity < 0 {
			return fmt.Errorf("%w: sample %d intensity %v", ErrMalformedSeries, i, sample.Intensity)
		}
		if i == 0 {
			continue
		}
		step := sample.Timestamp.Sub(s.samples[i-1].Timestamp)
		if step != s.interval {
			return fmt.Errorf("%w: gap of %s before sample %d, want %s", ErrMalformedSeries, step, i, s.interval)
		}
	}
	return nil
}

// Region returns the grid region the series describes.
func (s *Series) Region() string { return s.region }

// Interval returns the fixed sampling interval.
func (s *Series) Interval() time.Duration { return s.interval }

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.samples) }

// At returns sample i.
func (s *Series) At(i int) Sample { return s.samples[i] }

// Start is the timestamp of the first sample.
func (s *Series) Start() time.Time { return s.samples[0].Timestamp }

// End is the instant the last sample stops covering.
func (s *Series) End() time.Time {
	return s.samples[len(s.samples)-1].Timestamp.Add(s.interval)
}

// Horizon is the span covered by the series.
func (s *Series) Horizon() time.Duration { return s.End().Sub(s.Start()) }

// Samples returns a copy of the samples.
func (s *Series) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// IndexAt returns the index of the sample covering t.
func (s *Series) IndexAt(t time.Time) (int, bool) {
	if t.Before(s.Start()) || !t.Before(s.End()) {
		return 0, false
	}
	return int(t.Sub(s.Start()) / s.interval), true
}

// From returns the suffix of the series starting at the sample covering t.
// A t before the series start returns the whole series; ok is false when t
// is at or past the end.
func (s *Series) From(t time.Time) (*Series, bool) {
	if t.Before(s.Start()) {
		return s, true
	}
	i, ok := s.IndexAt(t)
	if !ok {
		return nil, false
	}
	return &Series{region: s.region, interval: s.interval, samples: s.samples[i:]}, true
}

// Truncate returns the prefix of the series ending at or before until.
func (s *Series) Truncate(until time.Time) *Series {
	n := len(s.samples)
	for n > 1 && s.samples[n-1].Timestamp.Add(s.interval).After(until) {
		n--
	}
	return &Series{region: s.region, interval: s.interval, samples: s.samples[:n:n]}
}

type seriesJSON struct {
	Region   string   `json:"region"`
	Interval string   `json:"interval"`
	Samples  []Sample `json:"samples"`
}

// MarshalJSON encodes the series with a human readable interval.
func (s *Series) MarshalJSON() ([]byte, error) {
	return json.Marshal(seriesJSON{Region: s.region, Interval: s.interval.String(), Samples: s.samples})
}

// UnmarshalJSON decodes and validates a series.
func (s *Series) UnmarshalJSON(data []byte) error {
	var raw seriesJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	interval, err := time.ParseDuration(raw.Interval)
	if err != nil {
		return fmt.Errorf("%w: interval: %v", ErrMalformedSeries, err)
	}
	parsed, err := NewSeries(raw.Region, interval, raw.Samples)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}
