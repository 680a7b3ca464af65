/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package forecast

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func hourly(t *testing.T, values ...float64) *Series {
	t.Helper()
	samples := make([]Sample, len(values))
	for i, v := range values {
		samples[i] = Sample{Timestamp: base.Add(time.Duration(i) * time.Hour), Intensity: v}
	}
	s, err := NewSeries("GB", time.Hour, samples)
	if err != nil {
		t.Fatalf("NewSeries() error = %v", err)
	}
	return s
}

func dayProfile(t *testing.T) *Series {
	values := make([]float64, 24)
	for i := range values {
		switch {
		case i < 6:
			values[i] = 500
		case i < 12:
			values[i] = 100
		default:
			values[i] = 600
		}
	}
	return hourly(t, values...)
}

// bruteForce is the naive O(n*w) reference.
func bruteForce(s *Series, duration time.Duration, from, until time.Time) (Window, bool) {
	w := SamplesPerWindow(duration, s.Interval())
	first, _ := s.IndexAt(from)
	var best Window
	found := false
	for i := first; i+w <= s.Len(); i++ {
		if s.At(i).Timestamp.After(until.Add(-duration)) {
			break
		}
		total := 0.0
		for j := i; j < i+w; j++ {
			total += s.At(j).Intensity
		}
		mean := total / float64(w)
		if !found || mean < best.MeanIntensity {
			best = Window{Start: s.At(i).Timestamp, End: s.At(i).Timestamp.Add(duration), MeanIntensity: mean, SamplesUsed: w}
			found = true
		}
	}
	return best, found
}

func TestFindOptimalWindowDayProfile(t *testing.T) {
	s := dayProfile(t)

	win, err := FindOptimalWindow(s, 2*time.Hour, s.Start(), s.End())
	if err != nil {
		t.Fatalf("FindOptimalWindow() error = %v", err)
	}
	if !win.Start.Equal(base.Add(6 * time.Hour)) {
		t.Errorf("Start = %v, want hour 6", win.Start)
	}
	if !win.End.Equal(base.Add(8 * time.Hour)) {
		t.Errorf("End = %v, want hour 8", win.End)
	}
	if win.MeanIntensity != 100 {
		t.Errorf("MeanIntensity = %v, want 100", win.MeanIntensity)
	}
	if win.SamplesUsed != 2 {
		t.Errorf("SamplesUsed = %d, want 2", win.SamplesUsed)
	}

	now, err := CurrentWindowIntensity(s, 2*time.Hour)
	if err != nil {
		t.Fatalf("CurrentWindowIntensity() error = %v", err)
	}
	if now != 500 {
		t.Errorf("CurrentWindowIntensity() = %v, want 500", now)
	}
	if got := ProjectedSavings(now, win.MeanIntensity); math.Abs(got-0.8) > 1e-12 {
		t.Errorf("ProjectedSavings() = %v, want 0.8", got)
	}
}

func TestFindOptimalWindowDeadlineBound(t *testing.T) {
	s := dayProfile(t)

	win, err := FindOptimalWindow(s, 2*time.Hour, s.Start(), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("FindOptimalWindow() error = %v", err)
	}
	if !win.Start.Equal(base) {
		t.Errorf("Start = %v, want earliest slot %v", win.Start, base)
	}
	if win.MeanIntensity != 500 {
		t.Errorf("MeanIntensity = %v, want 500", win.MeanIntensity)
	}
}

func TestFindOptimalWindowErrors(t *testing.T) {
	s := dayProfile(t)

	tests := []struct {
		name     string
		duration time.Duration
		from     time.Time
		until    time.Time
		want     error
	}{
		{"zero duration", 0, s.Start(), s.End(), ErrInvalidDuration},
		{"negative duration", -time.Hour, s.Start(), s.End(), ErrInvalidDuration},
		{"from before series", time.Hour, base.Add(-time.Hour), s.End(), ErrOutOfRange},
		{"until after series", time.Hour, s.Start(), s.End().Add(time.Hour), ErrOutOfRange},
		{"range shorter than duration", 3 * time.Hour, s.Start(), base.Add(2 * time.Hour), ErrInsufficientHorizon},
		{"partial sample leaves no start", 90 * time.Minute, base.Add(30 * time.Minute), base.Add(2 * time.Hour), ErrInsufficientHorizon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FindOptimalWindow(s, tt.duration, tt.from, tt.until)
			if !errors.Is(err, tt.want) {
				t.Errorf("FindOptimalWindow() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFindOptimalWindowTieBreaksEarliest(t *testing.T) {
	s := hourly(t, 300, 200, 200, 300, 200, 200, 300)

	win, err := FindOptimalWindow(s, 2*time.Hour, s.Start(), s.End())
	if err != nil {
		t.Fatalf("FindOptimalWindow() error = %v", err)
	}
	if !win.Start.Equal(base.Add(time.Hour)) {
		t.Errorf("Start = %v, want hour 1", win.Start)
	}
}

func TestFindOptimalWindowRoundsPartialSamplesUp(t *testing.T) {
	s := hourly(t, 400, 100, 100, 400, 400)

	win, err := FindOptimalWindow(s, 90*time.Minute, s.Start(), s.End())
	if err != nil {
		t.Fatalf("FindOptimalWindow() error = %v", err)
	}
	if win.SamplesUsed != 2 {
		t.Errorf("SamplesUsed = %d, want 2", win.SamplesUsed)
	}
	if win.Duration() != 90*time.Minute {
		t.Errorf("Duration() = %v, want 90m", win.Duration())
	}
	if win.MeanIntensity != 100 {
		t.Errorf("MeanIntensity = %v, want 100", win.MeanIntensity)
	}
}

func TestFindOptimalWindowMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		n := 4 + rng.Intn(90)
		values := make([]float64, n)
		for i := range values {
			values[i] = rng.Float64() * 800
		}
		s := hourly(t, values...)
		duration := time.Duration(1+rng.Intn(n)) * time.Hour
		if rng.Intn(3) == 0 {
			duration -= 20 * time.Minute
		}
		from := s.Start().Add(time.Duration(rng.Intn(n/2+1)) * time.Hour)
		until := s.End()

		want, ok := bruteForce(s, duration, from, until)
		got, err := FindOptimalWindow(s, duration, from, until)
		if !ok {
			if err == nil {
				t.Fatalf("trial %d: expected error, got %+v", trial, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("trial %d: FindOptimalWindow() error = %v", trial, err)
		}
		if got.MeanIntensity != want.MeanIntensity {
			t.Fatalf("trial %d: mean = %v, brute force = %v", trial, got.MeanIntensity, want.MeanIntensity)
		}
		if !got.Start.Equal(want.Start) {
			t.Fatalf("trial %d: start = %v, brute force = %v", trial, got.Start, want.Start)
		}

		now, err := CurrentWindowIntensity(s, duration)
		if err == nil && got.MeanIntensity > now {
			t.Fatalf("trial %d: optimal %v worse than now %v", trial, got.MeanIntensity, now)
		}
	}
}

func TestFindOptimalWindowDeterministic(t *testing.T) {
	s := dayProfile(t)

	first, err := FindOptimalWindow(s, 3*time.Hour, s.Start(), s.End())
	if err != nil {
		t.Fatalf("FindOptimalWindow() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := FindOptimalWindow(s, 3*time.Hour, s.Start(), s.End())
		if err != nil {
			t.Fatalf("FindOptimalWindow() error = %v", err)
		}
		if again != first {
			t.Fatalf("run %d = %+v, want %+v", i, again, first)
		}
	}
}

func TestPartialWindowAt(t *testing.T) {
	s := hourly(t, 100, 200, 300)

	win, err := PartialWindowAt(s, base.Add(time.Hour), 4*time.Hour)
	if err != nil {
		t.Fatalf("PartialWindowAt() error = %v", err)
	}
	if win.SamplesUsed != 2 || win.MeanIntensity != 250 {
		t.Errorf("PartialWindowAt() = %+v, want 2 samples at 250", win)
	}
	if win.Duration() != 4*time.Hour {
		t.Errorf("Duration() = %v, want 4h", win.Duration())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		intensity float64
		want      Greenness
	}{
		{50, GreennessHigh},
		{199.9, GreennessHigh},
		{200, GreennessMedium},
		{399, GreennessMedium},
		{400, GreennessLow},
		{900, GreennessLow},
	}
	for _, tt := range tests {
		if got := Classify(tt.intensity); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.intensity, got, tt.want)
		}
	}
}
