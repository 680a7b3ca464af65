/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInsufficientHorizon is returned when no full window fits the search range.
	ErrInsufficientHorizon = errors.New("insufficient horizon for duration")
	// ErrInvalidDuration is returned for non-positive durations.
	ErrInvalidDuration = errors.New("duration must be positive")
	// ErrOutOfRange is returned when the search range leaves the series.
	ErrOutOfRange = errors.New("search range outside forecast series")
)

// nearTie is the relative distance under which sliding sums are re-checked
// by direct summation before one window beats another.
const nearTie = 1e-9

// Window is a scored contiguous execution slot.
type Window struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	MeanIntensity float64   `json:"mean_intensity"`
	SamplesUsed   int       `json:"samples_used"`
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// SamplesPerWindow returns ceil(duration / interval).
func SamplesPerWindow(duration, interval time.Duration) int {
	n := int(duration / interval)
	if duration%interval != 0 {
		n++
	}
	return n
}

// FindOptimalWindow returns the lowest mean-intensity window of the given
// duration starting in [from, until-duration]. Ties go to the earliest start.
// from is clamped down to the sample that covers it.
func FindOptimalWindow(s *Series, duration time.Duration, from, until time.Time) (Window, error) {
	if duration <= 0 {
		return Window{}, ErrInvalidDuration
	}
	if s == nil || s.Len() == 0 {
		return Window{}, fmt.Errorf("%w: empty series", ErrOutOfRange)
	}
	if from.Before(s.Start()) || until.After(s.End()) {
		return Window{}, fmt.Errorf("%w: [%s, %s] not within [%s, %s]",
			ErrOutOfRange, from.Format(time.RFC3339), until.Format(time.RFC3339),
			s.Start().Format(time.RFC3339), s.End().Format(time.RFC3339))
	}
	if until.Sub(from) < duration {
		return Window{}, fmt.Errorf("%w: %s available, %s required", ErrInsufficientHorizon, until.Sub(from), duration)
	}

	w := SamplesPerWindow(duration, s.interval)
	first, ok := s.IndexAt(from)
	if !ok {
		return Window{}, fmt.Errorf("%w: no sample covers %s", ErrOutOfRange, from.Format(time.RFC3339))
	}
	lastStart := until.Add(-duration)
	last := -1
	for i := first; i+w <= s.Len() && !s.samples[i].Timestamp.After(lastStart); i++ {
		last = i
	}
	if last < first {
		return Window{}, fmt.Errorf("%w: %d samples needed from %s", ErrInsufficientHorizon, w, from.Format(time.RFC3339))
	}

	sum := 0.0
	for i := first; i < first+w; i++ {
		sum += s.samples[i].Intensity
	}
	best, bestSum := first, sum
	bestExact := directSum(s.samples, first, w)
	for i := first + 1; i <= last; i++ {
		sum += s.samples[i+w-1].Intensity - s.samples[i-1].Intensity
		if sum > bestSum && !closeTo(sum, bestSum) {
			continue
		}
		if closeTo(sum, bestSum) {
			exact := directSum(s.samples, i, w)
			if exact/float64(w) >= bestExact/float64(w) {
				continue
			}
			best, bestSum, bestExact = i, sum, exact
			continue
		}
		best, bestSum = i, sum
		bestExact = directSum(s.samples, i, w)
	}

	start := s.samples[best].Timestamp
	return Window{
		Start:         start,
		End:           start.Add(duration),
		MeanIntensity: bestExact / float64(w),
		SamplesUsed:   w,
	}, nil
}

// CurrentWindowIntensity is the mean intensity of the window starting at the
// first sample, i.e. running immediately.
func CurrentWindowIntensity(s *Series, duration time.Duration) (float64, error) {
	win, err := WindowAt(s, s.Start(), duration)
	if err != nil {
		return 0, err
	}
	return win.MeanIntensity, nil
}

// WindowAt scores the window starting at the sample covering start.
func WindowAt(s *Series, start time.Time, duration time.Duration) (Window, error) {
	if duration <= 0 {
		return Window{}, ErrInvalidDuration
	}
	if s == nil || s.Len() == 0 {
		return Window{}, fmt.Errorf("%w: empty series", ErrOutOfRange)
	}
	i, ok := s.IndexAt(start)
	if !ok {
		return Window{}, fmt.Errorf("%w: no sample covers %s", ErrOutOfRange, start.Format(time.RFC3339))
	}
	w := SamplesPerWindow(duration, s.interval)
	if i+w > s.Len() {
		return Window{}, fmt.Errorf("%w: %d samples needed, %d left", ErrInsufficientHorizon, w, s.Len()-i)
	}
	begin := s.samples[i].Timestamp
	return Window{
		Start:         begin,
		End:           begin.Add(duration),
		MeanIntensity: directSum(s.samples, i, w) / float64(w),
		SamplesUsed:   w,
	}, nil
}

// PartialWindowAt averages whatever samples remain from start, up to the full
// window. It is used when a deadline forces a run past the forecast edge.
func PartialWindowAt(s *Series, start time.Time, duration time.Duration) (Window, error) {
	win, err := WindowAt(s, start, duration)
	if err == nil || !errors.Is(err, ErrInsufficientHorizon) {
		return win, err
	}
	i, _ := s.IndexAt(start)
	n := s.Len() - i
	begin := s.samples[i].Timestamp
	return Window{
		Start:         begin,
		End:           begin.Add(duration),
		MeanIntensity: directSum(s.samples, i, n) / float64(n),
		SamplesUsed:   n,
	}, nil
}

// ProjectedSavings returns 1 - optimal/current, or 0 when current is zero.
func ProjectedSavings(current, optimal float64) float64 {
	if current <= 0 {
		return 0
	}
	return 1 - optimal/current
}

func directSum(samples []Sample, from, n int) float64 {
	total := 0.0
	for i := from; i < from+n; i++ {
		total += samples[i].Intensity
	}
	return total
}

func closeTo(a, b float64) bool {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return math.Abs(a-b) <= nearTie*scale
}
