/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package forecast

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestNewSeriesRejectsMalformed(t *testing.T) {
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

	tests := []struct {
		name     string
		interval time.Duration
		samples  []Sample
	}{
		{"empty", time.Hour, nil},
		{"zero interval", 0, []Sample{{Timestamp: at(0), Intensity: 1}}},
		{"gap", time.Hour, []Sample{{Timestamp: at(0), Intensity: 1}, {Timestamp: at(2), Intensity: 1}}},
		{"duplicate", time.Hour, []Sample{{Timestamp: at(0), Intensity: 1}, {Timestamp: at(0), Intensity: 1}}},
		{"out of order", time.Hour, []Sample{{Timestamp: at(1), Intensity: 1}, {Timestamp: at(0), Intensity: 1}}},
		{"negative intensity", time.Hour, []Sample{{Timestamp: at(0), Intensity: -5}}},
		{"nan intensity", time.Hour, []Sample{{Timestamp: at(0), Intensity: math.NaN()}}},
		{"mixed region", time.Hour, []Sample{{Timestamp: at(0), Intensity: 1}, {Timestamp: at(1), Intensity: 1, Region: "FR"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSeries("GB", tt.interval, tt.samples)
			if !errors.Is(err, ErrMalformedSeries) {
				t.Errorf("NewSeries() error = %v, want ErrMalformedSeries", err)
			}
		})
	}
}

func TestSeriesAccessors(t *testing.T) {
	s := hourly(t, 10, 20, 30)

	if s.Region() != "GB" {
		t.Errorf("Region() = %q", s.Region())
	}
	if s.Horizon() != 3*time.Hour {
		t.Errorf("Horizon() = %v, want 3h", s.Horizon())
	}
	if s.At(1).Region != "GB" {
		t.Errorf("sample region not inherited: %q", s.At(1).Region)
	}

	i, ok := s.IndexAt(base.Add(90 * time.Minute))
	if !ok || i != 1 {
		t.Errorf("IndexAt(1h30) = %d, %v; want 1, true", i, ok)
	}
	if _, ok := s.IndexAt(s.End()); ok {
		t.Error("IndexAt(End) should be out of range")
	}

	samples := s.Samples()
	samples[0].Intensity = 999
	if s.At(0).Intensity != 10 {
		t.Error("Samples() leaked internal slice")
	}
}

func TestSeriesTruncate(t *testing.T) {
	s := hourly(t, 1, 2, 3, 4, 5)

	cut := s.Truncate(base.Add(150 * time.Minute))
	if cut.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cut.Len())
	}
	if !cut.End().Equal(base.Add(2 * time.Hour)) {
		t.Errorf("End() = %v", cut.End())
	}
	if s.Len() != 5 {
		t.Errorf("original series modified: Len() = %d", s.Len())
	}
}

func TestSeriesFrom(t *testing.T) {
	s := hourly(t, 1, 2, 3, 4)

	tail, ok := s.From(base.Add(150 * time.Minute))
	if !ok {
		t.Fatal("From() not ok")
	}
	if tail.Len() != 2 || !tail.Start().Equal(base.Add(2*time.Hour)) {
		t.Errorf("From() = %d samples from %v", tail.Len(), tail.Start())
	}
	if whole, _ := s.From(base.Add(-time.Hour)); whole.Len() != 4 {
		t.Errorf("From(before start) Len() = %d", whole.Len())
	}
	if _, ok := s.From(s.End()); ok {
		t.Error("From(End) should not be ok")
	}
}

func TestSeriesJSON(t *testing.T) {
	s := hourly(t, 100, 200)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got Series
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Interval() != time.Hour || got.Len() != 2 || got.At(1).Intensity != 200 {
		t.Errorf("decoded series = %+v", got)
	}

	bad := []byte(`{"region":"GB","interval":"1h","samples":[{"timestamp":"2026-03-01T00:00:00Z","intensity":1},{"timestamp":"2026-03-01T03:00:00Z","intensity":1}]}`)
	if err := json.Unmarshal(bad, &got); !errors.Is(err, ErrMalformedSeries) {
		t.Errorf("Unmarshal(gap) error = %v, want ErrMalformedSeries", err)
	}
}
