/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobState
		want     bool
	}{
		{JobPending, JobDeferred, true},
		{JobPending, JobReady, true},
		{JobPending, JobRunning, false},
		{JobDeferred, JobDeferred, true},
		{JobDeferred, JobReady, true},
		{JobDeferred, JobPending, false},
		{JobReady, JobRunning, true},
		{JobReady, JobDeferred, false},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobReady, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStatesAbsorbing(t *testing.T) {
	for _, from := range []JobState{JobCompleted, JobFailed} {
		if !from.Terminal() {
			t.Errorf("%s should be terminal", from)
		}
		for _, to := range AllJobStates {
			if CanTransition(from, to) {
				t.Errorf("CanTransition(%s, %s) = true, want false", from, to)
			}
		}
	}
}

func TestJobSavings(t *testing.T) {
	baseline := 500.0
	actual := 250.0
	job := Job{Duration: 2 * time.Hour, BaselineIntensity: &baseline}

	if _, ok := job.Savings(); ok {
		t.Fatal("Savings() ok without actual emissions")
	}

	job.ActualEmissionsG = &actual
	got, ok := job.Savings()
	if !ok {
		t.Fatal("Savings() not ok")
	}
	// baseline emissions: 500 g/kWh * 1 kW * 2h = 1000 g
	if got != 0.75 {
		t.Errorf("Savings() = %v, want 0.75", got)
	}
}

func TestJobCloneIsDeep(t *testing.T) {
	deadline := time.Now()
	baseline := 100.0
	job := Job{Deadline: &deadline, BaselineIntensity: &baseline}

	cp := job.Clone()
	*cp.BaselineIntensity = 1
	cp.Deadline = nil

	if *job.BaselineIntensity != 100 || job.Deadline == nil {
		t.Error("Clone() shares pointers with the original")
	}
}

func TestSearchUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(3 * time.Hour)

	if got := (Job{}).SearchUntil(now, 24*time.Hour); !got.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("SearchUntil() without deadline = %v", got)
	}
	if got := (Job{Deadline: &deadline}).SearchUntil(now, 24*time.Hour); !got.Equal(deadline) {
		t.Errorf("SearchUntil() with deadline = %v", got)
	}
}

func TestBaselineIncludesPUE(t *testing.T) {
	baseline := 500.0
	job := Job{Duration: 2 * time.Hour, BaselineIntensity: &baseline}

	if got, _ := job.BaselineEmissionsG(); got != 1000 {
		t.Errorf("BaselineEmissionsG() without PUE = %v, want 1000", got)
	}
	job.PUE = 1.5
	if got, _ := job.BaselineEmissionsG(); got != 1500 {
		t.Errorf("BaselineEmissionsG() with PUE 1.5 = %v, want 1500", got)
	}
}
