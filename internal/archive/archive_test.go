/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/carbonwise/internal/models"
	"github.com/friendsincode/carbonwise/internal/storage"
	"github.com/rs/zerolog"
)

type failingStore struct{ storage.ObjectStore }

func (failingStore) Put(context.Context, string, []byte) error { return errors.New("bucket offline") }

func TestReportAndLookup(t *testing.T) {
	mem := storage.NewMemory()
	a := New(mem, zerolog.Nop())
	baseline, actual := 400.0, 100.0
	job := models.Job{
		ID:                "job-1",
		Region:            "GB",
		State:             models.JobCompleted,
		Duration:          time.Hour,
		BaselineIntensity: &baseline,
		ActualEmissionsG:  &actual,
	}

	if err := a.Report(context.Background(), job); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if keys := mem.Keys("reports/GB/"); len(keys) != 1 || keys[0] != "reports/GB/job-1.json" {
		t.Fatalf("stored keys = %v", keys)
	}

	r, err := a.Lookup(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if r.JobID != "job-1" || r.Savings == nil || *r.Savings != 0.75 {
		t.Errorf("Lookup() = %+v, want savings 0.75", r)
	}

	if sum := a.Summary(); sum.Completed != 1 || sum.TotalEmissionsG != 100 {
		t.Errorf("Summary() = %+v", sum)
	}

	if _, err := a.Lookup(context.Background(), "other"); !errors.Is(err, ErrNotArchived) {
		t.Errorf("Lookup(other) error = %v, want ErrNotArchived", err)
	}
}

func TestReportRejectsLiveJobs(t *testing.T) {
	a := New(storage.NewMemory(), zerolog.Nop())
	if err := a.Report(context.Background(), models.Job{ID: "j", State: models.JobRunning}); err == nil {
		t.Fatal("expected non-terminal job to be rejected")
	}
}

func TestReportSurfacesStoreErrors(t *testing.T) {
	a := New(failingStore{}, zerolog.Nop())
	err := a.Report(context.Background(), models.Job{ID: "j", Region: "GB", State: models.JobFailed})
	if err == nil {
		t.Fatal("expected store error")
	}
}

func TestKeySanitizes(t *testing.T) {
	if got := Key("US/CAL", "../x"); got != "reports/US_CAL/__x.json" {
		t.Errorf("Key() = %q", got)
	}
}
