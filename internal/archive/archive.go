/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package archive hands terminal jobs to object storage as savings reports.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/friendsincode/carbonwise/internal/models"
	"github.com/friendsincode/carbonwise/internal/report"
	"github.com/friendsincode/carbonwise/internal/storage"
	"github.com/rs/zerolog"
)

const (
	reportPrefix = "reports"
	indexPrefix  = "reports/_index"
)

// ErrNotArchived is returned when no report exists for a job.
var ErrNotArchived = errors.New("job report not archived")

// Archive writes one JSON report per terminal job.
type Archive struct {
	store  storage.ObjectStore
	logger zerolog.Logger

	mu      sync.Mutex
	summary report.Summary
}

// New creates an archive over store.
func New(store storage.ObjectStore, logger zerolog.Logger) *Archive {
	return &Archive{
		store:  store,
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// Key is the object key of a job's report.
func Key(region, jobID string) string {
	return path.Join(reportPrefix, sanitize(region), sanitize(jobID)+".json")
}

func indexKey(jobID string) string {
	return path.Join(indexPrefix, sanitize(jobID))
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "_"
	}
	return s
}

// Report stores the job's report. Only terminal jobs are accepted.
func (a *Archive) Report(ctx context.Context, job models.Job) error {
	if !job.State.Terminal() {
		return fmt.Errorf("archive job %s: state %s is not terminal", job.ID, job.State)
	}
	data, err := json.MarshalIndent(report.ForJob(job), "", "  ")
	if err != nil {
		return fmt.Errorf("encode report %s: %w", job.ID, err)
	}

	key := Key(job.Region, job.ID)
	if err := a.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("store report %s: %w", job.ID, err)
	}
	if err := a.store.Put(ctx, indexKey(job.ID), []byte(key)); err != nil {
		return fmt.Errorf("index report %s: %w", job.ID, err)
	}

	a.mu.Lock()
	a.summary.Add(job)
	a.mu.Unlock()

	a.logger.Info().
		Str("job_id", job.ID).
		Str("region", job.Region).
		Str("state", string(job.State)).
		Str("key", key).
		Msg("job report archived")
	return nil
}

// Summary aggregates every job archived by this process.
func (a *Archive) Summary() report.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary
}

// Lookup loads an archived report by job id.
func (a *Archive) Lookup(ctx context.Context, jobID string) (report.JobReport, error) {
	key, err := a.store.Get(ctx, indexKey(jobID))
	if errors.Is(err, storage.ErrNotFound) {
		return report.JobReport{}, ErrNotArchived
	}
	if err != nil {
		return report.JobReport{}, err
	}

	data, err := a.store.Get(ctx, string(key))
	if errors.Is(err, storage.ErrNotFound) {
		return report.JobReport{}, ErrNotArchived
	}
	if err != nil {
		return report.JobReport{}, err
	}

	var r report.JobReport
	if err := json.Unmarshal(data, &r); err != nil {
		return report.JobReport{}, fmt.Errorf("decode report %s: %w", jobID, err)
	}
	return r, nil
}
