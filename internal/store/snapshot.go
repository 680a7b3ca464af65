/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists scheduler snapshots in the SQL database.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/friendsincode/carbonwise/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const stateRowID = 1

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// SnapshotStore writes the scheduler snapshot to gorm tables.
type SnapshotStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewSnapshotStore creates a store over an already migrated database.
func NewSnapshotStore(db *gorm.DB, logger zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		db:     db,
		logger: logger.With().Str("component", "snapshot-store").Logger(),
	}
}

// Save replaces the stored jobs with the snapshot's jobs in one transaction.
func (s *SnapshotStore) Save(ctx context.Context, snap models.Snapshot) error {
	records := make([]models.JobRecord, 0, len(snap.Jobs))
	ids := make([]string, 0, len(snap.Jobs))
	for _, job := range snap.Jobs {
		rec, err := models.NewJobRecord(job)
		if err != nil {
			return err
		}
		records = append(records, rec)
		ids = append(ids, job.ID)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if len(ids) > 0 {
			stale = stale.Where("id NOT IN ?", ids)
		}
		if err := stale.Delete(&models.JobRecord{}).Error; err != nil {
			return fmt.Errorf("delete stale jobs: %w", err)
		}

		if len(records) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&records).Error; err != nil {
				return fmt.Errorf("upsert jobs: %w", err)
			}
		}

		state := models.SchedulerState{
			ID:             stateRowID,
			LastEvaluation: snap.LastEvaluation,
			TakenAt:        snap.TakenAt,
			JobCount:       len(records),
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&state).Error; err != nil {
			return fmt.Errorf("save scheduler state: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Int("jobs", len(records)).Time("last_evaluation", snap.LastEvaluation).Msg("snapshot saved")
	return nil
}

// Load returns the last saved snapshot with jobs in admission order.
func (s *SnapshotStore) Load(ctx context.Context) (models.Snapshot, error) {
	db := s.db.WithContext(ctx)

	var state models.SchedulerState
	if err := db.First(&state, "id = ?", stateRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Snapshot{}, ErrNoSnapshot
		}
		return models.Snapshot{}, fmt.Errorf("load scheduler state: %w", err)
	}

	var records []models.JobRecord
	if err := db.Order("seq ASC").Find(&records).Error; err != nil {
		return models.Snapshot{}, fmt.Errorf("load jobs: %w", err)
	}

	snap := models.Snapshot{
		Jobs:           make([]models.Job, 0, len(records)),
		LastEvaluation: state.LastEvaluation.UTC(),
		TakenAt:        state.TakenAt.UTC(),
	}
	for _, rec := range records {
		job, err := rec.Job()
		if err != nil {
			return models.Snapshot{}, err
		}
		snap.Jobs = append(snap.Jobs, job)
	}
	sort.SliceStable(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].Seq < snap.Jobs[j].Seq })
	return snap, nil
}

// JobsByState counts stored jobs per state without decoding payloads.
func (s *SnapshotStore) JobsByState(ctx context.Context) (map[models.JobState]int, error) {
	var rows []struct {
		State string
		Count int
	}
	err := s.db.WithContext(ctx).Model(&models.JobRecord{}).
		Select("state, count(*) as count").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.JobState]int, len(rows))
	for _, r := range rows {
		out[models.JobState(r.State)] = r.Count
	}
	return out, nil
}
