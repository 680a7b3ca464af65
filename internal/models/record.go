/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobRecord is the persisted row for a job held by the scheduler. The full
// job is stored as JSON next to the columns used for filtering.
type JobRecord struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	State     string `gorm:"type:varchar(16);index"`
	Region    string `gorm:"type:varchar(64);index"`
	Owner     string `gorm:"type:varchar(128);index"`
	Priority  int
	Seq       uint64
	Payload   string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (JobRecord) TableName() string {
	return "scheduler_jobs"
}

// SchedulerState is the singleton row holding snapshot metadata.
type SchedulerState struct {
	ID             int `gorm:"primaryKey"`
	LastEvaluation time.Time
	TakenAt        time.Time
	JobCount       int
	UpdatedAt      time.Time
}

// TableName returns the table name for GORM.
func (SchedulerState) TableName() string {
	return "scheduler_state"
}

// NewJobRecord encodes a job for storage.
func NewJobRecord(job Job) (JobRecord, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return JobRecord{}, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return JobRecord{
		ID:        job.ID,
		State:     string(job.State),
		Region:    job.Region,
		Owner:     job.Owner,
		Priority:  job.Priority,
		Seq:       job.Seq,
		Payload:   string(payload),
		CreatedAt: job.SubmittedAt,
		UpdatedAt: job.UpdatedAt,
	}, nil
}

// Job decodes the stored payload.
func (r JobRecord) Job() (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(r.Payload), &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", r.ID, err)
	}
	return job, nil
}
