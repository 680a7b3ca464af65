/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package decisions keeps a bounded in-memory audit trail of scheduling
// decisions.
package decisions

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries a log keeps by default.
const DefaultCapacity = 512

// Entry is one scheduling decision and the values that justified it.
type Entry struct {
	JobID            string    `json:"job_id"`
	Region           string    `json:"region"`
	State            string    `json:"state"`
	Reason           string    `json:"reason"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	MeanIntensity    float64   `json:"mean_intensity"`
	CurrentIntensity float64   `json:"current_intensity"`
	DecidedAt        time.Time `json:"decided_at"`
}

// Log is a fixed-capacity ring of entries.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	next     int
	full     bool
	capacity int
}

// NewLog creates a log holding up to capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{entries: make([]Entry, capacity), capacity: capacity}
}

// Add records an entry, overwriting the oldest when full.
func (l *Log) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return l.capacity
	}
	return l.next
}

// Recent returns up to limit entries, newest first. A limit <= 0 returns all.
func (l *Log) Recent(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := l.next
	if l.full {
		n = l.capacity
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + l.capacity) % l.capacity
		out = append(out, l.entries[idx])
	}
	return out
}

// ForJob returns the entries for one job, oldest first.
func (l *Log) ForJob(jobID string) []Entry {
	all := l.Recent(0)
	var out []Entry
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].JobID == jobID {
			out = append(out, all[i])
		}
	}
	return out
}
