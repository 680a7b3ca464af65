/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decisions

import (
	"fmt"
	"testing"
)

func TestLogRecentNewestFirst(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 5; i++ {
		l.Add(Entry{JobID: fmt.Sprintf("job-%d", i)})
	}

	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	got := l.Recent(0)
	want := []string{"job-4", "job-3", "job-2"}
	for i, e := range got {
		if e.JobID != want[i] {
			t.Errorf("Recent()[%d] = %s, want %s", i, e.JobID, want[i])
		}
	}
	if n := len(l.Recent(2)); n != 2 {
		t.Errorf("len(Recent(2)) = %d, want 2", n)
	}
}

func TestLogForJob(t *testing.T) {
	l := NewLog(10)
	l.Add(Entry{JobID: "a", Reason: "first"})
	l.Add(Entry{JobID: "b"})
	l.Add(Entry{JobID: "a", Reason: "second"})

	got := l.ForJob("a")
	if len(got) != 2 {
		t.Fatalf("ForJob() returned %d entries, want 2", len(got))
	}
	if got[0].Reason != "first" || got[1].Reason != "second" {
		t.Errorf("ForJob() order = %s, %s; want first, second", got[0].Reason, got[1].Reason)
	}
}

func TestLogEmpty(t *testing.T) {
	l := NewLog(0)
	if got := l.Recent(5); len(got) != 0 {
		t.Errorf("Recent() on empty log = %v, want none", got)
	}
}
