/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0.4.0", "0.4.0", 0},
		{"0.4.0", "0.5.0", -1},
		{"v1.0.0", "0.9.9", 1},
		{"1.2", "1.2.1", -1},
		{"1.2.0-rc1", "1.2.0", 0},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func releaseServer(t *testing.T, release GitHubRelease) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/repos/"+GitHubRepo+"/releases/latest") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(release)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckNowReportsNewerRelease(t *testing.T) {
	srv := releaseServer(t, GitHubRelease{
		TagName: "v99.0.0",
		HTMLURL: "https://example.com/release",
		Body:    "window search is faster\nmore details",
	})

	c := NewChecker(zerolog.Nop()).WithAPIBase(srv.URL)
	info, err := c.CheckNow(context.Background())
	if err != nil {
		t.Fatalf("CheckNow: %v", err)
	}
	if !info.UpdateAvailable {
		t.Fatalf("UpdateAvailable = false, info = %+v", info)
	}
	if info.LatestVersion != "99.0.0" {
		t.Errorf("LatestVersion = %q", info.LatestVersion)
	}
	if info.ReleaseNotes != "window search is faster" {
		t.Errorf("ReleaseNotes = %q, want first line", info.ReleaseNotes)
	}
	if got := c.Info(); got != info {
		t.Errorf("Info() = %+v, want last result", got)
	}
}

func TestCheckNowSkipsPrerelease(t *testing.T) {
	srv := releaseServer(t, GitHubRelease{TagName: "v99.0.0-rc1", Prerelease: true})

	info, err := NewChecker(zerolog.Nop()).WithAPIBase(srv.URL).CheckNow(context.Background())
	if !errors.Is(err, ErrPrerelease) {
		t.Fatalf("err = %v, want ErrPrerelease", err)
	}
	if info.UpdateAvailable {
		t.Errorf("pre-release reported as update: %+v", info)
	}
}

func TestCheckNowKeepsCurrentOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	info, err := NewChecker(zerolog.Nop()).WithAPIBase(srv.URL).CheckNow(context.Background())
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if info.UpdateAvailable || info.CurrentVersion != Version {
		t.Errorf("info = %+v, want current version only", info)
	}
}

func TestStartStop(t *testing.T) {
	srv := releaseServer(t, GitHubRelease{TagName: "v0.0.1"})

	c := NewChecker(zerolog.Nop()).WithAPIBase(srv.URL)
	c.Start(context.Background())
	c.Stop()
	c.Stop()
}

func TestFirstLine(t *testing.T) {
	long := strings.Repeat("x", 300)
	if got := firstLine(long, 200); len(got) != 200 || !strings.HasSuffix(got, "...") {
		t.Errorf("firstLine truncated to %d chars: %q", len(got), got[len(got)-5:])
	}
	if got := firstLine("  one\ntwo", 200); got != "one" {
		t.Errorf("firstLine = %q", got)
	}
}
