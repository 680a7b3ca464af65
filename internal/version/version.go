/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds build metadata and checks GitHub for newer releases.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version is the current carbonwise release, set at build time via ldflags:
//
//	-X github.com/friendsincode/carbonwise/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the git revision the binary was built from. When ldflags leave
// it unset the VCS stamp from the Go build info is used.
var Commit = "dev"

// GitHubRepo is the repository to check for updates.
const GitHubRepo = "friendsincode/carbonwise"

// DefaultReleaseAPI is the GitHub API root used for release lookups.
const DefaultReleaseAPI = "https://api.github.com"

const notesLimit = 200

// ErrPrerelease is returned when the latest release is a draft or pre-release.
var ErrPrerelease = errors.New("latest release is a pre-release")

// UpdateInfo is the result of the most recent release lookup.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	ReleaseNotes    string    `json:"release_notes,omitempty"`
	CheckedAt       time.Time `json:"checked_at,omitempty"`
}

// GitHubRelease is the subset of the releases API response we read.
type GitHubRelease struct {
	TagName    string `json:"tag_name"`
	HTMLURL    string `json:"html_url"`
	Body       string `json:"body"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// Checker polls the releases API and keeps the last good answer.
type Checker struct {
	logger  zerolog.Logger
	client  *http.Client
	apiBase string
	period  time.Duration

	mu     sync.RWMutex
	info   UpdateInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// NewChecker returns a checker polling every six hours.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		logger:  logger.With().Str("component", "update-checker").Logger(),
		client:  &http.Client{Timeout: 10 * time.Second},
		apiBase: DefaultReleaseAPI,
		period:  6 * time.Hour,
		info:    UpdateInfo{CurrentVersion: Version},
	}
}

// WithAPIBase points the checker at another GitHub-compatible API root.
func (c *Checker) WithAPIBase(base string) *Checker {
	c.apiBase = strings.TrimRight(base, "/")
	return c
}

// String renders the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("carbonwise %s (%s)", Version, revision())
}

func revision() string {
	if Commit != "dev" {
		return Commit
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	var rev, dirty string
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "-dirty"
			}
		}
	}
	if rev == "" {
		return Commit
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return rev + dirty
}

// CheckNow looks up the latest release once. On error the previous answer
// is kept and returned alongside the error.
func (c *Checker) CheckNow(ctx context.Context) (UpdateInfo, error) {
	release, err := c.latest(ctx)
	if err != nil {
		return c.Info(), err
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	info := UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: compareVersions(Version, latest) < 0,
		ReleaseURL:      release.HTMLURL,
		ReleaseNotes:    firstLine(release.Body, notesLimit),
		CheckedAt:       time.Now().UTC(),
	}
	c.mu.Lock()
	c.info = info
	c.mu.Unlock()
	return info, nil
}

func (c *Checker) latest(ctx context.Context) (GitHubRelease, error) {
	var release GitHubRelease
	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.apiBase, GitHubRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return release, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "carbonwise/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		return release, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return release, fmt.Errorf("fetch latest release: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return release, fmt.Errorf("decode release: %w", err)
	}
	if release.Draft || release.Prerelease {
		return release, fmt.Errorf("%w: %s", ErrPrerelease, release.TagName)
	}
	return release, nil
}

// Start checks in the background now and then every period until ctx ends
// or Stop is called.
func (c *Checker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.period)
		defer ticker.Stop()
		for {
			c.poll(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (c *Checker) poll(ctx context.Context) {
	info, err := c.CheckNow(ctx)
	switch {
	case err != nil:
		c.logger.Debug().Err(err).Msg("update check failed")
	case info.UpdateAvailable:
		c.logger.Info().
			Str("current", info.CurrentVersion).
			Str("latest", info.LatestVersion).
			Str("url", info.ReleaseURL).
			Msg("new version available")
	}
}

// Stop ends background checking and waits for an in-flight check.
func (c *Checker) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Info returns the last successful lookup, or just the current version.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// compareVersions orders two semver strings by major, minor and patch.
// Pre-release suffixes are ignored.
func compareVersions(a, b string) int {
	pa, pb := parseVersion(a), parseVersion(b)
	for i := range pa {
		switch {
		case pa[i] < pb[i]:
			return -1
		case pa[i] > pb[i]:
			return 1
		}
	}
	return 0
}

func parseVersion(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}

func firstLine(s string, limit int) string {
	s, _, _ = strings.Cut(s, "\n")
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit-3] + "..."
	}
	return s
}
