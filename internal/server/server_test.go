/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/carbonwise/internal/config"
)

func TestSecurityHeadersMiddleware_BaselineHeaders(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options=%q, want nosniff", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options=%q, want DENY", got)
	}
	if got := rr.Header().Get("Content-Security-Policy"); got == "" {
		t.Fatalf("expected Content-Security-Policy header")
	}
	if got := rr.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("expected no HSTS on non-HTTPS request, got %q", got)
	}
}

func TestSecurityHeadersMiddleware_SetsHSTSOnHTTPS(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Fatalf("Strict-Transport-Security=%q, want max-age=31536000; includeSubDomains", got)
	}
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	t.Setenv("CARBONWISE_DB_DSN", filepath.Join(dir, "carbonwise.db"))
	t.Setenv("CARBONWISE_ARCHIVE_DIR", filepath.Join(dir, "archive"))
	t.Setenv("CARBONWISE_PROVIDER", "mock")
	t.Setenv("CARBONWISE_EXECUTOR_SLOTS", "1")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestServerRestoresJobsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("healthz = %d %s", rr.Code, rr.Body.String())
	}

	body := strings.NewReader(`{"id":"nightly","duration":"2h","region":"DE"}`)
	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body))
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit = %d %s", rr.Code, rr.Body.String())
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	srv, err = New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	defer srv.Close()

	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nightly", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get after restart = %d %s", rr.Code, rr.Body.String())
	}
	var job struct {
		ID     string `json:"id"`
		Region string `json:"region"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID != "nightly" || job.Region != "DE" {
		t.Errorf("job = %+v, want nightly in DE", job)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.DefaultRegion = "FR"
	cfg.PUE = 1.3

	p := Policy(cfg)
	if p.DefaultRegion != "FR" || p.PUE != 1.3 || p.Horizon != cfg.Horizon {
		t.Errorf("Policy = %+v", p)
	}
}

func TestNewForecastsRejectsUnknownKind(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.ProviderKind = "weather-balloon"
	if _, err := NewForecasts(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected unknown provider kind to fail")
	}
}
