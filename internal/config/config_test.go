/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CARBONWISE_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Errorf("DBBackend = %q, want sqlite", cfg.DBBackend)
	}
	if cfg.Horizon != 24*time.Hour {
		t.Errorf("Horizon = %v, want 24h", cfg.Horizon)
	}
	if cfg.Epsilon != 0 {
		t.Errorf("Epsilon = %v, want 0", cfg.Epsilon)
	}
	if cfg.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %v, want 30s", cfg.TickInterval)
	}
	if cfg.ReoptimizeInterval != 5*time.Minute {
		t.Errorf("ReoptimizeInterval = %v, want 5m", cfg.ReoptimizeInterval)
	}
	if cfg.PUE != 1.0 {
		t.Errorf("PUE = %v, want 1.0", cfg.PUE)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadReadsSchedulerKeys(t *testing.T) {
	t.Setenv("CARBONWISE_HORIZON", "48h")
	t.Setenv("CARBONWISE_EPSILON", "90")
	t.Setenv("CARBONWISE_PUE", "1.4")
	t.Setenv("CARBONWISE_DEFAULT_REGION", "DE")
	t.Setenv("CARBONWISE_REOPTIMIZE_INTERVAL", "-1s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Horizon != 48*time.Hour {
		t.Errorf("Horizon = %v, want 48h", cfg.Horizon)
	}
	if cfg.Epsilon != 90*time.Second {
		t.Errorf("Epsilon = %v, want bare seconds parsed as 90s", cfg.Epsilon)
	}
	if cfg.PUE != 1.4 {
		t.Errorf("PUE = %v, want 1.4", cfg.PUE)
	}
	if cfg.DefaultRegion != "DE" {
		t.Errorf("DefaultRegion = %q, want DE", cfg.DefaultRegion)
	}
	if cfg.ReoptimizeInterval >= 0 {
		t.Errorf("ReoptimizeInterval = %v, want negative", cfg.ReoptimizeInterval)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"backend", "CARBONWISE_DB_BACKEND", "oracle"},
		{"horizon", "CARBONWISE_HORIZON", "0s"},
		{"epsilon", "CARBONWISE_EPSILON", "-5m"},
		{"pue", "CARBONWISE_PUE", "0.5"},
		{"executor", "CARBONWISE_EXECUTOR", "k8s"},
		{"slots", "CARBONWISE_EXECUTOR_SLOTS", "0"},
		{"event bus", "CARBONWISE_EVENT_BUS", "kafka"},
		{"archive", "CARBONWISE_ARCHIVE", "ftp"},
		{"s3 without bucket", "CARBONWISE_ARCHIVE", "s3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", tt.key, tt.value)
			}
		})
	}
}

func TestLoadProductionRequiresSigningKey(t *testing.T) {
	t.Setenv("CARBONWISE_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a JWT signing key")
	}

	t.Setenv("CARBONWISE_JWT_SIGNING_KEY", "supersecret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected production config load with signing key to succeed: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false")
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("NATS_URL", "nats://legacy:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
	if cfg.NATSURL != "nats://legacy:4222" {
		t.Errorf("NATSURL = %q, want legacy fallback", cfg.NATSURL)
	}
}
