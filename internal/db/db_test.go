/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"testing"

	"github.com/friendsincode/carbonwise/internal/config"
	"github.com/friendsincode/carbonwise/internal/models"
	"gorm.io/gorm/logger"
)

func TestOpenMigratesSQLite(t *testing.T) {
	database, err := Open(config.DatabaseSQLite, ":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, table := range []any{&models.JobRecord{}, &models.SchedulerState{}, &models.APIKey{}} {
		if !database.Migrator().HasTable(table) {
			t.Errorf("table for %T missing after migrate", table)
		}
	}

	// callbacks must not break ordinary CRUD
	rec := models.JobRecord{ID: "j1", State: "pending", Region: "GB", Payload: "{}"}
	if err := database.Create(&rec).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	var got models.JobRecord
	if err := database.First(&got, "id = ?", "j1").Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	UpdateConnectionMetrics(database)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open("oracle", "dsn", logger.Silent); err == nil {
		t.Fatal("expected unknown backend error")
	}
}
