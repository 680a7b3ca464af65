/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestStoresRoundTrip(t *testing.T) {
	stores := map[string]ObjectStore{
		"memory": NewMemory(),
		"fs":     NewFilesystem(t.TempDir(), zerolog.Nop()),
	}
	ctx := context.Background()

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "reports/GB/missing.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
			}
			if err := store.Put(ctx, "reports/GB/j1.json", []byte(`{"id":"j1"}`)); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := store.Put(ctx, "reports/GB/j1.json", []byte(`{"id":"j1","v":2}`)); err != nil {
				t.Fatalf("Put(overwrite) error = %v", err)
			}
			got, err := store.Get(ctx, "reports/GB/j1.json")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != `{"id":"j1","v":2}` {
				t.Errorf("Get() = %s", got)
			}
		})
	}
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	fs := NewFilesystem(t.TempDir(), zerolog.Nop())
	if err := fs.Put(context.Background(), "../escape.json", []byte("x")); err == nil {
		t.Fatal("expected traversal key to be rejected")
	}
	if err := fs.CheckAccess(context.Background()); err != nil {
		t.Fatalf("CheckAccess() error = %v", err)
	}
}

func TestMemoryKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Put(ctx, "reports/GB/b.json", nil)
	_ = m.Put(ctx, "reports/GB/a.json", nil)
	_ = m.Put(ctx, "reports/DE/c.json", nil)

	keys := m.Keys("reports/GB/")
	if len(keys) != 2 || keys[0] != "reports/GB/a.json" {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestS3GetMapsMissingKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/reports/GB/j1.json"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"j1"}`))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
		}
	}))
	defer srv.Close()

	store, err := NewS3(context.Background(), S3Config{
		Bucket:          "carbon",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewS3() error = %v", err)
	}

	got, err := store.Get(context.Background(), "reports/GB/j1.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"id":"j1"}` {
		t.Errorf("Get() = %s", got)
	}
	if _, err := store.Get(context.Background(), "reports/GB/none.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestNewS3RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), S3Config{Region: "us-east-1"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without bucket")
	}
}
