/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Filesystem implements ObjectStore under a local root directory.
type Filesystem struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystem creates a filesystem-backed store.
func NewFilesystem(rootDir string, logger zerolog.Logger) *Filesystem {
	return &Filesystem{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "fs-storage").Logger(),
	}
}

func (fs *Filesystem) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(key, "..") || clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(fs.rootDir, filepath.FromSlash(clean)), nil
}

// Put writes data atomically via a temp file and rename.
func (fs *Filesystem) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := fs.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename file: %w", err)
	}

	fs.logger.Debug().Str("path", fullPath).Int("bytes", len(data)).Msg("object stored")
	return nil
}

// Get reads the object at key.
func (fs *Filesystem) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := fs.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// CheckAccess verifies the root directory exists or can be created.
func (fs *Filesystem) CheckAccess(ctx context.Context) error {
	if err := os.MkdirAll(fs.rootDir, 0o755); err != nil {
		return fmt.Errorf("cannot create storage root: %w", err)
	}
	info, err := os.Stat(fs.rootDir)
	if err != nil {
		return fmt.Errorf("cannot access storage root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", fs.rootDir)
	}
	return nil
}
