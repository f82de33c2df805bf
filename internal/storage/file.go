// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// FILE BACKEND
// =============================================================================

// FileKV stores each key as a JSON file in BaseDir.
type FileKV struct {
	// BaseDir is the directory holding <key>.json files.
	// Default: ~/.rigrun-chat/data/
	BaseDir string

	mu sync.RWMutex
}

// NewFileKV creates a file backend rooted at dir. An empty dir selects the
// default location under the user's home directory.
func NewFileKV(dir string) (*FileKV, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(homeDir, ".rigrun-chat", "data")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileKV{BaseDir: dir}, nil
}

// Name returns the backend name.
func (s *FileKV) Name() string { return BackendFile }

// Get reads and decodes key.
func (s *FileKV) Get(_ context.Context, key string, dst any) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.filePath(key))
	s.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Set encodes value and writes it atomically.
func (s *FileKV) Set(_ context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return util.AtomicWriteFile(s.filePath(key), data, 0600)
}

// Remove deletes the file for key.
func (s *FileKV) Remove(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *FileKV) Close() error { return nil }

// filePath returns the file path for a key.
func (s *FileKV) filePath(key string) string {
	return filepath.Join(s.BaseDir, key+".json")
}
