// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides key-value persistence backends for conversations.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// =============================================================================
// KV INTERFACE
// =============================================================================

// KV is the persistence contract used by the conversation store. Values are
// JSON-serializable; each backend decides how the bytes are kept.
type KV interface {
	// Get decodes the value stored under key into dst. found is false when
	// the key does not exist, in which case dst is left untouched so the
	// caller's default survives.
	Get(ctx context.Context, key string, dst any) (found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value any) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Backend is a KV that owns resources.
type Backend interface {
	KV
	Name() string
	Close() error
}

// =============================================================================
// BACKEND SELECTION
// =============================================================================

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	// Path is the directory for the file backend or the database file for
	// the sqlite backend.
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open creates the backend named in opts.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendFile:
		return NewFileKV(opts.Path)
	case BackendSQLite:
		return OpenSQLite(ctx, opts.Path)
	case BackendRedis:
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
	case BackendMemory:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrInvalidKey is returned for keys that are empty or contain path separators.
// Use errors.Is(err, ErrInvalidKey) to check for this error.
var ErrInvalidKey = &KVError{Message: "invalid key"}

// KVError represents a storage-related error.
// It implements the error interface and can be compared using errors.Is.
type KVError struct {
	Message string
	Key     string
}

// Error implements the error interface.
func (e *KVError) Error() string {
	if e.Key != "" {
		return e.Message + ": " + e.Key
	}
	return e.Message
}

// Is implements errors.Is support for comparing storage errors.
func (e *KVError) Is(target error) bool {
	t, ok := target.(*KVError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// validateKey rejects keys that cannot be used as a file name.
func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return &KVError{Message: ErrInvalidKey.Message, Key: key}
	}
	return nil
}
