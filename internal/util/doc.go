// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides file helpers shared by config and storage.
//
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//   - DataDir: the per-user application directory
//
// # Usage
//
//	err := util.AtomicWriteFile(filepath.Join(util.DataDir(), "config.toml"), data, 0600)
package util
