// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides key-value persistence backends for conversations.
//
// Every backend implements KV: Get, Set and Remove on JSON-serializable
// values. The conversation store keeps its whole conversation set under a
// single key and does not care which backend holds it.
//
// # Key Types
//
//   - KV: get/set/remove contract
//   - FileKV: one JSON file per key, written atomically
//   - SQLiteKV: single table in a local SQLite database
//   - RedisKV: JSON strings under a key prefix
//   - MemoryKV: in-process map, for tests and --storage memory
//
// # Usage
//
//	kv, err := storage.Open(ctx, storage.Options{Backend: "sqlite", Path: dbPath})
//	if err != nil {
//	    return err
//	}
//	defer kv.Close()
//
//	var chats map[string]*model.Conversation
//	found, err := kv.Get(ctx, "chats", &chats)
//
// # Storage Location
//
// The file backend defaults to ~/.rigrun-chat/data/, the sqlite backend to
// ~/.rigrun-chat/chats.db.
package storage
