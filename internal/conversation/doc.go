// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation owns the conversation set and every mutation of it.
//
// The Store is the only writer of messages. Streaming folds go through
// ReplaceTail, regeneration through PushHistory and TruncateFrom, and version
// browsing through SelectVersion. After each change of the active message
// sequence the Renderer receives a full copy of it.
//
// # Key Types
//
//   - Store: conversation set, active selection, message mutations
//   - Renderer: render collaborator notified on every change
//   - Patch: fields merged by ReplaceTail
//   - Version: Live or VersionAt(i) for SelectVersion
//   - RangeError: invalid version index, matches ErrRange
//
// # Usage
//
//	store := conversation.NewStore(kv, renderer)
//	if err := store.Load(ctx); err != nil {
//	    return err
//	}
//	store.Append(model.NewUserMessage("hi"))
//	content, err := store.SelectVersion(id, conversation.VersionAt(0))
//
// The set is persisted as one JSON value under the "chats" key.
package conversation
