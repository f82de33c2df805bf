// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: a titled, timestamped sequence of messages
//   - ConversationSet: conversations keyed by ID, sorted newest first for display
//   - Message: one turn with its superseded versions and think segments
//   - Role: message role enumeration (user, assistant, system)
//
// # Usage
//
// Messages are identified by their CreatedAt timestamp:
//
//	msg := model.NewUserMessage("Hello!")
//	conv := model.NewConversation()
//	conv.Messages = append(conv.Messages, msg)
//	idx := conv.IndexOf(msg.ID())
//
// Versions:
//
//	msg.History = []string{"first answer"}
//	msg.ActiveVersion = 1
//	msg.DisplayContent() // "first answer"
package model
