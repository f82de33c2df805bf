// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn in a conversation.
//
// CreatedAt is a unix millisecond timestamp that also serves as the message
// identity inside its conversation. Values come from NextTimestamp and are
// unique for the life of the process.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`

	// IsPlaceholder marks the pending assistant message of an active turn.
	// It is never persisted.
	IsPlaceholder bool `json:"-"`

	ThinkSegments []string `json:"think_segments,omitempty"`

	// History holds superseded contents, oldest first. ActiveVersion 0 shows
	// Content; k > 0 shows History[k-1].
	History       []string `json:"history,omitempty"`
	ActiveVersion int      `json:"active_version"`
}

// NewMessage creates a message stamped with the next timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		CreatedAt: NextTimestamp(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewPlaceholder creates the pending assistant message for a streaming turn.
// history is copied so the caller's slice is never aliased.
func NewPlaceholder(history []string) Message {
	msg := NewMessage(RoleAssistant, "")
	msg.IsPlaceholder = true
	if len(history) > 0 {
		msg.History = append([]string(nil), history...)
	}
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// ID returns the identity key of the message.
func (m Message) ID() int64 {
	return m.CreatedAt
}

// DisplayContent returns the content of the selected version.
func (m Message) DisplayContent() string {
	if m.ActiveVersion > 0 && m.ActiveVersion <= len(m.History) {
		return m.History[m.ActiveVersion-1]
	}
	return m.Content
}

// VersionCount returns the number of selectable versions, live included.
func (m Message) VersionCount() int {
	return len(m.History) + 1
}

// IsUser returns true if this is a user message.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant returns true if this is an assistant message.
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// Time returns CreatedAt as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.CreatedAt)
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	if m.ThinkSegments != nil {
		c.ThinkSegments = append([]string(nil), m.ThinkSegments...)
	}
	if m.History != nil {
		c.History = append([]string(nil), m.History...)
	}
	return c
}

// Preview returns the first line of the displayed content, truncated to
// maxWidth terminal columns.
func (m Message) Preview(maxWidth int) string {
	content := strings.TrimSpace(m.DisplayContent())
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx]
	}
	return runewidth.Truncate(content, maxWidth, "...")
}

// =============================================================================
// TIMESTAMPS
// =============================================================================

var clock struct {
	mu   sync.Mutex
	last int64
}

// NextTimestamp returns the current unix millisecond time, bumped forward
// when needed so that no two calls return the same value.
func NextTimestamp() int64 {
	clock.mu.Lock()
	defer clock.mu.Unlock()

	now := time.Now().UnixMilli()
	if now <= clock.last {
		now = clock.last + 1
	}
	clock.last = now
	return now
}

// ObserveTimestamp advances the clock past ts. Loaded conversations call it
// so new messages never collide with persisted identities.
func ObserveTimestamp(ts int64) {
	clock.mu.Lock()
	defer clock.mu.Unlock()

	if ts > clock.last {
		clock.last = ts
	}
}
