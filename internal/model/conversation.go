// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// DefaultTitle is the title of a conversation before its first user message.
const DefaultTitle = "New chat"

// TitleWidth is the column budget for automatic titles.
const TitleWidth = 30

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is a named, timestamped sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// NewConversation creates an empty conversation with a generated ID.
func NewConversation() *Conversation {
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: time.Now(),
		Messages:  make([]Message, 0),
	}
}

// =============================================================================
// MESSAGE ACCESS
// =============================================================================

// Last returns a pointer to the final message, or nil if empty.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// IndexOf returns the index of the message with the given identity, or -1.
func (c *Conversation) IndexOf(id int64) int {
	for i := range c.Messages {
		if c.Messages[i].CreatedAt == id {
			return i
		}
	}
	return -1
}

// ToOllamaMessages converts the conversation to the request shape.
// Placeholder messages are skipped.
func (c *Conversation) ToOllamaMessages() []ollama.Message {
	out := make([]ollama.Message, 0, len(c.Messages))
	for _, msg := range c.Messages {
		if msg.IsPlaceholder {
			continue
		}
		out = append(out, ollama.Message{
			Role:    msg.Role.String(),
			Content: msg.Content,
		})
	}
	return out
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return &clone
}

// =============================================================================
// TITLE
// =============================================================================

// UpdateTitle derives the title from the first user message while the
// conversation still carries the default title.
func (c *Conversation) UpdateTitle() {
	if c.Title != "" && c.Title != DefaultTitle {
		return
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			if title := msg.Preview(TitleWidth); title != "" {
				c.Title = title
			}
			return
		}
	}
}

// Preview returns a one-line summary for chat lists.
func (c *Conversation) Preview() string {
	title := c.Title
	if title == "" {
		title = DefaultTitle
	}
	return runewidth.Truncate(strings.TrimSpace(title), TitleWidth, "...")
}

// =============================================================================
// CONVERSATION SET
// =============================================================================

// ConversationSet maps conversation IDs to conversations.
type ConversationSet map[string]*Conversation

// Sorted returns the conversations newest first.
func (s ConversationSet) Sorted() []*Conversation {
	out := make([]*Conversation, 0, len(s))
	for _, conv := range s {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Newest returns the most recently created conversation, or nil.
func (s ConversationSet) Newest() *Conversation {
	sorted := s.Sorted()
	if len(sorted) == 0 {
		return nil
	}
	return sorted[0]
}
