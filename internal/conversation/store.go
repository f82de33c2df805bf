// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation owns the conversation set and every mutation of it.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// StorageKey is the KV key holding the conversation set.
const StorageKey = "chats"

// =============================================================================
// COLLABORATORS
// =============================================================================

// Renderer is notified with the full message sequence of the active
// conversation after every change. It is called with the store locked and
// must not call back into the Store.
type Renderer interface {
	Render(conversationID string, messages []model.Message)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(conversationID string, messages []model.Message)

// Render calls f.
func (f RendererFunc) Render(conversationID string, messages []model.Message) {
	f(conversationID, messages)
}

// Patch carries the fields ReplaceTail merges into the last message.
// Nil fields are left unchanged.
type Patch struct {
	Content       *string
	ThinkSegments []string
	IsPlaceholder *bool
}

// =============================================================================
// STORE
// =============================================================================

// Store is the single owner of the conversation set. All message mutations
// go through its methods.
//
// The Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	saveMu   sync.Mutex
	kv       storage.KV
	renderer Renderer
	logger   zerolog.Logger

	chats    model.ConversationSet
	activeID string
	pinned   bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store with one empty active conversation. Call Load to
// replace it with the persisted set. A nil renderer disables notifications.
func NewStore(kv storage.KV, renderer Renderer, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		renderer: renderer,
		logger:   zerolog.Nop(),
		chats:    make(model.ConversationSet),
	}
	for _, opt := range opts {
		opt(s)
	}
	conv := model.NewConversation()
	s.chats[conv.ID] = conv
	s.activeID = conv.ID
	return s
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Load reads the conversation set and activates the newest conversation.
// A missing key yields a fresh conversation.
func (s *Store) Load(ctx context.Context) error {
	loaded := make(model.ConversationSet)
	found, err := s.kv.Get(ctx, StorageKey, &loaded)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pinned {
		return ErrBusy
	}

	chats := make(model.ConversationSet, len(loaded))
	for id, conv := range loaded {
		if conv == nil {
			continue
		}
		if conv.ID == "" {
			conv.ID = id
		}
		if conv.Messages == nil {
			conv.Messages = make([]model.Message, 0)
		}
		for _, msg := range conv.Messages {
			model.ObserveTimestamp(msg.CreatedAt)
		}
		chats[conv.ID] = conv
	}

	if len(chats) == 0 {
		conv := model.NewConversation()
		chats[conv.ID] = conv
	}
	s.chats = chats
	s.activeID = chats.Newest().ID

	s.logger.Debug().
		Bool("found", found).
		Int("conversations", len(chats)).
		Str("conversation_id", s.activeID).
		Msg("conversations loaded")

	s.notifyLocked()
	return nil
}

// Save writes the conversation set. Placeholder messages are not persisted.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	snapshot := make(model.ConversationSet, len(s.chats))
	for id, conv := range s.chats {
		clone := conv.Clone()
		kept := clone.Messages[:0]
		for _, msg := range clone.Messages {
			if !msg.IsPlaceholder {
				kept = append(kept, msg)
			}
		}
		clone.Messages = kept
		snapshot[id] = clone
	}
	s.mu.Unlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if err := s.kv.Set(ctx, StorageKey, snapshot); err != nil {
		return fmt.Errorf("save conversations: %w", err)
	}
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ActiveID returns the ID of the active conversation.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns a copy of the active conversation.
func (s *Store) Active() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active().Clone()
}

// Messages returns a copy of the active message sequence.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Message returns a copy of the message with the given identity.
func (s *Store) Message(id int64) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.active()
	idx := conv.IndexOf(id)
	if idx < 0 {
		return model.Message{}, ErrNotFound
	}
	return conv.Messages[idx].Clone(), nil
}

// Before returns a copy of the message immediately preceding id. ok is false
// when id is the first message.
func (s *Store) Before(id int64) (msg model.Message, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.active()
	idx := conv.IndexOf(id)
	if idx < 0 {
		return model.Message{}, false, ErrNotFound
	}
	if idx == 0 {
		return model.Message{}, false, nil
	}
	return conv.Messages[idx-1].Clone(), true, nil
}

// List returns copies of all conversations, newest first.
func (s *Store) List() []*model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := s.chats.Sorted()
	out := make([]*model.Conversation, len(sorted))
	for i, conv := range sorted {
		out[i] = conv.Clone()
	}
	return out
}

// =============================================================================
// MESSAGE MUTATIONS
// =============================================================================

// Append adds msg to the end of the active conversation.
func (s *Store) Append(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.active()
	conv.Messages = append(conv.Messages, msg.Clone())
	conv.UpdateTitle()
	s.notifyLocked()
}

// ReplaceTail merges p into the last message of the active conversation.
// It is a no-op when the conversation is empty.
func (s *Store) ReplaceTail(p Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.active().Last()
	if last == nil {
		return
	}
	if p.Content != nil {
		last.Content = *p.Content
	}
	if p.ThinkSegments != nil {
		last.ThinkSegments = append([]string(nil), p.ThinkSegments...)
	}
	if p.IsPlaceholder != nil {
		last.IsPlaceholder = *p.IsPlaceholder
	}
	s.notifyLocked()
}

// DiscardPlaceholder removes the last message if it is a placeholder and
// reports whether it did.
func (s *Store) DiscardPlaceholder() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.active()
	last := conv.Last()
	if last == nil || !last.IsPlaceholder {
		return false
	}
	conv.Messages = conv.Messages[:len(conv.Messages)-1]
	s.notifyLocked()
	return true
}

// TruncateFrom removes the message with the given identity and everything
// after it.
func (s *Store) TruncateFrom(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.active()
	idx := conv.IndexOf(id)
	if idx < 0 {
		return ErrNotFound
	}
	conv.Messages = conv.Messages[:idx]
	s.notifyLocked()
	return nil
}

// PushHistory appends content to the message's history. ActiveVersion is
// left unchanged.
func (s *Store) PushHistory(id int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.active()
	idx := conv.IndexOf(id)
	if idx < 0 {
		return ErrNotFound
	}
	msg := &conv.Messages[idx]
	msg.History = append(msg.History, content)
	s.notifyLocked()
	return nil
}

// SelectVersion switches the displayed version of a message and returns the
// content now displayed. On error nothing is changed.
func (s *Store) SelectVersion(id int64, v Version) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.active()
	idx := conv.IndexOf(id)
	if idx < 0 {
		return "", ErrNotFound
	}
	msg := &conv.Messages[idx]

	if v.IsLive() {
		msg.ActiveVersion = 0
	} else {
		i := v.Index()
		if i < 0 || i >= len(msg.History) {
			return "", &RangeError{ID: id, Index: i, Len: len(msg.History)}
		}
		msg.ActiveVersion = i + 1
	}

	s.notifyLocked()
	return msg.DisplayContent(), nil
}

// Clear removes every message of the active conversation.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.pinned {
		s.mu.Unlock()
		return ErrBusy
	}
	conv := s.active()
	conv.Messages = make([]model.Message, 0)
	conv.Title = model.DefaultTitle
	s.notifyLocked()
	s.mu.Unlock()

	return s.Save(ctx)
}

// =============================================================================
// CONVERSATION MUTATIONS
// =============================================================================

// CreateConversation adds an empty conversation, makes it active and
// persists the set.
func (s *Store) CreateConversation(ctx context.Context) (*model.Conversation, error) {
	s.mu.Lock()
	if s.pinned {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	conv := model.NewConversation()
	s.chats[conv.ID] = conv
	s.activeID = conv.ID
	clone := conv.Clone()
	s.notifyLocked()
	s.mu.Unlock()

	return clone, s.Save(ctx)
}

// SwitchConversation makes id the active conversation.
func (s *Store) SwitchConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pinned {
		return ErrBusy
	}
	if _, ok := s.chats[id]; !ok {
		return ErrConversationNotFound
	}
	s.activeID = id
	s.notifyLocked()
	return nil
}

// DeleteConversation removes a conversation. Deleting the active one
// switches to the newest remaining conversation, or creates a new one, so
// an active conversation always exists.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.pinned {
		s.mu.Unlock()
		return ErrBusy
	}
	if _, ok := s.chats[id]; !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	delete(s.chats, id)

	if id == s.activeID {
		next := s.chats.Newest()
		if next == nil {
			next = model.NewConversation()
			s.chats[next.ID] = next
		}
		s.activeID = next.ID
		s.notifyLocked()
	}
	s.mu.Unlock()

	return s.Save(ctx)
}

// DeleteAll removes every conversation and the persisted set, leaving one
// fresh active conversation. The fresh conversation is not persisted until
// the next Save.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	if s.pinned {
		s.mu.Unlock()
		return ErrBusy
	}
	conv := model.NewConversation()
	s.chats = model.ConversationSet{conv.ID: conv}
	s.activeID = conv.ID
	s.notifyLocked()
	s.mu.Unlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if err := s.kv.Remove(ctx, StorageKey); err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}
	s.logger.Info().Msg("all conversations deleted")
	return nil
}

// Rename sets the title of a conversation.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	s.mu.Lock()
	conv, ok := s.chats[id]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.Title = strings.TrimSpace(title)
	s.mu.Unlock()

	return s.Save(ctx)
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportDocument is the JSON shape written by Export.
type ExportDocument struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	CreatedAt  time.Time       `json:"created_at"`
	ExportedAt time.Time       `json:"exported_at"`
	Messages   []model.Message `json:"messages"`
}

// Export returns a conversation as indented JSON.
func (s *Store) Export(id string) ([]byte, error) {
	doc, err := s.Document(id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Document returns a snapshot of conversation id for exporters. Streaming
// placeholders are left out.
func (s *Store) Document(id string) (*ExportDocument, error) {
	s.mu.Lock()
	conv, ok := s.chats[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrConversationNotFound
	}
	clone := conv.Clone()
	s.mu.Unlock()

	doc := ExportDocument{
		ID:         clone.ID,
		Title:      clone.Title,
		CreatedAt:  clone.CreatedAt,
		ExportedAt: time.Now(),
		Messages:   make([]model.Message, 0, len(clone.Messages)),
	}
	for _, msg := range clone.Messages {
		if !msg.IsPlaceholder {
			doc.Messages = append(doc.Messages, msg)
		}
	}
	return &doc, nil
}

// =============================================================================
// TURN PINNING
// =============================================================================

// BeginTurn pins the active conversation for a streaming turn and returns
// its ID. While pinned, conversation-level changes fail with ErrBusy.
func (s *Store) BeginTurn() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pinned {
		return "", ErrBusy
	}
	s.pinned = true
	return s.activeID, nil
}

// EndTurn releases the pin taken by BeginTurn.
func (s *Store) EndTurn() {
	s.mu.Lock()
	s.pinned = false
	s.mu.Unlock()
}

// Streaming reports whether a turn is pinned.
func (s *Store) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

// =============================================================================
// HELPERS
// =============================================================================

// active returns the active conversation. The caller holds s.mu.
func (s *Store) active() *model.Conversation {
	conv, ok := s.chats[s.activeID]
	if !ok {
		// Unreachable while every removal re-points activeID.
		conv = model.NewConversation()
		s.chats[conv.ID] = conv
		s.activeID = conv.ID
	}
	return conv
}

func (s *Store) snapshotLocked() []model.Message {
	conv := s.active()
	out := make([]model.Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		out[i] = msg.Clone()
	}
	return out
}

func (s *Store) notifyLocked() {
	if s.renderer == nil {
		return
	}
	s.renderer.Render(s.activeID, s.snapshotLocked())
}
