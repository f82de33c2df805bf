// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// recorder counts render notifications and keeps the last sequence.
type recorder struct {
	calls int
	last  []model.Message
	conv  string
}

func (r *recorder) Render(id string, msgs []model.Message) {
	r.calls++
	r.conv = id
	r.last = msgs
}

func newTestStore(t *testing.T) (*Store, *recorder, *storage.MemoryKV) {
	t.Helper()
	kv := storage.NewMemoryKV()
	rec := &recorder{}
	return NewStore(kv, rec), rec, kv
}

func strPtr(s string) *string { return &s }

// =============================================================================
// MESSAGE MUTATION TESTS
// =============================================================================

func TestStore_AppendNotifies(t *testing.T) {
	store, rec, _ := newTestStore(t)

	store.Append(model.NewUserMessage("hi"))

	assert.Equal(t, 1, rec.calls)
	require.Len(t, rec.last, 1)
	assert.Equal(t, "hi", rec.last[0].Content)
	assert.Equal(t, store.ActiveID(), rec.conv)
	assert.Equal(t, "hi", store.Active().Title)
}

func TestStore_RenderReceivesCopies(t *testing.T) {
	store, rec, _ := newTestStore(t)
	store.Append(model.NewUserMessage("hi"))

	rec.last[0].Content = "tampered"
	assert.Equal(t, "hi", store.Messages()[0].Content)
}

func TestStore_ReplaceTail(t *testing.T) {
	store, rec, _ := newTestStore(t)

	store.ReplaceTail(Patch{Content: strPtr("ignored")})
	assert.Equal(t, 0, rec.calls, "no-op on empty conversation")
	assert.Empty(t, store.Messages())

	store.Append(model.NewPlaceholder(nil))
	store.ReplaceTail(Patch{Content: strPtr("hel"), ThinkSegments: []string{"plan"}})

	last := store.Messages()[0]
	assert.Equal(t, "hel", last.Content)
	assert.Equal(t, []string{"plan"}, last.ThinkSegments)
	assert.True(t, last.IsPlaceholder, "unset fields stay unchanged")

	done := false
	store.ReplaceTail(Patch{IsPlaceholder: &done})
	last = store.Messages()[0]
	assert.False(t, last.IsPlaceholder)
	assert.Equal(t, "hel", last.Content)
}

func TestStore_TruncateFromThenAppend(t *testing.T) {
	store, _, _ := newTestStore(t)

	msgs := []model.Message{
		model.NewUserMessage("q1"),
		model.NewMessage(model.RoleAssistant, "a1"),
		model.NewUserMessage("q2"),
		model.NewMessage(model.RoleAssistant, "a2"),
	}
	for _, m := range msgs {
		store.Append(m)
	}

	for idx := range msgs {
		t.Run(msgs[idx].Content, func(t *testing.T) {
			s, _, _ := newTestStore(t)
			for _, m := range msgs {
				s.Append(m)
			}
			require.NoError(t, s.TruncateFrom(msgs[idx].ID()))
			s.Append(model.NewUserMessage("new"))
			assert.Len(t, s.Messages(), idx+1)
		})
	}

	err := store.TruncateFrom(42)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Len(t, store.Messages(), 4, "failed truncate must not mutate")
}

func TestStore_PushHistory(t *testing.T) {
	store, _, _ := newTestStore(t)
	msg := model.NewMessage(model.RoleAssistant, "A")
	store.Append(msg)

	require.NoError(t, store.PushHistory(msg.ID(), "A"))

	got, err := store.Message(msg.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, got.History)
	assert.Equal(t, 0, got.ActiveVersion)

	assert.True(t, errors.Is(store.PushHistory(7, "x"), ErrNotFound))
}

func TestStore_SelectVersion(t *testing.T) {
	store, rec, _ := newTestStore(t)
	msg := model.NewMessage(model.RoleAssistant, "live")
	msg.History = []string{"v0", "v1"}
	store.Append(msg)

	for i, want := range msg.History {
		got, err := store.SelectVersion(msg.ID(), VersionAt(i))
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, want, rec.last[0].DisplayContent())
	}

	got, err := store.SelectVersion(msg.ID(), Live)
	require.NoError(t, err)
	assert.Equal(t, "live", got)

	stored, _ := store.Message(msg.ID())
	assert.Equal(t, 0, stored.ActiveVersion)
}

func TestStore_SelectVersionOutOfRange(t *testing.T) {
	store, rec, _ := newTestStore(t)
	msg := model.NewMessage(model.RoleAssistant, "live")
	msg.History = []string{"v0"}
	store.Append(msg)

	_, err := store.SelectVersion(msg.ID(), VersionAt(0))
	require.NoError(t, err)
	calls := rec.calls

	for _, idx := range []int{1, 5, -1} {
		_, err := store.SelectVersion(msg.ID(), VersionAt(idx))
		var rangeErr *RangeError
		require.True(t, errors.As(err, &rangeErr), "index %d", idx)
		assert.True(t, errors.Is(err, ErrRange))
		assert.Equal(t, 1, rangeErr.Len)
	}

	stored, _ := store.Message(msg.ID())
	assert.Equal(t, 1, stored.ActiveVersion, "failed selection must not mutate")
	assert.Equal(t, calls, rec.calls, "failed selection must not render")

	_, err = store.SelectVersion(99, Live)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_DiscardPlaceholder(t *testing.T) {
	store, _, _ := newTestStore(t)
	store.Append(model.NewUserMessage("q"))

	assert.False(t, store.DiscardPlaceholder())
	store.Append(model.NewPlaceholder(nil))
	assert.True(t, store.DiscardPlaceholder())
	assert.Len(t, store.Messages(), 1)
}

func TestStore_Before(t *testing.T) {
	store, _, _ := newTestStore(t)
	q := model.NewUserMessage("q")
	a := model.NewMessage(model.RoleAssistant, "a")
	store.Append(q)
	store.Append(a)

	prev, ok, err := store.Before(a.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "q", prev.Content)

	_, ok, err = store.Before(q.ID())
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestStore_DeleteActiveAlwaysLeavesActive(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	first := store.ActiveID()
	second, err := store.CreateConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, store.ActiveID())

	require.NoError(t, store.DeleteConversation(ctx, second.ID))
	assert.Equal(t, first, store.ActiveID(), "switches to the remaining conversation")

	require.NoError(t, store.DeleteConversation(ctx, first))
	assert.NotEmpty(t, store.ActiveID())
	assert.NotEqual(t, first, store.ActiveID(), "a replacement is created")
	assert.Len(t, store.List(), 1)

	assert.True(t, errors.Is(store.DeleteConversation(ctx, "nope"), ErrConversationNotFound))
}

func TestStore_DeleteInactiveKeepsActive(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	first := store.ActiveID()
	second, err := store.CreateConversation(ctx)
	require.NoError(t, err)

	require.NoError(t, store.DeleteConversation(ctx, first))
	assert.Equal(t, second.ID, store.ActiveID())
}

func TestStore_DeleteAll(t *testing.T) {
	ctx := context.Background()
	store, rec, kv := newTestStore(t)
	store.Append(model.NewUserMessage("hello"))
	old, err := store.CreateConversation(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx))
	require.Equal(t, 1, kv.Keys())

	calls := rec.calls
	require.NoError(t, store.DeleteAll(ctx))

	var loaded model.ConversationSet
	found, err := kv.Get(ctx, StorageKey, &loaded)
	require.NoError(t, err)
	assert.False(t, found, "stored set removed")
	assert.Equal(t, 0, kv.Keys())

	require.Len(t, store.List(), 1)
	assert.NotEmpty(t, store.ActiveID())
	assert.NotEqual(t, old.ID, store.ActiveID())
	assert.Empty(t, store.Messages())

	assert.Equal(t, calls+1, rec.calls, "renderer notified")
	assert.Equal(t, store.ActiveID(), rec.conv)
	assert.Empty(t, rec.last)
}

func TestStore_SwitchConversation(t *testing.T) {
	ctx := context.Background()
	store, rec, _ := newTestStore(t)
	first := store.ActiveID()
	store.Append(model.NewUserMessage("in first"))

	_, err := store.CreateConversation(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.last)

	require.NoError(t, store.SwitchConversation(first))
	require.Len(t, rec.last, 1)
	assert.Equal(t, "in first", rec.last[0].Content)

	assert.True(t, errors.Is(store.SwitchConversation("missing"), ErrConversationNotFound))
}

func TestStore_PinnedRejectsConversationChanges(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	other, err := store.CreateConversation(ctx)
	require.NoError(t, err)

	id, err := store.BeginTurn()
	require.NoError(t, err)
	assert.Equal(t, other.ID, id)

	_, err = store.BeginTurn()
	assert.ErrorIs(t, err, ErrBusy)
	_, err = store.CreateConversation(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, store.SwitchConversation(other.ID), ErrBusy)
	assert.ErrorIs(t, store.DeleteConversation(ctx, other.ID), ErrBusy)
	assert.ErrorIs(t, store.Clear(ctx), ErrBusy)
	assert.ErrorIs(t, store.DeleteAll(ctx), ErrBusy)
	assert.Len(t, store.List(), 2, "nothing deleted while pinned")

	store.EndTurn()
	assert.False(t, store.Streaming())
	assert.NoError(t, store.SwitchConversation(other.ID))
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	time.Sleep(2 * time.Millisecond)
	newest, err := store.CreateConversation(ctx)
	require.NoError(t, err)

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, newest.ID, list[0].ID)
}

// =============================================================================
// PERSISTENCE TESTS
// =============================================================================

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()

	store := NewStore(kv, nil)
	q := model.NewUserMessage("question")
	a := model.NewMessage(model.RoleAssistant, "answer")
	a.History = []string{"old answer"}
	store.Append(q)
	store.Append(a)
	store.Append(model.NewPlaceholder(nil))
	require.NoError(t, store.Save(ctx))

	rec := &recorder{}
	loaded := NewStore(kv, rec)
	require.NoError(t, loaded.Load(ctx))

	assert.Equal(t, store.ActiveID(), loaded.ActiveID())
	msgs := loaded.Messages()
	require.Len(t, msgs, 2, "placeholder is not persisted")
	assert.Equal(t, "answer", msgs[1].Content)
	assert.Equal(t, []string{"old answer"}, msgs[1].History)
	assert.Equal(t, a.ID(), msgs[1].ID())
	assert.Equal(t, 1, rec.calls)

	assert.Greater(t, model.NextTimestamp(), a.ID())
}

func TestStore_LoadActivatesNewest(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	base := time.Now()
	set := model.ConversationSet{
		"old": {ID: "old", Title: "old", CreatedAt: base.Add(-time.Hour)},
		"new": {ID: "new", Title: "new", CreatedAt: base},
	}
	require.NoError(t, kv.Set(ctx, StorageKey, set))

	store := NewStore(kv, nil)
	require.NoError(t, store.Load(ctx))
	assert.Equal(t, "new", store.ActiveID())
	assert.NotNil(t, store.Messages())
}

func TestStore_LoadEmpty(t *testing.T) {
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Load(context.Background()))
	assert.NotEmpty(t, store.ActiveID())
	assert.Len(t, store.List(), 1)
}

func TestStore_ClearAndRename(t *testing.T) {
	ctx := context.Background()
	store, _, kv := newTestStore(t)
	store.Append(model.NewUserMessage("hello"))

	require.NoError(t, store.Clear(ctx))
	assert.Empty(t, store.Messages())
	assert.Equal(t, model.DefaultTitle, store.Active().Title)

	require.NoError(t, store.Rename(ctx, store.ActiveID(), "  Renamed  "))
	assert.Equal(t, "Renamed", store.Active().Title)
	assert.Equal(t, 1, kv.Keys())
}

func TestStore_Export(t *testing.T) {
	store, _, _ := newTestStore(t)
	store.Append(model.NewUserMessage("hello"))
	store.Append(model.NewPlaceholder(nil))

	data, err := store.Export(store.ActiveID())
	require.NoError(t, err)

	var doc ExportDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, store.ActiveID(), doc.ID)
	require.Len(t, doc.Messages, 1)
	assert.Equal(t, "hello", doc.Messages[0].Content)

	_, err = store.Export("missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

// =============================================================================
// VERSION TESTS
// =============================================================================

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"live", Live, false},
		{"LIVE", Live, false},
		{"0", VersionAt(0), false},
		{"3", VersionAt(3), false},
		{"-1", Version{}, true},
		{"abc", Version{}, true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseVersion(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestContentAt(t *testing.T) {
	msg := model.NewMessage(model.RoleAssistant, "third")
	msg.History = []string{"first", "second"}

	got, err := ContentAt(msg, Live)
	require.NoError(t, err)
	assert.Equal(t, "third", got)

	got, err = ContentAt(msg, VersionAt(1))
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	_, err = ContentAt(msg, VersionAt(2))
	assert.ErrorIs(t, err, ErrRange)
}

func TestStore_Document(t *testing.T) {
	store, _, _ := newTestStore(t)
	store.Append(model.NewUserMessage("hello"))
	store.Append(model.NewPlaceholder(nil))

	doc, err := store.Document(store.ActiveID())
	require.NoError(t, err)
	assert.Equal(t, store.ActiveID(), doc.ID)
	require.Len(t, doc.Messages, 1, "placeholder must not be exported")
	assert.Equal(t, "hello", doc.Messages[0].Content)

	_, err = store.Document("missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}
