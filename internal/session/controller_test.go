// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

// ctxBody returns its chunks one Read at a time, then blocks until ctx is
// done unless eof is set.
type ctxBody struct {
	ctx    context.Context
	chunks []string
	eof    bool
	err    error
}

func (b *ctxBody) Read(p []byte) (int, error) {
	if len(b.chunks) > 0 {
		n := copy(p, b.chunks[0])
		b.chunks[0] = b.chunks[0][n:]
		if b.chunks[0] == "" {
			b.chunks = b.chunks[1:]
		}
		return n, nil
	}
	if b.err != nil {
		return 0, b.err
	}
	if b.eof {
		return 0, io.EOF
	}
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *ctxBody) Close() error { return nil }

type call struct {
	model    string
	messages []ollama.Message
	opts     *ollama.Options
	// storeLen is the number of stored messages when the request was made.
	storeLen int
}

type fakeStreamer struct {
	store *conversation.Store

	mu      sync.Mutex
	calls   []call
	respond func(ctx context.Context) (io.ReadCloser, error)
}

func (f *fakeStreamer) ChatStream(ctx context.Context, m string, msgs []ollama.Message, opts *ollama.Options) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{model: m, messages: msgs, opts: opts, storeLen: len(f.store.Messages())})
	respond := f.respond
	f.mu.Unlock()
	return respond(ctx)
}

func (f *fakeStreamer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// reply makes every request stream chunks and end with EOF.
func (f *fakeStreamer) reply(chunks ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = func(ctx context.Context) (io.ReadCloser, error) {
		return &ctxBody{ctx: ctx, chunks: append([]string(nil), chunks...), eof: true}, nil
	}
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) Notify(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) kinds() []NoticeKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]NoticeKind, len(l.notices))
	for i, n := range l.notices {
		out[i] = n.Kind
	}
	return out
}

type publishLog struct {
	mu     sync.Mutex
	events []TurnEvent
}

func (p *publishLog) Send(v any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, v.(TurnEvent))
	return true, nil
}

type harness struct {
	store    *conversation.Store
	kv       *storage.MemoryKV
	streamer *fakeStreamer
	notices  *noticeLog
	renders  *int
	ctrl     *Controller
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	renders := 0
	kv := storage.NewMemoryKV()
	store := conversation.NewStore(kv, conversation.RendererFunc(func(string, []model.Message) { renders++ }))
	streamer := &fakeStreamer{store: store}
	notices := &noticeLog{}

	opts = append([]Option{WithModel("m1"), WithNotifier(notices)}, opts...)
	return &harness{
		store:    store,
		kv:       kv,
		streamer: streamer,
		notices:  notices,
		renders:  &renders,
		ctrl:     New(store, streamer, opts...),
	}
}

func line(content string) string {
	return `{"message":{"role":"assistant","content":"` + content + `"}}` + "\n"
}

const doneLine = `{"done":true,"done_reason":"stop","prompt_eval_count":4,"eval_count":2,"eval_duration":1000000000}` + "\n"

// =============================================================================
// SEND
// =============================================================================

func TestSend_HelloScenario(t *testing.T) {
	h := newHarness(t)
	h.streamer.reply(line("he"), line("llo"), doneLine)

	res, err := h.ctrl.Send(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, StateCompleted, h.ctrl.State())
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, 4, res.PromptTokens)
	assert.Equal(t, 2, res.CompletionTokens)
	assert.InDelta(t, 2.0, res.TokensPerSecond, 1e-9)

	msgs := h.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.False(t, msgs[1].IsPlaceholder)
	assert.Equal(t, res.MessageID, msgs[1].ID())

	require.Equal(t, 1, h.streamer.callCount())
	c := h.streamer.calls[0]
	assert.Equal(t, "m1", c.model)
	assert.Equal(t, []ollama.Message{{Role: "user", Content: "hi"}}, c.messages)
	assert.InDelta(t, DefaultTemperature, c.opts.Temperature, 1e-9)
	assert.Equal(t, 1, c.storeLen, "placeholder must not exist before the request is accepted")

	// Persisted without the placeholder flag.
	var saved map[string]*model.Conversation
	ok, err := h.kv.Get(context.Background(), conversation.StorageKey, &saved)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, saved, h.store.ActiveID())
	assert.Len(t, saved[h.store.ActiveID()].Messages, 2)

	assert.Empty(t, h.notices.kinds())
}

func TestSend_EachFoldRenders(t *testing.T) {
	h := newHarness(t)
	h.streamer.reply(line("a"), line("b"), line("c"), doneLine)

	_, err := h.ctrl.Send(context.Background(), "go")
	require.NoError(t, err)

	// user append, placeholder append, three folds, finalize.
	assert.Equal(t, 6, *h.renders)
}

func TestSend_ThinkSegmentsAcrossChunks(t *testing.T) {
	h := newHarness(t)
	h.streamer.reply(line("<think>pla"), line("n</think>ans"), line("wer"), doneLine)

	res, err := h.ctrl.Send(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)

	last := h.store.Messages()[1]
	assert.Equal(t, "<think>plan</think>answer", last.Content)
	assert.Equal(t, []string{"plan"}, last.ThinkSegments)
}

func TestSend_MalformedLineSkipped(t *testing.T) {
	h := newHarness(t)
	h.streamer.reply(line("ok"), "{broken\n", line(" then"), doneLine)

	res, err := h.ctrl.Send(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "ok then", res.Content)
}

func TestSend_EOFWithoutDoneCompletes(t *testing.T) {
	h := newHarness(t)
	h.streamer.reply(line("tail"), `{"message":{"content":"!"}}`)

	res, err := h.ctrl.Send(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "tail!", res.Content)
}

func TestSend_NoModelSelected(t *testing.T) {
	h := newHarness(t, WithModel(""))
	h.streamer.reply(doneLine)

	_, err := h.ctrl.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoModelSelected)
	assert.Empty(t, h.store.Messages())
	assert.Zero(t, h.streamer.callCount())
	assert.Zero(t, *h.renders)
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestSend_EmptyMessage(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, h.store.Messages())
}

func TestSend_Busy(t *testing.T) {
	h := newHarness(t)
	h.streamer.respond = func(ctx context.Context) (io.ReadCloser, error) {
		return &ctxBody{ctx: ctx}, nil
	}

	done := make(chan Result, 1)
	go func() {
		res, _ := h.ctrl.Send(context.Background(), "first")
		done <- res
	}()
	require.Eventually(t, func() bool { return h.ctrl.State() == StateStreaming }, time.Second, time.Millisecond)

	_, err := h.ctrl.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = h.ctrl.Edit(h.store.Messages()[0].ID())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, h.store.SwitchConversation("other"), conversation.ErrBusy)

	h.ctrl.Cancel()
	res := <-done
	assert.Equal(t, StateCancelled, res.State)

	// Nothing was folded, so the empty placeholder is gone.
	msgs := h.store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)
	assert.False(t, h.store.Streaming())
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_KeepsPartialContent(t *testing.T) {
	pub := &publishLog{}
	h := newHarness(t, WithPublisher(pub))
	h.streamer.respond = func(ctx context.Context) (io.ReadCloser, error) {
		return &ctxBody{ctx: ctx, chunks: []string{line("partial")}}, nil
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.ctrl.Send(context.Background(), "tell me")
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool {
		msgs := h.store.Messages()
		return len(msgs) == 2 && msgs[1].Content == "partial"
	}, time.Second, time.Millisecond)

	h.ctrl.Cancel()
	assert.NotPanics(t, h.ctrl.Cancel)

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, StateCancelled, out.res.State)
	assert.Equal(t, "partial", out.res.Content)

	msgs := h.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.False(t, msgs[1].IsPlaceholder)

	assert.Equal(t, []NoticeKind{NoticeStopped}, h.notices.kinds())
	require.Len(t, pub.events, 1)
	assert.Equal(t, "cancelled", pub.events[0].Payload.State)
	assert.Equal(t, len("partial"), pub.events[0].Payload.ContentLength)
}

func TestCancel_IdleIsNoop(t *testing.T) {
	h := newHarness(t)
	assert.NotPanics(t, func() {
		h.ctrl.Cancel()
		h.ctrl.Cancel()
	})
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.notices.kinds())
}

func TestCancel_WhileSending(t *testing.T) {
	h := newHarness(t)
	h.streamer.respond = func(ctx context.Context) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ollama.ErrCanceled
	}

	done := make(chan Result, 1)
	go func() {
		res, err := h.ctrl.Send(context.Background(), "slow")
		assert.NoError(t, err)
		done <- res
	}()
	require.Eventually(t, func() bool { return h.streamer.callCount() == 1 }, time.Second, time.Millisecond)

	h.ctrl.Cancel()
	res := <-done
	assert.Equal(t, StateCancelled, res.State)
	assert.Len(t, h.store.Messages(), 1)
}

// =============================================================================
// FAILURE
// =============================================================================

func TestSend_RequestFailed(t *testing.T) {
	h := newHarness(t)
	h.streamer.respond = func(context.Context) (io.ReadCloser, error) {
		return nil, ollama.ErrNotRunning
	}

	res, err := h.ctrl.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.True(t, ollama.IsNotRunning(err))

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, StateFailed, h.ctrl.State())
	msgs := h.store.Messages()
	require.Len(t, msgs, 1, "no placeholder may remain")
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, []NoticeKind{NoticeError}, h.notices.kinds())
	assert.False(t, h.store.Streaming())

	notice := h.notices.notices[0]
	assert.Equal(t, "Request failed", notice.Text)
	assert.ErrorIs(t, notice.Err, ollama.ErrNotRunning)
	assert.NotContains(t, notice.Err.Error(), "request failed", "reason is not repeated")
}

func TestSend_FailureMidStreamRemovesPlaceholder(t *testing.T) {
	tests := []struct {
		name string
		body func(ctx context.Context) io.ReadCloser
	}{
		{
			name: "error record",
			body: func(ctx context.Context) io.ReadCloser {
				return &ctxBody{ctx: ctx, chunks: []string{line("half"), `{"error":"model crashed"}` + "\n"}, eof: true}
			},
		},
		{
			name: "read error",
			body: func(ctx context.Context) io.ReadCloser {
				return &ctxBody{ctx: ctx, chunks: []string{line("half")}, err: io.ErrUnexpectedEOF}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.streamer.respond = func(ctx context.Context) (io.ReadCloser, error) {
				return tc.body(ctx), nil
			}

			res, err := h.ctrl.Send(context.Background(), "hi")
			assert.ErrorIs(t, err, ErrRequestFailed)
			assert.Equal(t, StateFailed, res.State)
			assert.Len(t, h.store.Messages(), 1)
			assert.Equal(t, []NoticeKind{NoticeError}, h.notices.kinds())

			// The controller accepts the next turn.
			h.streamer.reply(line("ok"), doneLine)
			res, err = h.ctrl.Send(context.Background(), "again")
			require.NoError(t, err)
			assert.Equal(t, StateCompleted, res.State)
		})
	}
}

// =============================================================================
// REGENERATE / EDIT
// =============================================================================

func TestRegenerate_Scenario(t *testing.T) {
	h := newHarness(t)
	h.streamer.reply(line("A"), doneLine)
	first, err := h.ctrl.Send(context.Background(), "question")
	require.NoError(t, err)

	h.streamer.reply(line("B"), doneLine)
	res, err := h.ctrl.Regenerate(context.Background(), first.MessageID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)

	msgs := h.store.Messages()
	require.Len(t, msgs, 2, "the user message must not be duplicated")
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, "B", msgs[1].Content)
	assert.Equal(t, []string{"A"}, msgs[1].History)
	assert.Equal(t, 0, msgs[1].ActiveVersion)

	require.Equal(t, 2, h.streamer.callCount())
	assert.Equal(t, []ollama.Message{{Role: "user", Content: "question"}}, h.streamer.calls[1].messages)

	// Older versions stay selectable.
	shown, err := h.store.SelectVersion(msgs[1].ID(), conversation.VersionAt(0))
	require.NoError(t, err)
	assert.Equal(t, "A", shown)
}

func TestRegenerate_TwiceAccumulatesHistory(t *testing.T) {
	h := newHarness(t)
	h.streamer.reply(line("A"), doneLine)
	res, err := h.ctrl.Send(context.Background(), "q")
	require.NoError(t, err)

	h.streamer.reply(line("B"), doneLine)
	res, err = h.ctrl.Regenerate(context.Background(), res.MessageID)
	require.NoError(t, err)

	h.streamer.reply(line("C"), doneLine)
	_, err = h.ctrl.Regenerate(context.Background(), res.MessageID)
	require.NoError(t, err)

	last := h.store.Messages()[1]
	assert.Equal(t, "C", last.Content)
	assert.Equal(t, []string{"A", "B"}, last.History)
}

func TestRegenerate_WithoutUserMessageIgnored(t *testing.T) {
	h := newHarness(t)
	greeting := model.NewMessage(model.RoleAssistant, "Welcome!")
	h.store.Append(greeting)

	res, err := h.ctrl.Regenerate(context.Background(), greeting.ID())
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, StateIdle, res.State)
	assert.Zero(t, h.streamer.callCount())

	msgs := h.store.Messages()
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].History)
}

func TestRegenerate_Errors(t *testing.T) {
	h := newHarness(t)
	h.streamer.reply(line("A"), doneLine)
	_, err := h.ctrl.Send(context.Background(), "q")
	require.NoError(t, err)

	user := h.store.Messages()[0]
	_, err = h.ctrl.Regenerate(context.Background(), user.ID())
	assert.ErrorIs(t, err, ErrNotAssistantMessage)

	_, err = h.ctrl.Regenerate(context.Background(), 42)
	assert.ErrorIs(t, err, conversation.ErrNotFound)

	h.ctrl.SetModel("")
	_, err = h.ctrl.Regenerate(context.Background(), h.store.Messages()[1].ID())
	assert.ErrorIs(t, err, ErrNoModelSelected)
}

func TestRegenerate_FailureRestoresMessage(t *testing.T) {
	h := newHarness(t)
	h.streamer.reply(line("A"), doneLine)
	first, err := h.ctrl.Send(context.Background(), "q")
	require.NoError(t, err)

	h.streamer.respond = func(context.Context) (io.ReadCloser, error) {
		return nil, errors.New("connection reset")
	}
	_, err = h.ctrl.Regenerate(context.Background(), first.MessageID)
	require.ErrorIs(t, err, ErrRequestFailed)

	msgs := h.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "A", msgs[1].Content)
	assert.Equal(t, first.MessageID, msgs[1].ID())
}

func TestEdit(t *testing.T) {
	h := newHarness(t)
	h.streamer.reply(line("A"), doneLine)
	_, err := h.ctrl.Send(context.Background(), "typo")
	require.NoError(t, err)
	calls := h.streamer.callCount()

	msgs := h.store.Messages()
	_, err = h.ctrl.Edit(msgs[1].ID())
	assert.ErrorIs(t, err, ErrNotUserMessage)

	text, err := h.ctrl.Edit(msgs[0].ID())
	require.NoError(t, err)
	assert.Equal(t, "typo", text)
	assert.Empty(t, h.store.Messages())
	assert.Equal(t, calls, h.streamer.callCount(), "edit makes no request")

	_, err = h.ctrl.Edit(msgs[0].ID())
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

// =============================================================================
// STATUS
// =============================================================================

func TestStatus_CountsTurns(t *testing.T) {
	h := newHarness(t, WithTemperature(0.3), WithMaxContext(4096))
	h.streamer.reply(line("x"), doneLine)
	_, err := h.ctrl.Send(context.Background(), "one")
	require.NoError(t, err)

	h.streamer.respond = func(context.Context) (io.ReadCloser, error) { return nil, ollama.ErrTimeout }
	_, _ = h.ctrl.Send(context.Background(), "two")

	st := h.ctrl.Status()
	assert.Equal(t, "m1", st.Model)
	assert.Equal(t, 0.3, st.Temperature)
	assert.Equal(t, 4096, st.MaxContext)
	assert.Equal(t, 2, st.Stats.Turns)
	assert.Equal(t, 1, st.Stats.Completed)
	assert.Equal(t, 1, st.Stats.Failed)
	assert.Equal(t, 4096, h.streamer.calls[0].opts.NumCtx)
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		5 * time.Second:               "5s",
		2 * time.Minute:               "2m",
		2*time.Minute + 5*time.Second:  "2m 5s",
		3 * time.Hour:                 "3h",
		3*time.Hour + 20*time.Minute:  "3h 20m",
	}
	for d, want := range tests {
		assert.Equal(t, want, FormatDuration(d), d.String())
	}
}

// =============================================================================
// OLLAMA CLIENT INTEGRATION
// =============================================================================

func TestSend_WithOllamaClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, l := range []string{line("he"), line("llo"), `{"done":true}` + "\n"} {
			io.WriteString(w, l)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	store := conversation.NewStore(storage.NewMemoryKV(), nil)
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL})
	ctrl := New(store, client, WithModel("m1"))

	res, err := ctrl.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "hello", res.Content)
	assert.True(t, strings.HasPrefix(store.Active().Title, "hi"))
}
