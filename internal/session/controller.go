// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/metrics"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/think"
)

// =============================================================================
// STATE
// =============================================================================

// State is the phase of the current or most recent turn.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a turn is in flight.
func (s State) Active() bool {
	return s == StateSending || s == StateStreaming
}

// Result describes how a turn ended.
type Result struct {
	State State
	// MessageID identifies the assistant message. Zero when none was kept.
	MessageID int64
	Content   string
	// Ignored is set when Regenerate had no preceding user message.
	Ignored bool

	PromptTokens     int
	CompletionTokens int
	TokensPerSecond  float64
	Duration         time.Duration
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Streamer opens a streaming chat request. *ollama.Client implements it.
type Streamer interface {
	ChatStream(ctx context.Context, model string, messages []ollama.Message, opts *ollama.Options) (io.ReadCloser, error)
}

// Publisher receives turn outcomes. *transport.Channel implements it.
type Publisher interface {
	Send(v any) (sent bool, err error)
}

// TurnEvent is published after every turn.
type TurnEvent struct {
	Type    string      `json:"type"`
	Payload TurnSummary `json:"payload"`
}

// TurnSummary is the payload of a TurnEvent.
type TurnSummary struct {
	Conversation  string `json:"conversation"`
	Model         string `json:"model"`
	State         string `json:"state"`
	ContentLength int    `json:"content_length"`
	DurationMS    int64  `json:"duration_ms"`
}

// =============================================================================
// OPTIONS
// =============================================================================

// DefaultTemperature is the sampling temperature sent with every request.
const DefaultTemperature = 0.7

const readBufferSize = 4096

// Option configures a Controller.
type Option func(*Controller)

// WithModel sets the initial model.
func WithModel(name string) Option {
	return func(c *Controller) { c.model = name }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Controller) { c.temperature = t }
}

// WithMaxContext sets num_ctx. Zero leaves the server default.
func WithMaxContext(n int) Option {
	return func(c *Controller) { c.maxContext = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l.With().Str("component", "session").Logger() }
}

// WithNotifier sets the receiver of user-visible notices.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithPublisher publishes a TurnEvent after each turn.
func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs chat turns against the active conversation of a Store.
// One turn runs at a time. Send, Regenerate and Edit are called from the
// UI goroutine; Cancel may be called from any goroutine.
type Controller struct {
	store     *conversation.Store
	streamer  Streamer
	notifier  Notifier
	publisher Publisher
	logger    zerolog.Logger

	// cancelled is checked before every fold.
	cancelled atomic.Bool

	mu          sync.Mutex
	state       State
	model       string
	temperature float64
	maxContext  int
	abort       context.CancelFunc
	stats       Stats
}

// New creates a Controller.
func New(store *conversation.Store, streamer Streamer, opts ...Option) *Controller {
	c := &Controller{
		store:       store,
		streamer:    streamer,
		logger:      zerolog.Nop(),
		temperature: DefaultTemperature,
		stats:       Stats{Started: time.Now()},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the phase of the current or most recent turn.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Model returns the selected model.
func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetModel selects the model for subsequent turns.
func (c *Controller) SetModel(name string) {
	c.mu.Lock()
	c.model = strings.TrimSpace(name)
	c.mu.Unlock()
}

// Temperature returns the sampling temperature.
func (c *Controller) Temperature() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.temperature
}

// SetTemperature changes the sampling temperature for subsequent turns.
func (c *Controller) SetTemperature(t float64) {
	c.mu.Lock()
	c.temperature = t
	c.mu.Unlock()
}

// SetMaxContext changes num_ctx for subsequent turns.
func (c *Controller) SetMaxContext(n int) {
	c.mu.Lock()
	c.maxContext = n
	c.mu.Unlock()
}

// Send runs one turn: the user message text, then the streamed reply.
//
// A cancelled turn is not an error: Send returns a Result in
// StateCancelled and a nil error.
func (c *Controller) Send(ctx context.Context, text string) (Result, error) {
	defer logging.TraceDuration(c.logger, "Controller.Send")()

	text = strings.TrimSpace(text)
	if text == "" {
		return Result{State: c.State()}, ErrEmptyMessage
	}

	turnCtx, modelName, opts, err := c.begin(ctx)
	if err != nil {
		return Result{State: c.State()}, err
	}

	c.store.Append(model.NewUserMessage(text))
	return c.run(turnCtx, modelName, opts, nil, nil)
}

// Regenerate replaces the assistant message id with a fresh reply to the
// user message before it. The old content is kept in the new message's
// history. When id is not preceded by a user message the call is ignored.
func (c *Controller) Regenerate(ctx context.Context, id int64) (Result, error) {
	defer logging.TraceDuration(c.logger, "Controller.Regenerate")()

	if c.Model() == "" {
		return Result{State: c.State()}, ErrNoModelSelected
	}
	if c.State().Active() {
		return Result{State: c.State()}, ErrBusy
	}

	target, err := c.store.Message(id)
	if err != nil {
		return Result{State: c.State()}, err
	}
	if !target.IsAssistant() {
		return Result{State: c.State()}, ErrNotAssistantMessage
	}
	prev, ok, err := c.store.Before(id)
	if err != nil {
		return Result{State: c.State()}, err
	}
	if !ok || !prev.IsUser() {
		c.logger.Debug().Int64("message", id).Msg("regenerate ignored: no preceding user message")
		return Result{State: StateIdle, Ignored: true}, nil
	}

	turnCtx, modelName, opts, err := c.begin(ctx)
	if err != nil {
		return Result{State: c.State()}, err
	}

	if err := c.store.PushHistory(id, target.Content); err != nil {
		c.abandon()
		return Result{State: c.State()}, err
	}
	history := append(append([]string(nil), target.History...), target.Content)
	if err := c.store.TruncateFrom(id); err != nil {
		c.abandon()
		return Result{State: c.State()}, err
	}

	return c.run(turnCtx, modelName, opts, history, &target)
}

// Edit removes user message id and everything after it and returns its
// content for resubmission. No request is made.
func (c *Controller) Edit(id int64) (string, error) {
	if c.State().Active() {
		return "", ErrBusy
	}
	msg, err := c.store.Message(id)
	if err != nil {
		return "", err
	}
	if !msg.IsUser() {
		return "", ErrNotUserMessage
	}
	if err := c.store.TruncateFrom(id); err != nil {
		return "", err
	}
	return msg.Content, nil
}

// Cancel stops the current turn. Content already folded in is kept. Cancel
// is idempotent and a no-op when no turn is in flight.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Active() || c.cancelled.Load() {
		return
	}
	c.cancelled.Store(true)
	if c.abort != nil {
		c.abort()
	}
	c.logger.Debug().Str("state", c.state.String()).Msg("cancel requested")
}

// =============================================================================
// TURN
// =============================================================================

// begin moves Idle to Sending and pins the active conversation.
func (c *Controller) begin(ctx context.Context) (context.Context, string, *ollama.Options, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model == "" {
		return nil, "", nil, ErrNoModelSelected
	}
	if c.state.Active() {
		return nil, "", nil, ErrBusy
	}
	if _, err := c.store.BeginTurn(); err != nil {
		return nil, "", nil, ErrBusy
	}

	turnCtx, abort := context.WithCancel(ctx)
	c.abort = abort
	c.cancelled.Store(false)
	c.state = StateSending

	opts := &ollama.Options{Temperature: c.temperature, NumCtx: c.maxContext}
	return turnCtx, c.model, opts, nil
}

// abandon undoes begin when the turn never started.
func (c *Controller) abandon() {
	c.mu.Lock()
	if c.abort != nil {
		c.abort()
		c.abort = nil
	}
	c.state = StateIdle
	c.mu.Unlock()
	c.store.EndTurn()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// turn carries the state of one running turn.
type turn struct {
	c       *Controller
	ctx     context.Context
	model   string
	convID  string
	start   time.Time
	restore *model.Message

	acc       strings.Builder
	folded    bool
	messageID int64
	done      *ollama.StreamEvent
	failure   error
}

// run performs Sending and Streaming and finishes the turn. restore is
// re-appended if the turn ends without a kept reply.
func (c *Controller) run(ctx context.Context, modelName string, opts *ollama.Options, history []string, restore *model.Message) (Result, error) {
	t := &turn{
		c:       c,
		ctx:     ctx,
		model:   modelName,
		convID:  c.store.ActiveID(),
		start:   time.Now(),
		restore: restore,
	}

	c.logger.Info().
		Str("conversation", t.convID).
		Str("model", modelName).
		Bool("regenerate", restore != nil).
		Msg("turn started")

	body, err := c.streamer.ChatStream(ctx, modelName, c.store.Active().ToOllamaMessages(), opts)
	if err != nil {
		if t.cancelRequested(err) {
			return t.finishCancelled()
		}
		t.failure = err
		return t.finishFailed()
	}
	defer body.Close()

	placeholder := model.NewPlaceholder(history)
	t.messageID = placeholder.ID()
	c.store.Append(placeholder)
	c.setState(StateStreaming)

	if stop := t.consume(body); stop == stopCancelled {
		return t.finishCancelled()
	}
	if t.failure != nil {
		return t.finishFailed()
	}
	return t.finishCompleted()
}

type stopReason int

const (
	stopNone stopReason = iota
	stopDone
	stopCancelled
	stopFailed
)

// consume reads body until done, EOF, failure or cancel.
func (t *turn) consume(body io.Reader) stopReason {
	dec := ollama.NewDecoder(func(w ollama.DecodeWarning) {
		metrics.DecodeWarning()
		t.c.logger.Warn().Err(w.Err).Str("line", w.Line).Msg("skipping malformed stream line")
	})

	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if stop := t.handle(dec.Decode(buf[:n])); stop != stopNone {
				return stop
			}
		}

		if errors.Is(err, io.EOF) {
			if stop := t.handle(dec.Flush()); stop != stopNone {
				return stop
			}
			if t.c.cancelled.Load() {
				return stopCancelled
			}
			return stopDone
		}
		if err != nil {
			if t.cancelRequested(err) {
				return stopCancelled
			}
			t.failure = err
			return stopFailed
		}
		if t.c.cancelled.Load() {
			return stopCancelled
		}
	}
}

func (t *turn) handle(events iter.Seq[ollama.StreamEvent]) stopReason {
	stop := stopNone
	for ev := range events {
		if t.c.cancelled.Load() {
			stop = stopCancelled
			break
		}
		switch ev.Kind {
		case ollama.EventDelta:
			t.fold(ev.Delta)
		case ollama.EventDone:
			t.fold(ev.Delta)
			done := ev
			t.done = &done
			stop = stopDone
		case ollama.EventError:
			t.failure = &streamError{msg: ev.Message}
			stop = stopFailed
		}
		if stop != stopNone {
			break
		}
	}
	return stop
}

// fold appends delta to the reply and rewrites the placeholder. It is the
// only writer of the placeholder's content while streaming.
func (t *turn) fold(delta string) {
	if delta == "" {
		return
	}
	if !t.folded {
		t.folded = true
		metrics.ObserveFirstToken(t.model, time.Since(t.start))
	}
	t.acc.WriteString(delta)

	content := t.acc.String()
	res := think.Extract(content)
	segments := res.Bodies()
	if segments == nil {
		segments = []string{}
	}
	t.c.store.ReplaceTail(conversation.Patch{
		Content:       &content,
		ThinkSegments: segments,
	})
}

// cancelRequested reports whether err stems from Cancel or the caller's
// context rather than a transport failure.
func (t *turn) cancelRequested(err error) bool {
	if t.c.cancelled.Load() {
		return true
	}
	return t.ctx.Err() != nil && (ollama.IsCanceled(err) || errors.Is(err, context.Canceled))
}

func (t *turn) finishCompleted() (Result, error) {
	notPlaceholder := false
	t.c.store.ReplaceTail(conversation.Patch{IsPlaceholder: &notPlaceholder})
	t.persist()

	res := t.result(StateCompleted)
	if t.done != nil {
		res.PromptTokens = t.done.PromptTokens
		res.CompletionTokens = t.done.CompletionTokens
		res.TokensPerSecond = t.done.TokensPerSecond()
		metrics.ObserveTokens(t.model, t.done.PromptTokens, t.done.CompletionTokens)
	}
	return t.end(res, nil)
}

func (t *turn) finishCancelled() (Result, error) {
	if t.folded {
		notPlaceholder := false
		t.c.store.ReplaceTail(conversation.Patch{IsPlaceholder: &notPlaceholder})
	} else {
		t.discard()
	}
	t.persist()
	t.c.notify(Notice{Kind: NoticeStopped, Text: "Generation stopped"})

	res := t.result(StateCancelled)
	if !t.folded {
		res.MessageID = 0
	}
	return t.end(res, nil)
}

func (t *turn) finishFailed() (Result, error) {
	t.discard()
	err := &RequestError{Err: t.failure}
	// The renderer appends Err; the cause keeps "request failed" from
	// printing twice.
	t.c.notify(Notice{Kind: NoticeError, Text: "Request failed", Err: t.failure})

	res := t.result(StateFailed)
	res.MessageID = 0
	res.Content = ""
	return t.end(res, err)
}

// discard removes the placeholder and puts back the message a regenerate
// replaced.
func (t *turn) discard() {
	if t.messageID != 0 {
		t.c.store.DiscardPlaceholder()
	}
	if t.restore != nil {
		t.c.store.Append(*t.restore)
	}
}

func (t *turn) persist() {
	if err := t.c.store.Save(context.WithoutCancel(t.ctx)); err != nil {
		t.c.logger.Error().Err(err).Str("conversation", t.convID).Msg("failed to save conversation")
		t.c.notify(Notice{Kind: NoticeError, Text: "Could not save conversation", Err: err})
	}
}

func (t *turn) result(s State) Result {
	return Result{
		State:     s,
		MessageID: t.messageID,
		Content:   t.acc.String(),
		Duration:  time.Since(t.start),
	}
}

// end records the terminal state and releases the conversation pin.
func (t *turn) end(res Result, err error) (Result, error) {
	c := t.c
	c.mu.Lock()
	c.state = res.State
	if c.abort != nil {
		c.abort()
		c.abort = nil
	}
	c.stats.record(res.State)
	c.mu.Unlock()
	c.store.EndTurn()

	metrics.TurnFinished(t.model, res.State.String())
	ev := c.logger.Info()
	if err != nil {
		ev = c.logger.Warn().Err(err)
	}
	ev.Str("conversation", t.convID).
		Str("state", res.State.String()).
		Int("content_length", len(res.Content)).
		Dur("duration", res.Duration).
		Msg("turn finished")

	c.publish(TurnSummary{
		Conversation:  t.convID,
		Model:         t.model,
		State:         res.State.String(),
		ContentLength: len(res.Content),
		DurationMS:    res.Duration.Milliseconds(),
	})
	return res, err
}

func (c *Controller) publish(s TurnSummary) {
	if c.publisher == nil {
		return
	}
	if _, err := c.publisher.Send(TurnEvent{Type: "turn", Payload: s}); err != nil {
		c.logger.Debug().Err(err).Msg("turn event not published")
	}
}

func (c *Controller) notify(n Notice) {
	if c.notifier != nil {
		c.notifier.Notify(n)
	}
}
