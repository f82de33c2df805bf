// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/metrics"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrExhausted is carried by EventExhausted once maxAttempts consecutive
	// reconnects have failed.
	ErrExhausted = errors.New("transport: reconnect attempts exhausted")

	// ErrQueueFull is returned by Send when the outbound queue is at capacity.
	ErrQueueFull = errors.New("transport: outbound queue full")

	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: channel closed")
)

// =============================================================================
// STATE
// =============================================================================

// State is the connection state of a Channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Backoff returns the delay before reconnect attempt n (1-based):
// base * 2^(n-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return base
	}
	return base << (attempt - 1)
}

// =============================================================================
// OPTIONS
// =============================================================================

const (
	DefaultReconnectBase = time.Second
	DefaultMaxAttempts   = 5
	DefaultQueueSize     = 100
	dialTimeout          = 10 * time.Second
	writeTimeout         = 5 * time.Second
)

// Option configures a Channel.
type Option func(*Channel)

// WithReconnect sets the backoff base and the number of consecutive failed
// attempts before the channel gives up.
func WithReconnect(base time.Duration, maxAttempts int) Option {
	return func(c *Channel) {
		if base > 0 {
			c.base = base
		}
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
	}
}

// WithQueueSize bounds the outbound queue.
func WithQueueSize(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithScheduler replaces the real-time timer source.
func WithScheduler(s Scheduler) Option {
	return func(c *Channel) { c.sched = s }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.logger = l.With().Str("component", "transport").Logger() }
}

// =============================================================================
// CHANNEL
// =============================================================================

// Channel is a duplex JSON message connection that queues while offline,
// reconnects with exponential backoff and fans events out to handlers.
type Channel struct {
	url    string
	dialer Dialer
	sched  Scheduler
	logger zerolog.Logger

	base        time.Duration
	maxAttempts int
	queueSize   int

	// writeMu orders flushes before later sends.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	attempt   int
	exhausted bool
	closed    bool
	conn      Conn
	queue     [][]byte
	retry     Timer
	ctx       context.Context
	cancel    context.CancelFunc
	handlers  map[EventKind][]handlerEntry
	nextID    int
}

type handlerEntry struct {
	id int
	h  Handler
}

// NewChannel creates a channel for url. No connection is made until
// Connect or Send.
func NewChannel(url string, dialer Dialer, opts ...Option) *Channel {
	c := &Channel{
		url:         url,
		dialer:      dialer,
		sched:       realScheduler{},
		logger:      zerolog.Nop(),
		base:        DefaultReconnectBase,
		maxAttempts: DefaultMaxAttempts,
		queueSize:   DefaultQueueSize,
		handlers:    make(map[EventKind][]handlerEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the remote endpoint.
func (c *Channel) URL() string { return c.url }

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the number of consecutive failed connection attempts.
func (c *Channel) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Exhausted reports whether the channel has stopped retrying.
func (c *Channel) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// QueueLen returns the number of payloads waiting for an open connection.
func (c *Channel) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Connect dials the remote endpoint once, blocking until the attempt
// resolves. A failure schedules reconnects in the background. ctx bounds
// the lifetime of the channel's connections, not just this call.
//
// Connect clears the exhausted flag and reopens a closed channel.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.closed = false
	c.exhausted = false
	c.attempt = 0
	c.stopRetryLocked()
	c.mu.Unlock()

	c.dial()
}

// Online restarts the reconnect cycle after exhaustion or an idle period.
// It is the hook for network-online signals and is a no-op while
// connecting, open, or after Close.
func (c *Channel) Online() {
	c.mu.Lock()
	if c.closed || c.ctx == nil || c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	if c.retry != nil {
		// A retry is already pending.
		c.mu.Unlock()
		return
	}
	c.exhausted = false
	c.attempt = 0
	c.mu.Unlock()

	c.logger.Info().Msg("network online, reconnecting")
	c.dial()
}

// dial performs one connection attempt on the calling goroutine.
func (c *Channel) dial() {
	c.mu.Lock()
	if c.closed || c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.retry = nil
	parent := c.ctx
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(parent, dialTimeout)
	conn, err := c.dialer.Dial(dctx, c.url)
	cancel()

	if err != nil {
		c.logger.Warn().Err(err).Str("url", c.url).Msg("connect failed")
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.state = StateClosed
		events := []TransportEvent{{Kind: EventError, Err: err, Attempt: c.attempt}}
		events = append(events, c.scheduleReconnectLocked()...)
		c.mu.Unlock()
		c.dispatch(events...)
		return
	}

	c.writeMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.writeMu.Unlock()
		conn.Close()
		return
	}
	c.state = StateOpen
	c.attempt = 0
	c.exhausted = false
	c.conn = conn
	pending := c.queue
	c.queue = nil
	ctx := c.ctx
	c.mu.Unlock()

	metrics.SetOnline(true)
	c.logger.Info().Str("url", c.url).Int("flushed", len(pending)).Msg("connected")

	var flushErr error
	for i, data := range pending {
		if flushErr = c.write(ctx, conn, data); flushErr != nil {
			c.requeue(pending[i:])
			break
		}
	}
	c.writeMu.Unlock()

	go c.readLoop(ctx, conn)

	if flushErr != nil {
		c.drop(conn, flushErr)
		return
	}
	c.dispatch(TransportEvent{Kind: EventConnect})
}

// requeue puts unsent payloads back at the head of the queue.
func (c *Channel) requeue(rest [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := make([][]byte, 0, len(rest)+len(c.queue))
	q = append(q, rest...)
	q = append(q, c.queue...)
	if len(q) > c.queueSize {
		q = q[:c.queueSize]
	}
	c.queue = q
}

// scheduleReconnectLocked arms the next retry or marks the channel
// exhausted. Caller holds c.mu.
func (c *Channel) scheduleReconnectLocked() []TransportEvent {
	if c.attempt >= c.maxAttempts {
		c.exhausted = true
		c.retry = nil
		c.logger.Error().Int("attempts", c.attempt).Msg("reconnect attempts exhausted")
		return []TransportEvent{{Kind: EventExhausted, Err: ErrExhausted, Attempt: c.attempt}}
	}

	c.attempt++
	delay := Backoff(c.base, c.attempt)
	metrics.ReconnectScheduled()
	c.logger.Info().
		Int("attempt", c.attempt).
		Int("max_attempts", c.maxAttempts).
		Dur("delay", delay).
		Msg("reconnect scheduled")

	c.retry = c.sched.AfterFunc(delay, c.dial)
	return nil
}

func (c *Channel) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.drop(conn, err)
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("discarding malformed message")
			continue
		}
		c.dispatch(TransportEvent{
			Kind: EventMessage,
			Type: head.Type,
			Data: json.RawMessage(data),
		})
	}
}

// drop tears down conn without an explicit Close, entering the reconnect
// path. Stale connections are ignored.
func (c *Channel) drop(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn || conn == nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil

	var events []TransportEvent
	if !c.closed {
		c.state = StateClosed
		c.logger.Warn().Err(cause).Msg("connection lost")
		events = append(events, TransportEvent{Kind: EventDisconnect, Err: cause})
		events = append(events, c.scheduleReconnectLocked()...)
	}
	c.mu.Unlock()

	conn.Close()
	metrics.SetOnline(false)
	c.dispatch(events...)
}

// Drop forces the current connection closed and starts the reconnect path.
func (c *Channel) Drop(cause error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	c.drop(conn, cause)
}

// Send marshals v to JSON and writes it if the channel is open. Otherwise v
// is queued for the next Open and a connection attempt is started when
// none is pending. sent reports whether v went out immediately.
func (c *Channel) Send(v any) (sent bool, err error) {
	return c.send(v, true)
}

func (c *Channel) send(v any, queue bool) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("transport: marshal message: %w", err)
	}

	c.writeMu.Lock()
	c.mu.Lock()
	if c.state == StateOpen && c.conn != nil {
		conn, ctx := c.conn, c.ctx
		c.mu.Unlock()
		err := c.write(ctx, conn, data)
		c.writeMu.Unlock()
		if err != nil {
			c.drop(conn, err)
			return false, err
		}
		return true, nil
	}
	c.writeMu.Unlock()
	defer c.mu.Unlock()

	if !queue {
		return false, nil
	}
	if c.closed {
		return false, ErrClosed
	}
	if len(c.queue) >= c.queueSize {
		metrics.MessageDropped()
		return false, ErrQueueFull
	}
	c.queue = append(c.queue, data)

	kick := c.ctx != nil && !c.exhausted && c.retry == nil &&
		(c.state == StateIdle || c.state == StateClosed)
	if kick {
		go c.dial()
	}
	return false, nil
}

func (c *Channel) write(ctx context.Context, conn Conn, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, data)
}

// Close closes the connection, clears the queue and stops every pending
// timer. The channel stays closed until Connect is called again.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.queue = nil
	c.stopRetryLocked()
	c.state = StateClosing
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
		metrics.SetOnline(false)
	}
	if cancel != nil {
		cancel()
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.dispatch(TransportEvent{Kind: EventDisconnect})
	return err
}

// =============================================================================
// HANDLERS
// =============================================================================

// On registers h for events of kind and returns a function that removes
// it. Handlers run in registration order on the goroutine that produced
// the event.
func (c *Channel) On(kind EventKind, h Handler) (off func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[kind] = append(c.handlers[kind], handlerEntry{id: id, h: h})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.handlers[kind]
		for i, e := range list {
			if e.id == id {
				c.handlers[kind] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (c *Channel) dispatch(events ...TransportEvent) {
	for _, ev := range events {
		c.mu.Lock()
		list := append([]handlerEntry(nil), c.handlers[ev.Kind]...)
		c.mu.Unlock()

		for _, e := range list {
			c.invoke(ev, e.h)
		}
	}
}

// invoke runs one handler, recovering a panic so later handlers still run.
func (c *Channel) invoke(ev TransportEvent, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("event", ev.Kind.String()).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	h(ev)
}
