// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeTimer struct {
	s       *fakeScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.d)
		}
	}
	return out
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.d
	}
	return out
}

// fireNext runs the oldest pending timer and reports whether there was one.
func (s *fakeScheduler) fireNext() bool {
	s.mu.Lock()
	var next *fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	s.mu.Unlock()

	if next == nil {
		return false
	}
	next.f()
	return true
}

var errFakeClosed = errors.New("fake conn closed")

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

type fakeDialer struct {
	fail  atomic.Bool
	calls atomic.Int32

	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.calls.Add(1)
	if d.fail.Load() {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func newTestChannel(d Dialer, s Scheduler, opts ...Option) *Channel {
	opts = append([]Option{WithScheduler(s), WithReconnect(time.Second, 5)}, opts...)
	return NewChannel("ws://test/events", d, opts...)
}

// =============================================================================
// BACKOFF
// =============================================================================

func TestBackoff(t *testing.T) {
	want := []time.Duration{1000, 2000, 4000, 8000, 16000}
	for i, ms := range want {
		assert.Equal(t, ms*time.Millisecond, Backoff(time.Second, i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, Backoff(time.Second, 0))
}

func TestChannel_ReconnectUntilExhausted(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.fail.Store(true)
	sched := &fakeScheduler{}
	ch := newTestChannel(dialer, sched)

	var exhausted []TransportEvent
	var errorsSeen atomic.Int32
	ch.On(EventExhausted, func(ev TransportEvent) { exhausted = append(exhausted, ev) })
	ch.On(EventError, func(TransportEvent) { errorsSeen.Add(1) })

	ch.Connect(context.Background())
	for sched.fireNext() {
	}

	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}, sched.delays())
	require.Len(t, exhausted, 1)
	assert.ErrorIs(t, exhausted[0].Err, ErrExhausted)
	assert.Equal(t, 5, exhausted[0].Attempt)
	assert.True(t, ch.Exhausted())
	assert.Equal(t, StateClosed, ch.State())
	assert.Equal(t, int32(6), dialer.calls.Load())
	assert.Equal(t, int32(6), errorsSeen.Load())

	// Network-online restarts the cycle from attempt 1.
	ch.Online()
	assert.False(t, ch.Exhausted())
	assert.Equal(t, 1, ch.Attempt())
	assert.Equal(t, []time.Duration{time.Second}, sched.pending())
}

func TestOnlineWatch_RevivesExhaustedChannel(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.fail.Store(true)
	sched := &fakeScheduler{}
	ch := newTestChannel(dialer, sched)

	ch.Connect(context.Background())
	for sched.fireNext() {
	}
	require.True(t, ch.Exhausted())

	var reachable atomic.Bool
	var checks atomic.Int32
	w := NewOnlineWatch(ch, WithWatchInterval(15*time.Second), WithReachCheck(func(context.Context) error {
		checks.Add(1)
		if !reachable.Load() {
			return errors.New("no route to host")
		}
		return nil
	}))
	defer w.Stop()
	require.Equal(t, []time.Duration{15 * time.Second}, sched.pending())

	// Still unreachable: stay exhausted and check again later.
	require.True(t, sched.fireNext())
	assert.True(t, ch.Exhausted())
	assert.Equal(t, []time.Duration{15 * time.Second}, sched.pending())

	reachable.Store(true)
	dialer.fail.Store(false)
	require.True(t, sched.fireNext())
	assert.False(t, ch.Exhausted())
	assert.Equal(t, StateOpen, ch.State())
	assert.Equal(t, int32(2), checks.Load())

	// Open channels are not checked.
	require.True(t, sched.fireNext())
	assert.Equal(t, int32(2), checks.Load())

	w.Stop()
	assert.Empty(t, sched.pending())
}

func TestTCPReachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, TCPReachable("ws://"+addr+"/events")(ctx))

	srv.Close()
	assert.Error(t, TCPReachable("ws://"+addr+"/events")(ctx))
	assert.Error(t, TCPReachable("://bad")(ctx))
}

func TestChannel_AttemptResetsOnOpen(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.fail.Store(true)
	sched := &fakeScheduler{}
	ch := newTestChannel(dialer, sched)

	ch.Connect(context.Background())
	require.True(t, sched.fireNext())
	assert.Equal(t, 2, ch.Attempt())

	dialer.fail.Store(false)
	require.True(t, sched.fireNext())
	assert.Equal(t, StateOpen, ch.State())
	assert.Equal(t, 0, ch.Attempt())

	// Losing the connection starts again at the base delay.
	dialer.last().Close()
	require.Eventually(t, func() bool { return ch.State() == StateClosed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{time.Second}, sched.pending())
}

// =============================================================================
// QUEUE
// =============================================================================

func TestChannel_QueueFlushedInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.fail.Store(true)
	sched := &fakeScheduler{}
	ch := newTestChannel(dialer, sched)
	ch.Connect(context.Background())

	for i := 1; i <= 3; i++ {
		sent, err := ch.Send(map[string]int{"n": i})
		require.NoError(t, err)
		assert.False(t, sent)
	}
	assert.Equal(t, 3, ch.QueueLen())

	dialer.fail.Store(false)
	require.True(t, sched.fireNext())
	require.Equal(t, StateOpen, ch.State())

	conn := dialer.last()
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, conn.messages())
	assert.Zero(t, ch.QueueLen())

	sent, err := ch.Send(map[string]int{"n": 4})
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, conn.messages(), 4)
}

func TestChannel_QueueBounded(t *testing.T) {
	ch := newTestChannel(&fakeDialer{}, &fakeScheduler{}, WithQueueSize(2))

	_, err := ch.Send("a")
	require.NoError(t, err)
	_, err = ch.Send("b")
	require.NoError(t, err)
	_, err = ch.Send("c")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, ch.QueueLen())
}

func TestChannel_SendBeforeConnectDoesNotDial(t *testing.T) {
	dialer := &fakeDialer{}
	ch := newTestChannel(dialer, &fakeScheduler{})

	sent, err := ch.Send("hello")
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Zero(t, dialer.calls.Load())
	assert.Equal(t, StateIdle, ch.State())
}

func TestChannel_CloseClearsQueueAndTimers(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.fail.Store(true)
	sched := &fakeScheduler{}
	ch := newTestChannel(dialer, sched)
	ch.Connect(context.Background())

	_, err := ch.Send("queued")
	require.NoError(t, err)
	require.Len(t, sched.pending(), 1)

	require.NoError(t, ch.Close())
	assert.Zero(t, ch.QueueLen())
	assert.Empty(t, sched.pending())
	assert.Equal(t, StateClosed, ch.State())

	_, err = ch.Send("late")
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	assert.NoError(t, ch.Close())
}

func TestChannel_CloseOpenConnection(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	ch := newTestChannel(dialer, sched)

	var disconnects atomic.Int32
	ch.On(EventDisconnect, func(TransportEvent) { disconnects.Add(1) })

	ch.Connect(context.Background())
	require.Equal(t, StateOpen, ch.State())

	require.NoError(t, ch.Close())
	assert.True(t, dialer.last().isClosed())
	assert.Equal(t, int32(1), disconnects.Load())

	// The read loop exiting must not schedule a reconnect.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sched.pending())
}

// =============================================================================
// HANDLERS
// =============================================================================

func TestChannel_HandlerPanicIsolated(t *testing.T) {
	dialer := &fakeDialer{}
	ch := newTestChannel(dialer, &fakeScheduler{})

	var calls []string
	ch.On(EventConnect, func(TransportEvent) { calls = append(calls, "first") })
	ch.On(EventConnect, func(TransportEvent) { panic("boom") })
	ch.On(EventConnect, func(TransportEvent) { calls = append(calls, "third") })

	assert.NotPanics(t, func() { ch.Connect(context.Background()) })
	assert.Equal(t, []string{"first", "third"}, calls)
}

func TestChannel_Off(t *testing.T) {
	dialer := &fakeDialer{}
	ch := newTestChannel(dialer, &fakeScheduler{})

	var a, b int
	offA := ch.On(EventConnect, func(TransportEvent) { a++ })
	ch.On(EventConnect, func(TransportEvent) { b++ })
	offA()
	offA()

	ch.Connect(context.Background())
	assert.Zero(t, a)
	assert.Equal(t, 1, b)
}

func TestChannel_MessageEvents(t *testing.T) {
	dialer := &fakeDialer{}
	ch := newTestChannel(dialer, &fakeScheduler{})

	got := make(chan TransportEvent, 4)
	ch.On(EventMessage, func(ev TransportEvent) { got <- ev })
	ch.Connect(context.Background())

	conn := dialer.last()
	conn.in <- []byte(`not json`)
	conn.in <- []byte(`{"type":"notice","payload":{"text":"hi"}}`)

	select {
	case ev := <-got:
		assert.Equal(t, "notice", ev.Type)
		var env struct {
			Payload struct{ Text string } `json:"payload"`
		}
		require.NoError(t, ev.Decode(&env))
		assert.Equal(t, "hi", env.Payload.Text)
	case <-time.After(time.Second):
		t.Fatal("no message event")
	}
	assert.Empty(t, got, "malformed message must not be delivered")
}

// =============================================================================
// HEARTBEAT
// =============================================================================

func TestHeartbeat_TimeoutForcesReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	ch := newTestChannel(dialer, sched)
	hb := NewHeartbeat(ch, WithInterval(30*time.Second, 10*time.Second))
	defer hb.Stop()

	ch.Connect(context.Background())
	first := dialer.last()

	msgs := first.messages()
	require.Len(t, msgs, 1)
	var p struct {
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &p))
	assert.Equal(t, "ping", p.Type)
	assert.NotZero(t, p.Timestamp)

	require.Equal(t, []time.Duration{10 * time.Second}, sched.pending())

	// No pong: the timeout drops the connection and schedules a reconnect.
	require.True(t, sched.fireNext())
	assert.True(t, first.isClosed())
	assert.Equal(t, StateClosed, ch.State())
	assert.Equal(t, []time.Duration{time.Second}, sched.pending())

	// Reconnect opens a fresh connection and a fresh ping.
	require.True(t, sched.fireNext())
	second := dialer.last()
	require.NotSame(t, first, second)
	assert.Equal(t, StateOpen, ch.State())
	assert.Len(t, second.messages(), 1)
	assert.Equal(t, []time.Duration{10 * time.Second}, sched.pending())
}

func TestHeartbeat_PongSchedulesNextPing(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	ch := newTestChannel(dialer, sched)
	hb := NewHeartbeat(ch, WithInterval(30*time.Second, 10*time.Second))
	defer hb.Stop()

	ch.Connect(context.Background())
	conn := dialer.last()

	conn.in <- []byte(`{"type":"pong","timestamp":1}`)
	require.Eventually(t, func() bool {
		p := sched.pending()
		return len(p) == 1 && p[0] == 30*time.Second
	}, time.Second, 5*time.Millisecond)

	require.True(t, sched.fireNext())
	assert.Len(t, conn.messages(), 2)
	assert.Equal(t, []time.Duration{10 * time.Second}, sched.pending())
	assert.False(t, conn.isClosed())
}

// echoDialer returns connections that answer a ping before Write returns.
type echoDialer struct {
	conn *fakeConn
	seen chan struct{}
}

func (d *echoDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.conn = newFakeConn()
	return &echoConn{fakeConn: d.conn, seen: d.seen}, nil
}

type echoConn struct {
	*fakeConn
	seen chan struct{}
}

func (c *echoConn) Write(ctx context.Context, data []byte) error {
	if err := c.fakeConn.Write(ctx, data); err != nil {
		return err
	}
	c.in <- []byte(`{"type":"pong"}`)
	select {
	case <-c.seen:
	case <-time.After(time.Second):
	}
	return nil
}

func TestHeartbeat_PongDuringWriteKeepsChannelOpen(t *testing.T) {
	dialer := &echoDialer{seen: make(chan struct{}, 1)}
	sched := &fakeScheduler{}
	ch := newTestChannel(dialer, sched)
	hb := NewHeartbeat(ch, WithInterval(30*time.Second, 10*time.Second))
	defer hb.Stop()

	// Registered after the heartbeat, so it runs once the pong was handled.
	off := ch.On(EventMessage, func(ev TransportEvent) {
		if ev.Type == "pong" {
			select {
			case dialer.seen <- struct{}{}:
			default:
			}
		}
	})
	defer off()

	ch.Connect(context.Background())

	assert.Equal(t, []time.Duration{30 * time.Second}, sched.pending())
	assert.Equal(t, StateOpen, ch.State())
	assert.False(t, dialer.conn.isClosed())
}

func TestHeartbeat_StopCancelsTimers(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	ch := newTestChannel(dialer, sched)
	hb := NewHeartbeat(ch)

	ch.Connect(context.Background())
	require.Len(t, sched.pending(), 1)

	hb.Stop()
	assert.Empty(t, sched.pending())

	require.NoError(t, ch.Close())
	assert.Empty(t, sched.pending())
}

// =============================================================================
// WEBSOCKET
// =============================================================================

func TestWebSocketDialer_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if strings.Contains(string(data), `"ping"`) {
				data = []byte(`{"type":"pong"}`)
			} else {
				data = []byte(`{"type":"echo","payload":` + string(data) + `}`)
			}
			if err := c.Write(r.Context(), websocket.MessageText, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ch := NewChannel(url, WebSocketDialer{})
	hb := NewHeartbeat(ch, WithInterval(time.Hour, time.Second))
	defer hb.Stop()

	types := make(chan string, 8)
	ch.On(EventMessage, func(ev TransportEvent) { types <- ev.Type })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)
	defer ch.Close()
	require.Equal(t, StateOpen, ch.State())

	sent, err := ch.Send(Envelope{Type: "turn", Payload: map[string]string{"state": "completed"}})
	require.NoError(t, err)
	assert.True(t, sent)

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen["pong"] && seen["echo"]) {
		select {
		case typ := <-types:
			seen[typ] = true
		case <-deadline:
			t.Fatalf("saw %v", seen)
		}
	}
}
