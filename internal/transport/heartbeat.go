// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/metrics"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongTimeout  = 10 * time.Second
)

// ErrHeartbeatTimeout is the cause passed to Drop when no pong arrives.
var ErrHeartbeatTimeout = errors.New("transport: heartbeat timeout")

type ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Heartbeat checks an open Channel with ping messages. A ping that gets no
// pong within the timeout drops the connection so the channel reconnects.
// The next ping is scheduled only after a pong answers the current ping.
type Heartbeat struct {
	ch       *Channel
	sched    Scheduler
	logger   zerolog.Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu        sync.Mutex
	pingTimer Timer
	pongTimer Timer
	gen       int
	offs      []func()
}

// HeartbeatOption configures a Heartbeat.
type HeartbeatOption func(*Heartbeat)

// WithInterval sets the ping interval and pong timeout.
func WithInterval(interval, timeout time.Duration) HeartbeatOption {
	return func(h *Heartbeat) {
		if interval > 0 {
			h.interval = interval
		}
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// NewHeartbeat attaches a heartbeat to ch. It shares the channel's
// scheduler and logger.
func NewHeartbeat(ch *Channel, opts ...HeartbeatOption) *Heartbeat {
	h := &Heartbeat{
		ch:       ch,
		sched:    ch.sched,
		logger:   ch.logger,
		interval: DefaultPingInterval,
		timeout:  DefaultPongTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.offs = []func(){
		ch.On(EventConnect, func(TransportEvent) { h.start() }),
		ch.On(EventMessage, func(ev TransportEvent) {
			if ev.Type == "pong" {
				h.pong()
			}
		}),
		ch.On(EventDisconnect, func(TransportEvent) { h.stop() }),
	}
	return h
}

// Stop detaches the heartbeat and cancels its timers.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	offs := h.offs
	h.offs = nil
	h.mu.Unlock()

	for _, off := range offs {
		off()
	}
	h.stop()
}

func (h *Heartbeat) start() {
	h.stop()
	h.ping()
}

func (h *Heartbeat) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen++
	h.stopTimersLocked()
}

func (h *Heartbeat) stopTimersLocked() {
	if h.pingTimer != nil {
		h.pingTimer.Stop()
		h.pingTimer = nil
	}
	if h.pongTimer != nil {
		h.pongTimer.Stop()
		h.pongTimer = nil
	}
}

func (h *Heartbeat) ping() {
	// The pong timer is armed before the write: a pong may arrive while
	// Write is still in flight.
	h.mu.Lock()
	h.pingTimer = nil
	gen := h.gen
	pongTimer := h.sched.AfterFunc(h.timeout, func() { h.expire(gen) })
	h.pongTimer = pongTimer
	h.mu.Unlock()

	sent, err := h.ch.send(ping{Type: "ping", Timestamp: h.now().UnixMilli()}, false)
	if err == nil && sent {
		return
	}

	// Connection gone; the disconnect handler owns the rest of the cleanup.
	h.mu.Lock()
	defer h.mu.Unlock()
	pongTimer.Stop()
	if h.pongTimer == pongTimer {
		h.pongTimer = nil
	}
}

func (h *Heartbeat) pong() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pongTimer == nil {
		return
	}
	h.pongTimer.Stop()
	h.pongTimer = nil
	h.pingTimer = h.sched.AfterFunc(h.interval, h.ping)
}

func (h *Heartbeat) expire(gen int) {
	h.mu.Lock()
	if gen != h.gen || h.pongTimer == nil {
		h.mu.Unlock()
		return
	}
	h.pongTimer = nil
	h.mu.Unlock()

	metrics.HeartbeatTimeout()
	h.logger.Warn().Dur("timeout", h.timeout).Msg("heartbeat timeout, reconnecting")
	h.ch.Drop(ErrHeartbeatTimeout)
}
