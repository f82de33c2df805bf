// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultWatchInterval = 15 * time.Second
	defaultReachTimeout  = 3 * time.Second
)

// ReachFunc reports whether the network path to the endpoint is back.
type ReachFunc func(ctx context.Context) error

// OnlineWatch is the network-online trigger for an exhausted Channel. While
// the channel is exhausted it checks the endpoint every interval and calls
// Online once the check succeeds.
type OnlineWatch struct {
	ch       *Channel
	sched    Scheduler
	logger   zerolog.Logger
	reach    ReachFunc
	interval time.Duration

	mu      sync.Mutex
	timer   Timer
	stopped bool
}

// WatchOption configures an OnlineWatch.
type WatchOption func(*OnlineWatch)

// WithReachCheck replaces the default TCP check.
func WithReachCheck(p ReachFunc) WatchOption {
	return func(w *OnlineWatch) { w.reach = p }
}

// WithWatchInterval sets the time between checks.
func WithWatchInterval(d time.Duration) WatchOption {
	return func(w *OnlineWatch) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewOnlineWatch starts watching ch. The default check dials the host of
// the channel URL over TCP.
func NewOnlineWatch(ch *Channel, opts ...WatchOption) *OnlineWatch {
	w := &OnlineWatch{
		ch:       ch,
		sched:    ch.sched,
		logger:   ch.logger,
		reach:    TCPReachable(ch.url),
		interval: DefaultWatchInterval,
	}
	for _, opt := range opts {
		opt(w)
	}

	w.mu.Lock()
	w.timer = w.sched.AfterFunc(w.interval, w.check)
	w.mu.Unlock()
	return w
}

// Stop cancels the pending check.
func (w *OnlineWatch) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *OnlineWatch) check() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.mu.Unlock()

	if w.ch.Exhausted() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultReachTimeout)
		err := w.reach(ctx)
		cancel()
		if err == nil {
			w.ch.Online()
		} else {
			w.logger.Debug().Err(err).Msg("event endpoint still unreachable")
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.timer = w.sched.AfterFunc(w.interval, w.check)
	}
}

// TCPReachable returns a check that opens and closes a TCP connection to the
// host of rawURL. ws and http default to port 80, wss and https to 443.
func TCPReachable(rawURL string) ReachFunc {
	return func(ctx context.Context) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("transport: parse %q: %w", rawURL, err)
		}
		host := u.Host
		if u.Port() == "" {
			port := "80"
			if u.Scheme == "wss" || u.Scheme == "https" {
				port = "443"
			}
			host = net.JoinHostPort(u.Hostname(), port)
		}

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
