// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport provides a resilient duplex event channel.
//
// A Channel moves through Idle, Connecting, Open, Closing and Closed. Lost
// connections are retried after base*2^(attempt-1); the attempt counter
// resets on every Open and after maxAttempts consecutive failures the
// channel emits EventExhausted and waits for Online or Connect. Payloads
// sent while not open are queued (bounded, FIFO) and flushed on Open.
//
// # Key Types
//
//   - Channel: connection state machine, outbound queue and handler fan-out
//   - Heartbeat: ping/pong liveness check that drops dead connections
//   - Dialer, Conn: connection abstraction; WebSocketDialer is the real one
//   - Scheduler: timer source, replaceable in tests
//
// # Usage
//
//	ch := transport.NewChannel("ws://127.0.0.1:8787/events", transport.WebSocketDialer{},
//	    transport.WithReconnect(time.Second, 5),
//	    transport.WithLogger(logger),
//	)
//	hb := transport.NewHeartbeat(ch)
//	defer hb.Stop()
//
//	ch.On(transport.EventExhausted, func(ev transport.TransportEvent) {
//	    logger.Error().Err(ev.Err).Msg("event channel offline")
//	})
//	ch.Connect(ctx)
//	defer ch.Close()
//
//	ch.Send(transport.Envelope{Type: "turn", Payload: summary})
package transport
