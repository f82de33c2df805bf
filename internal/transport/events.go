// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import "encoding/json"

// EventKind identifies a channel event.
type EventKind int

const (
	// EventConnect fires after each successful Open, once the queue is flushed.
	EventConnect EventKind = iota
	// EventMessage carries one inbound JSON message.
	EventMessage
	// EventError reports a failed connection attempt.
	EventError
	// EventExhausted fires once when reconnect attempts run out.
	EventExhausted
	// EventDisconnect fires when an open connection is lost or closed.
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventExhausted:
		return "exhausted"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// TransportEvent is delivered to handlers registered with Channel.On.
type TransportEvent struct {
	Kind EventKind

	// Type is the "type" field of an inbound message.
	Type string
	// Data is the raw inbound message.
	Data json.RawMessage

	Err     error
	Attempt int
}

// Decode unmarshals Data into v.
func (e TransportEvent) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Handler receives channel events.
type Handler func(TransportEvent)

// Envelope is the outbound message shape for application events.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}
