// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"sync/atomic"

	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/transport"
)

// ChannelEvents is the subscription side of the event channel.
type ChannelEvents interface {
	On(kind transport.EventKind, h transport.Handler) (off func())
}

// ReportChannel shows event channel loss and recovery through n. Only the
// exhausted state is reported; single reconnects stay in the log.
func ReportChannel(ch ChannelEvents, n session.Notifier) (off func()) {
	var lost atomic.Bool

	offExhausted := ch.On(transport.EventExhausted, func(ev transport.TransportEvent) {
		lost.Store(true)
		n.Notify(session.Notice{
			Kind: session.NoticeWarning,
			Text: "Event channel offline (use /reconnect to retry now)",
			Err:  ev.Err,
		})
	})
	offConnect := ch.On(transport.EventConnect, func(transport.TransportEvent) {
		if lost.CompareAndSwap(true, false) {
			n.Notify(session.Notice{Kind: session.NoticeInfo, Text: "Event channel reconnected"})
		}
	})

	return func() {
		offExhausted()
		offConnect()
	}
}
