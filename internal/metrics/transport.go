// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		channelReconnectsTotal,
		channelHeartbeatTimeoutsTotal,
		channelDroppedTotal,
		channelOnline,
	)
}

var (
	channelReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rigrun_chat_channel_reconnects_total",
			Help: "Reconnect attempts scheduled by the event channel.",
		},
	)

	channelHeartbeatTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rigrun_chat_channel_heartbeat_timeouts_total",
			Help: "Connections closed because no pong arrived in time.",
		},
	)

	channelDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rigrun_chat_channel_dropped_total",
			Help: "Outbound messages dropped because the queue was full.",
		},
	)

	channelOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rigrun_chat_channel_online",
			Help: "1 while the event channel is open.",
		},
	)
)

// ReconnectScheduled counts one reconnect attempt.
func ReconnectScheduled() { channelReconnectsTotal.Inc() }

// HeartbeatTimeout counts one missed pong.
func HeartbeatTimeout() { channelHeartbeatTimeoutsTotal.Inc() }

// MessageDropped counts one message lost to a full queue.
func MessageDropped() { channelDroppedTotal.Inc() }

// SetOnline records channel connectivity.
func SetOnline(online bool) {
	if online {
		channelOnline.Set(1)
		return
	}
	channelOnline.Set(0)
}
