// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		chatTurnsTotal,
		chatFirstTokenSeconds,
		chatTokensTotal,
		chatDecodeWarningsTotal,
		renderFramesTotal,
	)
}

var (
	chatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigrun_chat_turns_total",
			Help: "Chat turns by model and final state.",
		},
		[]string{"model", "outcome"}, // outcome: completed, cancelled, failed
	)

	chatFirstTokenSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rigrun_chat_first_token_seconds",
			Help:    "Time from request to first streamed delta.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"model"},
	)

	chatTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigrun_chat_tokens_total",
			Help: "Tokens reported by the model server.",
		},
		[]string{"model", "kind"}, // kind: prompt, completion
	)

	chatDecodeWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rigrun_chat_decode_warnings_total",
			Help: "Stream lines that could not be decoded.",
		},
	)

	renderFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigrun_chat_render_frames_total",
			Help: "Streaming redraws, drawn or skipped by the frame limiter.",
		},
		[]string{"result"},
	)
)

// TurnFinished counts a turn that reached a terminal state.
func TurnFinished(model, outcome string) {
	chatTurnsTotal.WithLabelValues(norm(model), norm(outcome)).Inc()
}

// ObserveFirstToken records time to first delta.
func ObserveFirstToken(model string, d time.Duration) {
	chatFirstTokenSeconds.WithLabelValues(norm(model)).Observe(d.Seconds())
}

// ObserveTokens adds token counts from a done record.
func ObserveTokens(model string, prompt, completion int) {
	if prompt > 0 {
		chatTokensTotal.WithLabelValues(norm(model), "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		chatTokensTotal.WithLabelValues(norm(model), "completion").Add(float64(completion))
	}
}

// DecodeWarning counts one skipped stream line.
func DecodeWarning() {
	chatDecodeWarningsTotal.Inc()
}

// RenderFrame counts one streaming redraw decision.
func RenderFrame(drawn bool) {
	if drawn {
		renderFramesTotal.WithLabelValues("drawn").Inc()
		return
	}
	renderFramesTotal.WithLabelValues("skipped").Inc()
}
