// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnFinished(t *testing.T) {
	before := testutil.ToFloat64(chatTurnsTotal.WithLabelValues("llama3", "completed"))
	TurnFinished(" Llama3 ", "Completed")
	after := testutil.ToFloat64(chatTurnsTotal.WithLabelValues("llama3", "completed"))
	assert.Equal(t, before+1, after)
}

func TestObserveTokens_SkipsZero(t *testing.T) {
	ObserveTokens("m-tokens", 0, 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(chatTokensTotal.WithLabelValues("m-tokens", "completion")))
	assert.Equal(t, 0.0, testutil.ToFloat64(chatTokensTotal.WithLabelValues("m-tokens", "prompt")))
}

func TestSetOnline(t *testing.T) {
	SetOnline(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(channelOnline))
	SetOnline(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(channelOnline))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	DecodeWarning()
	ReconnectScheduled()
	ObserveFirstToken("m", 120*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	for _, name := range []string{
		"rigrun_chat_decode_warnings_total",
		"rigrun_chat_channel_reconnects_total",
		"rigrun_chat_first_token_seconds_bucket",
		"go_goroutines",
	} {
		assert.Contains(t, string(body), name)
	}
}

func TestNorm(t *testing.T) {
	assert.Equal(t, "unknown", norm("  "))
	assert.Equal(t, "abc", norm(" ABC "))
}
