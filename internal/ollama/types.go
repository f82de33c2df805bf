// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", "system"
	Content string `json:"content"` // The message content
}

// ChatRequest is the request body for /api/chat endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`             // Model name (e.g., "qwen2.5-coder:14b")
	Messages []Message `json:"messages"`          // Conversation history
	Stream   bool      `json:"stream"`            // Always true for chat turns
	Options  *Options  `json:"options,omitempty"` // Model parameters
}

// Options contains model parameters for inference.
type Options struct {
	Temperature float64 `json:"temperature"`       // 0.0-2.0
	NumCtx      int     `json:"num_ctx,omitempty"` // Context window size
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is one NDJSON record of a streaming /api/chat response.
type ChatResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Message            Message   `json:"message"`
	Done               bool      `json:"done"`
	DoneReason         string    `json:"done_reason,omitempty"`
	TotalDuration      int64     `json:"total_duration,omitempty"`       // nanoseconds
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`    // number of tokens in prompt
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"` // nanoseconds
	EvalCount          int       `json:"eval_count,omitempty"`           // number of tokens generated
	EvalDuration       int64     `json:"eval_duration,omitempty"`        // nanoseconds

	// Error is set on mid-stream failures reported by the server.
	Error string `json:"error,omitempty"`
}

// VersionResponse is the response from /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// STREAM EVENTS
// =============================================================================

// EventKind discriminates StreamEvent.
type EventKind int

const (
	// EventDelta carries an incremental piece of assistant text.
	EventDelta EventKind = iota
	// EventDone marks the terminal record of a response.
	EventDone
	// EventError carries an error record sent by the server mid-stream.
	EventError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamEvent is a decoded unit of a streaming response.
type StreamEvent struct {
	Kind  EventKind
	Delta string

	// Populated on EventDone.
	DoneReason       string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalDuration    time.Duration
	EvalDuration     time.Duration

	// Populated on EventError.
	Message string
}

// TokensPerSecond calculates the generation speed of a done event.
func (e StreamEvent) TokensPerSecond() float64 {
	if e.EvalDuration <= 0 {
		return 0
	}
	return float64(e.CompletionTokens) / e.EvalDuration.Seconds()
}
