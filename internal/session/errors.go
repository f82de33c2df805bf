// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoModelSelected is returned before any side effect when no model
	// is configured.
	ErrNoModelSelected = errors.New("no model selected")

	// ErrBusy is returned when a turn is already sending or streaming.
	ErrBusy = errors.New("a response is already being generated")

	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrRequestFailed matches every *RequestError.
	ErrRequestFailed = errors.New("request failed")

	// ErrNotUserMessage is returned by Edit for non-user messages.
	ErrNotUserMessage = errors.New("only user messages can be edited")

	// ErrNotAssistantMessage is returned by Regenerate for non-assistant
	// messages.
	ErrNotAssistantMessage = errors.New("only assistant messages can be regenerated")
)

// RequestError is a network, HTTP or stream failure during a turn.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Is reports whether target is ErrRequestFailed.
func (e *RequestError) Is(target error) bool {
	return target == ErrRequestFailed
}

// streamError is an error record delivered inside the stream.
type streamError struct {
	msg string
}

func (e *streamError) Error() string { return "model server: " + e.msg }
