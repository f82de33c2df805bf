// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

// Sentinel errors for easy checking with errors.Is.
var (
	// ErrNotFound is returned when a message identity is not in the active
	// conversation.
	ErrNotFound = errors.New("message not found")

	// ErrConversationNotFound is returned for unknown conversation IDs.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrRange is matched by every *RangeError.
	ErrRange = errors.New("version index out of range")

	// ErrBusy is returned when a conversation-level change is attempted
	// while a turn is streaming into the active conversation.
	ErrBusy = errors.New("a response is still streaming")
)

// RangeError reports a version index outside [0, Len).
type RangeError struct {
	ID    int64
	Index int
	Len   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("version %d out of range for message %d (%d versions)", e.Index, e.ID, e.Len)
}

// Is makes errors.Is(err, ErrRange) true for any RangeError.
func (e *RangeError) Is(target error) bool {
	return target == ErrRange
}
