// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Version selects which content of a message is displayed: the live content
// or an entry of its history.
type Version struct {
	history bool
	index   int
}

// Live selects the current content.
var Live = Version{}

// VersionAt selects History[i].
func VersionAt(i int) Version {
	return Version{history: true, index: i}
}

// IsLive reports whether v selects the live content.
func (v Version) IsLive() bool {
	return !v.history
}

// Index returns the history index selected by v, or -1 for Live.
func (v Version) Index() int {
	if !v.history {
		return -1
	}
	return v.index
}

// String returns "live" or the history index.
func (v Version) String() string {
	if !v.history {
		return "live"
	}
	return strconv.Itoa(v.index)
}

// ParseVersion parses "live" or a non-negative history index.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "live" || s == "" {
		return Live, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return Version{}, fmt.Errorf("invalid version %q: want \"live\" or an index", s)
	}
	return VersionAt(i), nil
}

// ContentAt returns the content of msg selected by v.
func ContentAt(msg model.Message, v Version) (string, error) {
	if v.IsLive() {
		return msg.Content, nil
	}
	if v.index < 0 || v.index >= len(msg.History) {
		return "", &RangeError{ID: msg.ID(), Index: v.index, Len: len(msg.History)}
	}
	return msg.History[v.index], nil
}
