// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// NoticeKind classifies a user-visible notice.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	// NoticeStopped reports a cancelled turn. It is not an error.
	NoticeStopped
	NoticeError
	// NoticeWarning reports degraded background state, such as a lost
	// event channel. Chat keeps working.
	NoticeWarning
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeInfo:
		return "info"
	case NoticeStopped:
		return "stopped"
	case NoticeError:
		return "error"
	case NoticeWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Notice is a one-line message for the user.
type Notice struct {
	Kind NoticeKind
	Text string
	Err  error
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }
