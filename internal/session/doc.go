// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives one chat turn at a time.
//
// A turn moves Idle → Sending → Streaming → Completed, Cancelled or Failed.
// The placeholder assistant message is appended only after the model server
// accepts the request. Each streamed delta is folded into the placeholder
// through Store.ReplaceTail after re-running think.Extract over the whole
// accumulated reply.
//
// # Key Types
//
//   - Controller: turn state machine with Send, Cancel, Regenerate and Edit
//   - Result: how a turn ended, with token statistics
//   - Notice, Notifier: user-visible messages ("Generation stopped", errors)
//   - RequestError: network or stream failure, matches ErrRequestFailed
//
// # Usage
//
//	ctrl := session.New(store, ollamaClient,
//	    session.WithModel("llama3.2"),
//	    session.WithLogger(logger),
//	    session.WithNotifier(session.NotifierFunc(ui.ShowNotice)),
//	)
//
//	res, err := ctrl.Send(ctx, "hi")
//	switch {
//	case errors.Is(err, session.ErrNoModelSelected):
//	    // prompt for /model
//	case res.State == session.StateCancelled:
//	    // partial reply kept
//	}
//
// Cancel may be called from a signal handler while Send is blocked.
package session
