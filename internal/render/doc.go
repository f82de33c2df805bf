// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render prints conversations to a terminal.
//
// # Key Types
//
//   - Terminal: incremental conversation printer and notice sink
//   - Options: markdown, reasoning visibility, frame cap and color profile
//   - Styles: lipgloss styles for roles, reasoning blocks and notices
//
// # Usage
//
//	term := render.NewTerminal(os.Stdout, render.DetectOptions(os.Stdout, cfg.UI))
//	store := conversation.NewStore(kv, term)
//	ctrl := session.New(store, client, session.WithNotifier(term))
package render
