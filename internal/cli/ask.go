// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single query command handler.
//
// Command: ask QUESTION
//
// Examples:
//   rigrun-chat ask "What is the capital of France?"
//   rigrun-chat ask -m llama3 "Explain this error"
//   rigrun-chat ask -q "Summarize RFC 6455" > summary.txt

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigrun-chat/internal/session"
)

// Ask sends one message into the active conversation and waits for the
// reply. The reply itself is printed by the renderer; Ask only adds the
// stats line. An interrupt stops generation and keeps the partial reply.
//
// Request failures are returned for the exit code but have already been
// shown by the notifier.
func Ask(ctx context.Context, ctrl Controller, out io.Writer, query string, quiet bool) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sig:
			ctrl.Cancel()
		case <-done:
		}
	}()

	res, err := ctrl.Send(ctx, norm.NFC.String(query))
	if err != nil {
		return err
	}
	if res.State == session.StateCompleted && !quiet {
		fmt.Fprintln(out, infoStyle.Render(turnStats(ctrl.Model(), res)))
	}
	return nil
}
