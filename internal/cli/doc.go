// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the interactive chat loop.
//
// # Key Types
//
//   - Command: the process-level command (chat, ask, config, doctor, version, help)
//   - Args: parsed global flags and command arguments
//   - REPL: reads lines, sends messages and runs slash commands
//   - ChatCLI: line editing and input history backed by liner
//   - SlashCommand: a parsed /command with its arguments
//   - Doctor: environment health checks with fix hints
//
// # Usage
//
//	cmd, args, err := cli.Parse(os.Args[1:])
//	switch cmd {
//	case cli.CmdChat:
//	    in := cli.NewChatCLI(cli.HistoryPath())
//	    defer in.Close()
//	    return cli.NewREPL(ctrl, store, in, os.Stdout).Run(ctx)
//	case cli.CmdAsk:
//	    return cli.Ask(ctx, ctrl, os.Stdout, args.Query, args.Quiet)
//	}
//
// Errors returned by commands map to process exit codes with GetExitCode.
package cli
