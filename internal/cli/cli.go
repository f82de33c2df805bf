// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Process argument parsing and usage text for rigrun-chat.

package cli

import (
	"fmt"
	"io"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdConfig
	CmdDoctor
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	Model      string
	LogLevel   string
	Offline    bool
	NoMarkdown bool
	Quiet      bool

	// Command-specific
	Query      string
	Subcommand string
	Raw        []string
}

// boolFlags never take a value.
var boolFlags = []string{"offline", "no-network", "no-markdown", "quiet", "q", "verbose", "v", "help", "h", "version"}

const usageText = `rigrun-chat - terminal chat for a local Ollama server

Usage:
  rigrun-chat [chat]             Start an interactive chat (default)
  rigrun-chat ask "question"     Ask a single question and exit
  rigrun-chat config [show|path|init]
                                 Show the effective config, its path, or
                                 write a default config file
  rigrun-chat doctor             Check Ollama, storage and config health
  rigrun-chat version            Show version information
  rigrun-chat help               Show this help

Global Flags:
  --config PATH     Config file (default: %s)
  -m, --model NAME  Model to use (overrides config)
  --log-level LVL   trace, debug, info, warn or error
  --offline         Only allow localhost endpoints
  --no-markdown     Print responses as plain text
  -q, --quiet       Minimal output
  -v, --verbose     Same as --log-level debug

Chat Commands:
%s
Environment:
  RIGRUN_CHAT_MODEL, RIGRUN_CHAT_OLLAMA_URL, RIGRUN_CHAT_STORAGE,
  RIGRUN_CHAT_LOG_LEVEL, RIGRUN_CHAT_OFFLINE and friends override the
  config file.

Version: %s
`

// PrintUsage writes the usage text.
func PrintUsage(w io.Writer, configPath string) {
	fmt.Fprintf(w, usageText, configPath, slashHelpText(), Version)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "rigrun-chat version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
}

// Parse parses process arguments (without the program name).
func Parse(argv []string) (Command, Args, error) {
	p := NewArgParser(argv, boolFlags...)

	args := Args{
		ConfigPath: p.Flag("config"),
		Model:      p.FlagOrDefault("model", p.Flag("m")),
		LogLevel:   p.Flag("log-level"),
		Offline:    p.BoolFlag("offline") || p.BoolFlag("no-network"),
		NoMarkdown: p.BoolFlag("no-markdown"),
		Quiet:      p.BoolFlag("quiet") || p.BoolFlag("q"),
	}
	if args.LogLevel == "" && (p.BoolFlag("verbose") || p.BoolFlag("v")) {
		args.LogLevel = "debug"
	}

	if p.BoolFlag("help") || p.BoolFlag("h") {
		return CmdHelp, args, nil
	}
	if p.BoolFlag("version") {
		return CmdVersion, args, nil
	}

	if p.PositionalCount() == 0 {
		return CmdChat, args, nil
	}

	cmd := strings.ToLower(p.Positional(0))
	args.Raw = p.PositionalFrom(1)

	switch cmd {
	case "chat":
		return CmdChat, args, nil

	case "ask":
		args.Query = strings.TrimSpace(strings.Join(args.Raw, " "))
		if args.Query == "" {
			return CmdAsk, args, NewValidationError("query", "", "ask needs a question")
		}
		return CmdAsk, args, nil

	case "config":
		args.Subcommand = strings.ToLower(p.Positional(1))
		switch args.Subcommand {
		case "":
			args.Subcommand = "show"
		case "show", "path", "init":
		default:
			return CmdConfig, args, NewValidationError("config subcommand", args.Subcommand, "want show, path or init")
		}
		return CmdConfig, args, nil

	case "doctor":
		return CmdDoctor, args, nil

	case "version":
		return CmdVersion, args, nil

	case "help":
		return CmdHelp, args, nil

	default:
		reason := "unknown command"
		if hint := SuggestCommand(cmd); hint != "" {
			reason += ", did you mean '" + hint + "'?"
		}
		return CmdHelp, args, &CommandError{Command: cmd, Reason: reason}
	}
}
