// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - Slash command table and parsing.

package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// SlashCommand is a parsed REPL command.
type SlashCommand struct {
	// Name is the canonical command, e.g. "/regen".
	Name string
	Args []string
	// Text is everything after the command word, spacing preserved.
	Text string
}

type slashSpec struct {
	name    string
	aliases []string
	usage   string
	desc    string
}

var slashCommands = []slashSpec{
	{"/help", []string{"/h", "/?"}, "/help", "Show available commands"},
	{"/new", []string{"/n"}, "/new", "Start a new conversation"},
	{"/list", []string{"/ls", "/l"}, "/list", "List conversations"},
	{"/switch", []string{"/sw"}, "/switch N", "Switch to conversation N from /list"},
	{"/delete", []string{"/del"}, "/delete N|all", "Delete conversation N, or every conversation"},
	{"/rename", nil, "/rename TITLE", "Rename the current conversation"},
	{"/clear", []string{"/c"}, "/clear", "Remove all messages from the current conversation"},
	{"/history", nil, "/history", "Show the current conversation with message numbers"},
	{"/regen", []string{"/r", "/regenerate"}, "/regen [N]", "Regenerate reply N (default: the last reply)"},
	{"/edit", []string{"/e"}, "/edit [N]", "Edit message N (default: your last message)"},
	{"/version", []string{"/v"}, "/version N live|I", "Show the live or I-th earlier version of reply N"},
	{"/diff", []string{"/d"}, "/diff N [A [B]]", "Compare versions A and B of reply N (default: previous and live)"},
	{"/model", []string{"/m"}, "/model [NAME]", "Show or switch model"},
	{"/temp", []string{"/t"}, "/temp [X]", "Show or set temperature (0-2)"},
	{"/export", nil, "/export [FILE]", "Export as JSON, or to FILE (.md, .html, .json)"},
	{"/status", []string{"/s"}, "/status", "Show session status"},
	{"/reconnect", nil, "/reconnect", "Retry the event channel now"},
	{"/quit", []string{"/q", "/exit"}, "/quit", "Exit"},
}

var slashIndex = func() map[string]string {
	idx := make(map[string]string)
	for _, spec := range slashCommands {
		idx[spec.name] = spec.name
		for _, a := range spec.aliases {
			idx[a] = spec.name
		}
	}
	return idx
}()

// ParseSlash parses a line starting with "/".
func ParseSlash(line string) (SlashCommand, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return SlashCommand{}, &CommandError{Command: line, Reason: "not a command"}
	}

	word := strings.ToLower(fields[0])
	if word == "/" {
		word = "/help"
	}
	name, ok := slashIndex[word]
	if !ok {
		reason := "unknown command (type /help for commands)"
		if hint := SuggestSlash(word); hint != "" {
			reason = "unknown command, did you mean " + hint + "?"
		}
		return SlashCommand{}, &CommandError{Command: word, Reason: reason}
	}

	return SlashCommand{
		Name: name,
		Args: fields[1:],
		Text: strings.TrimSpace(line[len(fields[0]):]),
	}, nil
}

// slashHelpText lists the commands, one per line.
func slashHelpText() string {
	var b strings.Builder
	for _, spec := range slashCommands {
		fmt.Fprintf(&b, "  %-20s %s\n", spec.usage, spec.desc)
	}
	return b.String()
}

// parsePosition converts a 1-based position among n items to an index.
func parsePosition(s string, n int, what string) (int, error) {
	pos, err := strconv.Atoi(s)
	if err != nil {
		return 0, NewValidationErrorWithExample(what+" number", s, "not a number", "/switch 2")
	}
	if pos < 1 || pos > n {
		if n == 0 {
			return 0, NewNotFoundError(what, s)
		}
		return 0, NewValidationError(what+" number", s, fmt.Sprintf("want 1-%d", n))
	}
	return pos - 1, nil
}
