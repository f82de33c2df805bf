// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for REPL output.
//
// Colors are disabled for non-TTY output and follow NO_COLOR and
// FORCE_COLOR.

package cli

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-chat/internal/render"
)

func init() {
	lipgloss.SetColorProfile(render.ColorProfile(os.Stdout))
}

var (
	// titleStyle is used for banners and section headers
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	// labelStyle is used for field labels
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14)

	// valueStyle is used for regular values and text
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	// promptStyle is used for the input prompt
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	// commandStyle is used for command names and confirmations
	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	// infoStyle is used for secondary text
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	// warningStyle is used for warnings
	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// errorStyle is used for errors
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// separator returns a horizontal rule of the given width.
func separator(width int) string {
	return infoStyle.Render(strings.Repeat("─", width))
}
