// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles holds the lipgloss styles used for chat output.
type Styles struct {
	User      lipgloss.Style
	Assistant lipgloss.Style
	Version   lipgloss.Style
	Think     lipgloss.Style
	ThinkHead lipgloss.Style
	Rule      lipgloss.Style
	Info      lipgloss.Style
	Stopped   lipgloss.Style
	Error     lipgloss.Style
}

// NewStyles builds the styles for a color profile. termenv.Ascii yields
// plain text.
func NewStyles(profile termenv.Profile) Styles {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(profile)

	return Styles{
		User:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		Version:   r.NewStyle().Foreground(lipgloss.Color("245")),
		Think:     r.NewStyle().Faint(true).Italic(true),
		ThinkHead: r.NewStyle().Faint(true).Foreground(lipgloss.Color("141")),
		Rule:      r.NewStyle().Foreground(lipgloss.Color("240")),
		Info:      r.NewStyle().Foreground(lipgloss.Color("245")),
		Stopped:   r.NewStyle().Foreground(lipgloss.Color("214")),
		Error:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}
