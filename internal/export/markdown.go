// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/conversation"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown format. Each message shows the
// version currently selected for display.
func (e *MarkdownExporter) Export(doc *conversation.ExportDocument) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	if len(doc.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	var sb strings.Builder

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(doc.Title))
		fmt.Fprintf(&sb, "date: %s\n", doc.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(doc.Messages))
		fmt.Fprintf(&sb, "exported: %s\n", doc.ExportedAt.Format(time.RFC3339))
		sb.WriteString("generator: rigrun-chat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(doc.Title))

	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(doc.CreatedAt))
		fmt.Fprintf(&sb, "- **Messages**: %d\n", len(doc.Messages))
		sb.WriteString("\n---\n\n")
	}

	for i, msg := range doc.Messages {
		label := roleLabel(msg.Role)
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		sb.WriteString(e.formatMessageContent(msg.DisplayContent()))
		sb.WriteString("\n\n")

		if note := versionNote(msg); note != "" && e.options.IncludeMetadata {
			fmt.Fprintf(&sb, "<sub>%s</sub>\n\n", note)
		}

		// Add separator between messages (except last)
		if i < len(doc.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from rigrun-chat on %s*\n",
		doc.ExportedAt.Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatMessageContent keeps the text as markdown and turns reasoning spans
// into collapsed <details> blocks.
func (e *MarkdownExporter) formatMessageContent(content string) string {
	var sb strings.Builder
	for _, p := range splitThink(content) {
		if !p.think {
			sb.WriteString(strings.TrimSpace(p.text))
			sb.WriteString("\n\n")
			continue
		}
		if !e.options.IncludeThink {
			continue
		}
		sb.WriteString("<details>\n<summary>Thinking</summary>\n\n")
		sb.WriteString(p.text)
		sb.WriteString("\n\n</details>\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes values that contain YAML syntax characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}

