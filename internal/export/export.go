// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/think"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for conversation exporters.
type Exporter interface {
	// Export converts a conversation to the target format and returns the content.
	Export(doc *conversation.ExportDocument) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md", ".html").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// ErrEmptyConversation is returned by the document formats for a
// conversation without messages.
var ErrEmptyConversation = errors.New("conversation has no messages")

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeMetadata includes the metadata header (dates, message count).
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool

	// IncludeThink keeps reasoning spans as collapsible blocks. When false
	// they are dropped.
	IncludeThink bool

	// Theme for HTML export ("light" or "dark").
	// Default: "dark"
	Theme string
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		IncludeThink:      true,
		Theme:             "dark",
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ForPath picks the exporter for path by extension. Unknown extensions
// get JSON.
func ForPath(path string, opts *Options) Exporter {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return NewMarkdownExporter(opts)
	case ".html", ".htm":
		return NewHTMLExporter(opts)
	default:
		return NewJSONExporter(opts)
	}
}

// WriteFile exports doc to path. When path is an existing directory a file
// name is derived from the conversation title. It returns the written path.
func WriteFile(doc *conversation.ExportDocument, path string, opts *Options) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, DefaultFilename(doc, ".md"))
	}

	content, err := ForPath(path, opts).Export(doc)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	if err := util.AtomicWriteFile(path, content, 0600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// DefaultFilename returns conversation_<title>_<timestamp><ext>.
func DefaultFilename(doc *conversation.ExportDocument, ext string) string {
	return fmt.Sprintf("conversation_%s_%s%s",
		sanitizeFilename(doc.Title),
		doc.ExportedAt.Format("20060102_150405"),
		ext,
	)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 50
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			result = append(result, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "conversation"
	}
	return string(result)
}

// part is a run of message text, either plain or a reasoning span.
type part struct {
	text  string
	think bool
}

// splitThink splits content into plain text and reasoning spans. An
// unclosed span stays in the plain text.
func splitThink(content string) []part {
	res := think.Extract(content)
	if len(res.Segments) == 0 {
		return []part{{text: content}}
	}

	var parts []part
	pos := 0
	for _, seg := range res.Segments {
		if text := content[pos:seg.Start]; strings.TrimSpace(text) != "" {
			parts = append(parts, part{text: text})
		}
		parts = append(parts, part{text: strings.TrimSpace(seg.Body), think: true})
		pos = seg.End
	}
	if text := content[pos:]; strings.TrimSpace(text) != "" {
		parts = append(parts, part{text: text})
	}
	return parts
}

// roleLabel returns a formatted label for the message role.
func roleLabel(role model.Role) string {
	if role == "" {
		return "Unknown"
	}
	return role.DisplayName()
}

// versionNote describes the versions of a regenerated reply, or "".
func versionNote(msg model.Message) string {
	n := msg.VersionCount()
	if n <= 1 {
		return ""
	}
	if msg.ActiveVersion == 0 {
		return fmt.Sprintf("version: live of %d", n)
	}
	return fmt.Sprintf("version: history %d of %d", msg.ActiveVersion-1, n)
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a message timestamp for inline display.
func formatShortTimestamp(msg model.Message) string {
	return msg.Time().Format("15:04:05")
}
