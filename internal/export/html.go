// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

var (
	codeBlockRegex  = regexp.MustCompile("```([a-zA-Z0-9_+-]*)\n([\\s\\S]*?)```")
	inlineCodeRegex = regexp.MustCompile("`([^`\n]+)`")
)

// HTMLExporter exports conversations to a single HTML page with embedded CSS.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Theme != "light" {
		opts.Theme = "dark"
	}
	return &HTMLExporter{options: opts}
}

// Export converts a conversation to HTML format.
func (e *HTMLExporter) Export(doc *conversation.ExportDocument) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	if len(doc.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	var sb strings.Builder
	title := html.EscapeString(doc.Title)

	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", title)
	sb.WriteString("    <meta name=\"generator\" content=\"rigrun-chat\">\n")
	fmt.Fprintf(&sb, "    <meta name=\"date\" content=\"%s\">\n", doc.CreatedAt.Format(time.RFC3339))
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n<div class=\"container\">\n", e.options.Theme)

	fmt.Fprintf(&sb, "<header><h1>%s</h1>\n", title)
	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "<p class=\"meta\">Created %s &middot; %d messages</p>\n",
			formatTimestamp(doc.CreatedAt), len(doc.Messages))
	}
	sb.WriteString("</header>\n<main>\n")

	for _, msg := range doc.Messages {
		sb.WriteString(e.renderMessage(msg))
	}

	sb.WriteString("</main>\n")
	fmt.Fprintf(&sb, "<footer>Exported from <strong>rigrun-chat</strong> on %s</footer>\n",
		doc.ExportedAt.Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("</div>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderMessage(msg model.Message) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "<section class=\"message %s\">\n<div class=\"head\"><span class=\"role\">%s</span>",
		html.EscapeString(string(msg.Role)), html.EscapeString(roleLabel(msg.Role)))
	if e.options.IncludeTimestamps {
		fmt.Fprintf(&sb, " <span class=\"time\">%s</span>", formatShortTimestamp(msg))
	}
	if note := versionNote(msg); note != "" && e.options.IncludeMetadata {
		fmt.Fprintf(&sb, " <span class=\"version\">%s</span>", note)
	}
	sb.WriteString("</div>\n<div class=\"body\">\n")

	for _, p := range splitThink(msg.DisplayContent()) {
		if !p.think {
			sb.WriteString(formatContent(p.text))
			continue
		}
		if !e.options.IncludeThink {
			continue
		}
		sb.WriteString("<details class=\"think\"><summary>Thinking</summary>\n")
		sb.WriteString(formatContent(p.text))
		sb.WriteString("</details>\n")
	}

	sb.WriteString("</div>\n</section>\n")
	return sb.String()
}

// formatContent escapes text and converts fenced and inline code. Other
// paragraphs are separated on blank lines.
func formatContent(content string) string {
	content = html.EscapeString(strings.TrimSpace(content))

	var sb strings.Builder
	pos := 0
	for _, m := range codeBlockRegex.FindAllStringSubmatchIndex(content, -1) {
		writeParagraphs(&sb, content[pos:m[0]])

		lang := content[m[2]:m[3]]
		code := strings.TrimRight(content[m[4]:m[5]], "\n")
		sb.WriteString("<div class=\"code-block\">")
		if lang != "" {
			fmt.Fprintf(&sb, "<div class=\"code-lang\">%s</div>", lang)
		}
		fmt.Fprintf(&sb, "<pre><code class=\"language-%s\">%s</code></pre></div>\n", lang, code)
		pos = m[1]
	}
	writeParagraphs(&sb, content[pos:])
	return sb.String()
}

func writeParagraphs(sb *strings.Builder, text string) {
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		para = inlineCodeRegex.ReplaceAllString(para, "<code>$1</code>")
		para = strings.ReplaceAll(para, "\n", "<br>\n")
		sb.WriteString("<p>")
		sb.WriteString(para)
		sb.WriteString("</p>\n")
	}
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const css = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        .dark-theme { --bg: #1a1b26; --panel: #24283b; --fg: #c0caf5; --muted: #565f89; --user: #7aa2f7; --assistant: #9ece6a; --code: #16161e; }
        .light-theme { --bg: #f5f5f5; --panel: #ffffff; --fg: #24292f; --muted: #6e7781; --user: #0969da; --assistant: #1a7f37; --code: #f6f8fa; }
        body { background: var(--bg); color: var(--fg); font: 15px/1.6 -apple-system, "Segoe UI", Roboto, sans-serif; }
        .container { max-width: 880px; margin: 0 auto; padding: 32px 16px; }
        header { margin-bottom: 24px; }
        .meta, .time, .version, footer { color: var(--muted); font-size: 13px; }
        .message { background: var(--panel); border-radius: 8px; padding: 16px; margin-bottom: 16px; }
        .head { margin-bottom: 8px; }
        .role { font-weight: 600; }
        .user .role { color: var(--user); }
        .assistant .role { color: var(--assistant); }
        .body p { margin: 8px 0; }
        .think { border-left: 3px solid var(--muted); padding-left: 12px; margin: 8px 0; color: var(--muted); }
        .think summary { cursor: pointer; font-style: italic; }
        code { font-family: "SF Mono", Menlo, Consolas, monospace; font-size: 13px; }
        .code-block { background: var(--code); border-radius: 6px; margin: 8px 0; overflow-x: auto; }
        .code-lang { color: var(--muted); font-size: 12px; padding: 4px 12px 0; }
        pre { padding: 12px; }
        footer { margin-top: 32px; text-align: center; }
    </style>
`
