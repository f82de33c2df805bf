// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/metrics"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/think"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options controls terminal output.
type Options struct {
	// Markdown renders finished messages with glamour.
	Markdown bool
	// ShowThink prints reasoning spans. When false they collapse to a
	// one-line label.
	ShowThink bool
	// FPS caps streaming redraws. 0 disables the cap.
	FPS int
	// Width is the markdown wrap width.
	Width   int
	Profile termenv.Profile
	Logger  zerolog.Logger
}

// DetectOptions derives options for w from the UI config. Markdown is
// only used on a terminal.
func DetectOptions(w io.Writer, ui config.UIConfig) Options {
	return Options{
		Markdown:  ui.Markdown && IsTTY(w),
		ShowThink: ui.ShowThink,
		FPS:       ui.RenderFPS,
		Width:     Width(w),
		Profile:   ColorProfile(w),
		Logger:    zerolog.Nop(),
	}
}

// =============================================================================
// TERMINAL
// =============================================================================

// shown is what the terminal last printed for one message.
type shown struct {
	id      int64
	content string
}

// liveTail tracks the streaming assistant message.
type liveTail struct {
	id      int64
	printed int
	inThink bool
}

// Terminal prints a conversation to a line-oriented terminal. It implements
// conversation.Renderer and session.Notifier.
//
// A terminal cannot unprint, so Render works incrementally: appended
// messages are printed, the streaming tail is printed as its content grows,
// and only a change to already printed text or a conversation switch
// reprints the whole conversation.
type Terminal struct {
	mu      sync.Mutex
	w       io.Writer
	opts    Options
	styles  Styles
	md      *glamour.TermRenderer
	limiter *rate.Limiter

	convID string
	shown  []shown
	live   *liveTail
}

// NewTerminal creates a Terminal writing to w.
func NewTerminal(w io.Writer, opts Options) *Terminal {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}

	t := &Terminal{
		w:       w,
		opts:    opts,
		styles:  NewStyles(opts.Profile),
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	if opts.FPS > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(opts.FPS), 1)
	}

	if opts.Markdown {
		style := glamour.WithAutoStyle()
		if opts.Profile == termenv.Ascii {
			style = glamour.WithStandardStyle("notty")
		}
		md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(opts.Width))
		if err != nil {
			opts.Logger.Warn().Err(err).Msg("markdown renderer unavailable, using plain text")
		} else {
			t.md = md
		}
	}
	return t
}

// Render brings the terminal up to date with messages. It is called by the
// store on every mutation, under the store lock.
func (t *Terminal) Render(conversationID string, messages []model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conversationID != t.convID {
		t.redraw(conversationID, messages)
		return
	}

	n := len(t.shown)
	fixed := n
	if t.live != nil {
		fixed = n - 1
	}
	if !t.prefixMatches(messages, min(len(messages), fixed)) {
		t.redraw(conversationID, messages)
		return
	}

	if t.live != nil {
		if len(messages) < n || messages[n-1].ID() != t.live.id {
			// The streaming placeholder was discarded.
			t.endLive()
			t.shown = t.shown[:n-1]
			n--
		} else {
			t.stream(messages[n-1])
		}
	}

	// Truncation leaves nothing to print; the replacement follows.
	if len(messages) < n {
		t.shown = t.shown[:len(messages)]
		return
	}
	for _, msg := range messages[n:] {
		t.appendMessage(msg)
	}
}

// Notify prints a notice on its own line.
func (t *Terminal) Notify(n session.Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var line string
	switch n.Kind {
	case session.NoticeStopped:
		line = t.styles.Stopped.Render("■ " + n.Text)
	case session.NoticeError:
		text := n.Text
		if n.Err != nil {
			text += ": " + n.Err.Error()
		}
		line = t.styles.Error.Render("✗ " + text)
	case session.NoticeWarning:
		text := n.Text
		if n.Err != nil {
			text += ": " + n.Err.Error()
		}
		line = t.styles.Stopped.Render("! " + text)
	default:
		line = t.styles.Info.Render(n.Text)
	}
	fmt.Fprintln(t.w, line)
}

// Reset forgets what was printed so the next Render redraws.
func (t *Terminal) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.convID = ""
	t.shown = nil
	t.live = nil
}

// =============================================================================
// DRAWING
// =============================================================================

func (t *Terminal) prefixMatches(messages []model.Message, n int) bool {
	for i := 0; i < n; i++ {
		if t.shown[i].id != messages[i].ID() || t.shown[i].content != messages[i].DisplayContent() {
			return false
		}
	}
	return true
}

func (t *Terminal) redraw(conversationID string, messages []model.Message) {
	t.convID = conversationID
	t.shown = t.shown[:0]
	t.live = nil

	fmt.Fprintln(t.w, t.styles.Rule.Render(strings.Repeat("─", min(t.opts.Width, DefaultWidth))))
	for _, msg := range messages {
		if msg.IsPlaceholder {
			t.startLive(msg)
			t.stream(msg)
			continue
		}
		t.printMessage(msg)
	}
}

func (t *Terminal) appendMessage(msg model.Message) {
	switch {
	case msg.IsPlaceholder:
		t.startLive(msg)
		t.stream(msg)
	case msg.IsUser():
		// Already visible on the prompt line.
		t.shown = append(t.shown, shown{id: msg.ID(), content: msg.DisplayContent()})
	default:
		t.printMessage(msg)
	}
}

func (t *Terminal) printMessage(msg model.Message) {
	fmt.Fprintln(t.w, t.header(msg))
	body := t.body(msg.DisplayContent())
	fmt.Fprint(t.w, body)
	if !strings.HasSuffix(body, "\n") {
		fmt.Fprintln(t.w)
	}
	t.shown = append(t.shown, shown{id: msg.ID(), content: msg.DisplayContent()})
}

func (t *Terminal) header(msg model.Message) string {
	style := t.styles.Assistant
	if msg.IsUser() {
		style = t.styles.User
	}
	h := style.Render(msg.Role.DisplayName())
	if count := msg.VersionCount(); count > 1 {
		label := "live"
		if msg.ActiveVersion > 0 {
			label = fmt.Sprintf("history %d", msg.ActiveVersion-1)
		}
		h += " " + t.styles.Version.Render(fmt.Sprintf("[%s, %d versions]", label, count))
	}
	return h
}

// body renders finished content: text between reasoning spans as markdown,
// spans as styled blocks.
func (t *Terminal) body(content string) string {
	res := think.Extract(content)
	if len(res.Segments) == 0 {
		return t.markdown(content)
	}

	var b strings.Builder
	pos := 0
	for _, seg := range res.Segments {
		if text := content[pos:seg.Start]; strings.TrimSpace(text) != "" {
			b.WriteString(t.markdown(text))
		}
		b.WriteString(t.thinkBlock(seg.Body))
		pos = seg.End
	}
	if text := content[pos:]; strings.TrimSpace(text) != "" {
		b.WriteString(t.markdown(text))
	}
	return b.String()
}

func (t *Terminal) thinkBlock(body string) string {
	if !t.opts.ShowThink {
		return t.styles.ThinkHead.Render("▸ thought") + "\n"
	}
	var b strings.Builder
	b.WriteString(t.styles.ThinkHead.Render("▾ thinking"))
	b.WriteByte('\n')
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		b.WriteString(t.styles.Think.Render("  " + line))
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *Terminal) markdown(text string) string {
	if t.md == nil {
		return strings.TrimSpace(text) + "\n"
	}
	out, err := t.md.Render(text)
	if err != nil {
		return strings.TrimSpace(text) + "\n"
	}
	return out
}

// =============================================================================
// STREAMING
// =============================================================================

func (t *Terminal) startLive(msg model.Message) {
	fmt.Fprintln(t.w, t.header(msg))
	t.live = &liveTail{id: msg.ID()}
	t.shown = append(t.shown, shown{id: msg.ID()})
}

// stream prints the part of the tail that arrived since the last frame.
// Frames beyond the FPS cap are skipped; the final frame is always drawn.
func (t *Terminal) stream(msg model.Message) {
	final := !msg.IsPlaceholder
	if !final {
		allowed := t.limiter.Allow()
		metrics.RenderFrame(allowed)
		if !allowed {
			return
		}
	}

	content := msg.Content
	t.writeStream(content, final)
	t.shown[len(t.shown)-1].content = msg.DisplayContent()
	if final {
		t.endLive()
	}
}

// writeStream prints content[printed:]. Tags are replaced by styled
// labels. A trailing fragment that may be the start of a tag is held back
// until more text arrives or the message is final.
func (t *Terminal) writeStream(content string, final bool) {
	lt := t.live
	for lt.printed < len(content) {
		rest := content[lt.printed:]
		tag := think.OpenTag
		if lt.inThink {
			tag = think.CloseTag
		}

		idx := strings.Index(rest, tag)
		if idx < 0 {
			n := len(rest)
			if !final {
				n -= partialSuffix(rest, tag)
			}
			t.writeText(rest[:n], lt.inThink)
			lt.printed += n
			return
		}

		t.writeText(rest[:idx], lt.inThink)
		lt.printed += idx + len(tag)
		if lt.inThink {
			fmt.Fprintln(t.w)
		} else {
			label := "▾ thinking"
			if !t.opts.ShowThink {
				label = "▸ thinking..."
			}
			fmt.Fprintln(t.w, t.styles.ThinkHead.Render(label))
		}
		lt.inThink = !lt.inThink
	}
}

func (t *Terminal) writeText(s string, inThink bool) {
	if s == "" {
		return
	}
	if inThink {
		if t.opts.ShowThink {
			fmt.Fprint(t.w, t.styles.Think.Render(s))
		}
		return
	}
	fmt.Fprint(t.w, s)
}

func (t *Terminal) endLive() {
	if t.live == nil {
		return
	}
	fmt.Fprintln(t.w)
	t.live = nil
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	for n := min(len(s), len(tag)-1); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
