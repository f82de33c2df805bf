// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

func newTestTerminal(opts Options) (*Terminal, *bytes.Buffer) {
	var buf bytes.Buffer
	opts.Profile = termenv.Ascii
	return NewTerminal(&buf, opts), &buf
}

func msg(id int64, role model.Role, content string) model.Message {
	return model.Message{Role: role, Content: content, CreatedAt: id}
}

func placeholder(id int64, content string) model.Message {
	m := msg(id, model.RoleAssistant, content)
	m.IsPlaceholder = true
	return m
}

func TestPartialSuffix(t *testing.T) {
	tests := []struct {
		s    string
		tag  string
		want int
	}{
		{"hello", "<think>", 0},
		{"hello <", "<think>", 1},
		{"hello <thin", "<think>", 5},
		{"<think>", "<think>", 0},
		{"body </thi", "</think>", 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, partialSuffix(tt.s, tt.tag), tt.s)
	}
}

func TestTerminal_StreamsIncrementally(t *testing.T) {
	term, buf := newTestTerminal(Options{ShowThink: true})

	user := msg(1, model.RoleUser, "hi")
	term.Render("c1", []model.Message{user})
	buf.Reset()

	term.Render("c1", []model.Message{user, placeholder(2, "")})
	assert.Equal(t, "Assistant\n", buf.String())

	term.Render("c1", []model.Message{user, placeholder(2, "Hel")})
	term.Render("c1", []model.Message{user, placeholder(2, "Hello")})
	done := msg(2, model.RoleAssistant, "Hello!")
	term.Render("c1", []model.Message{user, done})

	assert.Equal(t, "Assistant\nHello!\n", buf.String())
}

func TestTerminal_ThinkTagsAcrossFrames(t *testing.T) {
	term, buf := newTestTerminal(Options{ShowThink: true})
	user := msg(1, model.RoleUser, "q")
	term.Render("c1", []model.Message{user})
	buf.Reset()

	frames := []string{"", "<thi", "<think>plan", "<think>plan</th", "<think>plan</think>Answer"}
	for _, f := range frames {
		term.Render("c1", []model.Message{user, placeholder(2, f)})
	}
	term.Render("c1", []model.Message{user, msg(2, model.RoleAssistant, "<think>plan</think>Answer")})

	out := buf.String()
	assert.NotContains(t, out, "<think>")
	assert.NotContains(t, out, "</think>")
	assert.NotContains(t, out, "<thi")
	assert.Contains(t, out, "▾ thinking\nplan\nAnswer")
}

func TestTerminal_HiddenThink(t *testing.T) {
	term, buf := newTestTerminal(Options{ShowThink: false})
	user := msg(1, model.RoleUser, "q")
	term.Render("c1", []model.Message{user})
	term.Render("c1", []model.Message{user, msg(2, model.RoleAssistant, "<think>secret</think>Visible")})

	assert.NotContains(t, buf.String(), "secret")
	assert.Contains(t, buf.String(), "▸ thought")
	assert.Contains(t, buf.String(), "Visible")
}

func TestTerminal_FrameLimit(t *testing.T) {
	term, buf := newTestTerminal(Options{FPS: 1})
	user := msg(1, model.RoleUser, "q")
	term.Render("c1", []model.Message{user})
	term.Render("c1", []model.Message{user, placeholder(2, "")})
	buf.Reset()

	term.Render("c1", []model.Message{user, placeholder(2, "A")})
	assert.Empty(t, buf.String(), "second frame within a second is skipped")

	term.Render("c1", []model.Message{user, msg(2, model.RoleAssistant, "AB")})
	assert.Equal(t, "AB\n", buf.String(), "final frame is always drawn")
}

func TestTerminal_DiscardedPlaceholder(t *testing.T) {
	term, buf := newTestTerminal(Options{})
	user := msg(1, model.RoleUser, "q")
	term.Render("c1", []model.Message{user})
	term.Render("c1", []model.Message{user, placeholder(2, "")})
	buf.Reset()

	term.Render("c1", []model.Message{user})
	assert.Equal(t, "\n", buf.String())
	require.Len(t, term.shown, 1)
	assert.Nil(t, term.live)
}

func TestTerminal_TruncationPrintsNothing(t *testing.T) {
	term, buf := newTestTerminal(Options{})
	msgs := []model.Message{
		msg(1, model.RoleUser, "q"),
		msg(2, model.RoleAssistant, "a"),
	}
	term.Render("c1", msgs)
	buf.Reset()

	term.Render("c1", msgs[:1])
	assert.Empty(t, buf.String())
	assert.Len(t, term.shown, 1)
}

func TestTerminal_RedrawOnSwitchAndVersion(t *testing.T) {
	term, buf := newTestTerminal(Options{})
	a := msg(2, model.RoleAssistant, "second")
	a.History = []string{"first"}
	msgs := []model.Message{msg(1, model.RoleUser, "q"), a}

	term.Render("c1", msgs)
	assert.Contains(t, buf.String(), "[live, 2 versions]")
	buf.Reset()

	msgs[1].ActiveVersion = 1
	term.Render("c1", msgs)
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "─"))
	assert.Contains(t, out, "You\nq\n")
	assert.Contains(t, out, "[history 0, 2 versions]")
	assert.Contains(t, out, "first")
	buf.Reset()

	term.Render("c2", nil)
	assert.True(t, strings.HasPrefix(buf.String(), "─"))
	assert.NotContains(t, buf.String(), "first")
}

func TestTerminal_Notify(t *testing.T) {
	term, buf := newTestTerminal(Options{})

	term.Notify(session.Notice{Kind: session.NoticeStopped, Text: "Generation stopped"})
	term.Notify(session.Notice{Kind: session.NoticeError, Text: "Request failed", Err: errors.New("connection refused")})
	term.Notify(session.Notice{Kind: session.NoticeInfo, Text: "Saved"})
	term.Notify(session.Notice{Kind: session.NoticeWarning, Text: "Event channel offline", Err: errors.New("reconnect attempts exhausted")})

	assert.Equal(t,
		"■ Generation stopped\n✗ Request failed: connection refused\nSaved\n! Event channel offline: reconnect attempts exhausted\n",
		buf.String())
}

func TestDetectOptions_NonTTY(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "")

	var buf bytes.Buffer
	opts := DetectOptions(&buf, configUI(true, 24))
	assert.False(t, opts.Markdown, "markdown needs a terminal")
	assert.Equal(t, DefaultWidth, opts.Width)
	assert.Equal(t, termenv.Ascii, opts.Profile)
	assert.Equal(t, 24, opts.FPS)
}

func TestColorsEnabled_Env(t *testing.T) {
	var buf bytes.Buffer

	t.Setenv("NO_COLOR", "1")
	assert.False(t, ColorsEnabled(&buf))

	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "1")
	assert.True(t, ColorsEnabled(&buf))
}

func configUI(markdown bool, fps int) config.UIConfig {
	return config.UIConfig{Markdown: markdown, ShowThink: true, RenderFPS: fps}
}
