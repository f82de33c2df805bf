// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package think extracts delimited reasoning spans from model output.
//
// Reasoning models wrap their chain of thought in <think>...</think>. Extract
// runs over the whole accumulated text of a message, never over a single
// chunk, so a tag split across two chunks is recognized once both halves
// have arrived. A span is extracted only after its closing tag is present;
// until then the text stays raw.
//
// # Usage
//
//	res := think.Extract(accumulated)
//	for _, seg := range res.Segments {
//	    fmt.Printf("reasoning #%d: %s\n", seg.Index, seg.Body)
//	}
//	fmt.Println(res.Text) // markers in place of the spans
package think

import (
	"strconv"
	"strings"
)

// Tags delimiting a reasoning span.
const (
	OpenTag  = "<think>"
	CloseTag = "</think>"
)

const (
	markerPrefix = "⟦think:"
	markerSuffix = "⟧"
)

// Segment is one closed reasoning span.
type Segment struct {
	// Index is the position of the span among closed spans, from 0.
	Index int
	// Body is the text between the tags.
	Body string
	// Start and End are byte offsets of the whole span, tags included,
	// in the text given to Extract.
	Start, End int
}

// Result is the output of Extract.
type Result struct {
	// Text is the input with every closed span replaced by Marker(index).
	Text     string
	Segments []Segment
}

// Bodies returns the span bodies in document order.
func (r Result) Bodies() []string {
	if len(r.Segments) == 0 {
		return nil
	}
	out := make([]string, len(r.Segments))
	for i, seg := range r.Segments {
		out[i] = seg.Body
	}
	return out
}

// Marker returns the placeholder that stands in for span i.
func Marker(i int) string {
	return markerPrefix + strconv.Itoa(i) + markerSuffix
}

// ParseMarker reports the span index if s begins with a marker, along with
// the marker length in bytes.
func ParseMarker(s string) (index, size int, ok bool) {
	if !strings.HasPrefix(s, markerPrefix) {
		return 0, 0, false
	}
	rest := s[len(markerPrefix):]
	end := strings.Index(rest, markerSuffix)
	if end <= 0 {
		return 0, 0, false
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil || n < 0 {
		return 0, 0, false
	}
	return n, len(markerPrefix) + end + len(markerSuffix), true
}

// Extract replaces each closed <think>...</think> span with a marker and
// returns the span bodies. A span opens at <think> and closes at the first
// </think> after it. An unterminated span and everything after it stay raw.
//
// Extract is pure. Appending text to its input never changes the index or
// body of a span that was already closed.
func Extract(text string) Result {
	if !strings.Contains(text, OpenTag) {
		return Result{Text: text}
	}

	var (
		b        strings.Builder
		segments []Segment
		pos      int
	)
	b.Grow(len(text))

	for {
		open := strings.Index(text[pos:], OpenTag)
		if open < 0 {
			break
		}
		open += pos
		bodyStart := open + len(OpenTag)

		closeAt := strings.Index(text[bodyStart:], CloseTag)
		if closeAt < 0 {
			break
		}
		closeAt += bodyStart
		end := closeAt + len(CloseTag)

		b.WriteString(text[pos:open])
		b.WriteString(Marker(len(segments)))
		segments = append(segments, Segment{
			Index: len(segments),
			Body:  text[bodyStart:closeAt],
			Start: open,
			End:   end,
		})
		pos = end
	}

	b.WriteString(text[pos:])
	return Result{Text: b.String(), Segments: segments}
}

// Strip returns text with every closed span removed and surrounding blank
// space trimmed. Unterminated spans are kept.
func Strip(text string) string {
	res := Extract(text)
	if len(res.Segments) == 0 {
		return text
	}
	var b strings.Builder
	pos := 0
	for _, seg := range res.Segments {
		b.WriteString(text[pos:seg.Start])
		pos = seg.End
	}
	b.WriteString(text[pos:])
	return strings.TrimSpace(b.String())
}
