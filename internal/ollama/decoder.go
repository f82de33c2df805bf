// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"time"
	"unicode/utf8"
)

// =============================================================================
// DECODE WARNINGS
// =============================================================================

// DecodeWarning reports a stream line that could not be parsed.
// It is recoverable: decoding continues with the next line.
type DecodeWarning struct {
	Line string
	Err  error
}

func (w DecodeWarning) Error() string {
	return fmt.Sprintf("malformed stream line %q: %v", w.Line, w.Err)
}

func (w DecodeWarning) Unwrap() error {
	return w.Err
}

// =============================================================================
// DECODER
// =============================================================================

// maxWarningLine bounds the line text kept in a DecodeWarning.
const maxWarningLine = 256

// Decoder turns NDJSON fragments with arbitrary split boundaries into
// StreamEvents. A trailing partial line is held until the next fragment.
//
// A Decoder is not safe for concurrent use; one turn owns one Decoder.
type Decoder struct {
	// OnWarning is called for every line that fails to parse. Optional.
	OnWarning func(DecodeWarning)

	pending []byte
	done    bool
}

// NewDecoder creates a decoder that reports malformed lines to onWarning.
func NewDecoder(onWarning func(DecodeWarning)) *Decoder {
	return &Decoder{OnWarning: onWarning}
}

// Done reports whether the terminal record has been decoded.
func (d *Decoder) Done() bool {
	return d.done
}

// Decode buffers fragment and returns the events for the complete lines now
// available. Lines are parsed lazily as the sequence is consumed and each line
// is consumed at most once, so the sequence cannot be replayed. After the
// terminal record nothing further is yielded.
func (d *Decoder) Decode(fragment []byte) iter.Seq[StreamEvent] {
	if !d.done {
		d.pending = append(d.pending, fragment...)
	}

	return func(yield func(StreamEvent) bool) {
		for !d.done {
			idx := bytes.IndexByte(d.pending, '\n')
			if idx < 0 {
				return
			}
			line := d.pending[:idx]
			d.pending = d.pending[idx+1:]
			if len(d.pending) == 0 {
				d.pending = nil
			}

			ev, ok := d.parseLine(line)
			if !ok {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Flush treats any buffered partial line as complete. Call it once the
// underlying stream reaches end of input.
func (d *Decoder) Flush() iter.Seq[StreamEvent] {
	return func(yield func(StreamEvent) bool) {
		if d.done || len(d.pending) == 0 {
			d.pending = nil
			return
		}
		line := d.pending
		d.pending = nil
		if ev, ok := d.parseLine(line); ok {
			yield(ev)
		}
	}
}

// parseLine decodes one record. ok is false for blank and malformed lines.
func (d *Decoder) parseLine(line []byte) (StreamEvent, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return StreamEvent{}, false
	}

	var resp ChatResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		d.warn(line, err)
		return StreamEvent{}, false
	}

	switch {
	case resp.Error != "":
		d.done = true
		return StreamEvent{Kind: EventError, Message: resp.Error}, true
	case resp.Done:
		d.done = true
		return StreamEvent{
			Kind:             EventDone,
			Delta:            resp.Message.Content,
			DoneReason:       resp.DoneReason,
			Model:            resp.Model,
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalDuration:    time.Duration(resp.TotalDuration),
			EvalDuration:     time.Duration(resp.EvalDuration),
		}, true
	default:
		return StreamEvent{Kind: EventDelta, Delta: resp.Message.Content, Model: resp.Model}, true
	}
}

func (d *Decoder) warn(line []byte, err error) {
	if d.OnWarning == nil {
		return
	}
	text := string(line)
	if len(text) > maxWarningLine {
		cut := maxWarningLine
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	d.OnWarning(DecodeWarning{Line: text, Err: err})
}
