// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package think

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantText string
		bodies   []string
	}{
		{
			name:     "no tags",
			input:    "plain answer",
			wantText: "plain answer",
		},
		{
			name:     "single span",
			input:    "<think>plan</think>answer",
			wantText: Marker(0) + "answer",
			bodies:   []string{"plan"},
		},
		{
			name:     "multiple spans",
			input:    "a<think>x</think>b<think>y</think>c",
			wantText: "a" + Marker(0) + "b" + Marker(1) + "c",
			bodies:   []string{"x", "y"},
		},
		{
			name:     "unterminated span stays raw",
			input:    "<think>still going",
			wantText: "<think>still going",
		},
		{
			name:     "closed then unterminated",
			input:    "<think>one</think>mid<think>two",
			wantText: Marker(0) + "mid<think>two",
			bodies:   []string{"one"},
		},
		{
			name:     "empty body",
			input:    "<think></think>done",
			wantText: Marker(0) + "done",
			bodies:   []string{""},
		},
		{
			name:     "multiline body",
			input:    "<think>\nstep 1\nstep 2\n</think>\nresult",
			wantText: Marker(0) + "\nresult",
			bodies:   []string{"\nstep 1\nstep 2\n"},
		},
		{
			name:     "stray close tag",
			input:    "</think>text",
			wantText: "</think>text",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Extract(tc.input)
			if res.Text != tc.wantText {
				t.Errorf("Text = %q, want %q", res.Text, tc.wantText)
			}
			if !reflect.DeepEqual(res.Bodies(), tc.bodies) {
				t.Errorf("Bodies() = %q, want %q", res.Bodies(), tc.bodies)
			}
		})
	}
}

func TestExtract_Offsets(t *testing.T) {
	input := "ab<think>xy</think>cd"
	res := Extract(input)

	if len(res.Segments) != 1 {
		t.Fatalf("len(Segments) = %d, want 1", len(res.Segments))
	}
	seg := res.Segments[0]
	if got := input[seg.Start:seg.End]; got != "<think>xy</think>" {
		t.Errorf("span = %q", got)
	}
}

func TestExtract_SplitInvariance(t *testing.T) {
	full := "intro<think>first thought</think>middle<think>second</think>tail"
	want := []string{"first thought", "second"}
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 200; trial++ {
		var acc string
		rest := full
		for len(rest) > 0 {
			n := 1 + rng.Intn(6)
			if n > len(rest) {
				n = len(rest)
			}
			acc += rest[:n]
			rest = rest[n:]
		}
		if got := Extract(acc).Bodies(); !reflect.DeepEqual(got, want) {
			t.Fatalf("trial %d: Bodies() = %q, want %q", trial, got, want)
		}
	}
}

func TestExtract_IdempotentOnClosedSpans(t *testing.T) {
	full := "<think>alpha</think>one <think>beta</think>two <think>gam"
	seen := map[int]string{}

	for i := 1; i <= len(full); i++ {
		for _, seg := range Extract(full[:i]).Segments {
			if prev, ok := seen[seg.Index]; ok && prev != seg.Body {
				t.Fatalf("prefix %d: span %d changed from %q to %q", i, seg.Index, prev, seg.Body)
			}
			seen[seg.Index] = seg.Body
		}
	}

	if len(seen) != 2 {
		t.Errorf("closed spans = %d, want 2", len(seen))
	}
}

func TestParseMarker(t *testing.T) {
	idx, size, ok := ParseMarker(Marker(12) + "rest")
	if !ok || idx != 12 || size != len(Marker(12)) {
		t.Errorf("ParseMarker = (%d, %d, %v)", idx, size, ok)
	}

	for _, bad := range []string{"plain", "⟦think:⟧", "⟦think:x⟧", "⟦think:3"} {
		if _, _, ok := ParseMarker(bad); ok {
			t.Errorf("ParseMarker(%q) ok = true", bad)
		}
	}
}

func TestStrip(t *testing.T) {
	if got := Strip("<think>hidden</think>\n\nvisible"); got != "visible" {
		t.Errorf("Strip() = %q", got)
	}
	if got := Strip("<think>open"); got != "<think>open" {
		t.Errorf("Strip() = %q", got)
	}
}
