// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import (
	"fmt"
	"strings"
)

// =============================================================================
// DIFF TYPES
// =============================================================================

// LineType classifies a line of a diff.
type LineType int

const (
	// LineContext is unchanged between the two texts.
	LineContext LineType = iota
	// LineAdded only appears in the new text.
	LineAdded
	// LineRemoved only appears in the old text.
	LineRemoved
)

// String returns the string representation of a line type.
func (t LineType) String() string {
	switch t {
	case LineContext:
		return "context"
	case LineAdded:
		return "added"
	case LineRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Prefix returns the unified diff prefix for this line type.
func (t LineType) Prefix() string {
	switch t {
	case LineAdded:
		return "+"
	case LineRemoved:
		return "-"
	default:
		return " "
	}
}

// Line is a single line in a diff. OldLine and NewLine are 1-based; 0 means
// the line is absent from that side.
type Line struct {
	Type    LineType
	Content string
	OldLine int
	NewLine int
}

// Hunk is a contiguous run of changes with surrounding context.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// Stats counts changed lines.
type Stats struct {
	Additions int
	Deletions int
}

// Diff compares two versions of a text.
type Diff struct {
	OldLabel string
	NewLabel string
	Hunks    []Hunk
	Stats    Stats
}

// ContextLines is the number of unchanged lines kept around each change.
const ContextLines = 3

// =============================================================================
// DIFF COMPUTATION
// =============================================================================

// Compare diffs oldText against newText line by line. The labels name the
// two sides in the formatted output, e.g. "history 0" and "live".
func Compare(oldLabel, newLabel, oldText, newText string) *Diff {
	d := &Diff{OldLabel: oldLabel, NewLabel: newLabel}

	lines := lineDiff(splitLines(oldText), splitLines(newText))
	for _, l := range lines {
		switch l.Type {
		case LineAdded:
			d.Stats.Additions++
		case LineRemoved:
			d.Stats.Deletions++
		}
	}
	d.Hunks = group(lines, ContextLines)
	return d
}

// Identical reports whether the two sides had no differences.
func (d *Diff) Identical() bool {
	return d.Stats.Additions == 0 && d.Stats.Deletions == 0
}

// splitLines splits content into lines. A trailing newline does not add an
// empty line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// lineDiff walks an LCS table to emit context, removed and added lines.
// Removals are emitted before additions at each change point.
func lineDiff(a, b []string) []Line {
	m, n := len(a), len(b)

	// lcs[i][j] is the LCS length of a[i:] and b[j:].
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var out []Line
	i, j := 0, 0
	for i < m || j < n {
		switch {
		case i < m && j < n && a[i] == b[j]:
			out = append(out, Line{Type: LineContext, Content: a[i], OldLine: i + 1, NewLine: j + 1})
			i++
			j++
		case i < m && (j >= n || lcs[i+1][j] >= lcs[i][j+1]):
			out = append(out, Line{Type: LineRemoved, Content: a[i], OldLine: i + 1})
			i++
		default:
			out = append(out, Line{Type: LineAdded, Content: b[j], NewLine: j + 1})
			j++
		}
	}
	return out
}

// group cuts lines into hunks, keeping ctx lines of context around each
// change and merging changes whose context would overlap.
func group(lines []Line, ctx int) []Hunk {
	var hunks []Hunk

	for i := 0; i < len(lines); {
		if lines[i].Type == LineContext {
			i++
			continue
		}

		start := max(0, i-ctx)
		end := i
		for end < len(lines) {
			if lines[end].Type != LineContext {
				end++
				continue
			}
			// Count the context run; a short run followed by another change
			// stays in this hunk.
			run := end
			for run < len(lines) && lines[run].Type == LineContext {
				run++
			}
			if run < len(lines) && run-end <= 2*ctx {
				end = run
				continue
			}
			end = min(run, end+ctx)
			break
		}

		hunks = append(hunks, newHunk(lines[start:end]))
		i = end
	}
	return hunks
}

func newHunk(lines []Line) Hunk {
	h := Hunk{Lines: lines}
	for _, l := range lines {
		if l.OldLine > 0 {
			if h.OldStart == 0 {
				h.OldStart = l.OldLine
			}
			h.OldCount++
		}
		if l.NewLine > 0 {
			if h.NewStart == 0 {
				h.NewStart = l.NewLine
			}
			h.NewCount++
		}
	}
	return h
}

// =============================================================================
// UNIFIED DIFF FORMAT
// =============================================================================

// Format returns the diff in unified diff format.
func Format(d *Diff) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "--- %s\n", d.OldLabel)
	fmt.Fprintf(&sb, "+++ %s\n", d.NewLabel)

	for _, h := range d.Hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			sb.WriteString(l.Type.Prefix())
			sb.WriteString(l.Content)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Summary returns a short description such as "+3 -1".
func (d *Diff) Summary() string {
	if d.Identical() {
		return "identical"
	}
	var parts []string
	if d.Stats.Additions > 0 {
		parts = append(parts, fmt.Sprintf("+%d", d.Stats.Additions))
	}
	if d.Stats.Deletions > 0 {
		parts = append(parts, fmt.Sprintf("-%d", d.Stats.Deletions))
	}
	return strings.Join(parts, " ")
}
