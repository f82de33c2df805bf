// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// suggest.go - Command suggestion for typo correction.
package cli

import (
	"strings"
)

// validCommands is the list of process-level commands.
var validCommands = []string{
	"chat",
	"ask",
	"config",
	"doctor",
	"version",
	"help",
}

// SuggestCommand returns the process command closest to input, or "" when
// nothing is close enough.
func SuggestCommand(input string) string {
	return suggest(strings.ToLower(input), validCommands)
}

// SuggestSlash returns the slash command (or alias) closest to input.
func SuggestSlash(input string) string {
	candidates := make([]string, 0, len(slashIndex))
	for _, spec := range slashCommands {
		candidates = append(candidates, spec.name)
		candidates = append(candidates, spec.aliases...)
	}
	return suggest(strings.ToLower(input), candidates)
}

// suggest picks the candidate with the smallest edit distance, within a
// threshold that grows with the input length.
func suggest(input string, candidates []string) string {
	// Very short inputs are likely intentional
	if len(strings.TrimPrefix(input, "/")) < 2 {
		return ""
	}

	// <=3 chars: 1 edit, 4-8: 2 edits ("hepl" -> "help"), longer: 3
	maxDistance := 1
	if len(input) >= 4 {
		maxDistance = 2
	}
	if len(input) > 8 {
		maxDistance = 3
	}

	bestMatch := ""
	bestDistance := -1
	for _, cmd := range candidates {
		distance := levenshteinDistance(input, cmd)
		if distance == 0 {
			return ""
		}
		if distance <= maxDistance && (bestDistance == -1 || distance < bestDistance) {
			bestDistance = distance
			bestMatch = cmd
		}
	}
	return bestMatch
}

// levenshteinDistance calculates the edit distance between two strings.
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	cols := len(s2) + 1

	// Two rows instead of the full matrix
	prev := make([]int, cols)
	curr := make([]int, cols)
	for j := 0; j < cols; j++ {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j < cols; j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[cols-1]
}
