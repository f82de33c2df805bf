// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diff compares two versions of a reply line by line.
//
// # Key Types
//
//   - LineType: context, added or removed
//   - Hunk: a run of changes with surrounding context
//   - Diff: the complete comparison with stats
//
// # Usage
//
//	d := diff.Compare("history 0", "live", older, current)
//	fmt.Print(diff.Format(d))
package diff
