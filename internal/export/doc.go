// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversations to files.
//
// # Key Types
//
//   - Exporter: converts an ExportDocument to bytes in one format
//   - Options: metadata, timestamps, reasoning spans and HTML theme
//
// # Supported Formats
//
//   - JSON: the complete document, every reply version included
//   - Markdown: displayed versions, reasoning spans as <details>
//   - HTML: a single styled page
//
// # Usage
//
//	doc, err := store.Document(store.ActiveID())
//	if err != nil {
//	    return err
//	}
//	path, err := export.WriteFile(doc, "chat.md", export.DefaultOptions())
package export
