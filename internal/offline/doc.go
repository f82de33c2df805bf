// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline keeps every network endpoint on the local machine.
//
// With offline mode on, the model server URL, the event channel URL, the
// metrics listen address and a Redis storage address must all resolve to
// localhost or a loopback IP. URL schemes are checked in either mode.
//
// # Usage
//
//	if err := offline.Apply(cfg); err != nil {
//	    return fmt.Errorf("offline check: %w", err)
//	}
//	fmt.Println(offline.StatusBadge()) // "[OFFLINE]" when enabled
package offline
