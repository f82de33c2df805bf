// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"time"
)

// =============================================================================
// SESSION STATISTICS
// =============================================================================

// Stats counts turns since the controller was created.
type Stats struct {
	Started   time.Time
	Turns     int
	Completed int
	Cancelled int
	Failed    int
}

func (s *Stats) record(state State) {
	s.Turns++
	switch state {
	case StateCompleted:
		s.Completed++
	case StateCancelled:
		s.Cancelled++
	case StateFailed:
		s.Failed++
	}
}

// Status is a snapshot of the controller for display.
type Status struct {
	Model       string
	Temperature float64
	MaxContext  int
	State       State
	Stats       Stats
	Uptime      time.Duration
}

// Status returns the current controller status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Model:       c.model,
		Temperature: c.temperature,
		MaxContext:  c.maxContext,
		State:       c.state,
		Stats:       c.stats,
		Uptime:      time.Since(c.stats.Started),
	}
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}
