// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Environment health checks.
//
// Command: doctor
//
// Health Checks Performed:
//   1. Config Valid       - The config file parses and validates
//   2. Offline Policy     - Every endpoint is allowed in the current mode
//   3. Ollama Running     - The model server answers
//   4. Model Selected     - A model is configured
//   5. Storage            - The conversation store opens and loads
//   6. Event Channel      - The transport endpoint accepts a connection
//
// Exit Codes:
//   0   No check failed
//   1   One or more checks failed

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/offline"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/transport"
)

// DefaultCheckTimeout bounds each network check.
const DefaultCheckTimeout = 3 * time.Second

// =============================================================================
// DOCTOR STYLES
// =============================================================================

var (
	checkPassStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)

	checkWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")).
			Bold(true)

	checkFailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	fixStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true).
			PaddingLeft(2)
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed successfully.
	CheckPass CheckStatus = iota
	// CheckWarn indicates a non-critical issue.
	CheckWarn
	// CheckFail indicates the check failed.
	CheckFail
)

// String returns the string representation of the check status.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "Pass"
	case CheckWarn:
		return "Warn"
	case CheckFail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// Symbol returns the styled marker for the check status.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return checkPassStyle.Render("[OK]")
	case CheckWarn:
		return checkWarnStyle.Render("[!!]")
	default:
		return checkFailStyle.Render("[FAIL]")
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // Suggested fix
}

// Render returns a formatted string representation of the health check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), c.Message)
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + fixStyle.Render("-> "+c.Fix)
	}
	return result
}

// =============================================================================
// DOCTOR
// =============================================================================

// ModelServer is the part of the Ollama client the doctor checks.
type ModelServer interface {
	CheckRunning(ctx context.Context) error
	Version(ctx context.Context) (string, error)
}

// Doctor holds what the checks need. Config may be nil when ConfigErr is
// set; the dependent checks are then skipped.
type Doctor struct {
	ConfigPath  string
	Config      *config.Config
	ConfigErr   error
	Ollama      ModelServer
	OpenStorage func(ctx context.Context) (storage.Backend, error)
	Dialer      transport.Dialer
	Timeout     time.Duration
}

// Run performs every check in order.
func (d *Doctor) Run(ctx context.Context) []*HealthCheck {
	if d.Timeout <= 0 {
		d.Timeout = DefaultCheckTimeout
	}

	checks := []*HealthCheck{d.checkConfig()}
	if d.Config == nil {
		return checks
	}

	checks = append(checks, d.checkOffline())
	if d.Ollama != nil {
		checks = append(checks, d.checkOllama(ctx))
	}
	checks = append(checks, d.checkModel())
	if d.OpenStorage != nil {
		checks = append(checks, d.checkStorage(ctx))
	}
	if d.Config.Transport.URL != "" && d.Dialer != nil {
		checks = append(checks, d.checkTransport(ctx))
	}
	return checks
}

func (d *Doctor) checkConfig() *HealthCheck {
	c := &HealthCheck{Name: "config"}
	if d.ConfigErr != nil {
		c.Status = CheckFail
		c.Message = fmt.Sprintf("Config %s is invalid: %v", d.ConfigPath, d.ConfigErr)
		c.Fix = "Fix the file, or move it aside and run: rigrun-chat config init"
		return c
	}
	c.Message = "Config loaded from " + d.ConfigPath
	return c
}

func (d *Doctor) checkOffline() *HealthCheck {
	c := &HealthCheck{Name: "offline"}
	if err := offline.Apply(d.Config); err != nil {
		c.Status = CheckFail
		c.Message = "Offline policy violation: " + err.Error()
		c.Fix = "Point every endpoint at localhost or disable offline mode"
		return c
	}
	if offline.IsOfflineMode() {
		c.Message = "Offline mode: all endpoints are local"
	} else {
		c.Message = "Online mode"
	}
	return c
}

func (d *Doctor) checkOllama(ctx context.Context) *HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	c := &HealthCheck{Name: "ollama"}
	if err := d.Ollama.CheckRunning(ctx); err != nil {
		c.Status = CheckFail
		c.Message = fmt.Sprintf("Ollama not reachable at %s", d.Config.Ollama.URL)
		c.Fix = "Start it with: ollama serve"
		return c
	}
	if v, err := d.Ollama.Version(ctx); err == nil && v != "" {
		c.Message = fmt.Sprintf("Ollama %s running at %s", v, d.Config.Ollama.URL)
	} else {
		c.Message = "Ollama running at " + d.Config.Ollama.URL
	}
	return c
}

func (d *Doctor) checkModel() *HealthCheck {
	c := &HealthCheck{Name: "model"}
	if d.Config.Ollama.Model == "" {
		c.Status = CheckWarn
		c.Message = "No model configured"
		c.Fix = "Set ollama.model in the config, pass -m NAME, or use /model NAME in chat"
		return c
	}
	c.Message = "Model: " + d.Config.Ollama.Model
	return c
}

func (d *Doctor) checkStorage(ctx context.Context) *HealthCheck {
	c := &HealthCheck{Name: "storage"}
	kv, err := d.OpenStorage(ctx)
	if err != nil {
		c.Status = CheckFail
		c.Message = fmt.Sprintf("Cannot open %s storage: %v", d.Config.Storage.Backend, err)
		c.Fix = "Check storage.path permissions or the Redis address"
		return c
	}
	defer kv.Close()

	store := conversation.NewStore(kv, nil)
	if err := store.Load(ctx); err != nil {
		c.Status = CheckFail
		c.Message = fmt.Sprintf("Cannot read conversations from %s storage: %v", kv.Name(), err)
		return c
	}
	c.Message = fmt.Sprintf("Storage %s: %d conversation(s)", kv.Name(), len(store.List()))
	return c
}

func (d *Doctor) checkTransport(ctx context.Context) *HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	c := &HealthCheck{Name: "transport"}
	conn, err := d.Dialer.Dial(ctx, d.Config.Transport.URL)
	if err != nil {
		// Chat works without the event channel.
		c.Status = CheckWarn
		c.Message = fmt.Sprintf("Event endpoint %s not reachable: %v", d.Config.Transport.URL, err)
		c.Fix = "Start the event server or clear transport.url"
		return c
	}
	conn.Close()
	c.Message = "Event endpoint reachable: " + d.Config.Transport.URL
	return c
}

// =============================================================================
// OUTPUT
// =============================================================================

// PrintDoctor writes the results and returns an error when a check failed.
func PrintDoctor(w io.Writer, checks []*HealthCheck) error {
	passed, warned, failed := 0, 0, 0
	for _, c := range checks {
		switch c.Status {
		case CheckPass:
			passed++
		case CheckWarn:
			warned++
		case CheckFail:
			failed++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("rigrun-chat doctor"))
	fmt.Fprintln(w, separator(41))
	for _, c := range checks {
		fmt.Fprintln(w, c.Render())
	}
	fmt.Fprintln(w, separator(41))

	parts := []string{fmt.Sprintf("%d passed", passed)}
	if warned > 0 {
		parts = append(parts, checkWarnStyle.Render(fmt.Sprintf("%d warning", warned)))
	}
	if failed > 0 {
		parts = append(parts, checkFailStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	fmt.Fprintln(w, infoStyle.Render(strings.Join(parts, ", ")))
	fmt.Fprintln(w)

	if failed > 0 {
		return fmt.Errorf("%d health check(s) failed", failed)
	}
	return nil
}
