// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNonLocalhost is returned for a remote endpoint in offline mode.
	ErrNonLocalhost = errors.New("only localhost connections are allowed in offline mode")

	// ErrInvalidURLScheme is returned for a scheme outside the allowed set.
	ErrInvalidURLScheme = errors.New("url scheme not allowed")

	// ErrInvalidURL is returned when a URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid url")
)

// Schemes accepted for each kind of endpoint.
var (
	HTTPSchemes      = []string{"http", "https"}
	WebSocketSchemes = []string{"ws", "wss"}
)

// =============================================================================
// MODE MANAGEMENT
// =============================================================================

var (
	offlineMode      bool
	offlineModeMutex sync.RWMutex
)

// SetOfflineMode enables or disables offline mode globally. While enabled,
// the model server, the event channel and the metrics listener must all be
// on the loopback interface.
func SetOfflineMode(enabled bool) {
	offlineModeMutex.Lock()
	defer offlineModeMutex.Unlock()
	offlineMode = enabled
}

// IsOfflineMode returns true if offline mode is currently enabled.
func IsOfflineMode() bool {
	offlineModeMutex.RLock()
	defer offlineModeMutex.RUnlock()
	return offlineMode
}

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost checks if a host, with or without a port, is "localhost" or
// a loopback address.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateURL checks the scheme of rawURL against schemes and, in offline
// mode, that its host is local. The scheme check always applies.
func ValidateURL(rawURL string, schemes []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	scheme := strings.ToLower(parsed.Scheme)
	allowed := false
	for _, s := range schemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %q (want %s)", ErrInvalidURLScheme, scheme, strings.Join(schemes, " or "))
	}

	if IsOfflineMode() && !IsLocalhost(parsed.Hostname()) {
		return fmt.Errorf("%w: %s", ErrNonLocalhost, parsed.Host)
	}
	return nil
}

// ValidateOllamaURL validates a model server base URL.
func ValidateOllamaURL(baseURL string) error {
	return ValidateURL(baseURL, HTTPSchemes)
}

// ValidateTransportURL validates an event channel URL.
func ValidateTransportURL(rawURL string) error {
	return ValidateURL(rawURL, WebSocketSchemes)
}

// ValidateListenAddr rejects a non-loopback listen address in offline
// mode. An empty host binds every interface and is rejected too.
func ValidateListenAddr(addr string) error {
	if !IsOfflineMode() {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: listen address %q", ErrInvalidURL, addr)
	}
	if !IsLocalhost(host) {
		return fmt.Errorf("%w: listen address %q", ErrNonLocalhost, addr)
	}
	return nil
}

// =============================================================================
// CONFIG GUARD
// =============================================================================

// Apply sets offline mode from cfg and validates every endpoint it names.
func Apply(cfg *config.Config) error {
	SetOfflineMode(cfg.Offline)

	if err := ValidateOllamaURL(cfg.Ollama.URL); err != nil {
		return fmt.Errorf("ollama.url: %w", err)
	}
	if cfg.Transport.URL != "" {
		if err := ValidateTransportURL(cfg.Transport.URL); err != nil {
			return fmt.Errorf("transport.url: %w", err)
		}
	}
	if cfg.Metrics.Enabled {
		if err := ValidateListenAddr(cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr: %w", err)
		}
	}
	if cfg.Storage.Backend == "redis" && IsOfflineMode() && !IsLocalhost(cfg.Storage.RedisAddr) {
		return fmt.Errorf("storage.redis_addr: %w: %s", ErrNonLocalhost, cfg.Storage.RedisAddr)
	}
	return nil
}

// =============================================================================
// STATUS DISPLAY
// =============================================================================

// StatusBadge returns "[OFFLINE]" when offline, empty string otherwise.
func StatusBadge() string {
	if IsOfflineMode() {
		return "[OFFLINE]"
	}
	return ""
}
