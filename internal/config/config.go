// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigrun-chat.
//
// Configuration file location: ~/.rigrun-chat/config.toml. Missing keys keep
// their built-in defaults and environment variables are applied last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-chat configuration.
type Config struct {
	// Offline restricts the Ollama and transport URLs to localhost.
	Offline bool `toml:"offline"`

	Ollama    OllamaConfig    `toml:"ollama"`
	Storage   StorageConfig   `toml:"storage"`
	Transport TransportConfig `toml:"transport"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
	UI        UIConfig        `toml:"ui"`
}

// OllamaConfig contains model server settings.
type OllamaConfig struct {
	URL         string  `toml:"url"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	// MaxContext is sent as num_ctx. 0 leaves the server default.
	MaxContext    int      `toml:"max_context"`
	StreamTimeout Duration `toml:"stream_timeout"`
}

// StorageConfig selects the conversation persistence backend.
type StorageConfig struct {
	// Backend is one of: file, sqlite, redis, memory
	Backend       string `toml:"backend"`
	Path          string `toml:"path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// TransportConfig configures the event channel. An empty URL disables it.
type TransportConfig struct {
	URL           string   `toml:"url"`
	ReconnectBase Duration `toml:"reconnect_base"`
	MaxAttempts   int      `toml:"max_attempts"`
	QueueSize     int      `toml:"queue_size"`
	PingInterval  Duration `toml:"ping_interval"`
	PongTimeout   Duration `toml:"pong_timeout"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	// Level: trace, debug, info, warn, error
	Level string `toml:"level"`
	// Format: console or json
	Format string `toml:"format"`
	// File receives log output. Empty means <data dir>/rigrun-chat.log.
	File string `toml:"file"`
}

// MetricsConfig configures the metrics and health endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// UIConfig contains terminal rendering preferences.
type UIConfig struct {
	Markdown  bool `toml:"markdown"`
	ShowThink bool `toml:"show_think"`
	// RenderFPS caps redraws while a response streams.
	RenderFPS int `toml:"render_fps"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration {
	return Duration{d}
}

// UnmarshalText parses strings such as "30s" or "1m30s".
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText writes the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Ollama: OllamaConfig{
			URL:           "http://127.0.0.1:11434",
			Temperature:   0.7,
			StreamTimeout: D(60 * time.Second),
		},
		Storage: StorageConfig{
			Backend:   "file",
			RedisAddr: "127.0.0.1:6379",
		},
		Transport: TransportConfig{
			ReconnectBase: D(time.Second),
			MaxAttempts:   5,
			QueueSize:     100,
			PingInterval:  D(30 * time.Second),
			PongTimeout:   D(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		UI: UIConfig{
			Markdown:  true,
			ShowThink: true,
			RenderFPS: 30,
		},
	}
}

// fillDefaults restores empty string and zero-size fields that must not be
// empty after decoding.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = defaults.Ollama.URL
	}
	if cfg.Ollama.StreamTimeout.Duration == 0 {
		cfg.Ollama.StreamTimeout = defaults.Ollama.StreamTimeout
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Transport.ReconnectBase.Duration == 0 {
		cfg.Transport.ReconnectBase = defaults.Transport.ReconnectBase
	}
	if cfg.Transport.MaxAttempts == 0 {
		cfg.Transport.MaxAttempts = defaults.Transport.MaxAttempts
	}
	if cfg.Transport.QueueSize == 0 {
		cfg.Transport.QueueSize = defaults.Transport.QueueSize
	}
	if cfg.Transport.PingInterval.Duration == 0 {
		cfg.Transport.PingInterval = defaults.Transport.PingInterval
	}
	if cfg.Transport.PongTimeout.Duration == 0 {
		cfg.Transport.PongTimeout = defaults.Transport.PongTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = defaults.Metrics.Addr
	}
	if cfg.UI.RenderFPS == 0 {
		cfg.UI.RenderFPS = defaults.UI.RenderFPS
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory path.
func ConfigDir() string {
	return util.DataDir()
}

// DefaultPath returns the path to the TOML config file.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// LogPath returns the log file path, defaulting under the config directory.
func (c *Config) LogPath() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(ConfigDir(), "rigrun-chat.log")
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads the default config file. A missing file yields the defaults.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom loads configuration from path on top of the defaults, applies
// environment overrides and validates the result. A missing file is not an
// error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
// SECURITY: Config files are written 0600 since they may hold a Redis password.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigrun-chat configuration file\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if err := validateURL(c.Ollama.URL, "http", "https"); err != nil {
		add("ollama.url", "%v", err)
	}
	if c.Ollama.Temperature < 0 || c.Ollama.Temperature > 2 {
		add("ollama.temperature", "must be between 0 and 2, got %g", c.Ollama.Temperature)
	}
	if c.Ollama.MaxContext < 0 {
		add("ollama.max_context", "must not be negative")
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "file", "sqlite", "memory":
	case "redis":
		if c.Storage.RedisAddr == "" {
			add("storage.redis_addr", "required for the redis backend")
		}
	default:
		add("storage.backend", "invalid backend '%s', must be one of: file, sqlite, redis, memory", c.Storage.Backend)
	}

	if c.Transport.URL != "" {
		if err := validateURL(c.Transport.URL, "ws", "wss"); err != nil {
			add("transport.url", "%v", err)
		}
	}
	if c.Transport.ReconnectBase.Duration <= 0 {
		add("transport.reconnect_base", "must be positive")
	}
	if c.Transport.MaxAttempts < 1 {
		add("transport.max_attempts", "must be at least 1")
	}
	if c.Transport.QueueSize < 1 {
		add("transport.queue_size", "must be at least 1")
	}
	if c.Transport.PingInterval.Duration <= 0 {
		add("transport.ping_interval", "must be positive")
	}
	if c.Transport.PongTimeout.Duration <= 0 {
		add("transport.pong_timeout", "must be positive")
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil || c.Logging.Level == "" {
		add("logging.level", "invalid level '%s'", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		add("logging.format", "invalid format '%s', must be console or json", c.Logging.Format)
	}

	if c.UI.RenderFPS < 1 || c.UI.RenderFPS > 120 {
		add("ui.render_fps", "must be between 1 and 120, got %d", c.UI.RenderFPS)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL '%s': %w", raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("URL '%s' has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("URL '%s' must use scheme %s", raw, strings.Join(schemes, " or "))
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGRUN_CHAT_MODEL: overrides ollama.model
//   - RIGRUN_CHAT_OLLAMA_URL: overrides ollama.url
//   - RIGRUN_CHAT_TEMPERATURE: overrides ollama.temperature
//   - RIGRUN_CHAT_STORAGE: overrides storage.backend
//   - RIGRUN_CHAT_STORAGE_PATH: overrides storage.path
//   - RIGRUN_CHAT_REDIS_ADDR: overrides storage.redis_addr
//   - RIGRUN_CHAT_TRANSPORT_URL: overrides transport.url
//   - RIGRUN_CHAT_LOG_LEVEL: overrides logging.level
//   - RIGRUN_CHAT_METRICS_ADDR: overrides metrics.addr and enables metrics
//   - RIGRUN_CHAT_OFFLINE: set to "1" or "true" to enable offline mode
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGRUN_CHAT_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v := os.Getenv("RIGRUN_CHAT_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("RIGRUN_CHAT_TEMPERATURE"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			c.Ollama.Temperature = t
		}
	}
	if v := os.Getenv("RIGRUN_CHAT_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("RIGRUN_CHAT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("RIGRUN_CHAT_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("RIGRUN_CHAT_TRANSPORT_URL"); v != "" {
		c.Transport.URL = v
	}
	if v := os.Getenv("RIGRUN_CHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RIGRUN_CHAT_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
		c.Metrics.Enabled = true
	}
	if v := os.Getenv("RIGRUN_CHAT_OFFLINE"); v != "" {
		c.Offline = v == "1" || strings.ToLower(v) == "true"
	}
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
