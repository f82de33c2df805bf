// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigrun-chat.
//
// Configuration is TOML, layered over built-in defaults, with environment
// variable overrides and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - OllamaConfig: Model server URL, model, temperature and context size
//   - StorageConfig: Conversation persistence backend
//   - TransportConfig: Event channel reconnect, queue and heartbeat tuning
//   - LoggingConfig, MetricsConfig, UIConfig: Ambient settings
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_CHAT_*)
//   - ~/.rigrun-chat/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Reload on change:
//
//	go config.Watch(ctx, config.DefaultPath(), func(c *config.Config) {
//	    controller.SetModel(c.Ollama.Model)
//	}, nil)
package config
