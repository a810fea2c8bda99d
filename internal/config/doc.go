// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and saves the client configuration.
//
// Supports both TOML and JSON configuration formats, with defaults,
// environment variable overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Command-line flags (applied by the caller)
//   - Environment variables (RESEARCH_*)
//   - ~/.research/config.toml
//   - ~/.research/config.json
//   - Built-in defaults
//
// RESEARCH_HOME relocates the whole directory.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	gw, err := gateway.New(cfg.Server.URL, tokenstore.Open(cfg.Auth.TokenFile, logger))
package config
