// Package config handles configuration loading for carrel.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CARREL_CONFIG environment variable
//  2. ./carrel.yaml (current directory)
//  3. ~/.config/carrel/carrel.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CARREL_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  ws_addr: "127.0.0.1:8700"  # WebSocket + health listener
//	  stdio:
//	    enabled: false           # serve a single connection on stdin/stdout
//
// Catalog:
//
//	catalog:
//	  path: "catalog.toml"
//	  watch: true                # reload sources and tools on change
//
// Resources:
//
//	resources:
//	  page_size: 50              # list page size before a cursor is issued
//
// Authentication:
//
//	auth:
//	  mode: "token"              # none, token, ssh
//	  jwt_secret: "${CARREL_JWT_SECRET}"
//	  issuer: "carrel"
//	  audience: "carrel-clients"
//	  token_ttl: "24h"
//	  authorized_keys: "~/.config/carrel/authorized_keys"  # ssh mode
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "carrel"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: ""
//	  ephemeral: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - At least one listener (socket, stdio, or tailscale)
//   - JWT secret minimum length (32 bytes) in token mode
//   - Authorized keys path presence in ssh mode
//   - Duration format validity
//   - Logging level and format values
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/carrel/carrel.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
