// Package config handles configuration loading for coven-keyring.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_KEYRING_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/keyring.yaml
//  3. ~/.config/coven/keyring.yaml
//
// Files ending in .toml are parsed as TOML; anything else is YAML. Both
// formats use the same keys.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"
//
// If auth.jwt_secret or auth.encryption_key is empty after expansion, the
// JWT_SECRET and ENCRYPTION_KEY environment variables are used. A missing
// secret is a load error; there is no insecure default.
//
// # Example
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  grpc_addr: ""            # optional
//	  read_header_timeout: "10s"
//
//	database:
//	  path: "~/.local/share/coven/keyring.db"
//
//	auth:
//	  jwt_secret: "${JWT_SECRET}"
//	  encryption_key: "${ENCRYPTION_KEY}"
//	  bcrypt_cost: 10
//	  token_ttl: "24h"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
