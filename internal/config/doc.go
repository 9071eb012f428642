// Package config handles configuration loading for runstream-gateway.
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
//  1. Path from RUNSTREAM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/runstream/gateway.yaml
//  3. ~/.config/runstream/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${RUNSTREAM_JWT_SECRET}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  path: "/var/lib/runstream/gateway.db"
//
//	auth:
//	  jwt_secret: "${RUNSTREAM_JWT_SECRET}"   # optional, enables bearer auth
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	balance:
//	  enabled: true
//	  start_credits: 100000
//
//	runs:
//	  abort_wait: "5s"
//
//	agents:
//	  - id: "echo"
//	    provider: "openAI"
//	    instructions: "You repeat what you hear."
//	    model_options:
//	      model: "gpt-4o-mini"
//	      temperature: 0.2
//	    tools: ["clock", "word_count"]
package config
