// Package config handles configuration loading for stampchain-mcp.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every key is optional; omitted keys keep the values from Default.
//
// # Configuration File
//
// Locations (in order):
//
//  1. --config flag
//  2. Path from STAMPCHAIN_MCP_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/stampchain-mcp/config.yaml
//
// A missing file at location 3 is not an error.
//
// # Environment Variable Expansion
//
//	api:
//	  base_url: "${STAMPCHAIN_API_URL}"
//
// # Configuration Sections
//
//	server:
//	  transport: "stdio"          # stdio, http
//	  http_addr: "127.0.0.1:8787"
//	  error_delivery: "inband"    # inband, protocol
//	  exec_timeout: "30s"
//	  shutdown_grace: "10s"
//
//	api:
//	  base_url: "https://stampchain.io/api/v2"
//	  timeout: "30s"
//	  max_retries: 3
//	  cache_ttl: "5m"             # "0s" disables response caching
//	  cache_size: 500
//
//	registry:
//	  validate_on_register: true
//	  allow_duplicate_names: false
//	  max_tools: 1000
//
//	sessions:
//	  max_connections: 100
//	  session_timeout: "1h"
//
//	errors:
//	  development: false          # include tool context in fault messages
//	  include_stack: false
//	  max_message_length: 1000
//	  log_errors: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	telemetry:
//	  enabled: false
//	  otlp_endpoint: "localhost:4318"  # traces and metrics over OTLP/HTTP
//
// The same keys work in TOML when the file name ends in .toml.
package config
