// Package config handles configuration loading for relaydesk.
//
// # Configuration File
//
// Default location:
//
//  1. Path from RELAYDESK_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/relaydesk/config.yaml (or ~/.config/relaydesk/config.yaml)
//
// Files ending in .toml are read as TOML; everything else as YAML.
//
// # Environment Variable Expansion
//
//	twilio:
//	  auth_token: "${TWILIO_AUTH_TOKEN}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:3000"
//	  allowed_origins: ["dashboard.example.com"]
//
//	twilio:
//	  account_sid: "${TWILIO_ACCOUNT_SID}"
//	  auth_token: "${TWILIO_AUTH_TOKEN}"
//	  phone_number: "+15550000000"   # direct-SMS source and default author
//
//	cache:
//	  ttl: "60s"
//	  max_concurrent_fetches: 8
//
//	dedupe:
//	  window: "60s"
//	  max_entries: 10000
//
//	tailscale:
//	  enabled: false
//	  hostname: "relaydesk"
//	  auth_key: "${TS_AUTHKEY}"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	test_mode: false
package config
