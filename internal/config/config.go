// ABOUTME: Configuration loading and parsing for relaydesk
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a value is not set.
const (
	DefaultHTTPAddr         = "0.0.0.0:3000"
	DefaultCacheTTL         = 60 * time.Second
	DefaultDedupeWindow     = 60 * time.Second
	DefaultDedupeMaxEntries = 10_000
)

// Config represents the complete relaydesk configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Twilio    TwilioConfig    `yaml:"twilio" toml:"twilio"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`

	// TestMode disables the periodic cache refresher and the realtime hub.
	TestMode bool `yaml:"test_mode" toml:"test_mode"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// AllowedOrigins are host patterns allowed to open cross-origin websockets.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// TwilioConfig holds provider credentials and our outbound number
type TwilioConfig struct {
	AccountSID  string `yaml:"account_sid" toml:"account_sid"`
	AuthToken   string `yaml:"auth_token" toml:"auth_token"`
	PhoneNumber string `yaml:"phone_number" toml:"phone_number"`
}

// CacheConfig holds conversation cache timing
type CacheConfig struct {
	TTL                  time.Duration `yaml:"-" toml:"-"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches" toml:"max_concurrent_fetches"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// DedupeConfig holds the outbound dedup window
type DedupeConfig struct {
	Window     time.Duration `yaml:"-" toml:"-"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`

	WindowRaw string `yaml:"window" toml:"window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Dedupe.Window == 0 {
		cfg.Dedupe.Window = DefaultDedupeWindow
	}
	if cfg.Dedupe.MaxEntries == 0 {
		cfg.Dedupe.MaxEntries = DefaultDedupeMaxEntries
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Twilio.PhoneNumber == "" {
		return fmt.Errorf("twilio.phone_number is required")
	}
	if !c.TestMode {
		if c.Twilio.AccountSID == "" {
			return fmt.Errorf("twilio.account_sid is required")
		}
		if c.Twilio.AuthToken == "" {
			return fmt.Errorf("twilio.auth_token is required")
		}
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Cache.MaxConcurrentFetches < 0 {
		return fmt.Errorf("cache.max_concurrent_fetches must not be negative")
	}
	if c.Dedupe.Window < 0 {
		return fmt.Errorf("dedupe.window must be positive")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}

	if cfg.Dedupe.WindowRaw != "" {
		cfg.Dedupe.Window, err = time.ParseDuration(cfg.Dedupe.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.window %q: %w", cfg.Dedupe.WindowRaw, err)
		}
	}

	return nil
}
