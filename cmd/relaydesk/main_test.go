// ABOUTME: Tests for relaydesk CLI helpers
// ABOUTME: Covers config path resolution, init output and the console log handler

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relaydesk/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("RELAYDESK_CONFIG", "/etc/relaydesk.toml")
		assert.Equal(t, "/etc/relaydesk.toml", getConfigPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("RELAYDESK_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		assert.Equal(t, filepath.Join("/xdg", "relaydesk", "config.yaml"), getConfigPath())
	})
}

func TestRunInitWritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relaydesk", "config.yaml")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")

	answers := strings.Join([]string{
		path,             // config path
		"127.0.0.1:4000", // http addr
		"+15550001111",   // phone number
		"",               // tailscale: default no
		"debug",          // log level
		"json",           // log format
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Config written to "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", cfg.Server.HTTPAddr)
	assert.Equal(t, "+15550001111", cfg.Twilio.PhoneNumber)
	assert.Equal(t, "AC123", cfg.Twilio.AccountSID)
	assert.Equal(t, config.DefaultCacheTTL, cfg.Cache.TTL)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.With("component", "sms").Info("sms sent", "to", "+1555")
	logger.Debug("hidden")

	line := buf.String()
	assert.Contains(t, line, "INF sms sent")
	assert.Contains(t, line, "component=sms")
	assert.Contains(t, line, "to=+1555")
	assert.NotContains(t, line, "hidden")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("DEBUG").String())
	assert.Equal(t, "WARN", parseLevel("warn").String())
	assert.Equal(t, "INFO", parseLevel("bogus").String())
}
