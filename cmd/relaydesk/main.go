// ABOUTME: Entry point for the relaydesk messaging dashboard server
// ABOUTME: Serves the conversation API, provider webhooks and realtime stream

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/relaydesk/internal/config"
	"github.com/2389/relaydesk/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _                 _           _
  _ __ ___| | __ _ _   _  __| | ___  ___| | __
 | '__/ _ \ |/ _' | | | |/ _' |/ _ \/ __| |/ /
 | | |  __/ | (_| | |_| | (_| |  __/\__ \   <
 |_|  \___|_|\__,_|\__, |\__,_|\___||___/_|\_\
                   |___/
`

// getConfigPath returns the path to the relaydesk config file.
// Priority: RELAYDESK_CONFIG env var > XDG_CONFIG_HOME/relaydesk/config.yaml > ~/.config/relaydesk/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAYDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "relaydesk", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: relaydesk <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check server health")
		fmt.Println("  status   Show cache readiness and connected clients")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("From:      %s\n", cfg.Twilio.PhoneNumber)
	green.Print("    ▶ ")
	fmt.Printf("Cache TTL: %s\n", cfg.Cache.TTL)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.TestMode {
		yellow.Println("    ! test mode: realtime and periodic refresh disabled")
	}

	fmt.Println()

	logger.Info("starting relaydesk",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"cache_ttl", cfg.Cache.TTL,
		"dedupe_window", cfg.Dedupe.Window,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	_, status, err := getEndpoint(ctx, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context) error {
	body, _, err := getEndpoint(ctx, "/health/ready")
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	fmt.Println(body)
	return nil
}

// getEndpoint GETs a path on the configured HTTP address.
func getEndpoint(ctx context.Context, path string) (string, int, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return "", 0, fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return string(body), resp.StatusCode, nil
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "relaydesk configuration setup")
	fmt.Fprintln(out, "=============================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := prompt(reader, out, "HTTP address", config.DefaultHTTPAddr)

	fmt.Fprintln(out, "\n--- Twilio Configuration ---")
	phoneNumber := prompt(reader, out, "Outbound phone number (E.164)", "")

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, out, "Enable Tailscale?", "no"))

	var tsHostname string
	var tsEphemeral bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, out, "Tailscale hostname", "relaydesk")
		tsEphemeral = isYes(prompt(reader, out, "Ephemeral node?", "no"))
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# relaydesk configuration\n")
	cfg.WriteString("# Generated by relaydesk init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("twilio:\n")
	cfg.WriteString("  account_sid: \"${TWILIO_ACCOUNT_SID}\"\n")
	cfg.WriteString("  auth_token: \"${TWILIO_AUTH_TOKEN}\"\n")
	cfg.WriteString(fmt.Sprintf("  phone_number: \"%s\"\n", phoneNumber))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
	}
	cfg.WriteString("\n")

	cfg.WriteString("cache:\n")
	cfg.WriteString(fmt.Sprintf("  ttl: \"%s\"\n", config.DefaultCacheTTL))
	cfg.WriteString("\n")

	cfg.WriteString("dedupe:\n")
	cfg.WriteString(fmt.Sprintf("  window: \"%s\"\n", config.DefaultDedupeWindow))
	cfg.WriteString(fmt.Sprintf("  max_entries: %d\n", config.DefaultDedupeMaxEntries))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Credentials are env references, but keep the file private anyway.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nSet TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN, then start the server:")
	fmt.Fprintln(out, "  relaydesk serve")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
