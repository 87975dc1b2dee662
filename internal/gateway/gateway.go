// ABOUTME: Gateway orchestrator that builds the cache, dispatcher and realtime hub
// ABOUTME: Manages the HTTP server, optional tailnet listener and shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/relaydesk/internal/broadcast"
	"github.com/2389/relaydesk/internal/config"
	"github.com/2389/relaydesk/internal/conversation"
	"github.com/2389/relaydesk/internal/dedupe"
	"github.com/2389/relaydesk/internal/provider"
	"github.com/2389/relaydesk/internal/realtime"
	"github.com/2389/relaydesk/internal/sms"
)

// Gateway owns every long-lived relaydesk component.
type Gateway struct {
	config      *config.Config
	provider    provider.Provider
	cache       *conversation.Cache
	dispatcher  *sms.Dispatcher
	hub         *realtime.Hub
	registry    *broadcast.Registry
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New creates a Gateway backed by the Twilio provider. In test mode without
// credentials it falls back to the in-memory mock provider.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if cfg.TestMode && (cfg.Twilio.AccountSID == "" || cfg.Twilio.AuthToken == "") {
		return NewWithProvider(cfg, provider.NewMockProvider(), logger)
	}

	p, err := provider.NewTwilioClient(provider.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
	})
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}
	return NewWithProvider(cfg, p, logger)
}

// NewWithProvider creates a Gateway over an arbitrary provider.
func NewWithProvider(cfg *config.Config, p provider.Provider, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := broadcast.NewRegistry()

	cache := conversation.NewCache(p, logger,
		conversation.WithTTL(cfg.Cache.TTL),
		conversation.WithMaxConcurrentFetches(cfg.Cache.MaxConcurrentFetches),
	)

	dispatcher, err := sms.NewDispatcher(sms.Config{
		Provider:   p,
		Publisher:  registry,
		FromNumber: cfg.Twilio.PhoneNumber,
		Dedup:      dedupe.New(cfg.Dedupe.Window, cfg.Dedupe.MaxEntries),
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	var hub *realtime.Hub
	if cfg.TestMode {
		hub = realtime.NewNoop()
	} else {
		hub = realtime.New(logger, realtime.WithOriginPatterns(cfg.Server.AllowedOrigins))
	}
	registry.Set(hub.Broadcast)

	gw := &Gateway{
		config:     cfg,
		provider:   p,
		cache:      cache,
		dispatcher: dispatcher,
		hub:        hub,
		registry:   registry,
		logger:     logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// Handler returns the HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("GET /api/conversations", g.handleListConversations)
	mux.HandleFunc("GET /api/conversations/search", g.handleSearchConversations)
	mux.HandleFunc("POST /api/conversations", g.handleStartConversation)
	mux.HandleFunc("POST /api/conversations/{sid}/messages", g.handleSendConversationMessage)
	mux.HandleFunc("DELETE /api/conversations/{sid}", g.handleDeleteConversation)
	mux.HandleFunc("POST /api/sms", g.handleSendSMS)

	mux.HandleFunc("POST /webhooks/conversations", g.handleConversationWebhook)
	mux.HandleFunc("POST /webhooks/sms", g.handleInboundSMS)

	mux.Handle("GET /ws", g.hub)
	return mux
}

// Run starts the cache refresher and HTTP server and blocks until ctx is
// canceled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	if !g.config.TestMode {
		g.cache.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, refresher, hub and tailnet node.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.cache.Stop()
	g.hub.Close()

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// setupListener returns a tailnet listener when tailscale is enabled, TCP otherwise.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "relaydesk", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	if len(status.TailscaleIPs) > 0 {
		g.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", status.TailscaleIPs[0].String())
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the conversation cache has loaded.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	last := g.cache.LastUpdate()
	if last.IsZero() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("conversation cache not loaded"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d conversations, %d clients)", len(g.cache.Conversations()), g.hub.Count())
}
