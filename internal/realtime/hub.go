// ABOUTME: WebSocket fan-out hub that keeps every dashboard in sync
// ABOUTME: Accepts connections, tracks membership and broadcasts JSON events

package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks live connections and fans events out to them.
type Hub struct {
	mu             sync.RWMutex
	conns          map[string]Conn
	originPatterns []string
	noop           bool
	logger         *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithOriginPatterns allows cross-origin upgrades from the given host patterns.
func WithOriginPatterns(patterns []string) Option {
	return func(h *Hub) {
		h.originPatterns = patterns
	}
}

// New creates a hub. Pass nil logger for default.
func New(logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		conns:  make(map[string]Conn),
		logger: logger.With("component", "realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewNoop returns a hub that never accepts connections and drops every broadcast.
func NewNoop() *Hub {
	h := New(slog.New(slog.DiscardHandler))
	h.noop = true
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.noop {
		http.Error(w, "realtime disabled", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newWSConn(r.Context(), ws, h.logger)
	h.Add(c)
	defer h.Remove(c.ID())

	h.logger.Info("client connected", "conn_id", c.ID(), "remote", r.RemoteAddr, "total", h.Count())
	c.run()
}

// Add registers a connection.
func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
}

// Remove drops a connection from the set.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	_, ok := h.conns[id]
	delete(h.conns, id)
	remaining := len(h.conns)
	h.mu.Unlock()

	if ok {
		h.logger.Info("client disconnected", "conn_id", id, "remaining", remaining)
	}
}

// Count returns the number of tracked connections, open or not.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends payload, serialized as JSON text, to every open connection.
func (h *Hub) Broadcast(payload any) {
	if h.noop {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast payload", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.State() != StateOpen {
			continue
		}
		if c.Send(data) {
			sent++
		}
	}
	h.logger.Debug("broadcast", "bytes", len(data), "sent", sent, "connections", len(targets))
}

// Close shuts every websocket connection down.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]Conn)
	h.mu.Unlock()

	for _, c := range conns {
		if ws, ok := c.(*wsConn); ok {
			ws.close(websocket.StatusGoingAway, "server shutting down")
		}
	}
	h.logger.Debug("hub closed", "closed", len(conns))
}
