// ABOUTME: Connection abstraction and the coder/websocket-backed implementation
// ABOUTME: Tracks connecting/open/closing/closed state and runs read/write pumps

package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
)

// ConnState is a connection's lifecycle state.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one live client as seen by the Hub.
type Conn interface {
	ID() string
	State() ConnState
	// Send enqueues a text frame. It must not block.
	Send(data []byte) bool
}

// wsConn is a Conn over a coder/websocket connection.
type wsConn struct {
	id     string
	conn   *websocket.Conn
	state  atomic.Int32
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	closeOnce sync.Once
}

func newWSConn(parent context.Context, conn *websocket.Conn, logger *slog.Logger) *wsConn {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.New().String()
	c := &wsConn{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("conn_id", id),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) State() ConnState { return ConnState(c.state.Load()) }

func (c *wsConn) Send(data []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("dropping message for slow client")
		return false
	}
}

// run marks the connection open and blocks until the client goes away.
func (c *wsConn) run() {
	c.state.Store(int32(StateOpen))
	go c.writePump()
	c.readPump()
	c.close(websocket.StatusNormalClosure, "")
}

func (c *wsConn) readPump() {
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.logger.Debug("client closed connection", "status", status)
			}
			return
		}
		c.logger.Debug("ignoring inbound client message", "type", typ.String(), "bytes", len(data))
	}
}

func (c *wsConn) writePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.logger.Debug("write failed, closing", "error", err)
				c.close(websocket.StatusGoingAway, "write failed")
				return
			}
		}
	}
}

func (c *wsConn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.cancel()
		_ = c.conn.Close(code, reason)
		c.state.Store(int32(StateClosed))
	})
}
