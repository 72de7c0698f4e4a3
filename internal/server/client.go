// Package server manages individual WebSocket connections, handling framing,
// write pumps, backpressure, and lifecycle control for each client.
package server

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/averill/relaychat/internal/config"
	"github.com/averill/relaychat/internal/protocol"
)

// Client wraps one WebSocket connection. It owns the outbound event queue
// and the write pump; reads happen on the session goroutine. The user
// identity is set exactly once, at handshake, before the client is ever
// handed to shared components.
type Client struct {
	id   string
	conn *websocket.Conn
	addr string
	user protocol.User

	send chan *protocol.Event
	done chan struct{}

	pongWait     time.Duration
	writeWait    time.Duration
	pingInterval time.Duration

	closeOnce sync.Once
	logger    *slog.Logger
}

// NewClient wraps the connection with a bounded outbound queue sized and
// timed per the server configuration.
func NewClient(conn *websocket.Conn, addr string, cfg config.ServerConfig, logger *slog.Logger) *Client {
	id := uuid.NewString()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:           id,
		conn:         conn,
		addr:         addr,
		send:         make(chan *protocol.Event, cfg.SendQueueSize),
		done:         make(chan struct{}),
		pongWait:     cfg.PongWait,
		writeWait:    cfg.WriteWait,
		pingInterval: cfg.PongWait * 9 / 10,
		logger:       logger.With(slog.String("conn_id", id), slog.String("addr", addr)),
	}
}

// ID returns the opaque connection id.
func (c *Client) ID() string { return c.id }

// User returns the identity bound at handshake time.
func (c *Client) User() protocol.User { return c.user }

func (c *Client) setUser(user protocol.User) { c.user = user }

// Deliver enqueues an event without blocking. When the queue is full it
// sheds the oldest pending transient event and retries; if the queue is
// still full the reader is stalled and the connection is closed rather than
// letting it hold up producers. Reports false once the client is closing.
func (c *Client) Deliver(ev *protocol.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
	}

	select {
	case oldest := <-c.send:
		if !oldest.Transient() {
			c.logger.Warn("outbound queue full, closing slow connection")
			c.Close()
			return false
		}
		c.logger.Debug("dropped stale transient event under backpressure",
			slog.String("action", oldest.Action()))
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		c.logger.Warn("outbound queue still full, closing slow connection")
		c.Close()
		return false
	}
}

// Close tears down the transport stream. Idempotent; the write pump drains
// what it can and exits.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				c.logger.Debug("error closing connection", slog.Any("error", err))
			}
		}
	})
}

// configureRead arms the read deadline and pong handler that implement the
// idle-connection timeout.
func (c *Client) configureRead() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		c.logger.Debug("error setting read deadline", slog.Any("error", err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
			c.logger.Debug("error resetting read deadline", slog.Any("error", err))
		}
		return nil
	})
}

// readFrame blocks for the next inbound frame.
func (c *Client) readFrame() ([]byte, error) {
	_, raw, err := c.conn.ReadMessage()
	return raw, err
}

// writePump serializes all wire writes for this connection: queued events,
// keepalive pings, and the final close frame. Runs until the client closes.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.flush()
			c.writeClose()
			return

		case ev := <-c.send:
			if !c.writeEvent(ev) {
				return
			}

		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// flush writes out whatever is still queued so an auth_error or other final
// event reaches the client before the close frame.
func (c *Client) flush() {
	for {
		select {
		case ev := <-c.send:
			if !c.writeEvent(ev) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) writeEvent(ev *protocol.Event) bool {
	data, err := ev.Encode()
	if err != nil {
		c.logger.Error("error encoding event", slog.String("action", ev.Action()), slog.Any("error", err))
		return true
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.logger.Debug("error setting write deadline", slog.Any("error", err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("error writing event", slog.Any("error", err))
		}
		return false
	}
	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("error writing ping", slog.Any("error", err))
		}
		return false
	}
	return true
}

func (c *Client) writeClose() {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error writing close message", slog.Any("error", err))
	}
}

// logReadError classifies a read failure for logging. Every read error ends
// the connection; the distinction is only between routine disconnects and
// genuinely unexpected failures.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("inbound frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", slog.Any("error", err))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Info("connection closed", slog.Any("error", err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket error", slog.Any("error", err))
	default:
		c.logger.Info("websocket read error", slog.Any("error", err))
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
