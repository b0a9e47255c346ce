package chat

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
	writeWait     = 10 * time.Second
	sendBufferLen = 256
)

// Client is one live transport session bound to an authenticated identity.
// It owns the read and write pumps for its WebSocket connection; rooms and
// the presence registry only hold non-owning references used for
// addressing.
type Client struct {
	id       uuid.UUID
	identity Identity
	username string
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	addr     string
	log      *slog.Logger

	limiter        *rateLimiter
	maxMessageSize int64
	createdAt      time.Time

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an authenticated WebSocket connection. The client is
// inert until the hub registers it and starts its pumps.
func NewClient(conn *websocket.Conn, hub *Hub, identity Identity, username, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(hub.opts.MaxMessageSize)
	}

	return &Client{
		id:             uuid.New(),
		identity:       identity,
		username:       username,
		conn:           conn,
		send:           make(chan []byte, sendBufferLen),
		hub:            hub,
		addr:           addr,
		log:            hub.log.With("identity", int64(identity), "addr", addr),
		limiter:        newRateLimiter(hub.opts.RateLimit.Burst, hub.opts.RateLimit.RefillInterval),
		maxMessageSize: hub.opts.MaxMessageSize,
		createdAt:      time.Now().UTC(),
	}
}

// Identity returns the authenticated identity that owns this connection.
func (c *Client) Identity() Identity { return c.identity }

// Username returns the display name resolved at authentication time.
func (c *Client) Username() string { return c.username }

// trySend queues a payload for delivery without blocking. It reports false
// when the connection is closed or its buffer is full; the caller treats
// that as a per-connection delivery failure, not an error.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// SendEvent delivers an event to this connection only. Used for replies
// that must never fan out: acks, history, and error feedback.
func (c *Client) SendEvent(env Envelope) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		c.log.Error("encode event", "type", env.Type, "error", err)
		return false
	}
	return c.trySend(payload)
}

func (c *Client) sendError(err error) {
	env, encErr := NewEvent(EventError, ErrorEvent{Code: errorCode(err), Message: err.Error()})
	if encErr != nil {
		return
	}
	c.SendEvent(env)
}

// markClosed flips the closed flag exactly once and reports whether this
// call did the flip. The send channel may only be closed by the winner.
func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("set initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("set read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError classifies a read failure and reports whether the read
// loop should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("inbound frame exceeded read limit", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", "error", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Debug("connection closed", "error", err)
	default:
		c.log.Warn("websocket read error", "error", err)
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("close connection in read pump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.limiter.allow() {
			c.log.Warn("rate limit exceeded; discarding event",
				"burst", c.hub.opts.RateLimit.Burst, "interval", c.hub.opts.RateLimit.RefillInterval)
			continue
		}

		// Events of one connection are dispatched in order, one at a
		// time, so resulting publishes keep the stream's ordering.
		c.hub.router.Dispatch(c.hub.ctx, c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("close connection in write pump", "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Warn("set write deadline", "error", err)
				return
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					c.log.Warn("write close message", "error", err)
				}
				return
			}
			// One envelope per frame: consumers decode a frame as a
			// single JSON value, so queued events are never coalesced.
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn("write event", "error", err)
				}
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Warn("set write deadline for ping", "error", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isExpectedCloseError reports whether an error is ordinary connection
// teardown noise.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
