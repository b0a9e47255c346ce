package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Options tunes per-connection behavior. Zero values fall back to
// conservative defaults.
type Options struct {
	MaxMessageSize int64
	RateLimit      RateLimitConfig
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.RateLimit.Burst <= 0 {
		o.RateLimit.Burst = 10
	}
	if o.RateLimit.RefillInterval <= 0 {
		o.RateLimit.RefillInterval = time.Second
	}
	return o
}

// Hub owns the lifecycle of every connection: it is the only component
// that registers presence, joins personal rooms, starts pumps, and tears
// all of that down again on disconnect. Lifecycle transitions are
// serialized through its run loop, so a connection is added exactly once
// and removed exactly once.
type Hub struct {
	registry *Registry
	rooms    *Rooms
	router   *Router
	opts     Options
	log      *slog.Logger

	register   chan *Client
	unregister chan *Client
	clients    map[*Client]struct{} // run-loop owned

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewHub wires the lifecycle manager to its presence registry, room
// multiplexer, and router. Call Run in its own goroutine before
// registering connections.
func NewHub(registry *Registry, rooms *Rooms, router *Router, opts Options, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   registry,
		rooms:      rooms,
		router:     router,
		opts:       opts.withDefaults(),
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands an authenticated connection to the lifecycle manager.
// The hub either activates it or refuses it with a duplicate-identity
// error; the caller is done with it either way.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

// Unregister requests teardown for a connection. Safe to call for
// connections that were never activated or were already torn down.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Run drives the lifecycle state machine. It blocks until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case c := <-h.register:
			if c == nil {
				h.log.Warn("nil client registration skipped")
				continue
			}
			h.activate(c)

		case c := <-h.unregister:
			h.teardown(c)
		}
	}
}

// activate moves a connection from authenticated to active: presence
// registration, personal-room join, pump start, presence broadcast. A
// duplicate identity refuses the newcomer and leaves the existing
// connection untouched.
func (h *Hub) activate(c *Client) {
	if err := h.registry.Register(c.identity, c); err != nil {
		h.log.Warn("connection refused", "identity", int64(c.identity), "addr", c.addr, "error", err)
		h.refuse(c, err)
		return
	}

	h.clients[c] = struct{}{}
	h.rooms.Track(c)
	h.rooms.Join(PersonalRoom(c.identity), c)

	if c.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			c.writePump()
		}()
		go func() {
			defer h.wg.Done()
			c.readPump()
		}()
	}

	h.log.Info("connection active", "identity", int64(c.identity), "addr", c.addr, "total", len(h.clients))
	h.broadcastPresence(fmt.Sprintf("%s connected", c.username))
}

// teardown reverses activate. A second teardown for the same connection,
// such as a transport disconnect racing an explicit logout, changes
// nothing.
func (h *Hub) teardown(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)

	h.registry.Unregister(c.identity, c)
	h.rooms.Drop(c)
	if c.markClosed() {
		close(c.send)
	}

	h.log.Info("connection closed", "identity", int64(c.identity), "addr", c.addr, "total", len(h.clients))
	h.broadcastPresence(fmt.Sprintf("%s disconnected", c.username))
}

// refuse notifies a never-activated connection why it was rejected and
// closes it. Its pumps were never started, so the write happens directly.
func (h *Hub) refuse(c *Client, reason error) {
	if c.conn == nil {
		return
	}
	env, err := NewEvent(EventError, ErrorEvent{Code: errorCode(reason), Message: reason.Error()})
	if err == nil {
		if payload, mErr := json.Marshal(env); mErr == nil {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.TextMessage, payload)
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, errorCode(reason)))
	_ = c.conn.Close()
}

// broadcastPresence publishes the online identity snapshot plus a status
// notice to every connection. Presence changes are global notifications.
func (h *Hub) broadcastPresence(status string) {
	if env, err := NewEvent(EventOnlineUsers, OnlineUsersEvent{Users: identityList(h.registry.Snapshot())}); err == nil {
		h.rooms.PublishAll(env)
	}
	if env, err := NewEvent(EventStatus, StatusEvent{Message: status}); err == nil {
		h.rooms.PublishAll(env)
	}
}

func (h *Hub) shutdownClients() {
	h.log.Info("closing client connections", "count", len(h.clients))

	for c := range h.clients {
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("close client connection", "addr", c.addr, "error", err)
			}
		}
		if c.markClosed() {
			close(c.send)
		}
	}
	h.clients = make(map[*Client]struct{})
}

// Shutdown stops the run loop, closes every connection, and waits for the
// pump goroutines to finish or the timeout to expire.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub shutdown initiated")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}

func identityList(ids []Identity) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		out = append(out, int64(id))
	}
	return out
}
