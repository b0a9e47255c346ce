package chat

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Rooms groups connections into named delivery scopes. A room holds
// non-owning references: membership never extends a connection's lifetime,
// and the lifecycle manager removes a connection from every room on
// teardown.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	all   map[*Client]struct{}
	log   *slog.Logger
}

// NewRooms returns an empty room multiplexer.
func NewRooms(log *slog.Logger) *Rooms {
	return &Rooms{
		rooms: make(map[string]map[*Client]struct{}),
		all:   make(map[*Client]struct{}),
		log:   log,
	}
}

// Track adds c to the global broadcast scope. Idempotent.
func (r *Rooms) Track(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all[c] = struct{}{}
}

// Join adds c to the named room. Joining twice is a no-op.
func (r *Rooms) Join(room string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}
}

// Leave removes c from the named room. Leaving a room c is not in is a
// no-op.
func (r *Rooms) Leave(room string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, c)
}

func (r *Rooms) leaveLocked(room string, c *Client) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Drop removes c from every room and from the broadcast scope. Called once
// per connection at teardown; safe to call again.
func (r *Rooms) Drop(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.all, c)
	for room := range r.rooms {
		r.leaveLocked(room, c)
	}
}

// Publish delivers env to every connection in the room at call time.
// Delivery is independent per connection: a member with a full or closed
// send buffer is logged and skipped, never blocking the others.
func (r *Rooms) Publish(room string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		r.log.Error("encode room event", "room", room, "type", env.Type, "error", err)
		return
	}
	for _, c := range r.members(room) {
		if !c.trySend(payload) {
			r.log.Warn("dropped event for slow or closed connection",
				"room", room, "type", env.Type, "addr", c.addr)
		}
	}
}

// PublishAll delivers env to every currently-connected client regardless
// of room membership.
func (r *Rooms) PublishAll(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		r.log.Error("encode broadcast event", "type", env.Type, "error", err)
		return
	}
	for _, c := range r.allSnapshot() {
		if !c.trySend(payload) {
			r.log.Warn("dropped broadcast for slow or closed connection",
				"type", env.Type, "addr", c.addr)
		}
	}
}

// members returns a point-in-time copy of the room's membership so sends
// happen without holding the lock.
func (r *Rooms) members(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		clients = append(clients, c)
	}
	return clients
}

func (r *Rooms) allSnapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.all))
	for c := range r.all {
		clients = append(clients, c)
	}
	return clients
}
