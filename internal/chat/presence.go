package chat

import (
	"sync"

	"github.com/samber/lo"
)

// Registry tracks which identities currently have a live connection and the
// client handle used to reach them. At most one connection per identity is
// registered at any time.
type Registry struct {
	mu      sync.RWMutex
	entries map[Identity]*Client
}

// NewRegistry returns an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Identity]*Client)}
}

// Register binds identity to c. It returns ErrDuplicateIdentity when a
// different live connection already holds the identity: the newcomer is
// refused rather than evicting the existing connection.
func (r *Registry) Register(id Identity, c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[id]; ok && existing != c {
		return ErrDuplicateIdentity
	}
	r.entries[id] = c
	return nil
}

// Unregister removes the mapping only if c is still the registered
// connection for identity. A late unregister from a superseded connection
// is a no-op, never an error.
func (r *Registry) Unregister(id Identity, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[id]; ok && existing == c {
		delete(r.entries, id)
	}
}

// Lookup returns the live connection for identity, if any.
func (r *Registry) Lookup(id Identity) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.entries[id]
	return c, ok
}

// Online reports whether identity has a live connection.
func (r *Registry) Online(id Identity) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Snapshot returns a point-in-time copy of the online identity set.
func (r *Registry) Snapshot() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Keys(r.entries)
}
