package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *Registry, *Rooms) {
	t.Helper()
	registry := NewRegistry()
	rooms := NewRooms(discardLogger())
	store := newFakeMessageStore()
	users := &fakeUserDirectory{names: map[int64]string{1: "alice", 2: "bob"}}
	router := NewRouter(registry, rooms, store, users, 100, discardLogger())
	hub := NewHub(registry, rooms, router, Options{}, discardLogger())

	go hub.Run()
	t.Cleanup(func() {
		require.NoError(t, hub.Shutdown(time.Second))
	})
	return hub, registry, rooms
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond, msg)
}

func TestHubActivatesConnection(t *testing.T) {
	req := require.New(t)
	hub, registry, rooms := newTestHub(t)
	alice := newTestClient(1, "alice")

	hub.Register(alice)

	eventually(t, func() bool { return registry.Online(1) }, "presence entry missing")
	eventually(t, func() bool { return len(rooms.members(PersonalRoom(1))) == 1 }, "personal room not joined")

	// The activation broadcast reaches the new connection itself.
	env := nextEvent(t, alice)
	req.Equal(EventOnlineUsers, env.Type)
	req.Equal([]int64{1}, decodeData[OnlineUsersEvent](t, env).Users)
	status := nextEvent(t, alice)
	req.Equal(EventStatus, status.Type)
}

func TestHubRefusesDuplicateIdentity(t *testing.T) {
	req := require.New(t)
	hub, registry, _ := newTestHub(t)
	first := newTestClient(1, "alice")
	second := newTestClient(1, "alice")

	hub.Register(first)
	eventually(t, func() bool { return registry.Online(1) }, "first connection not active")

	hub.Register(second)

	// The first connection keeps its registration.
	eventually(t, func() bool {
		c, ok := registry.Lookup(1)
		return ok && c == first
	}, "first connection evicted")

	// The refused connection never produced a second presence broadcast:
	// first saw exactly one online_users + one status.
	nextEvent(t, first)
	nextEvent(t, first)
	requireNoEvent(t, first)
	req.False(second.closed)
}

func TestHubTeardownIsReentrantSafe(t *testing.T) {
	hub, registry, rooms := newTestHub(t)
	alice := newTestClient(1, "alice")
	bob := newTestClient(2, "bob")

	hub.Register(alice)
	hub.Register(bob)
	eventually(t, func() bool { return registry.Online(1) && registry.Online(2) }, "connections not active")

	hub.Unregister(alice)
	eventually(t, func() bool { return !registry.Online(1) }, "alice still registered")
	eventually(t, func() bool { return len(rooms.members(PersonalRoom(1))) == 0 }, "alice still in room")

	// A late disconnect signal for the same connection changes nothing.
	hub.Unregister(alice)
	eventually(t, func() bool { return registry.Online(2) }, "bob affected by duplicate teardown")
}

func TestHubPresenceBroadcastOnDisconnect(t *testing.T) {
	req := require.New(t)
	hub, registry, _ := newTestHub(t)
	alice := newTestClient(1, "alice")
	bob := newTestClient(2, "bob")

	hub.Register(alice)
	eventually(t, func() bool { return registry.Online(1) }, "alice not active")
	hub.Register(bob)
	eventually(t, func() bool { return registry.Online(2) }, "bob not active")

	// Drain alice's queue: her own join broadcast plus bob's.
	for i := 0; i < 4; i++ {
		nextEvent(t, alice)
	}

	hub.Unregister(bob)
	eventually(t, func() bool { return !registry.Online(2) }, "bob still registered")

	env := nextEvent(t, alice)
	req.Equal(EventOnlineUsers, env.Type)
	req.Equal([]int64{1}, decodeData[OnlineUsersEvent](t, env).Users)
}
