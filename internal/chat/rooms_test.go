package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testEvent(t *testing.T, msg string) Envelope {
	t.Helper()
	env, err := NewEvent(EventStatus, StatusEvent{Message: msg})
	require.NoError(t, err)
	return env
}

func TestRoomsPublishReachesMembersOnly(t *testing.T) {
	req := require.New(t)
	rooms := NewRooms(discardLogger())
	alice := newTestClient(1, "alice")
	bob := newTestClient(2, "bob")

	rooms.Join("user_1", alice)
	rooms.Join("user_2", bob)

	rooms.Publish("user_1", testEvent(t, "hello"))

	env := nextEvent(t, alice)
	req.Equal(EventStatus, env.Type)
	requireNoEvent(t, bob)
}

func TestRoomsJoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	rooms := NewRooms(discardLogger())
	alice := newTestClient(1, "alice")

	rooms.Join("user_1", alice)
	rooms.Join("user_1", alice)

	rooms.Publish("user_1", testEvent(t, "once"))

	nextEvent(t, alice)
	requireNoEvent(t, alice)
	req.Len(rooms.members("user_1"), 1)
}

func TestRoomsLeaveNonMemberIsNoop(t *testing.T) {
	rooms := NewRooms(discardLogger())
	alice := newTestClient(1, "alice")

	rooms.Leave("user_1", alice)
	rooms.Leave("nowhere", alice)
}

func TestRoomsDropRemovesEverywhere(t *testing.T) {
	req := require.New(t)
	rooms := NewRooms(discardLogger())
	alice := newTestClient(1, "alice")

	rooms.Track(alice)
	rooms.Join("user_1", alice)
	rooms.Join("lobby", alice)

	rooms.Drop(alice)

	rooms.Publish("user_1", testEvent(t, "gone"))
	rooms.Publish("lobby", testEvent(t, "gone"))
	rooms.PublishAll(testEvent(t, "gone"))
	requireNoEvent(t, alice)

	req.Empty(rooms.allSnapshot())
}

func TestRoomsPublishAll(t *testing.T) {
	rooms := NewRooms(discardLogger())
	alice := newTestClient(1, "alice")
	bob := newTestClient(2, "bob")

	rooms.Track(alice)
	rooms.Track(bob)
	rooms.Join("user_1", alice)

	rooms.PublishAll(testEvent(t, "everyone"))

	nextEvent(t, alice)
	nextEvent(t, bob)
}

func TestRoomsSlowMemberDoesNotBlockOthers(t *testing.T) {
	rooms := NewRooms(discardLogger())
	slow := newTestClient(1, "slow")
	slow.send = make(chan []byte) // unbuffered and never drained
	healthy := newTestClient(2, "healthy")

	rooms.Join("lobby", slow)
	rooms.Join("lobby", healthy)

	// Must return without blocking on the slow member.
	rooms.Publish("lobby", testEvent(t, "payload"))

	nextEvent(t, healthy)
}

func TestRoomsClosedMemberIsSkipped(t *testing.T) {
	rooms := NewRooms(discardLogger())
	closed := newTestClient(1, "closed")
	require.True(t, closed.markClosed())

	rooms.Join("lobby", closed)
	rooms.Publish("lobby", testEvent(t, "payload"))
	requireNoEvent(t, closed)
}
