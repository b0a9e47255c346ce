package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestUsers(t *testing.T) *Users {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return NewUsers(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateAndGetUser(t *testing.T) {
	req := require.New(t)
	users := newTestUsers(t)
	ctx := context.Background()

	created, err := users.Create(ctx, "alice", "hash-a")
	req.NoError(err)
	req.Equal("alice", created.Username)
	req.Positive(created.ID)

	byID, err := users.GetUser(ctx, created.ID)
	req.NoError(err)
	req.Equal(created, byID)

	byName, hash, err := users.GetByUsername(ctx, "alice")
	req.NoError(err)
	req.Equal(created, byName)
	req.Equal("hash-a", hash)
}

func TestCreateDuplicateUsername(t *testing.T) {
	req := require.New(t)
	users := newTestUsers(t)
	ctx := context.Background()

	_, err := users.Create(ctx, "alice", "hash-a")
	req.NoError(err)

	_, err = users.Create(ctx, "alice", "hash-b")
	req.ErrorIs(err, ErrUsernameTaken)
}

func TestGetUserNotFound(t *testing.T) {
	users := newTestUsers(t)

	_, err := users.GetUser(context.Background(), 42)
	require.ErrorIs(t, err, ErrUserNotFound)

	_, _, err = users.GetByUsername(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestListUsersSorted(t *testing.T) {
	req := require.New(t)
	users := newTestUsers(t)
	ctx := context.Background()

	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := users.Create(ctx, name, "hash")
		req.NoError(err)
	}

	all, err := users.ListUsers(ctx)
	req.NoError(err)
	req.Len(all, 3)
	req.Equal("alice", all[0].Username)
	req.Equal("bob", all[1].Username)
	req.Equal("carol", all[2].Username)
}

func TestUpdateLastLogin(t *testing.T) {
	req := require.New(t)
	users := newTestUsers(t)
	ctx := context.Background()

	created, err := users.Create(ctx, "alice", "hash")
	req.NoError(err)

	req.NoError(users.UpdateLastLogin(ctx, created.ID, time.Now().UTC()))
}
