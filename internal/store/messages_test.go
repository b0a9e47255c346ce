package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"securechat/internal/chat"
)

func newTestMessages(t *testing.T) *Messages {
	t.Helper()
	db, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return NewMessages(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateAssignsIDAndTimestamp(t *testing.T) {
	req := require.New(t)
	messages := newTestMessages(t)

	rec := chat.MessageRecord{SenderID: 1, RecipientID: 2, Content: "hi"}
	req.NoError(messages.Create(context.Background(), &rec))

	req.NotEqual(uuid.Nil, rec.ID)
	req.False(rec.CreatedAt.IsZero())

	stored, err := messages.Get(context.Background(), rec.ID)
	req.NoError(err)
	req.Equal(rec.ID, stored.ID)
	req.Equal("hi", stored.Content)
	req.Equal(int64(1), stored.SenderID)
	req.Equal(int64(2), stored.RecipientID)
}

func TestGetUnknownID(t *testing.T) {
	messages := newTestMessages(t)

	_, err := messages.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, chat.ErrUnknownMessage)
}

func TestListConversationOrderedAndNormalized(t *testing.T) {
	req := require.New(t)
	messages := newTestMessages(t)
	ctx := context.Background()

	first := chat.MessageRecord{SenderID: 1, RecipientID: 2, Content: "first"}
	req.NoError(messages.Create(ctx, &first))
	second := chat.MessageRecord{SenderID: 2, RecipientID: 1, Content: "second"}
	req.NoError(messages.Create(ctx, &second))
	other := chat.MessageRecord{SenderID: 1, RecipientID: 3, Content: "elsewhere"}
	req.NoError(messages.Create(ctx, &other))

	// (1,2) and (2,1) resolve to the same history, in creation order.
	forward, err := messages.ListConversation(ctx, 1, 2)
	req.NoError(err)
	reverse, err := messages.ListConversation(ctx, 2, 1)
	req.NoError(err)

	req.Equal(forward, reverse)
	req.Len(forward, 2)
	req.Equal("first", forward[0].Content)
	req.Equal("second", forward[1].Content)
	req.False(forward[1].CreatedAt.Before(forward[0].CreatedAt))
}

func TestListConversationEmpty(t *testing.T) {
	messages := newTestMessages(t)

	records, err := messages.ListConversation(context.Background(), 8, 9)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestAppendReaderIdempotent(t *testing.T) {
	req := require.New(t)
	messages := newTestMessages(t)
	ctx := context.Background()

	rec := chat.MessageRecord{SenderID: 1, RecipientID: 2, Content: "hi"}
	req.NoError(messages.Create(ctx, &rec))

	updated, changed, err := messages.AppendReader(ctx, rec.ID, 2)
	req.NoError(err)
	req.True(changed)
	req.Equal([]int64{2}, updated.ReadBy)

	// Re-marking by the same reader is a no-op.
	updated, changed, err = messages.AppendReader(ctx, rec.ID, 2)
	req.NoError(err)
	req.False(changed)

	stored, err := messages.Get(ctx, rec.ID)
	req.NoError(err)
	req.Equal([]int64{2}, stored.ReadBy)

	// A different reader appends in order.
	updated, changed, err = messages.AppendReader(ctx, rec.ID, 3)
	req.NoError(err)
	req.True(changed)
	req.Equal([]int64{2, 3}, updated.ReadBy)
}

func TestAppendReaderUnknownMessage(t *testing.T) {
	messages := newTestMessages(t)

	_, changed, err := messages.AppendReader(context.Background(), uuid.New(), 2)
	require.ErrorIs(t, err, chat.ErrUnknownMessage)
	require.False(t, changed)
}

func TestBroadcastRecordsStayOutOfDirectHistories(t *testing.T) {
	req := require.New(t)
	messages := newTestMessages(t)
	ctx := context.Background()

	direct := chat.MessageRecord{SenderID: 1, RecipientID: 2, Content: "direct"}
	req.NoError(messages.Create(ctx, &direct))
	broadcast := chat.MessageRecord{SenderID: 1, Content: "to everyone"}
	req.NoError(messages.Create(ctx, &broadcast))

	records, err := messages.ListConversation(ctx, 1, 2)
	req.NoError(err)
	req.Len(records, 1)
	req.Equal("direct", records[0].Content)
}
