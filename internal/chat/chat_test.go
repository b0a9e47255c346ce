package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Shared fixtures for the chat package tests: transport-free clients and
// in-memory store fakes.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(id Identity, username string) *Client {
	return &Client{
		id:       uuid.New(),
		identity: id,
		username: username,
		send:     make(chan []byte, 32),
		addr:     fmt.Sprintf("test-%d", id),
		log:      discardLogger(),
		limiter:  newRateLimiter(1000, time.Second),
	}
}

// nextEvent pops the next queued envelope for a client.
func nextEvent(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case payload := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Envelope{}
	}
}

func decodeData[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func requireNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("unexpected event queued: %s", payload)
	default:
	}
}

// fakeMessageStore keeps records in memory in creation order.
type fakeMessageStore struct {
	mu      sync.Mutex
	records []MessageRecord
	fail    bool
	clock   time.Time
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{clock: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *fakeMessageStore) Create(_ context.Context, rec *MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errors.New("store unavailable")
	}
	rec.ID = uuid.New()
	s.clock = s.clock.Add(time.Second)
	rec.CreatedAt = s.clock
	s.records = append(s.records, *rec)
	return nil
}

func (s *fakeMessageStore) ListConversation(_ context.Context, a, b int64) ([]MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []MessageRecord
	for _, rec := range s.records {
		if (rec.SenderID == a && rec.RecipientID == b) || (rec.SenderID == b && rec.RecipientID == a) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeMessageStore) Get(_ context.Context, id uuid.UUID) (MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return MessageRecord{}, ErrUnknownMessage
}

func (s *fakeMessageStore) AppendReader(_ context.Context, id uuid.UUID, reader int64) (MessageRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, rec := range s.records {
		if rec.ID != id {
			continue
		}
		for _, existing := range rec.ReadBy {
			if existing == reader {
				return rec, false, nil
			}
		}
		s.records[i].ReadBy = append(s.records[i].ReadBy, reader)
		return s.records[i], true, nil
	}
	return MessageRecord{}, false, ErrUnknownMessage
}

func (s *fakeMessageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// fakeUserDirectory resolves a static id-to-username mapping.
type fakeUserDirectory struct {
	names map[int64]string
}

func (d *fakeUserDirectory) GetUser(_ context.Context, id int64) (User, error) {
	name, ok := d.names[id]
	if !ok {
		return User{}, errors.New("user not found")
	}
	return User{ID: id, Username: name}, nil
}

func (d *fakeUserDirectory) ListUsers(_ context.Context) ([]User, error) {
	var out []User
	for id, name := range d.names {
		out = append(out, User{ID: id, Username: name})
	}
	return out, nil
}
