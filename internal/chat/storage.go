package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageRecord is the durable form of a message. Created on send, never
// deleted by this core, mutated only to append readers.
type MessageRecord struct {
	ID          uuid.UUID `json:"id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id,omitempty"` // zero for broadcast
	Content     string    `json:"content"`
	FilePath    string    `json:"file_path,omitempty"`
	FaceLocked  bool      `json:"face_locked"`
	Encrypted   bool      `json:"encrypted"`
	CreatedAt   time.Time `json:"created_at"`
	ReadBy      []int64   `json:"read_by,omitempty"`
}

// MessageStore is the durability contract the router depends on. Calls may
// block on I/O; the router never holds presence or room locks across them.
type MessageStore interface {
	// Create persists the record, assigning its ID and CreatedAt.
	Create(ctx context.Context, rec *MessageRecord) error

	// ListConversation returns the timestamp-ordered history between two
	// identities. The pair is unordered: (a,b) and (b,a) are the same
	// conversation.
	ListConversation(ctx context.Context, a, b int64) ([]MessageRecord, error)

	// Get returns the record for id, or ErrUnknownMessage.
	Get(ctx context.Context, id uuid.UUID) (MessageRecord, error)

	// AppendReader adds reader to the record's read-by set. It reports
	// whether the set changed; re-marking is a no-op. Returns
	// ErrUnknownMessage when id does not exist.
	AppendReader(ctx context.Context, id uuid.UUID, reader int64) (MessageRecord, bool, error)
}

// User is the directory view of an account needed to annotate messages
// with display data.
type User struct {
	ID       int64
	Username string
}

// UserDirectory resolves identities to display data.
type UserDirectory interface {
	// GetUser returns the account for id; an error means the identity
	// does not exist.
	GetUser(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}
