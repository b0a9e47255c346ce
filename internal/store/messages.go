// Package store provides the durable backends of securechat: the
// append-only message log on BadgerDB and the user directory on SQLite.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"securechat/internal/chat"
)

// Messages is a BadgerDB-backed chat.MessageStore.
//
// Two key families are kept per record:
//
//	msg:<uuid>                                   -> JSON record
//	conv:<lo>:<hi>:<timestamp_padded>:<uuid>     -> uuid bytes
//
// The conversation index embeds the unordered identity pair (smaller id
// first) and a 19-digit zero-padded nanosecond timestamp, so a prefix scan
// yields a conversation's history already in chronological order. The uuid
// suffix disambiguates records created in the same nanosecond.
type Messages struct {
	db  *badger.DB
	log *slog.Logger
}

// OpenBadger opens the message log at path. An empty path opens an
// in-memory database, used by tests.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return db, nil
}

// NewMessages wraps an open BadgerDB handle.
func NewMessages(db *badger.DB, log *slog.Logger) *Messages {
	return &Messages{db: db, log: log}
}

func recordKey(id uuid.UUID) []byte {
	return []byte("msg:" + id.String())
}

// conversationPrefix normalizes the identity pair so (a,b) and (b,a)
// resolve to the same history.
func conversationPrefix(a, b int64) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("conv:%d:%d:", lo, hi)
}

func conversationKey(rec chat.MessageRecord) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s",
		conversationPrefix(rec.SenderID, rec.RecipientID),
		rec.CreatedAt.UnixNano(),
		rec.ID,
	))
}

// Create persists rec, assigning its id and creation timestamp. The write
// is transactional: record and conversation index land together or not at
// all.
func (m *Messages) Create(ctx context.Context, rec *chat.MessageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec.ID = uuid.New()
	rec.CreatedAt = time.Now().UTC()

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(rec.ID), value); err != nil {
			return err
		}
		return txn.Set(conversationKey(*rec), rec.ID[:])
	})
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	return nil
}

// ListConversation returns the ordered history between two identities.
// Ordering comes for free from the padded-timestamp index keys.
func (m *Messages) ListConversation(ctx context.Context, a, b int64) ([]chat.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []chat.MessageRecord
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(conversationPrefix(a, b))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id uuid.UUID
			err := it.Item().Value(func(value []byte) error {
				copy(id[:], value)
				return nil
			})
			if err != nil {
				return err
			}

			rec, err := getRecord(txn, id)
			if err != nil {
				// A dangling index entry is logged, not fatal.
				if errors.Is(err, chat.ErrUnknownMessage) {
					m.log.Warn("conversation index points at missing record", "message_id", id)
					continue
				}
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	return records, nil
}

// Get returns the record for id, or chat.ErrUnknownMessage.
func (m *Messages) Get(ctx context.Context, id uuid.UUID) (chat.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return chat.MessageRecord{}, err
	}

	var rec chat.MessageRecord
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	return rec, err
}

// AppendReader adds reader to the record's read-by set inside one update
// transaction. Re-marking by the same reader changes nothing.
func (m *Messages) AppendReader(ctx context.Context, id uuid.UUID, reader int64) (chat.MessageRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return chat.MessageRecord{}, false, err
	}

	var rec chat.MessageRecord
	var changed bool
	err := m.db.Update(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		if err != nil {
			return err
		}

		if slices.Contains(rec.ReadBy, reader) {
			return nil
		}
		rec.ReadBy = append(rec.ReadBy, reader)

		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if err := txn.Set(recordKey(id), value); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return chat.MessageRecord{}, false, err
	}
	return rec, changed, nil
}

func getRecord(txn *badger.Txn, id uuid.UUID) (chat.MessageRecord, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.MessageRecord{}, chat.ErrUnknownMessage
	}
	if err != nil {
		return chat.MessageRecord{}, err
	}

	var rec chat.MessageRecord
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &rec)
	})
	if err != nil {
		return chat.MessageRecord{}, fmt.Errorf("decode message %s: %w", id, err)
	}
	return rec, nil
}
