package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Identity is an authenticated user reference. It is assigned by the
// identity gate and never mutated by the realtime core.
type Identity int64

// PersonalRoom is the delivery scope for direct messages to one identity.
// The naming matches the client protocol: "user_<id>".
func PersonalRoom(id Identity) string {
	return fmt.Sprintf("user_%d", id)
}

// EventType discriminates the JSON envelopes exchanged over a connection.
type EventType string

// Inbound event types.
const (
	EventSendMessage EventType = "send_message"
	EventBroadcast   EventType = "broadcast"
	EventFileNotice  EventType = "file_notice"
	EventTyping      EventType = "typing"
	EventStopTyping  EventType = "stop_typing"
	EventMessageRead EventType = "message_read"
	EventGetMessages EventType = "get_messages"
	EventJoinRoom    EventType = "join_room"
)

// Outbound event types.
const (
	EventNewMessage     EventType = "new_message"
	EventMessageSent    EventType = "message_sent"
	EventMessageHistory EventType = "message_history"
	EventOnlineUsers    EventType = "online_users"
	EventStatus         EventType = "status"
	EventError          EventType = "error"
)

// Envelope is the wire format for every event in both directions.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent wraps a payload into an envelope of the given type.
func NewEvent(t EventType, v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s event: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}

// Inbound payloads. Validation tags are enforced by the router before any
// persistence or delivery happens.

type SendMessagePayload struct {
	RecipientID int64  `json:"recipient_id" validate:"required,gt=0"`
	Content     string `json:"content" validate:"required"`
	FilePath    string `json:"file_path,omitempty"`
	FaceLocked  bool   `json:"face_locked"`
	Encrypted   bool   `json:"encrypted"`
}

type BroadcastPayload struct {
	Content string `json:"content" validate:"required"`
}

type FileNoticePayload struct {
	FilePath string `json:"file_path" validate:"required"`
	Content  string `json:"content,omitempty"`
}

type TypingPayload struct {
	// RecipientID scopes the indicator to one identity; zero means global.
	RecipientID int64 `json:"recipient_id,omitempty" validate:"gte=0"`
}

type MessageReadPayload struct {
	MessageID string `json:"message_id" validate:"required,uuid4"`
}

type GetMessagesPayload struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type JoinRoomPayload struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// Outbound payloads.

// Author is the resolved display data attached to delivered messages.
type Author struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// MessageEvent is the payload of new_message and of history entries.
type MessageEvent struct {
	ID          uuid.UUID `json:"id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id,omitempty"`
	Content     string    `json:"content"`
	FilePath    string    `json:"file_path,omitempty"`
	FaceLocked  bool      `json:"face_locked"`
	Encrypted   bool      `json:"encrypted"`
	Timestamp   time.Time `json:"timestamp"`
	Author      Author    `json:"author"`
	ReadBy      []int64   `json:"read_by,omitempty"`
}

// MessageSentEvent acknowledges a send to its originator. Delivered is
// false when the recipient had no live connection; the message is still
// persisted and retrievable from history.
type MessageSentEvent struct {
	ID          uuid.UUID `json:"id"`
	RecipientID int64     `json:"recipient_id,omitempty"`
	Delivered   bool      `json:"delivered"`
}

type MessageHistoryEvent struct {
	Messages []MessageEvent `json:"messages"`
}

type TypingEvent struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	RecipientID int64  `json:"recipient_id,omitempty"`
}

type MessageReadEvent struct {
	MessageID uuid.UUID `json:"message_id"`
	ReaderID  int64     `json:"reader_id"`
}

type OnlineUsersEvent struct {
	Users []int64 `json:"users"`
}

type StatusEvent struct {
	Message string `json:"message"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
