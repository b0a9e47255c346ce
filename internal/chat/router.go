package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

// Router validates, persists, and fans out every inbound chat event. Each
// event kind has one entry in the dispatch table; handlers are plain
// functions of (connection, payload) so the lifecycle machinery stays
// testable without a live transport.
//
// The sender identity always comes from the authenticated connection,
// never from the payload.
type Router struct {
	registry *Registry
	rooms    *Rooms
	messages MessageStore
	users    UserDirectory
	validate *validator.Validate
	log      *slog.Logger

	maxContentLength int
	handlers         map[EventType]handlerFunc
}

// NewRouter builds the dispatch table over the given collaborators.
// maxContentLength bounds message content in runes; zero keeps a default.
func NewRouter(registry *Registry, rooms *Rooms, messages MessageStore, users UserDirectory,
	maxContentLength int, log *slog.Logger) *Router {

	if maxContentLength <= 0 {
		maxContentLength = 2000
	}

	r := &Router{
		registry:         registry,
		rooms:            rooms,
		messages:         messages,
		users:            users,
		validate:         validator.New(),
		log:              log,
		maxContentLength: maxContentLength,
	}

	r.handlers = map[EventType]handlerFunc{
		EventSendMessage: r.handleSendMessage,
		EventBroadcast:   r.handleBroadcast,
		EventFileNotice:  r.handleFileNotice,
		EventTyping:      r.typingHandler(EventTyping),
		EventStopTyping:  r.typingHandler(EventStopTyping),
		EventMessageRead: r.handleMessageRead,
		EventGetMessages: r.handleGetMessages,
		EventJoinRoom:    r.handleJoinRoom,
	}
	return r
}

// Dispatch routes one raw inbound frame. Malformed frames and handler
// failures are reported only to the originating connection; they never
// interrupt delivery to anyone else and never crash the router.
func (r *Router) Dispatch(ctx context.Context, c *Client, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("recovered from handler panic", "identity", int64(c.identity), "panic", rec)
		}
	}()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError(fmt.Errorf("%w: malformed envelope", ErrInvalidMessage))
		return
	}

	handler, ok := r.handlers[env.Type]
	if !ok {
		c.sendError(fmt.Errorf("%w: unknown event type %q", ErrInvalidMessage, env.Type))
		return
	}

	if err := handler(ctx, c, env.Data); err != nil {
		r.log.Warn("event rejected", "type", env.Type, "identity", int64(c.identity), "error", err)
		c.sendError(err)
	}
}

// decode unmarshals and validates an inbound payload.
func (r *Router) decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := r.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func (r *Router) checkContent(content string) error {
	if n := utf8.RuneCountInString(content); n > r.maxContentLength {
		return fmt.Errorf("%w: content length %d exceeds limit %d", ErrInvalidMessage, n, r.maxContentLength)
	}
	return nil
}

// handleSendMessage runs the shared send path for one connection and
// acknowledges the result to the originator only.
func (r *Router) handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	sent, err := r.Send(ctx, c.identity, c.username, p)
	if err != nil {
		return err
	}

	ack, err := NewEvent(EventMessageSent, sent)
	if err != nil {
		return err
	}
	c.SendEvent(ack)
	return nil
}

// Send validates, persists, and fans out a direct message on behalf of
// sender. The durable write strictly precedes any delivery: a store
// failure publishes nothing, while an offline recipient still leaves the
// message in history. Shared by the send_message event and the HTTP send
// endpoint.
func (r *Router) Send(ctx context.Context, sender Identity, username string, p SendMessagePayload) (MessageSentEvent, error) {
	if err := r.validate.Struct(&p); err != nil {
		return MessageSentEvent{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := r.checkContent(p.Content); err != nil {
		return MessageSentEvent{}, err
	}
	if _, err := r.users.GetUser(ctx, p.RecipientID); err != nil {
		return MessageSentEvent{}, fmt.Errorf("%w: id %d", ErrUnknownRecipient, p.RecipientID)
	}

	rec := MessageRecord{
		SenderID:    int64(sender),
		RecipientID: p.RecipientID,
		Content:     p.Content,
		FilePath:    p.FilePath,
		FaceLocked:  p.FaceLocked,
		Encrypted:   p.Encrypted,
	}
	if err := r.messages.Create(ctx, &rec); err != nil {
		return MessageSentEvent{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	env, err := NewEvent(EventNewMessage, r.toMessageEvent(rec, username))
	if err != nil {
		return MessageSentEvent{}, err
	}

	recipient := Identity(p.RecipientID)
	delivered := r.registry.Online(recipient)
	if delivered {
		r.rooms.Publish(PersonalRoom(recipient), env)
	}
	// Echo to the sender's own room so every surface of the sender sees it.
	r.rooms.Publish(PersonalRoom(sender), env)

	return MessageSentEvent{
		ID:          rec.ID,
		RecipientID: p.RecipientID,
		Delivered:   delivered,
	}, nil
}

// handleBroadcast sends a message to every connected client.
func (r *Router) handleBroadcast(ctx context.Context, c *Client, data json.RawMessage) error {
	var p BroadcastPayload
	if err := r.decode(data, &p); err != nil {
		return err
	}
	if err := r.checkContent(p.Content); err != nil {
		return err
	}

	rec := MessageRecord{
		SenderID: int64(c.identity),
		Content:  p.Content,
	}
	if err := r.messages.Create(ctx, &rec); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	env, err := NewEvent(EventNewMessage, r.toMessageEvent(rec, c.username))
	if err != nil {
		return err
	}
	r.rooms.PublishAll(env)
	return nil
}

// handleFileNotice announces a shared file to every connected client. The
// file bytes live elsewhere; only the reference travels through here.
func (r *Router) handleFileNotice(ctx context.Context, c *Client, data json.RawMessage) error {
	var p FileNoticePayload
	if err := r.decode(data, &p); err != nil {
		return err
	}
	if err := r.checkContent(p.Content); err != nil {
		return err
	}

	rec := MessageRecord{
		SenderID: int64(c.identity),
		Content:  p.Content,
		FilePath: p.FilePath,
	}
	if err := r.messages.Create(ctx, &rec); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	env, err := NewEvent(EventNewMessage, r.toMessageEvent(rec, c.username))
	if err != nil {
		return err
	}
	r.rooms.PublishAll(env)
	return nil
}

// typingHandler relays typing and stop-typing indicators. Ephemeral: no
// persistence, republished as received, bounded only by the per-connection
// rate limiter. A recipient scopes the indicator to one personal room;
// otherwise it goes to everyone.
func (r *Router) typingHandler(kind EventType) handlerFunc {
	return func(_ context.Context, c *Client, data json.RawMessage) error {
		var p TypingPayload
		if len(data) > 0 {
			if err := r.decode(data, &p); err != nil {
				return err
			}
		}

		env, err := NewEvent(kind, TypingEvent{
			UserID:      int64(c.identity),
			Username:    c.username,
			RecipientID: p.RecipientID,
		})
		if err != nil {
			return err
		}

		if p.RecipientID > 0 {
			r.rooms.Publish(PersonalRoom(Identity(p.RecipientID)), env)
			return nil
		}
		r.rooms.PublishAll(env)
		return nil
	}
}

// handleMessageRead appends the reader to a message's read-by set and, if
// the original sender is online, notifies the sender's personal room only.
// Unknown ids are logged and dropped: receipts may race message expiry.
func (r *Router) handleMessageRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var p MessageReadPayload
	if err := r.decode(data, &p); err != nil {
		return err
	}

	id, err := uuid.Parse(p.MessageID)
	if err != nil {
		return fmt.Errorf("%w: bad message id: %v", ErrInvalidMessage, err)
	}

	rec, changed, err := r.messages.AppendReader(ctx, id, int64(c.identity))
	if err != nil {
		if errors.Is(err, ErrUnknownMessage) {
			r.log.Debug("read receipt for unknown message", "message_id", id, "reader", int64(c.identity))
			return nil
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !changed {
		return nil
	}

	sender := Identity(rec.SenderID)
	if !r.registry.Online(sender) {
		return nil
	}

	env, err := NewEvent(EventMessageRead, MessageReadEvent{MessageID: id, ReaderID: int64(c.identity)})
	if err != nil {
		return err
	}
	r.rooms.Publish(PersonalRoom(sender), env)
	return nil
}

// handleGetMessages replies to the originator with the full conversation
// history between it and another identity, each entry annotated with the
// resolved author display data. Read-only, no side effects.
func (r *Router) handleGetMessages(ctx context.Context, c *Client, data json.RawMessage) error {
	var p GetMessagesPayload
	if err := r.decode(data, &p); err != nil {
		return err
	}

	events, err := r.History(ctx, c.identity, p.UserID)
	if err != nil {
		return err
	}

	env, err := NewEvent(EventMessageHistory, MessageHistoryEvent{Messages: events})
	if err != nil {
		return err
	}
	c.SendEvent(env)
	return nil
}

// handleJoinRoom lets a connection rejoin its own personal room after a
// client-side resubscribe. Joining anyone else's room is rejected.
func (r *Router) handleJoinRoom(_ context.Context, c *Client, data json.RawMessage) error {
	var p JoinRoomPayload
	if err := r.decode(data, &p); err != nil {
		return err
	}
	if Identity(p.UserID) != c.identity {
		return fmt.Errorf("%w: cannot join another identity's room", ErrInvalidMessage)
	}
	r.rooms.Join(PersonalRoom(c.identity), c)
	return nil
}

// History returns the annotated conversation history between two
// identities, ordered by timestamp. Shared by the get_messages event and
// the HTTP history endpoint.
func (r *Router) History(ctx context.Context, me Identity, other int64) ([]MessageEvent, error) {
	records, err := r.messages.ListConversation(ctx, int64(me), other)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	names := r.resolveAuthors(ctx, records)
	return lo.Map(records, func(rec MessageRecord, _ int) MessageEvent {
		return r.toMessageEvent(rec, names[rec.SenderID])
	}), nil
}

// resolveAuthors maps the distinct sender ids of records to usernames.
// Unresolvable senders keep an empty name rather than failing the fetch.
func (r *Router) resolveAuthors(ctx context.Context, records []MessageRecord) map[int64]string {
	senders := lo.Uniq(lo.Map(records, func(rec MessageRecord, _ int) int64 {
		return rec.SenderID
	}))

	names := make(map[int64]string, len(senders))
	for _, id := range senders {
		user, err := r.users.GetUser(ctx, id)
		if err != nil {
			r.log.Warn("resolve message author", "user_id", id, "error", err)
			continue
		}
		names[id] = user.Username
	}
	return names
}

func (r *Router) toMessageEvent(rec MessageRecord, username string) MessageEvent {
	return MessageEvent{
		ID:          rec.ID,
		SenderID:    rec.SenderID,
		RecipientID: rec.RecipientID,
		Content:     rec.Content,
		FilePath:    rec.FilePath,
		FaceLocked:  rec.FaceLocked,
		Encrypted:   rec.Encrypted,
		Timestamp:   rec.CreatedAt,
		Author:      Author{ID: rec.SenderID, Username: username},
		ReadBy:      rec.ReadBy,
	}
}
