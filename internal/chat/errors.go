package chat

import "errors"

// Failure taxonomy for the realtime core. Failures are local to one
// connection and are reported only to that connection; none of them is
// process-fatal.
var (
	// ErrUnauthenticated refuses a connection before it becomes active.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrDuplicateIdentity refuses a second connection for an identity
	// that already has a live one. The existing connection is untouched.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrInvalidMessage rejects a malformed, empty, or oversized payload.
	// Nothing is persisted and nothing is published.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrUnknownRecipient rejects a direct message addressed to an
	// identity the directory does not know. Nothing is persisted.
	ErrUnknownRecipient = errors.New("recipient not found")

	// ErrPersistence reports that the message store refused a write.
	// The send fails as a whole; no partial publish occurs.
	ErrPersistence = errors.New("persistence failure")

	// ErrUnknownMessage marks a read receipt for a message id that does
	// not exist. Logged and dropped, never surfaced to the reader.
	ErrUnknownMessage = errors.New("unknown message")
)

// errorCode maps a routing failure to the wire-level error code sent back
// to the originating connection.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrDuplicateIdentity):
		return "duplicate_identity"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, ErrUnknownRecipient):
		return "unknown_recipient"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	case errors.Is(err, ErrUnknownMessage):
		return "unknown_message"
	default:
		return "internal_error"
	}
}
