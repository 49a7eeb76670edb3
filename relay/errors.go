package relay

import "errors"

var (
	// ErrSessionClosed is returned when enqueueing to a terminated session.
	ErrSessionClosed = errors.New("session closed")

	// ErrOutboxFull is returned when a client is not draining its output.
	ErrOutboxFull = errors.New("session outbox full")

	// ErrRelayClosed is returned by Serve after Close.
	ErrRelayClosed = errors.New("relay closed")

	// ErrSessionPanic wraps a panic recovered from command handling.
	ErrSessionPanic = errors.New("session panic")
)
