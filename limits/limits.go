// Package limits provides centralized size limits for the relay protocol.
// This ensures consistent validation across the codec, the session reader
// and the transport layer.
package limits

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxUsernameLength is the longest identity accepted from the transport layer.
	MaxUsernameLength = 64

	// MaxLineLength is the longest protocol line a client may send,
	// terminator excluded. Longer lines end the session.
	MaxLineLength = 4096

	// MaxNoiseMessage is the Noise protocol limit for a single transport message.
	MaxNoiseMessage = 65535

	// EncryptionOverhead is the ChaCha20-Poly1305 authentication tag size
	// added to every Noise transport message.
	EncryptionOverhead = 16

	// MaxNoisePlaintext is the largest plaintext chunk that fits in one
	// Noise transport message.
	MaxNoisePlaintext = MaxNoiseMessage - EncryptionOverhead
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidUsername indicates an identity that cannot be carried by the line protocol
	ErrInvalidUsername = errors.New("invalid username")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateLine validates a single protocol line against MaxLineLength.
// Empty lines are legal on the wire (they end the session) so only the
// upper bound is checked here.
func ValidateLine(line string) error {
	if len(line) > MaxLineLength {
		return fmt.Errorf("%w: line size %d exceeds limit %d", ErrMessageTooLarge, len(line), MaxLineLength)
	}
	return nil
}

// ValidateUsername checks that an authenticated identity can be used as a
// protocol field: non-empty, at most MaxUsernameLength bytes, and free of
// the field separator, line terminators and surrounding whitespace.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if len(username) > MaxUsernameLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrInvalidUsername, len(username), MaxUsernameLength)
	}
	if strings.ContainsAny(username, ":\r\n") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidUsername, username)
	}
	if strings.TrimSpace(username) != username {
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidUsername, username)
	}
	return nil
}
