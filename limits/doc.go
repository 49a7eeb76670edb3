// Package limits provides centralized size constants and validation functions
// for the relay. This package ensures consistent size enforcement across the
// protocol codec, the session reader and the encrypted transports.
//
// # Limits
//
//   - MaxUsernameLength (64 bytes): the longest identity the transport layer
//     may hand to the relay core.
//
//   - MaxLineLength (4096 bytes): the longest command line a client may send.
//     The session reader stops at this size and terminates the session.
//
//   - MaxNoiseMessage (65535 bytes): the Noise protocol transport message
//     limit. MaxNoisePlaintext subtracts the 16 byte Poly1305 tag.
//
// # Validation Functions
//
//	if err := limits.ValidateUsername(name); err != nil {
//	    // errors.Is(err, limits.ErrInvalidUsername)
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
//
// # Usernames
//
// The wire protocol joins fields with ':' and has no escaping, so a username
// containing ':' or a line terminator could never be addressed by other
// clients. Such identities are refused at login rather than silently altered.
package limits
