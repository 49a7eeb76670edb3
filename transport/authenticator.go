package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// DefaultHandshakeTimeout bounds the authentication of one connection.
const DefaultHandshakeTimeout = 10 * time.Second

var (
	// ErrUnknownKey indicates a Noise client whose static key is not authorized.
	ErrUnknownKey = errors.New("unknown client key")

	// ErrNoClientCertificate indicates a TLS client that sent no certificate.
	ErrNoClientCertificate = errors.New("no client certificate")
)

// Authenticator proves the identity behind a freshly accepted connection.
type Authenticator interface {
	// Authenticate runs the handshake on conn and returns the username it
	// proved together with the connection carrying the line protocol.
	// conn is not closed on failure; that is left to the caller.
	Authenticate(ctx context.Context, conn net.Conn) (string, net.Conn, error)
}

// handshakeContext bounds ctx by timeout and mirrors the resulting deadline
// on conn. The returned function clears the connection deadline.
func handshakeContext(ctx context.Context, conn net.Conn, timeout time.Duration) (context.Context, func()) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	return ctx, func() {
		stop()
		cancel()
		conn.SetDeadline(time.Time{})
	}
}
