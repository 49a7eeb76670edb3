package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/friendrelay/limits"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

func dhKey(kp *KeyPair) noise.DHKey {
	key := noise.DHKey{
		Private: make([]byte, KeySize),
		Public:  make([]byte, KeySize),
	}
	copy(key.Private, kp.Private[:])
	copy(key.Public, kp.Public[:])
	return key
}

// NoiseAuthenticator is the responder side of the Noise IK handshake.
type NoiseAuthenticator struct {
	static  noise.DHKey
	keys    *AuthorizedKeys
	Timeout time.Duration
}

// NewNoiseAuthenticator creates an authenticator for the server key pair
// kp accepting the clients listed in keys.
func NewNoiseAuthenticator(kp *KeyPair, keys *AuthorizedKeys) *NoiseAuthenticator {
	return &NoiseAuthenticator{
		static:  dhKey(kp),
		keys:    keys,
		Timeout: DefaultHandshakeTimeout,
	}
}

// Authenticate reads the initiator's message, checks its static key against
// the authorized keys and completes the handshake.
func (a *NoiseAuthenticator) Authenticate(ctx context.Context, conn net.Conn) (string, net.Conn, error) {
	_, done := handshakeContext(ctx, conn, a.Timeout)
	defer done()

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     false,
		StaticKeypair: a.static,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	msg, err := readFrame(conn)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read handshake: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg); err != nil {
		return "", nil, fmt.Errorf("responder read failed: %w", err)
	}

	username, ok := a.keys.Lookup(hs.PeerStatic())
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Authenticate",
			"remote":   conn.RemoteAddr().String(),
			"key":      fmt.Sprintf("%x", hs.PeerStatic()),
		}).Warn("Rejected unknown client key")
		return "", nil, ErrUnknownKey
	}

	reply, initiatorToResponder, responderToInitiator, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return "", nil, fmt.Errorf("responder write failed: %w", err)
	}
	if err := writeFrame(conn, reply); err != nil {
		return "", nil, fmt.Errorf("failed to write handshake: %w", err)
	}

	return username, newNoiseConn(conn, responderToInitiator, initiatorToResponder), nil
}

// ClientHandshake runs the initiator side of the handshake on conn, using
// kp as client identity and serverKey as the expected server static key.
func ClientHandshake(ctx context.Context, conn net.Conn, kp *KeyPair, serverKey [KeySize]byte) (*NoiseConn, error) {
	_, done := handshakeContext(ctx, conn, DefaultHandshakeTimeout)
	defer done()

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		StaticKeypair: dhKey(kp),
		PeerStatic:    serverKey[:],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("initiator write failed: %w", err)
	}
	if err := writeFrame(conn, msg); err != nil {
		return nil, fmt.Errorf("failed to write handshake: %w", err)
	}

	reply, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read handshake: %w", err)
	}
	_, initiatorToResponder, responderToInitiator, err := hs.ReadMessage(nil, reply)
	if err != nil {
		return nil, fmt.Errorf("initiator read response failed: %w", err)
	}

	return newNoiseConn(conn, initiatorToResponder, responderToInitiator), nil
}

// DialNoise connects to addr and authenticates as kp.
func DialNoise(ctx context.Context, addr string, kp *KeyPair, serverKey [KeySize]byte) (*NoiseConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	nc, err := ClientHandshake(ctx, conn, kp, serverKey)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return nc, nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	frame := make([]byte, binary.BigEndian.Uint16(header[:]))
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func writeFrame(w io.Writer, frame []byte) error {
	if err := limits.ValidateMessageSize(frame, limits.MaxNoiseMessage); err != nil {
		return fmt.Errorf("noise frame: %w", err)
	}
	buf := make([]byte, 2+len(frame))
	binary.BigEndian.PutUint16(buf, uint16(len(frame)))
	copy(buf[2:], frame)
	_, err := w.Write(buf)
	return err
}

// NoiseConn is a net.Conn carrying a byte stream over Noise transport
// messages.
type NoiseConn struct {
	net.Conn

	send *noise.CipherState
	recv *noise.CipherState

	readMu  sync.Mutex
	pending []byte

	writeMu sync.Mutex
}

func newNoiseConn(conn net.Conn, send, recv *noise.CipherState) *NoiseConn {
	return &NoiseConn{Conn: conn, send: send, recv: recv}
}

// Read returns decrypted bytes, reading one frame at a time as needed.
func (c *NoiseConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.pending) == 0 {
		frame, err := readFrame(c.Conn)
		if err != nil {
			return 0, err
		}
		plaintext, err := c.recv.Decrypt(nil, nil, frame)
		if err != nil {
			return 0, fmt.Errorf("failed to decrypt frame: %w", err)
		}
		c.pending = plaintext
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write encrypts p, split into as many frames as needed.
func (c *NoiseConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(p) {
		end := min(written+limits.MaxNoisePlaintext, len(p))
		ciphertext, err := c.send.Encrypt(nil, nil, p[written:end])
		if err != nil {
			return written, fmt.Errorf("failed to encrypt frame: %w", err)
		}
		if err := writeFrame(c.Conn, ciphertext); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}
