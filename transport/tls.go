package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/friendrelay/limits"
)

// TLSOptions names the PEM files of a TLS listener.
type TLSOptions struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file"`
}

// ServerTLSConfig builds a configuration that requires and verifies a
// client certificate signed by one of clientCAs.
func ServerTLSConfig(cert tls.Certificate, clientCAs *x509.CertPool) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    clientCAs,
		MinVersion:   tls.VersionTLS12,
	}
}

// LoadTLSConfig reads the files named by opts.
func LoadTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	pem, err := os.ReadFile(opts.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("client CA file contains no certificates")
	}

	return ServerTLSConfig(cert, pool), nil
}

// TLSAuthenticator takes the username from the CommonName of the client
// certificate.
type TLSAuthenticator struct {
	config  *tls.Config
	Timeout time.Duration
}

// NewTLSAuthenticator creates an authenticator for config, which should
// require client certificates.
func NewTLSAuthenticator(config *tls.Config) *TLSAuthenticator {
	return &TLSAuthenticator{config: config, Timeout: DefaultHandshakeTimeout}
}

// Authenticate runs the TLS handshake on conn.
func (a *TLSAuthenticator) Authenticate(ctx context.Context, conn net.Conn) (string, net.Conn, error) {
	ctx, done := handshakeContext(ctx, conn, a.Timeout)
	defer done()

	tlsConn := tls.Server(conn, a.config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return "", nil, fmt.Errorf("tls handshake failed: %w", err)
	}

	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return "", nil, ErrNoClientCertificate
	}

	username := certs[0].Subject.CommonName
	if err := limits.ValidateUsername(username); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Authenticate",
			"remote":   conn.RemoteAddr().String(),
			"error":    err.Error(),
		}).Warn("Rejected client certificate")
		return "", nil, err
	}

	return username, tlsConn, nil
}
