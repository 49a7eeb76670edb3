// Package transport authenticates incoming connections and turns them into
// plain line streams for the relay.
//
// The relay never learns identities from the line protocol. Each accepted
// connection goes through an Authenticator, which returns the proven
// username together with the connection to use from then on.
//
// # TLS
//
// TLSAuthenticator requires a client certificate signed by the configured
// CA. The username is the Subject CommonName of the leaf certificate:
//
//	config, err := transport.LoadTLSConfig(transport.TLSOptions{
//	    CertFile:     "server.pem",
//	    KeyFile:      "server.key",
//	    ClientCAFile: "clients-ca.pem",
//	})
//	auth := transport.NewTLSAuthenticator(config)
//
// # Noise
//
// NoiseAuthenticator runs the Noise_IK_25519_ChaChaPoly_SHA256 handshake as
// responder. The client already knows the server's static public key; the
// server maps the client's static public key to a username through an
// authorized-keys file:
//
//	# username: hex-encoded Curve25519 public key
//	alice: 8f40c5adb68f25624ae5b214ea767a6ec94d829d3d7b5e1ad1ba6f3e2138285f
//
// After the handshake every message is framed as a 2-byte big-endian length
// followed by the ciphertext. NoiseConn hides the framing and implements
// net.Conn. DialNoise is the client side of the same handshake.
package transport
