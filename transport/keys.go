package transport

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/friendrelay/limits"
)

// KeySize is the length of Curve25519 keys.
const KeySize = curve25519.ScalarSize

// ErrInvalidKey indicates a key of the wrong size or encoding.
var ErrInvalidKey = errors.New("invalid key")

// KeyPair is a static Curve25519 key pair.
type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var private [KeySize]byte
	if _, err := rand.Read(private[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return KeyPairFromPrivate(private[:])
}

// KeyPairFromPrivate derives the public key of private.
func KeyPairFromPrivate(private []byte) (*KeyPair, error) {
	if len(private) != KeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrInvalidKey, KeySize, len(private))
	}

	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	kp := &KeyPair{}
	copy(kp.Private[:], private)
	copy(kp.Public[:], public)
	return kp, nil
}

// ParseKey decodes a hex-encoded key.
func ParseKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte

	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, KeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// EncodeKey hex-encodes key.
func EncodeKey(key [KeySize]byte) string {
	return hex.EncodeToString(key[:])
}

// LoadKeyPair reads a hex-encoded private key from path.
func LoadKeyPair(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	private, err := ParseKey(string(data))
	if err != nil {
		return nil, fmt.Errorf("private key %s: %w", path, err)
	}
	return KeyPairFromPrivate(private[:])
}

// SaveKeyPair writes the hex-encoded private key of kp to path.
func SaveKeyPair(path string, kp *KeyPair) error {
	if err := os.WriteFile(path, []byte(EncodeKey(kp.Private)+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

// AuthorizedKeys maps client static public keys to usernames.
type AuthorizedKeys struct {
	byKey map[[KeySize]byte]string
}

// ParseAuthorizedKeys decodes a YAML mapping of username to hex public key.
// Every username must be valid and every key unique.
func ParseAuthorizedKeys(data []byte) (*AuthorizedKeys, error) {
	entries := make(map[string]string)
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse authorized keys: %w", err)
	}

	ak := &AuthorizedKeys{byKey: make(map[[KeySize]byte]string, len(entries))}
	for username, encoded := range entries {
		if err := limits.ValidateUsername(username); err != nil {
			return nil, err
		}
		key, err := ParseKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("authorized key of %q: %w", username, err)
		}
		if other, dup := ak.byKey[key]; dup {
			return nil, fmt.Errorf("%w: %q and %q share a public key", ErrInvalidKey, other, username)
		}
		ak.byKey[key] = username
	}
	return ak, nil
}

// LoadAuthorizedKeys reads an authorized-keys file.
func LoadAuthorizedKeys(path string) (*AuthorizedKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read authorized keys: %w", err)
	}

	ak, err := ParseAuthorizedKeys(data)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadAuthorizedKeys",
		"path":     path,
		"keys":     ak.Len(),
	}).Info("Authorized keys loaded")

	return ak, nil
}

// Lookup returns the username that owns public.
func (ak *AuthorizedKeys) Lookup(public []byte) (string, bool) {
	if len(public) != KeySize {
		return "", false
	}
	var key [KeySize]byte
	copy(key[:], public)
	username, ok := ak.byKey[key]
	return username, ok
}

// Len returns the number of authorized keys.
func (ak *AuthorizedKeys) Len() int {
	return len(ak.byKey)
}
