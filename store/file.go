package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/friendrelay/friend"
)

// Snapshot file formats.
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// DefaultPath is the snapshot file used when none is configured.
const DefaultPath = "friendrelay.json"

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// FileStore keeps the snapshot in one file.
type FileStore struct {
	path   string
	format string
}

// NewFileStore creates a store for path. An empty format selects JSON.
func NewFileStore(path, format string) (*FileStore, error) {
	if path == "" {
		path = DefaultPath
	}
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatCBOR:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return &FileStore{path: path, format: format}, nil
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot file. A missing file yields an empty snapshot.
func (s *FileStore) Load(ctx context.Context) (*friend.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"path":     s.path,
		}).Info("No snapshot file, starting with an empty graph")
		return friend.EmptySnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap friend.Snapshot
	if s.format == FormatCBOR {
		err = cborDec.Unmarshal(data, &snap)
	} else {
		err = json.Unmarshal(data, &snap)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", s.path, err)
	}
	if err := checkVersion(&snap); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     s.path,
		"format":   s.format,
		"users":    len(snap.Users),
	}).Info("Snapshot loaded")

	return &snap, nil
}

// Save writes snap to a temporary file next to the target and renames it
// into place, so readers never observe a partial snapshot.
func (s *FileStore) Save(ctx context.Context, snap *friend.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if s.format == FormatCBOR {
		data, err = cborEnc.Marshal(snap)
	} else {
		data, err = json.MarshalIndent(snap, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary snapshot: %w", err)
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}
