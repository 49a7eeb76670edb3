package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/friendrelay/friend"
)

// ErrUnsupportedVersion is returned when a stored snapshot was written by an
// unknown schema version.
var ErrUnsupportedVersion = friend.ErrUnsupportedVersion

// ErrUnknownFormat is returned for an unsupported FileStore format.
var ErrUnknownFormat = errors.New("unknown snapshot format")

// Store loads and saves friend graph snapshots.
type Store interface {
	// Load returns the stored snapshot, or an empty one if nothing was
	// stored yet.
	Load(ctx context.Context) (*friend.Snapshot, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, snap *friend.Snapshot) error
}

const (
	// DefaultSaveAttempts is the number of tries made by SaveWithRetry.
	DefaultSaveAttempts = 3

	// DefaultRetryBackoff is the wait before the second try; it doubles
	// after every failure.
	DefaultRetryBackoff = 200 * time.Millisecond
)

// SaveWithRetry saves snap, retrying up to attempts times with doubling
// backoff. The last error is returned if every attempt fails.
func SaveWithRetry(ctx context.Context, s Store, snap *friend.Snapshot, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = s.Save(ctx, snap); err == nil {
			logrus.WithFields(logrus.Fields{
				"function": "SaveWithRetry",
				"users":    len(snap.Users),
				"attempt":  attempt,
			}).Info("Snapshot saved")
			return nil
		}

		logrus.WithFields(logrus.Fields{
			"function": "SaveWithRetry",
			"attempt":  attempt,
			"error":    err.Error(),
		}).Warn("Snapshot save failed")

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("save snapshot: %w", errors.Join(err, ctx.Err()))
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("save snapshot after %d attempts: %w", attempts, err)
}

func checkVersion(snap *friend.Snapshot) error {
	if snap.Version != friend.SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	return nil
}
