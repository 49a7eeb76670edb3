package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/friendrelay/friend"
)

func sampleSnapshot() *friend.Snapshot {
	g := friend.NewGraph()
	for _, name := range []string{"alice", "bob", "carol"} {
		g.EnsureUser(name)
	}
	g.AddWatch("alice", "bob")
	g.AddWatch("bob", "alice")
	g.AddWatch("carol", "alice")
	g.QueueInvite("alice", "carol")
	return g.Snapshot()
}

func TestFileStoreMissingFile(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "absent.json"), "")
	require.NoError(t, err)

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, friend.SnapshotVersion, snap.Version)
	assert.Empty(t, snap.Users)
}

func TestFileStoreRestoresGraph(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatCBOR} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "users."+format)
			s, err := NewFileStore(path, format)
			require.NoError(t, err)

			ctx := context.Background()
			require.NoError(t, s.Save(ctx, sampleSnapshot()))
			_, err = os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err), "temporary file left behind")

			snap, err := s.Load(ctx)
			require.NoError(t, err)
			g, err := friend.NewGraphFromSnapshot(snap)
			require.NoError(t, err)

			assert.Equal(t, []string{"alice", "bob", "carol"}, g.Usernames())
			assert.True(t, g.Watches("alice", "bob"))
			assert.True(t, g.Watches("carol", "alice"))
			assert.False(t, g.Watches("alice", "carol"))
			assert.Equal(t, []string{"carol"}, g.DrainInvites("alice"))
		})
	}
}

func TestFileStoreOverwrites(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "users.json"), FormatJSON)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleSnapshot()))
	require.NoError(t, s.Save(ctx, friend.EmptySnapshot()))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Users)
}

func TestFileStoreRejectsBadData(t *testing.T) {
	dir := t.TempDir()

	testCases := []struct {
		name    string
		content string
		wantErr error
	}{
		{"future version", `{"version": 99, "users": []}`, ErrUnsupportedVersion},
		{"corrupt", `{"version": 1, "users": [`, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))

			s, err := NewFileStore(path, FormatJSON)
			require.NoError(t, err)

			_, err = s.Load(context.Background())
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestNewFileStoreFormat(t *testing.T) {
	s, err := NewFileStore("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPath, s.Path())

	_, err = NewFileStore("users.xml", "xml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

type flakyStore struct {
	failures int
	calls    int
	saved    *friend.Snapshot
}

func (f *flakyStore) Load(context.Context) (*friend.Snapshot, error) {
	return f.saved, nil
}

func (f *flakyStore) Save(_ context.Context, snap *friend.Snapshot) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("disk full")
	}
	f.saved = snap
	return nil
}

func TestSaveWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers", func(t *testing.T) {
		s := &flakyStore{failures: 2}
		require.NoError(t, SaveWithRetry(ctx, s, sampleSnapshot(), 3, time.Millisecond))
		assert.Equal(t, 3, s.calls)
		assert.NotNil(t, s.saved)
	})

	t.Run("gives up", func(t *testing.T) {
		s := &flakyStore{failures: 5}
		err := SaveWithRetry(ctx, s, sampleSnapshot(), 3, time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, 3, s.calls)
	})

	t.Run("cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		s := &flakyStore{failures: 5}
		err := SaveWithRetry(cancelled, s, sampleSnapshot(), 3, time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, s.calls)
	})
}
