package friend

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
)

// SnapshotVersion is the schema version written by Snapshot.
const SnapshotVersion = 1

// ErrUnsupportedVersion is returned for snapshots written by an unknown schema.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// Snapshot is the persisted form of a Graph.
type Snapshot struct {
	Version int          `json:"version" cbor:"version"`
	Users   []UserRecord `json:"users" cbor:"users"`
}

// UserRecord is the persisted form of one User.
type UserRecord struct {
	Username       string   `json:"username" cbor:"username"`
	WatchList      []string `json:"watch_list" cbor:"watch_list"`
	PendingInvites []string `json:"pending_invites,omitempty" cbor:"pending_invites,omitempty"`
}

// EmptySnapshot returns a current-version snapshot with no users.
func EmptySnapshot() *Snapshot {
	return &Snapshot{Version: SnapshotVersion, Users: make([]UserRecord, 0)}
}

// Snapshot captures every user record, ordered by username. Each record is
// copied under its own lock; records are not captured atomically together.
func (g *Graph) Snapshot() *Snapshot {
	snap := EmptySnapshot()
	for _, name := range g.Usernames() {
		u, ok := g.user(name)
		if !ok {
			continue
		}
		snap.Users = append(snap.Users, u.record())
	}
	return snap
}

// NewGraphFromSnapshot rebuilds a graph. A nil snapshot yields an empty graph.
// Edges and invites that reference users missing from the snapshot are
// dropped, since a relationship may only reference a known user.
func NewGraphFromSnapshot(snap *Snapshot) (*Graph, error) {
	g := NewGraph()
	if snap == nil {
		return g, nil
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}

	for _, rec := range snap.Users {
		if rec.Username == "" {
			continue
		}
		g.users[rec.Username] = newUser(rec.Username)
	}

	dropped := 0
	for _, rec := range snap.Users {
		u, ok := g.users[rec.Username]
		if !ok {
			continue
		}
		for _, target := range rec.WatchList {
			if _, known := g.users[target]; !known || slices.Contains(u.watchList, target) {
				dropped++
				continue
			}
			u.watchList = append(u.watchList, target)
		}
		for _, from := range rec.PendingInvites {
			if _, known := g.users[from]; !known || slices.Contains(u.pendingInvites, from) {
				dropped++
				continue
			}
			u.pendingInvites = append(u.pendingInvites, from)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewGraphFromSnapshot",
		"users":    len(g.users),
		"dropped":  dropped,
	}).Info("Friend graph restored from snapshot")

	return g, nil
}
