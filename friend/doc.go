// Package friend implements the friend graph of the relay: who watches whom,
// and which watch requests are still waiting to be seen by their target.
//
// # Overview
//
// The friend package provides two primary components:
//
//   - User: one record per known username holding the ordered watch list
//     (insertion order is display order) and the pending invite queue
//   - Graph: the thread-safe collection of users with the mutation helpers
//     used by the relay sessions
//
// Watching is directed. A "friendship" is never stored: it is the presence of
// two opposite watch edges and is always derived on demand from both users'
// watch lists.
//
//	g := friend.NewGraph()
//	g.EnsureUser("alice")
//	g.EnsureUser("bob")
//	g.AddWatch("alice", "bob")
//	mutual := g.Watches("alice", "bob") && g.Watches("bob", "alice")
//
// # Invites
//
// When a user adds someone who does not watch them back, the target receives
// an invite. Invites for offline targets are queued on the target record
// without duplicates and handed out exactly once by DrainInvites:
//
//	g.QueueInvite("bob", "alice")
//	for _, from := range g.DrainInvites("bob") {
//	    // deliver invite:<from>
//	}
//
// # Snapshots
//
// Snapshot and NewGraphFromSnapshot convert the graph to and from the
// versioned, storage-neutral Snapshot type consumed by the store package.
// Presence is never part of a snapshot.
//
// # Thread Safety
//
// Graph is safe for concurrent use. Every user record has its own mutex and
// no operation ever holds two user locks at once, so cross-user operations
// cannot deadlock. Operations that read two users observe each record
// consistently but not a global point-in-time view.
package friend
