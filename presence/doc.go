// Package presence implements the in-memory presence registry of the relay.
//
// Every known username has exactly one Record holding its online flag, its
// heartbeat countdown and a non-owning Handle to the session currently
// serving it. Records are created once and reset on disconnect, never
// destroyed, and are never persisted: every process start begins with all
// users offline.
//
//	reg := presence.NewRegistry(12)
//	reg.RegisterIfAbsent("alice")
//	prev := reg.SetOnline("alice", session)
//	...
//	if reg.SetOffline("alice", session) {
//	    // this call performed the online -> offline transition
//	}
//
// # Thread Safety
//
// Each record has its own mutex and every method locks at most one record.
// Reads of several fields of one record go through Snapshot so that callers
// never observe a torn record. Reads spanning several users see each record
// consistently but may observe another user change mid-way.
package presence
