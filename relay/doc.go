// Package relay implements the session engine of the friend relay: the
// per-connection protocol state machine, command dispatch, mutual-friend
// presence notification and the keep-alive monitor.
//
// # Overview
//
// A Relay ties a friend.Graph to a presence.Registry. The transport layer
// hands it one authenticated username and one byte stream per connection:
//
//	r := relay.New(graph, registry, relay.NewOptions())
//	go relay.NewMonitor(r, relay.DefaultKeepAliveInterval).Run(ctx)
//
//	for {
//	    username, conn, err := accept()
//	    ...
//	    go r.Serve(ctx, username, conn)
//	}
//
// # Sessions
//
// Each Serve call runs one Session through Connecting, Registered, Online
// and Terminated. The session reads and handles one command at a time. All
// output to its client, including its own replies, goes through a bounded
// outbox drained by a dedicated writer goroutine. Other sessions and the
// monitor only enqueue into that outbox; they never touch another session's
// connection. A presence list refresh is enqueued as a marker and rendered
// by the owning writer when it is sent, so the client always receives the
// current state.
//
// A full outbox or a failed write is treated as a dead peer: the user is
// taken offline, its mutual friends are notified and the connection is
// closed. The session that triggered the delivery carries on.
//
// # Keep-alive
//
// Monitor probes every online session with "alive" once per interval and
// decrements its countdown. A client answers with "alive", which restores
// the countdown. When the countdown reaches zero the user is evicted
// through the same offline transition as a normal disconnect.
package relay
