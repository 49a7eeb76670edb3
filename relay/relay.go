package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/friendrelay/friend"
	"github.com/opd-ai/friendrelay/presence"
)

const (
	// DefaultOutboxSize is the number of lines buffered per client.
	DefaultOutboxSize = 256

	// DefaultWriteTimeout bounds a single write to a client.
	DefaultWriteTimeout = 5 * time.Second
)

// Options contains configuration options for a Relay.
type Options struct {
	OutboxSize   int
	WriteTimeout time.Duration
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		OutboxSize:   DefaultOutboxSize,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Relay serves sessions against a shared friend graph and presence registry.
type Relay struct {
	graph    *friend.Graph
	registry *presence.Registry
	options  Options

	sessions map[*Session]struct{}
	closed   bool
	mu       sync.Mutex
}

// New creates a relay. Every user already in graph gets an offline presence
// record so that relationship lookups never miss a record.
func New(graph *friend.Graph, registry *presence.Registry, options *Options) *Relay {
	if options == nil {
		options = NewOptions()
	}
	opts := *options
	if opts.OutboxSize < 1 {
		opts.OutboxSize = DefaultOutboxSize
	}

	for _, name := range graph.Usernames() {
		registry.RegisterIfAbsent(name)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "New",
		"users":         graph.Len(),
		"outbox_size":   opts.OutboxSize,
		"write_timeout": opts.WriteTimeout,
	}).Info("Relay initialized")

	return &Relay{
		graph:    graph,
		registry: registry,
		options:  opts,
		sessions: make(map[*Session]struct{}),
	}
}

// Graph returns the friend graph served by the relay.
func (r *Relay) Graph() *friend.Graph {
	return r.graph
}

// Registry returns the presence registry served by the relay.
func (r *Relay) Registry() *presence.Registry {
	return r.registry
}

// Serve runs one client session until the client leaves, the connection
// fails, the session is evicted or replaced, or ctx is cancelled. username
// is trusted as authenticated by the transport. conn is closed on every
// exit path. A clean client exit returns nil.
func (r *Relay) Serve(ctx context.Context, username string, conn io.ReadWriteCloser) error {
	s, err := newSession(r, username, conn)
	if err != nil {
		conn.Close()
		return err
	}

	if !r.track(s) {
		conn.Close()
		return ErrRelayClosed
	}
	defer r.untrack(s)

	stop := context.AfterFunc(ctx, func() {
		s.terminate("server shutdown")
	})
	defer stop()

	s.register()
	go s.writeLoop()
	r.login(s)

	return s.readLoop()
}

func (r *Relay) track(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.sessions[s] = struct{}{}
	return true
}

func (r *Relay) untrack(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s)
	r.mu.Unlock()
}

// SessionCount returns the number of sessions currently being served.
func (r *Relay) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Close refuses new sessions and terminates every running one.
func (r *Relay) Close() error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.terminate("relay closed")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"sessions": len(sessions),
	}).Info("Relay closed")

	return nil
}

// login moves a registered session online: it becomes the live handle of
// its user, mutual friends are told, and queued invites are delivered.
func (r *Relay) login(s *Session) {
	if !s.transition(StateRegistered, StateOnline) {
		return
	}

	if previous := r.registry.SetOnline(s.username, s); previous != nil {
		s.log.WithField("replaced_session", previous.ID()).Info("Replacing previous session")
		previous.Close()
	}
	if s.closed() {
		// terminated before it became the live handle
		r.evict(s.username, s)
		return
	}

	r.notifyFriends(s.username)

	invites := r.graph.DrainInvites(s.username)
	for i, from := range invites {
		if err := s.Notify(encodeInvite(from)); err != nil {
			for _, pending := range invites[i:] {
				r.graph.QueueInvite(s.username, pending)
			}
			r.dropPeer(s.username, s, err)
			return
		}
	}

	s.log.WithField("invites", len(invites)).Info("User online")
}

// evict takes username offline if h is still its live session, notifies
// mutual friends of the transition and closes the session.
func (r *Relay) evict(username string, h presence.Handle) bool {
	transitioned := r.registry.SetOffline(username, h)
	if transitioned {
		r.notifyFriends(username)
	}
	h.Close()
	return transitioned
}

// dropPeer handles a failed delivery to username through h.
func (r *Relay) dropPeer(username string, h presence.Handle, err error) {
	entry := logrus.WithFields(logrus.Fields{
		"function": "dropPeer",
		"username": username,
		"session":  h.ID(),
		"error":    err.Error(),
	})
	if errors.Is(err, ErrSessionClosed) {
		entry.Debug("Delivery raced with session teardown")
	} else {
		entry.Warn("Delivery failed, disconnecting peer")
	}

	r.evict(username, h)
}
