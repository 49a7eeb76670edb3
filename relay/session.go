package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/friendrelay/limits"
	"github.com/opd-ai/friendrelay/protocol"
)

// State is the protocol state of a session.
type State int32

const (
	StateConnecting State = iota
	StateRegistered
	StateOnline
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateOnline:
		return "online"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type envelope struct {
	line    string
	refresh bool
}

// Session is one connected client. It implements presence.Handle.
type Session struct {
	id       string
	username string
	relay    *Relay
	conn     io.ReadWriteCloser

	outbox    chan envelope
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	// drain is closed when the client ends the session; the writer then
	// flushes what is queued and closes writerDone.
	drain      chan struct{}
	drainOnce  sync.Once
	writerDone chan struct{}

	log *logrus.Entry
}

func newSession(r *Relay, username string, conn io.ReadWriteCloser) (*Session, error) {
	if err := limits.ValidateUsername(username); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "newSession",
			"error":    err.Error(),
		}).Warn("Refusing session for invalid identity")
		return nil, err
	}

	id := uuid.NewString()
	return &Session{
		id:         id,
		username:   username,
		relay:      r,
		conn:       conn,
		outbox:     make(chan envelope, r.options.OutboxSize),
		done:       make(chan struct{}),
		drain:      make(chan struct{}),
		writerDone: make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"session":  id,
			"username": username,
		}),
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Username returns the authenticated identity served by the session.
func (s *Session) Username() string {
	return s.username
}

// State returns the current protocol state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// transition moves the session from one state to the next. It fails once
// the session has been terminated.
func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) draining() bool {
	select {
	case <-s.drain:
		return true
	default:
		return false
	}
}

// Notify enqueues line for the client.
func (s *Session) Notify(line string) error {
	return s.enqueue(envelope{line: line})
}

// Refresh enqueues a re-send of the client's presence list.
func (s *Session) Refresh() error {
	return s.enqueue(envelope{refresh: true})
}

// Close terminates the session. A session the client is already ending
// is left to finish flushing its queued replies.
func (s *Session) Close() error {
	if s.draining() {
		return nil
	}
	s.terminate("closed")
	return nil
}

func (s *Session) enqueue(env envelope) error {
	if s.closed() || s.draining() {
		return ErrSessionClosed
	}

	select {
	case s.outbox <- env:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrOutboxFull
	}
}

// register moves a connecting session to Registered, creating the user's
// graph and presence records on first contact.
func (s *Session) register() {
	if s.relay.graph.EnsureUser(s.username) {
		s.log.Info("First login of new user")
	}
	s.relay.registry.RegisterIfAbsent(s.username)
	s.transition(StateConnecting, StateRegistered)
}

// readLoop handles commands one at a time until the session ends.
func (s *Session) readLoop() (err error) {
	reason := "client exit"
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrSessionPanic, p)
			reason = "panic"
			s.log.WithField("panic", p).Error("Recovered from panic in command handling")
		}
		if err != nil {
			s.terminate(reason)
			return
		}
		s.finish(reason)
	}()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 512), limits.MaxLineLength+2)

	for scanner.Scan() {
		cmd, decodeErr := protocol.Decode(scanner.Text())
		if decodeErr != nil {
			if !errors.Is(decodeErr, protocol.ErrEndOfSession) {
				reason = "undecodable line"
			}
			return nil
		}
		s.relay.dispatch(s, cmd)
	}

	if scanErr := scanner.Err(); scanErr != nil {
		if s.State() == StateTerminated {
			return nil
		}
		reason = "read error"
		if errors.Is(scanErr, bufio.ErrTooLong) {
			reason = "line too long"
			return nil
		}
		return scanErr
	}
	reason = "connection closed"
	return nil
}

// writeLoop drains the outbox to the connection until the session ends.
func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.done:
			return
		case <-s.drain:
			s.flush()
			return
		case env := <-s.outbox:
			if err := s.deliver(env); err != nil {
				if s.State() != StateTerminated {
					s.log.WithField("error", err.Error()).Warn("Write to client failed")
				}
				s.relay.evict(s.username, s)
				return
			}
		}
	}
}

// flush writes whatever is still queued without waiting for more.
func (s *Session) flush() {
	for {
		select {
		case env := <-s.outbox:
			if err := s.deliver(env); err != nil {
				s.log.WithField("error", err.Error()).Debug("Flushing queued replies failed")
				return
			}
		default:
			return
		}
	}
}

func (s *Session) deliver(env envelope) error {
	line := env.line
	if env.refresh {
		line = s.relay.renderList(s.username)
	}
	return s.write(line)
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (s *Session) write(line string) error {
	if d, ok := s.conn.(writeDeadliner); ok && s.relay.options.WriteTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(s.relay.options.WriteTimeout)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(s.conn, line+"\n")
	return err
}

// finish ends a session the client closed: new envelopes are refused, the
// writer flushes the outbox within WriteTimeout, then the session terminates.
func (s *Session) finish(reason string) {
	s.drainOnce.Do(func() { close(s.drain) })

	timeout := s.relay.options.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.writerDone:
	case <-s.done:
	case <-timer.C:
		s.log.Debug("Outbox not flushed before write timeout")
	}
	s.terminate(reason)
}

// terminate is the single exit path of a session. The first call takes the
// user offline if this session is still its live handle, notifies mutual
// friends, and releases the connection.
func (s *Session) terminate(reason string) {
	s.closeOnce.Do(func() {
		previous := State(s.state.Swap(int32(StateTerminated)))
		close(s.done)

		notified := false
		if previous == StateOnline && s.relay.registry.SetOffline(s.username, s) {
			s.relay.notifyFriends(s.username)
			notified = true
		}

		if err := s.conn.Close(); err != nil {
			s.log.WithField("error", err.Error()).Debug("Closing connection")
		}

		s.log.WithFields(logrus.Fields{
			"reason":         reason,
			"previous_state": previous.String(),
			"went_offline":   notified,
		}).Info("Session terminated")
	})
}
