package presence

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultThreshold is the number of unanswered keep-alive probes tolerated
// before a user is considered gone.
const DefaultThreshold = 12

// Handle is the registry's reference to a live session. The session owns
// the connection; the registry only forwards notifications through it.
type Handle interface {
	// ID identifies the session in logs.
	ID() string
	// Notify enqueues a protocol line for the client.
	Notify(line string) error
	// Refresh enqueues a re-send of the client's presence list.
	Refresh() error
	// Close terminates the session and releases its connection.
	Close() error
}

// Record is a point-in-time copy of one user's presence.
type Record struct {
	Username  string
	Online    bool
	Countdown int
	Handle    Handle
}

type record struct {
	username  string
	online    bool
	countdown int
	handle    Handle
	mu        sync.Mutex
}

// Registry maps usernames to presence records.
type Registry struct {
	records   map[string]*record
	threshold int
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry. A threshold below 1 selects
// DefaultThreshold.
func NewRegistry(threshold int) *Registry {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Registry{
		records:   make(map[string]*record),
		threshold: threshold,
	}
}

// Threshold returns the countdown value set by SetOnline and ResetCountdown.
func (r *Registry) Threshold() int {
	return r.threshold
}

func (r *Registry) get(username string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[username]
	return rec, ok
}

// RegisterIfAbsent creates an offline record for username. Returns true if
// the record was created by this call.
func (r *Registry) RegisterIfAbsent(username string) bool {
	if _, ok := r.get(username); ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[username]; ok {
		return false
	}
	r.records[username] = &record{username: username, countdown: r.threshold}
	return true
}

// SetOnline marks username online with handle as its live session and a
// full countdown. The previous handle, if any and different, is returned so
// the caller can retire it. Unknown users are registered first.
func (r *Registry) SetOnline(username string, handle Handle) Handle {
	r.RegisterIfAbsent(username)
	rec, _ := r.get(username)

	rec.mu.Lock()
	previous := rec.handle
	rec.online = true
	rec.handle = handle
	rec.countdown = r.threshold
	rec.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SetOnline",
		"username": username,
		"session":  handle.ID(),
		"replaced": previous != nil && previous != handle,
	}).Debug("User online")

	if previous == handle {
		return nil
	}
	return previous
}

// SetOffline takes username offline, but only if handle is still the live
// session for it. Returns true if this call performed the transition; a
// replaced or already evicted session gets false and must not notify.
func (r *Registry) SetOffline(username string, handle Handle) bool {
	rec, ok := r.get(username)
	if !ok {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.online || rec.handle != handle {
		return false
	}
	rec.online = false
	rec.handle = nil
	rec.countdown = r.threshold
	return true
}

// Online reports whether username has a live session.
func (r *Registry) Online(username string) bool {
	rec, ok := r.get(username)
	if !ok {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.online
}

// Handle returns the live session of username, nil if offline.
func (r *Registry) Handle(username string) Handle {
	rec, ok := r.get(username)
	if !ok {
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.online {
		return nil
	}
	return rec.handle
}

// Countdown returns the remaining keep-alive budget of username.
func (r *Registry) Countdown(username string) int {
	rec, ok := r.get(username)
	if !ok {
		return 0
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.countdown
}

// Decrement lowers the countdown of an online user by one and returns the
// remaining value. ok is false if the user is unknown or offline.
func (r *Registry) Decrement(username string) (remaining int, ok bool) {
	rec, found := r.get(username)
	if !found {
		return 0, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.online {
		return rec.countdown, false
	}
	rec.countdown--
	return rec.countdown, true
}

// ResetCountdown restores the full keep-alive budget of username.
func (r *Registry) ResetCountdown(username string) {
	rec, ok := r.get(username)
	if !ok {
		return
	}

	rec.mu.Lock()
	rec.countdown = r.threshold
	rec.mu.Unlock()
}

// Snapshot returns a consistent copy of the record of username.
func (r *Registry) Snapshot(username string) (Record, bool) {
	rec, ok := r.get(username)
	if !ok {
		return Record{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return Record{
		Username:  rec.username,
		Online:    rec.online,
		Countdown: rec.countdown,
		Handle:    rec.handle,
	}, true
}

// Usernames returns every registered username in lexical order.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// OnlineUsers returns the usernames that are online right now, in lexical order.
func (r *Registry) OnlineUsers() []string {
	var online []string
	for _, name := range r.Usernames() {
		if r.Online(name) {
			online = append(online, name)
		}
	}
	return online
}
