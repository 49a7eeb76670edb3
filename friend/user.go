package friend

import (
	"slices"
	"sync"
)

// User is the persisted record of one username.
type User struct {
	Username string

	watchList      []string
	pendingInvites []string
	mu             sync.Mutex
}

func newUser(username string) *User {
	return &User{
		Username:       username,
		watchList:      make([]string, 0),
		pendingInvites: make([]string, 0),
	}
}

// WatchList returns a copy of the users this user watches, in insertion order.
func (u *User) WatchList() []string {
	u.mu.Lock()
	defer u.mu.Unlock()

	return slices.Clone(u.watchList)
}

// Watches reports whether target is on the watch list.
func (u *User) Watches(target string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return slices.Contains(u.watchList, target)
}

// PendingInvites returns a copy of the queued invites.
func (u *User) PendingInvites() []string {
	u.mu.Lock()
	defer u.mu.Unlock()

	return slices.Clone(u.pendingInvites)
}

func (u *User) addWatch(target string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if slices.Contains(u.watchList, target) {
		return false
	}
	u.watchList = append(u.watchList, target)
	return true
}

func (u *User) removeWatch(target string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	i := slices.Index(u.watchList, target)
	if i < 0 {
		return false
	}
	u.watchList = slices.Delete(u.watchList, i, i+1)
	return true
}

func (u *User) record() UserRecord {
	u.mu.Lock()
	defer u.mu.Unlock()

	return UserRecord{
		Username:       u.Username,
		WatchList:      slices.Clone(u.watchList),
		PendingInvites: slices.Clone(u.pendingInvites),
	}
}
