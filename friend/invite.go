package friend

import (
	"slices"

	"github.com/sirupsen/logrus"
)

func (u *User) queueInvite(from string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	// Check if this is a duplicate
	if slices.Contains(u.pendingInvites, from) {
		return false
	}
	u.pendingInvites = append(u.pendingInvites, from)
	return true
}

func (u *User) drainInvites() []string {
	u.mu.Lock()
	defer u.mu.Unlock()

	invites := u.pendingInvites
	u.pendingInvites = make([]string, 0)
	return invites
}

// QueueInvite records that from tried to watch to while to could not be
// told. Duplicate invites are collapsed. Returns false if to is unknown or
// the invite was already queued.
func (g *Graph) QueueInvite(to, from string) bool {
	user, ok := g.user(to)
	if !ok {
		return false
	}

	queued := user.queueInvite(from)

	logrus.WithFields(logrus.Fields{
		"function": "QueueInvite",
		"to":       to,
		"from":     from,
		"queued":   queued,
	}).Debug("Queued invite for offline user")

	return queued
}

// DrainInvites returns the queued invites of username in arrival order and
// clears the queue, so each invite is handed out once.
func (g *Graph) DrainInvites(username string) []string {
	user, ok := g.user(username)
	if !ok {
		return nil
	}

	invites := user.drainInvites()
	if len(invites) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "DrainInvites",
			"username": username,
			"count":    len(invites),
		}).Debug("Drained pending invites")
	}
	return invites
}
