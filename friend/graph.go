package friend

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Graph holds every known user and their directed watch edges.
type Graph struct {
	users map[string]*User
	mu    sync.RWMutex
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		users: make(map[string]*User),
	}
}

func (g *Graph) user(username string) (*User, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	u, ok := g.users[username]
	return u, ok
}

// User returns the record for username.
func (g *Graph) User(username string) (*User, bool) {
	return g.user(username)
}

// EnsureUser creates an empty record for username if none exists.
// Returns true if the user was created by this call.
func (g *Graph) EnsureUser(username string) bool {
	if _, ok := g.user(username); ok {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.users[username]; ok {
		return false
	}
	g.users[username] = newUser(username)

	logrus.WithFields(logrus.Fields{
		"function": "EnsureUser",
		"username": username,
	}).Info("Registered new user")

	return true
}

// Exists reports whether username has a record.
func (g *Graph) Exists(username string) bool {
	_, ok := g.user(username)
	return ok
}

// AddWatch appends to to the watch list of from. Both users must exist.
// Returns false if either is unknown or the edge already exists.
func (g *Graph) AddWatch(from, to string) bool {
	source, ok := g.user(from)
	if !ok || !g.Exists(to) {
		return false
	}
	return source.addWatch(to)
}

// RemoveWatch deletes the edge from -> to. Removing an edge that does not
// exist is a no-op and returns false.
func (g *Graph) RemoveWatch(from, to string) bool {
	source, ok := g.user(from)
	if !ok {
		return false
	}
	return source.removeWatch(to)
}

// Watches reports whether from currently watches to.
func (g *Graph) Watches(from, to string) bool {
	source, ok := g.user(from)
	if !ok {
		return false
	}
	return source.Watches(to)
}

// WatchList returns a copy of the watch list of username, nil if unknown.
func (g *Graph) WatchList(username string) []string {
	u, ok := g.user(username)
	if !ok {
		return nil
	}
	return u.WatchList()
}

// Usernames returns every known username in lexical order.
func (g *Graph) Usernames() []string {
	g.mu.RLock()
	names := make([]string, 0, len(g.users))
	for name := range g.users {
		names = append(names, name)
	}
	g.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of known users.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.users)
}
