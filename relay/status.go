package relay

// UserStatus is a read-only view of one user for operators.
type UserStatus struct {
	Username       string   `json:"username"`
	Online         bool     `json:"online"`
	Countdown      int      `json:"countdown"`
	WatchList      []string `json:"watch_list"`
	PendingInvites int      `json:"pending_invites"`
}

// Status returns the view of username.
func (r *Relay) Status(username string) (UserStatus, bool) {
	u, ok := r.graph.User(username)
	if !ok {
		return UserStatus{}, false
	}

	status := UserStatus{
		Username:       username,
		WatchList:      u.WatchList(),
		PendingInvites: len(u.PendingInvites()),
	}
	if rec, ok := r.registry.Snapshot(username); ok {
		status.Online = rec.Online
		status.Countdown = rec.Countdown
	}
	return status, true
}

// Statuses returns the view of every known user, ordered by username.
func (r *Relay) Statuses() []UserStatus {
	names := r.graph.Usernames()
	statuses := make([]UserStatus, 0, len(names))
	for _, name := range names {
		if status, ok := r.Status(name); ok {
			statuses = append(statuses, status)
		}
	}
	return statuses
}
