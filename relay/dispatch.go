package relay

import (
	"regexp"

	"github.com/opd-ai/friendrelay/protocol"
)

// dispatch executes one command of an online session. Unknown verbs and
// commands with missing arguments are ignored.
func (r *Relay) dispatch(s *Session, cmd protocol.Command) {
	s.log.WithField("verb", cmd.Verb).Debug("Handling command")

	switch cmd.Verb {
	case protocol.VerbList:
		r.replyList(s)

	case protocol.VerbFind:
		pattern, ok := cmd.Arg(0)
		if !ok {
			return
		}
		r.reply(s, protocol.EncodeList(protocol.VerbFind, r.find(s.username, pattern)))

	case protocol.VerbAdd:
		if target, ok := cmd.Arg(0); ok {
			r.add(s, target)
		}

	case protocol.VerbRemove:
		if target, ok := cmd.Arg(0); ok {
			r.remove(s, target)
		}

	case protocol.VerbMsg:
		target, ok := cmd.Arg(0)
		text, hasText := cmd.Arg(1)
		if ok && hasText {
			r.message(s, target, text)
		}

	case protocol.VerbAlive:
		r.registry.ResetCountdown(s.username)

	default:
		s.log.WithField("verb", cmd.Verb).Debug("Ignoring unknown command")
	}
}

// find returns every known username except self matching pattern,
// case-insensitively. pattern is a regular expression; if it does not
// compile it is matched as a literal substring.
func (r *Relay) find(self, pattern string) []string {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(pattern))
	}

	matches := make([]string, 0)
	for _, name := range r.graph.Usernames() {
		if name != self && re.MatchString(name) {
			matches = append(matches, name)
		}
	}
	return matches
}

func (r *Relay) add(s *Session, target string) {
	if target == s.username || !r.graph.AddWatch(s.username, target) {
		return
	}

	if r.graph.Watches(target, s.username) {
		r.refreshUser(target)
	} else if !r.notifyUser(target, encodeInvite(s.username)) {
		r.graph.QueueInvite(target, s.username)
	}

	r.replyList(s)
}

func (r *Relay) remove(s *Session, target string) {
	if !r.graph.RemoveWatch(s.username, target) {
		return
	}

	r.replyList(s)
	if r.graph.Watches(target, s.username) {
		r.refreshUser(target)
	}
}

// message forwards text only between mutual friends, and only while the
// target is online. Everything else is dropped silently.
func (r *Relay) message(s *Session, target, text string) {
	if !r.mutual(s.username, target) {
		return
	}
	r.notifyUser(target, protocol.Encode(protocol.VerbMsg, s.username, text))
}

func (r *Relay) mutual(a, b string) bool {
	return r.graph.Watches(a, b) && r.graph.Watches(b, a)
}

// visibleOnline reports whether friend shows as online in viewer's list.
func (r *Relay) visibleOnline(viewer, friend string) bool {
	return r.graph.Watches(friend, viewer) && r.registry.Online(friend)
}

// renderList builds the list reply of username from current state.
func (r *Relay) renderList(username string) string {
	watched := r.graph.WatchList(username)
	entries := make([]protocol.Entry, 0, len(watched))
	for _, name := range watched {
		entries = append(entries, protocol.Entry{
			Username: name,
			Online:   r.visibleOnline(username, name),
		})
	}
	return protocol.EncodePresenceList(entries)
}

// notifyFriends pushes a presence refresh to every online user that
// username watches and that watches username back.
func (r *Relay) notifyFriends(username string) {
	for _, name := range r.graph.WatchList(username) {
		if r.graph.Watches(name, username) {
			r.refreshUser(name)
		}
	}
}

// notifyUser enqueues line for username if online. Returns whether the line
// was handed to a live session.
func (r *Relay) notifyUser(username, line string) bool {
	h := r.registry.Handle(username)
	if h == nil {
		return false
	}
	if err := h.Notify(line); err != nil {
		r.dropPeer(username, h, err)
		return false
	}
	return true
}

// refreshUser enqueues a list refresh for username if online.
func (r *Relay) refreshUser(username string) bool {
	h := r.registry.Handle(username)
	if h == nil {
		return false
	}
	if err := h.Refresh(); err != nil {
		r.dropPeer(username, h, err)
		return false
	}
	return true
}

func (r *Relay) reply(s *Session, line string) {
	if err := s.Notify(line); err != nil {
		r.dropPeer(s.username, s, err)
	}
}

func (r *Relay) replyList(s *Session) {
	if err := s.Refresh(); err != nil {
		r.dropPeer(s.username, s, err)
	}
}

func encodeInvite(from string) string {
	return protocol.Encode(protocol.VerbInvite, from)
}
