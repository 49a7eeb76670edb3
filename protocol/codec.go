// Package protocol implements the line-oriented command protocol spoken
// between relay clients and the server.
//
// Every message is one UTF-8 line with fields joined by ':'. There is no
// escaping: a field cannot contain ':' and anything after an extra separator
// becomes an additional field. An empty line or the literal line "exit" ends
// the session.
//
//	cmd, err := protocol.Decode("msg:bob:hi")
//	// cmd.Verb == "msg", cmd.Args == []string{"bob", "hi"}
//
//	line := protocol.Encode(protocol.VerbInvite, "alice") // "invite:alice"
//
// The codec is stateless and does no I/O.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opd-ai/friendrelay/limits"
)

// Separator joins the fields of a line.
const Separator = ":"

// Verbs understood by the server, and sent by it.
const (
	VerbList   = "list"
	VerbFind   = "find"
	VerbAdd    = "add"
	VerbRemove = "remove"
	VerbMsg    = "msg"
	VerbAlive  = "alive"
	VerbInvite = "invite"
	VerbExit   = "exit"
)

// Presence flags appended to each entry of a list reply.
const (
	FlagOnline  = "1"
	FlagOffline = "0"
)

var (
	// ErrEndOfSession is returned for an empty line or "exit".
	ErrEndOfSession = errors.New("end of session")

	// ErrLineTooLong is returned for lines above limits.MaxLineLength.
	ErrLineTooLong = errors.New("line too long")
)

// Command is one decoded client line.
type Command struct {
	Verb string
	Args []string
}

// Arg returns the i-th argument and whether it is present.
func (c Command) Arg(i int) (string, bool) {
	if i < 0 || i >= len(c.Args) {
		return "", false
	}
	return c.Args[i], true
}

// String re-encodes the command.
func (c Command) String() string {
	return Encode(c.Verb, c.Args...)
}

// Decode parses one line. Surrounding whitespace, including the line
// terminator, is ignored.
func Decode(line string) (Command, error) {
	if err := limits.ValidateLine(line); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrLineTooLong, err)
	}

	line = strings.TrimSpace(line)
	if line == "" || line == VerbExit {
		return Command{}, ErrEndOfSession
	}

	fields := strings.Split(line, Separator)
	return Command{Verb: fields[0], Args: fields[1:]}, nil
}

// Encode joins verb and args into a line without terminator.
func Encode(verb string, args ...string) string {
	if len(args) == 0 {
		return verb
	}
	return verb + Separator + strings.Join(args, Separator)
}

// EncodeList encodes a verb followed by a possibly empty field list. Unlike
// Encode, the separator is always written, so an empty list is "list:".
func EncodeList(verb string, fields []string) string {
	return verb + Separator + strings.Join(fields, Separator)
}

// Entry is one row of a presence list.
type Entry struct {
	Username string
	Online   bool
}

// EncodePresenceList renders a list reply: each watched username followed
// by its presence flag.
func EncodePresenceList(entries []Entry) string {
	fields := make([]string, 0, len(entries)*2)
	for _, e := range entries {
		flag := FlagOffline
		if e.Online {
			flag = FlagOnline
		}
		fields = append(fields, e.Username, flag)
	}
	return EncodeList(VerbList, fields)
}

// DecodePresenceList parses the arguments of a list reply back into entries.
// A trailing username without flag is reported offline.
func DecodePresenceList(args []string) []Entry {
	entries := make([]Entry, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if args[i] == "" {
			continue
		}
		online := i+1 < len(args) && args[i+1] == FlagOnline
		entries = append(entries, Entry{Username: args[i], Online: online})
	}
	return entries
}
