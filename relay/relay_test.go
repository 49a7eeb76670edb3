package relay

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/friendrelay/friend"
	"github.com/opd-ai/friendrelay/limits"
	"github.com/opd-ai/friendrelay/presence"
)

const testTimeout = 2 * time.Second

type testClient struct {
	t        *testing.T
	username string
	conn     net.Conn
	lines    chan string
	served   chan error
}

func newTestRelay() *Relay {
	return New(friend.NewGraph(), presence.NewRegistry(presence.DefaultThreshold), nil)
}

// connect starts a session for username and waits until it is the user's
// live session.
func connect(t *testing.T, ctx context.Context, r *Relay, username string) *testClient {
	t.Helper()

	previous := r.Registry().Handle(username)
	server, client := net.Pipe()
	c := &testClient{
		t:        t,
		username: username,
		conn:     client,
		lines:    make(chan string, 1024),
		served:   make(chan error, 1),
	}

	go func() {
		c.served <- r.Serve(ctx, username, server)
	}()
	go func() {
		defer close(c.lines)
		scanner := bufio.NewScanner(client)
		for scanner.Scan() {
			c.lines <- scanner.Text()
		}
	}()
	t.Cleanup(func() { client.Close() })

	require.Eventually(t, func() bool {
		h := r.Registry().Handle(username)
		return h != nil && h != previous
	}, testTimeout, time.Millisecond, "%s never came online", username)
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(testTimeout)))
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *testClient) next() string {
	c.t.Helper()
	select {
	case line, ok := <-c.lines:
		require.True(c.t, ok, "%s: connection closed while waiting for a line", c.username)
		return line
	case <-time.After(testTimeout):
		require.FailNow(c.t, "timed out waiting for a line", c.username)
		return ""
	}
}

func (c *testClient) expect(line string) {
	c.t.Helper()
	assert.Equal(c.t, line, c.next(), "%s received an unexpected line", c.username)
}

// expectClosed drains remaining lines until the server closes the connection.
func (c *testClient) expectClosed() []string {
	c.t.Helper()
	var rest []string
	deadline := time.After(testTimeout)
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return rest
			}
			rest = append(rest, line)
		case <-deadline:
			require.FailNow(c.t, "connection still open", c.username)
			return rest
		}
	}
}

func (c *testClient) exit() {
	c.t.Helper()
	c.send("exit")
	select {
	case err := <-c.served:
		require.NoError(c.t, err)
	case <-time.After(testTimeout):
		require.FailNow(c.t, "session did not end", c.username)
	}
}

// befriend makes a and b mutual friends and consumes the resulting lines.
func befriend(a, b *testClient) {
	a.t.Helper()
	a.send("add:" + b.username)
	a.expect("list:" + b.username + ":0")
	b.expect("invite:" + a.username)
	b.send("add:" + a.username)
	b.expect("list:" + a.username + ":1")
	a.expect("list:" + b.username + ":1")
}

func TestMutualFriendsSeeEachOther(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	alice := connect(t, ctx, r, "alice")
	bob := connect(t, ctx, r, "bob")

	alice.send("add:bob")
	alice.expect("list:bob:0")
	bob.expect("invite:alice")

	bob.send("add:alice")
	bob.expect("list:alice:1")
	alice.expect("list:bob:1")

	bob.exit()
	alice.expect("list:bob:0")
	assert.False(t, r.Registry().Online("bob"))

	alice.send("list")
	alice.expect("list:bob:0")
}

func TestOneWayWatchShowsOffline(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	alice := connect(t, ctx, r, "alice")
	connect(t, ctx, r, "bob")

	alice.send("add:bob")
	alice.expect("list:bob:0")
	alice.send("list")
	alice.expect("list:bob:0")
}

func TestAddUnknownOrSelfIsIgnored(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	alice := connect(t, ctx, r, "alice")
	alice.send("add:alice")
	alice.send("add:nobody")
	alice.send("add")
	alice.send("list")
	alice.expect("list:")
	assert.Empty(t, r.Graph().WatchList("alice"))
}

func TestInviteQueuedUntilLogin(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	bob := connect(t, ctx, r, "bob")
	bob.exit()

	alice := connect(t, ctx, r, "alice")
	alice.send("add:bob")
	alice.expect("list:bob:0")

	bob = connect(t, ctx, r, "bob")
	bob.expect("invite:alice")
	bob.send("list")
	bob.expect("list:")
	bob.exit()

	bob = connect(t, ctx, r, "bob")
	bob.send("list")
	bob.expect("list:")

	u, ok := r.Graph().User("bob")
	require.True(t, ok)
	assert.Empty(t, u.PendingInvites())
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	alice := connect(t, ctx, r, "alice")
	bob := connect(t, ctx, r, "bob")
	befriend(alice, bob)

	alice.send("remove:bob")
	alice.expect("list:")
	bob.expect("list:alice:0")

	alice.send("remove:bob")
	alice.send("list")
	alice.expect("list:")

	bob.send("list")
	bob.expect("list:alice:0")
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()
	for _, name := range []string{"Bob", "bobby", "carol"} {
		r.Graph().EnsureUser(name)
	}

	alice := connect(t, ctx, r, "alice")

	testCases := []struct {
		query    string
		expected string
	}{
		{"find:bob", "find:Bob:bobby"},
		{"find:^c", "find:carol"},
		{"find:zzz", "find:"},
		{"find:", "find:Bob:bobby:carol"},
		{"find:a", "find:carol"},
		{"find:[", "find:"},
	}

	for _, tc := range testCases {
		alice.send(tc.query)
		assert.Equal(t, tc.expected, alice.next(), "query %q", tc.query)
	}
}

func TestMessagesRequireMutualFriendship(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	alice := connect(t, ctx, r, "alice")
	bob := connect(t, ctx, r, "bob")

	alice.send("add:bob")
	alice.expect("list:bob:0")
	bob.expect("invite:alice")

	alice.send("msg:bob:dropped")
	alice.send("list")
	alice.expect("list:bob:0")

	bob.send("add:alice")
	bob.expect("list:alice:1")
	alice.expect("list:bob:1")

	alice.send("msg:bob:hello")
	bob.expect("msg:alice:hello")

	bob.send("msg:alice")
	bob.send("msg:carol:hi")
	bob.send("msg:alice:back")
	alice.expect("msg:bob:back")
}

func TestKeepAliveEvictsSilentSession(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()
	monitor := NewMonitor(r, time.Hour)

	alice := connect(t, ctx, r, "alice")
	bob := connect(t, ctx, r, "bob")
	befriend(alice, bob)

	for i := 1; i < presence.DefaultThreshold; i++ {
		assert.Empty(t, monitor.Tick())
		bob.expect("alive")
		bob.send("alive")
		require.Eventually(t, func() bool {
			return r.Registry().Countdown("bob") == presence.DefaultThreshold
		}, testTimeout, time.Millisecond)
	}
	assert.Equal(t, 1, r.Registry().Countdown("alice"))

	assert.Equal(t, []string{"alice"}, monitor.Tick())
	assert.ElementsMatch(t, []string{"alive", "list:alice:0"}, []string{bob.next(), bob.next()})
	// a second refresh would arrive ahead of this reply
	bob.send("find:alice")
	bob.expect("find:alice")

	pings := alice.expectClosed()
	assert.GreaterOrEqual(t, len(pings), presence.DefaultThreshold-1)
	for _, line := range pings {
		assert.Equal(t, "alive", line)
	}
	assert.False(t, r.Registry().Online("alice"))
	assert.True(t, r.Registry().Online("bob"))

	bob.send("list")
	bob.expect("list:alice:0")
}

func TestDuplicateLoginReplacesSession(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	first := connect(t, ctx, r, "alice")
	bob := connect(t, ctx, r, "bob")
	befriend(first, bob)

	second := connect(t, ctx, r, "alice")
	second.send("list")
	second.expect("list:bob:1")

	first.expectClosed()
	select {
	case err := <-first.served:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		require.FailNow(t, "replaced session did not end")
	}

	assert.True(t, r.Registry().Online("alice"))
	bob.expect("list:alice:1")
	bob.send("list")
	bob.expect("list:alice:1")
}

func TestServeRejectsInvalidUsername(t *testing.T) {
	r := newTestRelay()
	server, client := net.Pipe()
	defer client.Close()

	err := r.Serve(context.Background(), "bad:name", server)
	assert.ErrorIs(t, err, limits.ErrInvalidUsername)
	assert.False(t, r.Graph().Exists("bad:name"))

	_, err = client.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestContextCancelEndsSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newTestRelay()

	alice := connect(t, ctx, r, "alice")
	cancel()

	alice.expectClosed()
	select {
	case err := <-alice.served:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		require.FailNow(t, "session did not end")
	}
	assert.False(t, r.Registry().Online("alice"))
}

func TestCloseRefusesNewSessions(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	alice := connect(t, ctx, r, "alice")
	require.NoError(t, r.Close())
	alice.expectClosed()
	require.Eventually(t, func() bool { return r.SessionCount() == 0 }, testTimeout, time.Millisecond)

	server, client := net.Pipe()
	defer client.Close()
	assert.ErrorIs(t, r.Serve(ctx, "bob", server), ErrRelayClosed)
}

func TestOutbox(t *testing.T) {
	options := NewOptions()
	options.OutboxSize = 1
	r := New(friend.NewGraph(), presence.NewRegistry(presence.DefaultThreshold), options)

	server, client := net.Pipe()
	defer client.Close()

	s, err := newSession(r, "alice", server)
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, s.State())

	require.NoError(t, s.Notify("first"))
	assert.ErrorIs(t, s.Notify("second"), ErrOutboxFull)

	require.NoError(t, s.Close())
	assert.Equal(t, StateTerminated, s.State())
	assert.ErrorIs(t, s.Refresh(), ErrSessionClosed)
}

func TestFullOutboxDisconnectsPeer(t *testing.T) {
	ctx := context.Background()
	options := NewOptions()
	options.OutboxSize = 1
	options.WriteTimeout = time.Hour
	r := New(friend.NewGraph(), presence.NewRegistry(presence.DefaultThreshold), options)
	r.Graph().EnsureUser("alice")
	r.Graph().EnsureUser("bob")
	r.Graph().AddWatch("alice", "bob")
	r.Graph().AddWatch("bob", "alice")

	alice := connect(t, ctx, r, "alice")

	// bob never reads: one line blocks in the pipe, the next fills the outbox.
	server, client := net.Pipe()
	defer client.Close()
	go r.Serve(ctx, "bob", server)
	require.Eventually(t, func() bool { return r.Registry().Online("bob") }, testTimeout, time.Millisecond)
	alice.expect("list:bob:1")

	for i := 0; i < 3; i++ {
		alice.send("msg:bob:spam")
	}
	alice.expect("list:bob:0")
	assert.False(t, r.Registry().Online("bob"))
}

func TestKeepAliveDropsStalledPeer(t *testing.T) {
	ctx := context.Background()
	options := NewOptions()
	options.OutboxSize = 1
	options.WriteTimeout = time.Hour
	r := New(friend.NewGraph(), presence.NewRegistry(presence.DefaultThreshold), options)
	r.Graph().EnsureUser("alice")
	r.Graph().EnsureUser("bob")
	r.Graph().AddWatch("alice", "bob")
	r.Graph().AddWatch("bob", "alice")
	monitor := NewMonitor(r, time.Hour)

	alice := connect(t, ctx, r, "alice")

	server, client := net.Pipe()
	defer client.Close()
	go r.Serve(ctx, "bob", server)
	require.Eventually(t, func() bool { return r.Registry().Online("bob") }, testTimeout, time.Millisecond)
	alice.expect("list:bob:1")

	// bob's writer blocks on its first line, so its outbox overflows long
	// before the countdown runs out.
	require.Eventually(t, func() bool {
		monitor.Tick()
		return !r.Registry().Online("bob")
	}, testTimeout, time.Millisecond)
	assert.Greater(t, r.Registry().Countdown("alice"), presence.DefaultThreshold/2)

	for {
		line := alice.next()
		if line == "alive" {
			continue
		}
		assert.Equal(t, "list:bob:0", line)
		break
	}
}

func TestExitFlushesQueuedReplies(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()

	for i := 0; i < 20; i++ {
		alice := connect(t, ctx, r, "alice")
		require.NoError(t, alice.conn.SetWriteDeadline(time.Now().Add(testTimeout)))
		_, err := alice.conn.Write([]byte("list\nexit\n"))
		require.NoError(t, err)

		assert.Equal(t, []string{"list:"}, alice.expectClosed())
		select {
		case err := <-alice.served:
			assert.NoError(t, err)
		case <-time.After(testTimeout):
			require.FailNow(t, "session did not end")
		}
		require.Eventually(t, func() bool { return !r.Registry().Online("alice") }, testTimeout, time.Millisecond)
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay()
	r.Graph().EnsureUser("bob")

	alice := connect(t, ctx, r, "alice")
	alice.send("add:bob")
	alice.expect("list:bob:0")

	status, ok := r.Status("alice")
	require.True(t, ok)
	assert.True(t, status.Online)
	assert.Equal(t, presence.DefaultThreshold, status.Countdown)
	assert.Equal(t, []string{"bob"}, status.WatchList)

	status, ok = r.Status("bob")
	require.True(t, ok)
	assert.False(t, status.Online)
	assert.Equal(t, 1, status.PendingInvites)

	_, ok = r.Status("nobody")
	assert.False(t, ok)

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "alice", statuses[0].Username)
	assert.Equal(t, "bob", statuses[1].Username)
}
