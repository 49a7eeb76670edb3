package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	id string
}

func (h *fakeHandle) ID() string          { return h.id }
func (h *fakeHandle) Notify(string) error { return nil }
func (h *fakeHandle) Refresh() error      { return nil }
func (h *fakeHandle) Close() error        { return nil }

func TestNewRegistryThreshold(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewRegistry(0).Threshold())
	assert.Equal(t, 3, NewRegistry(3).Threshold())
}

func TestRegisterIfAbsent(t *testing.T) {
	reg := NewRegistry(DefaultThreshold)

	assert.True(t, reg.RegisterIfAbsent("alice"))
	assert.False(t, reg.RegisterIfAbsent("alice"))

	rec, ok := reg.Snapshot("alice")
	require.True(t, ok)
	assert.False(t, rec.Online)
	assert.Equal(t, DefaultThreshold, rec.Countdown)
	assert.Nil(t, rec.Handle)
}

func TestOnlineOfflineLifecycle(t *testing.T) {
	reg := NewRegistry(DefaultThreshold)
	first := &fakeHandle{id: "first"}

	assert.Nil(t, reg.SetOnline("alice", first))
	assert.True(t, reg.Online("alice"))
	assert.Equal(t, first, reg.Handle("alice"))
	assert.Equal(t, []string{"alice"}, reg.OnlineUsers())

	assert.True(t, reg.SetOffline("alice", first))
	assert.False(t, reg.SetOffline("alice", first), "second offline is not a transition")
	assert.False(t, reg.Online("alice"))
	assert.Nil(t, reg.Handle("alice"))
	assert.Empty(t, reg.OnlineUsers())

	rec, ok := reg.Snapshot("alice")
	require.True(t, ok, "records are reset, not destroyed")
	assert.Nil(t, rec.Handle)
}

func TestReplacedHandleCannotGoOffline(t *testing.T) {
	reg := NewRegistry(DefaultThreshold)
	first := &fakeHandle{id: "first"}
	second := &fakeHandle{id: "second"}

	reg.SetOnline("alice", first)
	previous := reg.SetOnline("alice", second)
	assert.Equal(t, first, previous)

	assert.False(t, reg.SetOffline("alice", first))
	assert.True(t, reg.Online("alice"))
	assert.True(t, reg.SetOffline("alice", second))
}

func TestSetOnlineSameHandleReturnsNil(t *testing.T) {
	reg := NewRegistry(DefaultThreshold)
	h := &fakeHandle{id: "h"}

	reg.SetOnline("alice", h)
	assert.Nil(t, reg.SetOnline("alice", h))
}

func TestCountdown(t *testing.T) {
	reg := NewRegistry(3)

	_, ok := reg.Decrement("alice")
	assert.False(t, ok, "unknown user")

	reg.RegisterIfAbsent("alice")
	_, ok = reg.Decrement("alice")
	assert.False(t, ok, "offline user")

	reg.SetOnline("alice", &fakeHandle{id: "h"})
	remaining, ok := reg.Decrement("alice")
	assert.True(t, ok)
	assert.Equal(t, 2, remaining)
	remaining, _ = reg.Decrement("alice")
	assert.Equal(t, 1, remaining)

	reg.ResetCountdown("alice")
	assert.Equal(t, 3, reg.Countdown("alice"))
}

func TestConcurrentAccess(t *testing.T) {
	reg := NewRegistry(DefaultThreshold)
	const users = 16

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user%d", i)
			h := &fakeHandle{id: name}
			for j := 0; j < 100; j++ {
				reg.SetOnline(name, h)
				reg.Decrement(name)
				reg.ResetCountdown(name)
				reg.OnlineUsers()
				reg.Snapshot(fmt.Sprintf("user%d", (i+1)%users))
				reg.SetOffline(name, h)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, reg.Usernames(), users)
	assert.Empty(t, reg.OnlineUsers())
}
