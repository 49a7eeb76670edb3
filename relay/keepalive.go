package relay

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/friendrelay/protocol"
)

// DefaultKeepAliveInterval is the time between two probe rounds.
const DefaultKeepAliveInterval = 5 * time.Second

// Monitor periodically probes online sessions and evicts the ones that
// stopped answering.
type Monitor struct {
	relay    *Relay
	interval time.Duration
}

// NewMonitor creates a monitor for r. A non-positive interval selects
// DefaultKeepAliveInterval.
func NewMonitor(r *Relay, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	return &Monitor{relay: r, interval: interval}
}

// Interval returns the time between probe rounds.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"function":  "Run",
		"interval":  m.interval,
		"threshold": m.relay.registry.Threshold(),
	}).Info("Keep-alive monitor started")

	for {
		select {
		case <-ctx.Done():
			logrus.WithField("function", "Run").Info("Keep-alive monitor stopped")
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick runs one probe round: every online session gets an "alive" probe
// and loses one unit of countdown. Sessions that reach zero are evicted.
// Returns the evicted usernames.
func (m *Monitor) Tick() []string {
	registry := m.relay.registry
	probe := protocol.Encode(protocol.VerbAlive)

	var evicted []string
	for _, name := range registry.OnlineUsers() {
		h := registry.Handle(name)
		if h == nil {
			continue
		}

		if err := h.Notify(probe); errors.Is(err, ErrOutboxFull) {
			m.relay.dropPeer(name, h, err)
			continue
		} else if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Tick",
				"username": name,
				"error":    err.Error(),
			}).Debug("Keep-alive probe not delivered")
		}

		remaining, ok := registry.Decrement(name)
		if !ok || remaining > 0 {
			continue
		}

		if m.relay.evict(name, h) {
			evicted = append(evicted, name)
			logrus.WithFields(logrus.Fields{
				"function": "Tick",
				"username": name,
				"session":  h.ID(),
			}).Info("Evicted unresponsive session")
		}
	}
	return evicted
}
