// Package netstate adapts the platform's online/offline signal into a
// subscribable monitor consumed by the sync scheduler and the
// autosave engine.
package netstate

import (
	"sync"

	"github.com/kerrin-hs/gapday/core/internal/logging"
)

// Monitor holds the current connectivity state and notifies
// subscribers on transitions.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	subs   map[int]func(online bool)
	nextID int
	log    *logging.Logger
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[int]func(online bool)),
		log:    logging.Get().With("netstate"),
	}
}

// Online returns the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a connectivity change from the platform. On a
// transition, subscribers are notified synchronously in subscription
// order.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.log.Info("connectivity changed", map[string]interface{}{"online": online})
	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers a transition callback and returns a cancel
// function.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
