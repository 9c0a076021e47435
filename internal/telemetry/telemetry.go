// Package telemetry provides in-process counters for sync and autosave
// observability. Counters are held in memory only; nothing is ever
// transmitted off-device.
package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counter names used by the sync core.
const (
	AutosaveAttempts   = "autosave_attempts"
	AutosaveSuccess    = "autosave_success"
	AutosaveFailures   = "autosave_failures"
	Conflicts409       = "conflicts_409"
	OfflineSaves       = "offline_saves"
	RateLimitedSkips   = "rate_limited_skips"
	PreventedWrites    = "prevented_writes"
	QueueDrained       = "queue_drained"
	QueueFailures      = "queue_failures"
	ReconcileConflicts = "reconcile_conflicts"
	ReconcileErrors    = "reconcile_errors"
)

// Registry holds a set of named monotonic counters.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*int64
}

// NewRegistry creates an empty counter registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*int64)}
}

func (r *Registry) counter(name string) *int64 {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c = new(int64)
	r.counters[name] = c
	return c
}

// Incr increments a counter by one.
func (r *Registry) Incr(name string) {
	atomic.AddInt64(r.counter(name), 1)
}

// Add increments a counter by delta.
func (r *Registry) Add(name string, delta int64) {
	atomic.AddInt64(r.counter(name), delta)
}

// Get returns the current value of a counter.
func (r *Registry) Get(name string) int64 {
	return atomic.LoadInt64(r.counter(name))
}

// Snapshot returns a copy of all counters.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		snap[name] = atomic.LoadInt64(c)
	}
	return snap
}

// Names returns the sorted counter names seen so far.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset zeroes all counters. Intended for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.counters {
		atomic.StoreInt64(c, 0)
	}
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Default returns the process-wide registry.
func Default() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Incr increments a counter in the default registry.
func Incr(name string) {
	Default().Incr(name)
}

// Get returns a counter value from the default registry.
func Get(name string) int64 {
	return Default().Get(name)
}
