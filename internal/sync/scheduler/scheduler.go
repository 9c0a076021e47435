// Package scheduler drives background queue draining: a periodic tick
// while the process runs, plus an immediate pass when connectivity
// returns.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kerrin-hs/gapday/core/internal/db"
	"github.com/kerrin-hs/gapday/core/internal/logging"
	"github.com/kerrin-hs/gapday/core/internal/netstate"
	"github.com/kerrin-hs/gapday/core/internal/sync/queue"
)

const defaultDrainInterval = time.Minute

// Scheduler owns the background drain loop. At most one drain pass
// runs at a time; ticks that arrive mid-pass are dropped.
type Scheduler struct {
	consumer *queue.Consumer
	store    *db.Store
	net      *netstate.Monitor
	interval time.Duration
	log      *logging.Logger

	stopCh      chan struct{}
	kickCh      chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup

	mu         sync.Mutex
	running    bool
	inProgress bool
	lastDrain  time.Time
	onDrain    func(res *queue.Result)
}

// NewScheduler creates a Scheduler. A non-positive interval selects
// the default.
func NewScheduler(consumer *queue.Consumer, store *db.Store, net *netstate.Monitor, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	return &Scheduler{
		consumer: consumer,
		store:    store,
		net:      net,
		interval: interval,
		log:      logging.Get().With("scheduler"),
		stopCh:   make(chan struct{}),
		kickCh:   make(chan struct{}, 1),
	}
}

// Start launches the drain loop. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.unsubscribe = s.net.Subscribe(func(online bool) {
		if !online {
			return
		}
		// Connectivity returned: retry everything immediately.
		if err := s.store.ResetQueueBackoff(); err != nil {
			s.log.Error("failed to reset queue backoff", err)
		}
		s.Kick()
	})

	s.wg.Add(1)
	go s.loop(ctx)

	s.log.Info("background drain scheduler started", map[string]interface{}{
		"interval_seconds": s.interval.Seconds(),
	})
}

// Stop shuts the loop down and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	close(s.stopCh)
	s.wg.Wait()

	s.log.Info("background drain scheduler stopped")
}

// Kick requests an immediate drain pass. Safe to call from any
// goroutine; redundant kicks coalesce.
func (s *Scheduler) Kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

// OnDrain registers a listener invoked after each pass that replayed
// at least one entry. Register before Start.
func (s *Scheduler) OnDrain(fn func(res *queue.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrain = fn
}

// LastDrain returns when the last pass finished.
func (s *Scheduler) LastDrain() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDrain
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.drain(ctx)
		case <-s.kickCh:
			s.drain(ctx)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		s.log.Debug("drain already in progress, skipping tick")
		return
	}
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.lastDrain = time.Now()
		s.mu.Unlock()
	}()

	res, err := s.consumer.DrainOnce(ctx)
	if err != nil {
		s.log.Error("drain pass failed", err)
		return
	}
	if res.Processed > 0 || res.Failed > 0 {
		s.log.Debug("drain pass finished", map[string]interface{}{
			"processed": res.Processed,
			"failed":    res.Failed,
		})
	}

	s.mu.Lock()
	onDrain := s.onDrain
	s.mu.Unlock()
	if onDrain != nil && res.Processed > 0 {
		onDrain(res)
	}
}
