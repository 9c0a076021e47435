// Package autosave implements the debounced preference autosave
// engine: a per-edit-burst state machine that persists the full
// document locally, pushes only changed server-eligible fields to the
// remote service under optimistic concurrency, and degrades to
// "saved locally, sync pending" on conflict, offline, or rate limit.
package autosave

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/kerrin-hs/gapday/core/internal/db"
	"github.com/kerrin-hs/gapday/core/internal/logging"
	"github.com/kerrin-hs/gapday/core/internal/models"
	"github.com/kerrin-hs/gapday/core/internal/netstate"
	"github.com/kerrin-hs/gapday/core/internal/remote"
	"github.com/kerrin-hs/gapday/core/internal/telemetry"
)

// State is the engine's position in one save cycle.
type State string

const (
	StateIdle         State = "idle"
	StateSavingLocal  State = "saving_local"
	StateSavingRemote State = "saving_remote"
	StateDone         State = "done"
	StateError        State = "error"
)

// Human-readable status strings surfaced to the UI.
const (
	StatusSaving  = "Saving…"
	StatusSaved   = "Saved"
	StatusPending = "Saved locally • Sync pending"
)

// Config holds the engine's tunables.
type Config struct {
	Debounce      time.Duration
	StatusLinger  time.Duration
	RatePerMinute int
	Burst         int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:      1200 * time.Millisecond,
		StatusLinger:  3 * time.Second,
		RatePerMinute: 12,
		Burst:         4,
	}
}

// Engine is the preference autosave state machine. At most one
// outbound write is in flight at any time; edits arriving mid-flight
// are coalesced into one follow-up pass.
type Engine struct {
	store   *db.Store
	client  remote.Client
	net     *netstate.Monitor
	limiter *RateLimiter
	clock   Clock
	reg     *telemetry.Registry
	log     *logging.Logger

	debounce time.Duration
	linger   time.Duration
	rate     int
	burst    int

	mu               sync.Mutex
	state            State
	current          *models.UserPreferences
	canonical        map[string]interface{}
	canonicalVersion int64
	pendingDiff      map[string]interface{}
	dirty            bool
	inFlight         bool
	closed           bool
	timer            Timer
	status           string
	statusTimer      Timer
	onStatus         func(string)
}

// NewEngine creates an Engine seeded from the stored preferences,
// which become the initial canonical snapshot.
func NewEngine(store *db.Store, client remote.Client, net *netstate.Monitor, cfg Config) (*Engine, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.StatusLinger <= 0 {
		cfg.StatusLinger = DefaultConfig().StatusLinger
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultConfig().RatePerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}

	current, err := store.GetPreferences()
	if err != nil {
		return nil, err
	}
	canonical, err := normalizeFull(current)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:            store,
		client:           client,
		net:              net,
		clock:            systemClock{},
		reg:              telemetry.Default(),
		log:              logging.Get().With("autosave"),
		debounce:         cfg.Debounce,
		linger:           cfg.StatusLinger,
		rate:             cfg.RatePerMinute,
		burst:            cfg.Burst,
		state:            StateIdle,
		current:          current,
		canonical:        canonical,
		canonicalVersion: current.Version,
	}
	e.limiter = NewRateLimiter(cfg.RatePerMinute, cfg.Burst, e.clock.Now)
	return e, nil
}

// SetClock overrides the engine's clock and rebases the rate limiter
// on it. Intended for tests; call before the first edit.
func (e *Engine) SetClock(clock Clock) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
	e.limiter = NewRateLimiter(e.rate, e.burst, clock.Now)
}

// OnStatus registers a listener for status string changes. The
// listener is invoked on its own goroutine.
func (e *Engine) OnStatus(fn func(status string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStatus = fn
}

// Current returns a copy of the in-memory working document.
func (e *Engine) Current() *models.UserPreferences {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Clone()
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns the current UI status string, empty when cleared.
func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// PendingDiff returns a copy of the diff waiting for connectivity or
// a successful push, nil when nothing is pending.
func (e *Engine) PendingDiff() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pendingDiff == nil {
		return nil
	}
	return mergeDiff(nil, e.pendingDiff)
}

// Apply mutates the in-memory document and schedules a debounced
// save. Rapid successive edits within the debounce window coalesce
// into one flush; edits arriving while a save is in flight are picked
// up by a follow-up pass immediately after it resolves.
func (e *Engine) Apply(mutate func(p *models.UserPreferences)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	mutate(e.current)
	if e.inFlight {
		e.dirty = true
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = e.clock.AfterFunc(e.debounce, func() {
		if err := e.save(context.Background()); err != nil {
			e.log.Error("autosave failed", err)
		}
	})
}

// Flush runs an immediate, non-debounced save of any pending change.
// Used on teardown (navigation, backgrounding) and on reconnect. If a
// save is already in flight the change is folded into its follow-up
// pass instead. The only error returned is a local durability
// failure.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.inFlight {
		e.dirty = true
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.save(ctx)
}

// Close flushes pending changes and stops the engine. Subsequent
// edits are ignored.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Flush(ctx)

	e.mu.Lock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.statusTimer != nil {
		e.statusTimer.Stop()
		e.statusTimer = nil
	}
	e.mu.Unlock()
	return err
}

// save runs complete save cycles until no further edits arrived while
// one was in flight. The in-flight guard keeps concurrent callers
// out: they mark the document dirty and this loop picks the edit up.
func (e *Engine) save(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if e.inFlight {
		e.dirty = true
		e.mu.Unlock()
		return nil
	}
	e.inFlight = true
	e.mu.Unlock()

	for {
		err := e.cycle(ctx)

		// Exit decision and the in-flight guard drop happen under one
		// lock hold, so an edit landing between cycles is either seen
		// here or finds the guard already released and schedules its
		// own save.
		e.mu.Lock()
		if err != nil || !e.dirty {
			e.inFlight = false
			e.mu.Unlock()
			return err
		}
		e.mu.Unlock()
	}
}

// cycle is one pass of the state machine: diff, local save, then a
// best-effort remote push.
func (e *Engine) cycle(ctx context.Context) error {
	e.mu.Lock()
	e.state = StateSavingLocal
	// Edits up to this snapshot ride along with this pass.
	e.dirty = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	current := e.current.Clone()
	canonical := mergeDiff(nil, e.canonical)
	version := e.canonicalVersion
	e.mu.Unlock()

	currentMap, err := normalizeFull(current)
	if err != nil {
		e.toState(StateError, "")
		return err
	}
	diff := diffFields(canonical, currentMap)
	if len(diff) == 0 {
		e.reg.Incr(telemetry.PreventedWrites)
		e.toState(StateIdle, "")
		return nil
	}

	// Local durability comes first and is never blocked by remote
	// state.
	saved, err := e.store.SavePreferences(current)
	if err != nil {
		e.reg.Incr(telemetry.AutosaveFailures)
		e.toState(StateError, "")
		return err
	}
	e.mu.Lock()
	e.current.Sync = saved.Sync
	e.current.UpdatedAt = saved.UpdatedAt
	e.state = StateSavingRemote
	e.mu.Unlock()
	e.setStatus(StatusSaving)

	filtered := filterServerEligible(diff)
	switch {
	case len(filtered) == 0:
		// Only local-only fields changed; nothing to push.
		e.finishPending(filtered)
		return nil
	case !e.net.Online():
		e.reg.Incr(telemetry.OfflineSaves)
		e.finishPending(filtered)
		return nil
	case !e.limiter.Allow():
		e.reg.Incr(telemetry.RateLimitedSkips)
		e.finishPending(filtered)
		return nil
	}

	e.reg.Incr(telemetry.AutosaveAttempts)
	doc, err := e.client.PatchPreferences(ctx, filtered, version)
	if err != nil && remote.IsConflict(err) {
		e.reg.Incr(telemetry.Conflicts409)
		doc, err = e.retryPatch(ctx, filtered)
		if err != nil && remote.IsConflict(err) {
			e.reg.Incr(telemetry.Conflicts409)
		}
	}
	if err != nil {
		e.reg.Incr(telemetry.AutosaveFailures)
		e.log.Warn("remote push failed, diff kept pending", map[string]interface{}{
			"error": err.Error(),
		})
		e.mu.Lock()
		e.pendingDiff = mergeDiff(e.pendingDiff, filtered)
		e.state = StateError
		e.mu.Unlock()
		e.setStatus(StatusPending)
		return nil
	}

	e.acknowledge(saved, doc)
	return nil
}

// retryPatch is the bounded conflict recovery: refetch the canonical
// document, drop diff fields it already carries, and retry the
// conditional write exactly once against the fresh version token.
func (e *Engine) retryPatch(ctx context.Context, filtered map[string]interface{}) (*models.PreferencesDocument, error) {
	canonical, err := e.client.GetPreferences(ctx)
	if err != nil {
		return nil, err
	}
	canonMap, err := normalize(canonical.ServerPrefs)
	if err != nil {
		return nil, err
	}

	rediff := make(map[string]interface{}, len(filtered))
	for k, v := range filtered {
		if !reflect.DeepEqual(canonMap[k], v) {
			rediff[k] = v
		}
	}
	if len(rediff) == 0 {
		// The other writer already arrived at our values.
		return canonical, nil
	}
	return e.client.PatchPreferences(ctx, rediff, canonical.Version)
}

// acknowledge adopts a successful remote response as the new canonical
// snapshot, merged with local-only fields. Fields edited while the
// write was in flight are preserved rather than overwritten by the
// server echo.
func (e *Engine) acknowledge(saved *models.UserPreferences, doc *models.PreferencesDocument) {
	e.reg.Incr(telemetry.AutosaveSuccess)

	acked := saved.Clone()
	acked.ApplyDocument(doc)
	if err := e.store.PutRemotePreferences(acked); err != nil {
		e.log.Error("failed to persist acknowledged preferences", err)
	}
	if err := e.store.MarkPreferencesSynced(saved.Sync.SyncVersion); err != nil {
		e.log.Error("failed to clear preference queue entries", err)
	}

	canonical, err := normalizeFull(acked)
	if err != nil {
		e.log.Error("failed to normalize canonical snapshot", err)
		canonical = nil
	}

	e.mu.Lock()
	if e.dirty {
		e.current.Version = doc.Version
		e.current.UpdatedAt = doc.UpdatedAt
	} else {
		e.current.ApplyDocument(doc)
		e.current.Sync = models.SyncMeta{IsSynced: true, SyncVersion: saved.Sync.SyncVersion, LocalUpdatedAt: saved.Sync.LocalUpdatedAt}
	}
	if canonical != nil {
		e.canonical = canonical
	}
	e.canonicalVersion = doc.Version
	e.pendingDiff = nil
	e.state = StateDone
	e.mu.Unlock()
	e.setStatus(StatusSaved)
}

func (e *Engine) finishPending(filtered map[string]interface{}) {
	e.mu.Lock()
	if len(filtered) > 0 {
		e.pendingDiff = mergeDiff(e.pendingDiff, filtered)
	}
	e.state = StateDone
	e.mu.Unlock()
	e.setStatus(StatusPending)
}

func (e *Engine) toState(s State, status string) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	if status != "" {
		e.setStatus(status)
	}
}

// setStatus publishes a status string and schedules its auto-clear.
// The "Saving…" state does not linger; it is replaced by the cycle's
// outcome.
func (e *Engine) setStatus(status string) {
	e.mu.Lock()
	e.status = status
	cb := e.onStatus
	if e.statusTimer != nil {
		e.statusTimer.Stop()
		e.statusTimer = nil
	}
	if status != StatusSaving && status != "" {
		e.statusTimer = e.clock.AfterFunc(e.linger, func() {
			e.mu.Lock()
			cleared := false
			if e.status == status {
				e.status = ""
				cleared = true
			}
			fn := e.onStatus
			e.mu.Unlock()
			if cleared && fn != nil {
				go fn("")
			}
		})
	}
	e.mu.Unlock()
	if cb != nil {
		go cb(status)
	}
}
