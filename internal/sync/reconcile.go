package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kerrin-hs/gapday/core/internal/db"
	"github.com/kerrin-hs/gapday/core/internal/logging"
	"github.com/kerrin-hs/gapday/core/internal/models"
	"github.com/kerrin-hs/gapday/core/internal/remote"
	"github.com/kerrin-hs/gapday/core/internal/sync/conflict"
	"github.com/kerrin-hs/gapday/core/internal/telemetry"
)

// Summary reports the outcome of one reconciliation pass. Field names
// match the status payload consumed by the UI layer.
type Summary struct {
	Success           bool      `json:"success"`
	TasksSynced       int       `json:"tasksSynced"`
	GapsSynced        int       `json:"gapsSynced"`
	ConflictsResolved int       `json:"conflictsResolved"`
	Errors            []string  `json:"errors"`
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
}

// Reconciler merges local and remote collections once per session
// start, by updated_at precedence.
//
// The push of unsynced local-only records happens synchronously inside
// the reconciliation pass, before normal queue draining resumes; the
// acknowledgment clears their queue entries so they are not pushed
// twice.
type Reconciler struct {
	store    *db.Store
	client   remote.Client
	resolver *conflict.Resolver
	reg      *telemetry.Registry
	log      *logging.Logger

	mu      sync.Mutex
	running bool
}

// NewReconciler creates a Reconciler.
func NewReconciler(store *db.Store, client remote.Client) *Reconciler {
	return &Reconciler{
		store:    store,
		client:   client,
		resolver: conflict.NewResolver(),
		reg:      telemetry.Default(),
		log:      logging.Get().With("reconcile"),
	}
}

// Run performs one reconciliation pass. It always returns a summary;
// a broken or slow remote never blocks the session start.
func (r *Reconciler) Run(ctx context.Context) *Summary {
	sum := &Summary{StartTime: time.Now()}
	defer func() {
		sum.EndTime = time.Now()
		sum.Success = len(sum.Errors) == 0
		r.log.Info("reconciliation finished", map[string]interface{}{
			"tasks_synced":       sum.TasksSynced,
			"gaps_synced":        sum.GapsSynced,
			"conflicts_resolved": sum.ConflictsResolved,
			"errors":             len(sum.Errors),
		})
	}()

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		sum.Errors = append(sum.Errors, "reconciliation already in progress")
		return sum
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.reconcileTasks(ctx, sum)
	r.reconcileGaps(ctx, sum)
	return sum
}

func (r *Reconciler) fail(sum *Summary, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	sum.Errors = append(sum.Errors, msg)
	r.reg.Incr(telemetry.ReconcileErrors)
	r.log.Warn(msg)
}

func (r *Reconciler) reconcileTasks(ctx context.Context, sum *Summary) {
	var (
		localTasks  []*models.Task
		remoteTasks []*models.Task
		lerr        error
		rerr        error
		wg          sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		localTasks, lerr = r.store.ListAllTasks()
	}()
	go func() {
		defer wg.Done()
		remoteTasks, rerr = r.client.FetchTasks(ctx)
	}()
	wg.Wait()

	if lerr != nil {
		r.fail(sum, "tasks: local read failed: %v", lerr)
		return
	}
	if rerr != nil {
		// Pull-tolerant: keep local data only.
		r.fail(sum, "tasks: remote fetch failed, keeping local data: %v", rerr)
		return
	}

	localByID := make(map[models.UUID]*models.Task, len(localTasks))
	for _, t := range localTasks {
		localByID[t.ID] = t
	}
	remoteIDs := make(map[models.UUID]struct{}, len(remoteTasks))
	for _, t := range remoteTasks {
		remoteIDs[t.ID] = struct{}{}
	}

	for _, rt := range remoteTasks {
		lt, ok := localByID[rt.ID]
		if !ok {
			if err := r.store.PutRemoteTask(rt); err != nil {
				r.fail(sum, "tasks: failed to insert %s: %v", rt.ID, err)
				continue
			}
			sum.TasksSynced++
			continue
		}

		if conflict.InConflict(lt.UpdatedAt, rt.UpdatedAt, lt.Sync.IsSynced) {
			res := r.resolver.Resolve("tasks", rt.ID, lt.UpdatedAt, rt.UpdatedAt)
			sum.ConflictsResolved++
			r.reg.Incr(telemetry.ReconcileConflicts)
			if err := r.store.AppendConflictLog(res.Log); err != nil {
				r.log.Error("failed to append conflict log", err, map[string]interface{}{"record_id": rt.ID})
			}
			if res.Winner == conflict.OutcomeLocalWins {
				continue // local copy stands, queue will push it
			}
		} else if !rt.UpdatedAt.After(lt.UpdatedAt) {
			continue // local copy is current
		}

		if err := r.store.PutRemoteTask(rt); err != nil {
			r.fail(sum, "tasks: failed to overwrite %s: %v", rt.ID, err)
			continue
		}
		sum.TasksSynced++
	}

	// Unsynced local records with no remote counterpart are new
	// creations; push them now.
	var creations []*models.Task
	for _, lt := range localTasks {
		if lt.Sync.IsSynced || lt.Deleted() {
			continue
		}
		if _, ok := remoteIDs[lt.ID]; ok {
			continue
		}
		creations = append(creations, lt)
	}
	if len(creations) == 0 {
		return
	}
	if err := r.client.CreateTasks(ctx, creations); err != nil {
		// Retained locally; the queue drains them later.
		r.fail(sum, "tasks: failed to push %d local creations: %v", len(creations), err)
		return
	}
	for _, t := range creations {
		if err := r.store.MarkTaskSynced(t.ID, t.Sync.SyncVersion); err != nil {
			r.fail(sum, "tasks: failed to ack %s: %v", t.ID, err)
			continue
		}
		sum.TasksSynced++
	}
}

func (r *Reconciler) reconcileGaps(ctx context.Context, sum *Summary) {
	var (
		localGaps  []*models.TimeGap
		remoteGaps []*models.TimeGap
		lerr       error
		rerr       error
		wg         sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		localGaps, lerr = r.store.ListAllGaps()
	}()
	go func() {
		defer wg.Done()
		remoteGaps, rerr = r.client.FetchGaps(ctx, "")
	}()
	wg.Wait()

	if lerr != nil {
		r.fail(sum, "gaps: local read failed: %v", lerr)
		return
	}
	if rerr != nil {
		r.fail(sum, "gaps: remote fetch failed, keeping local data: %v", rerr)
		return
	}

	localByID := make(map[models.UUID]*models.TimeGap, len(localGaps))
	for _, g := range localGaps {
		localByID[g.ID] = g
	}
	remoteIDs := make(map[models.UUID]struct{}, len(remoteGaps))
	for _, g := range remoteGaps {
		remoteIDs[g.ID] = struct{}{}
	}

	for _, rg := range remoteGaps {
		lg, ok := localByID[rg.ID]
		if !ok {
			if err := r.store.PutRemoteGap(rg); err != nil {
				r.fail(sum, "gaps: failed to insert %s: %v", rg.ID, err)
				continue
			}
			sum.GapsSynced++
			continue
		}

		if conflict.InConflict(lg.UpdatedAt, rg.UpdatedAt, lg.Sync.IsSynced) {
			res := r.resolver.Resolve("gaps", rg.ID, lg.UpdatedAt, rg.UpdatedAt)
			sum.ConflictsResolved++
			r.reg.Incr(telemetry.ReconcileConflicts)
			if err := r.store.AppendConflictLog(res.Log); err != nil {
				r.log.Error("failed to append conflict log", err, map[string]interface{}{"record_id": rg.ID})
			}
			if res.Winner == conflict.OutcomeLocalWins {
				continue
			}
		} else if !rg.UpdatedAt.After(lg.UpdatedAt) {
			continue
		}

		if err := r.store.PutRemoteGap(rg); err != nil {
			r.fail(sum, "gaps: failed to overwrite %s: %v", rg.ID, err)
			continue
		}
		sum.GapsSynced++
	}

	var creations []*models.TimeGap
	for _, lg := range localGaps {
		if lg.Sync.IsSynced || lg.Deleted() {
			continue
		}
		if _, ok := remoteIDs[lg.ID]; ok {
			continue
		}
		creations = append(creations, lg)
	}
	if len(creations) == 0 {
		return
	}
	if err := r.client.CreateGaps(ctx, creations); err != nil {
		r.fail(sum, "gaps: failed to push %d local creations: %v", len(creations), err)
		return
	}
	for _, g := range creations {
		if err := r.store.MarkGapSynced(g.ID, g.Sync.SyncVersion); err != nil {
			r.fail(sum, "gaps: failed to ack %s: %v", g.ID, err)
			continue
		}
		sum.GapsSynced++
	}
}
