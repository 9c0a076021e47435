package sync

import (
	"context"
	"testing"
	"time"

	"github.com/kerrin-hs/gapday/core/internal/db"
	apperrors "github.com/kerrin-hs/gapday/core/internal/errors"
	"github.com/kerrin-hs/gapday/core/internal/models"
	"github.com/kerrin-hs/gapday/core/internal/netstate"
	"github.com/kerrin-hs/gapday/core/internal/sync/queue"
	"github.com/kerrin-hs/gapday/core/internal/uuid"
)

// fakeClient is an in-memory remote.Client for reconciliation tests.
type fakeClient struct {
	tasks []*models.Task
	gaps  []*models.TimeGap

	fetchTasksErr error
	fetchGapsErr  error
	createErr     error

	createdTasks []*models.Task
	createdGaps  []*models.TimeGap
	updatedTasks []*models.Task
}

func (f *fakeClient) FetchTasks(ctx context.Context) ([]*models.Task, error) {
	return f.tasks, f.fetchTasksErr
}

func (f *fakeClient) FetchGaps(ctx context.Context, date string) ([]*models.TimeGap, error) {
	return f.gaps, f.fetchGapsErr
}

func (f *fakeClient) CreateTasks(ctx context.Context, tasks []*models.Task) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.createdTasks = append(f.createdTasks, tasks...)
	return nil
}

func (f *fakeClient) UpdateTask(ctx context.Context, task *models.Task) error {
	f.updatedTasks = append(f.updatedTasks, task)
	return nil
}

func (f *fakeClient) DeleteTask(ctx context.Context, id models.UUID) error { return nil }

func (f *fakeClient) CreateGaps(ctx context.Context, gaps []*models.TimeGap) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.createdGaps = append(f.createdGaps, gaps...)
	return nil
}

func (f *fakeClient) UpdateGap(ctx context.Context, gap *models.TimeGap) error { return nil }

func (f *fakeClient) DeleteGap(ctx context.Context, id models.UUID) error { return nil }

func (f *fakeClient) GetPreferences(ctx context.Context) (*models.PreferencesDocument, error) {
	return nil, apperrors.New(apperrors.ErrRemoteUnreachable, "not implemented")
}

func (f *fakeClient) PatchPreferences(ctx context.Context, diff map[string]interface{}, expectedVersion int64) (*models.PreferencesDocument, error) {
	return nil, apperrors.New(apperrors.ErrRemoteUnreachable, "not implemented")
}

func (f *fakeClient) PostPreferences(ctx context.Context, doc *models.PreferencesDocument) (*models.PreferencesDocument, error) {
	return nil, apperrors.New(apperrors.ErrRemoteUnreachable, "not implemented")
}

func newTestStore(t *testing.T) *db.Store {
	t.Helper()

	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.NewMigrator(database).Up(); err != nil {
		t.Fatalf("Migration failed: %v", err)
	}
	return db.NewStore(database, "user-1")
}

func remoteTask(title string, updatedAt time.Time) *models.Task {
	return &models.Task{
		ID:        models.UUID(uuid.New()),
		Title:     title,
		Status:    models.TaskStatusScheduled,
		UpdatedAt: updatedAt,
	}
}

// TestReconcileMergeCompleteness verifies that after reconciliation the
// local store holds the union of both sides: a local-only record, the
// newer copy of a shared record, and a remote-only record.
func TestReconcileMergeCompleteness(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	// A: local-only, never synced.
	a, err := store.CreateTask(&models.Task{Title: "local only", Status: models.TaskStatusDraft})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	// B: shared, local copy older and already acknowledged.
	b, err := store.CreateTask(&models.Task{Title: "shared old", Status: models.TaskStatusDraft})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := store.MarkTaskSynced(b.ID, b.Sync.SyncVersion); err != nil {
		t.Fatalf("MarkTaskSynced failed: %v", err)
	}

	bNewer := remoteTask("shared new", base.Add(time.Hour))
	bNewer.ID = b.ID
	c := remoteTask("remote only", base)

	client := &fakeClient{tasks: []*models.Task{bNewer, c}}
	sum := NewReconciler(store, client).Run(context.Background())

	if !sum.Success {
		t.Fatalf("Expected success, got errors: %v", sum.Errors)
	}

	tasks, err := store.ListTasks()
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("Expected 3 tasks after merge, got %d", len(tasks))
	}

	got, err := store.GetTask(b.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Title != "shared new" {
		t.Errorf("Expected newer remote copy to win, got title %q", got.Title)
	}
	if !got.Sync.IsSynced {
		t.Errorf("Remote-applied record should be marked synced")
	}

	if _, err := store.GetTask(c.ID); err != nil {
		t.Errorf("Remote-only record was not inserted: %v", err)
	}

	// A was pushed and acknowledged.
	if len(client.createdTasks) != 1 || client.createdTasks[0].ID != a.ID {
		t.Fatalf("Expected exactly the local-only task to be pushed, got %v", client.createdTasks)
	}
	gotA, err := store.GetTask(a.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if !gotA.Sync.IsSynced {
		t.Errorf("Pushed record should be marked synced")
	}
}

// TestReconcileLocalWinsOnTie verifies an equal-or-older remote copy
// never overwrites local state.
func TestReconcileLocalWinsOnTie(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	local, err := store.CreateTask(&models.Task{Title: "mine", Status: models.TaskStatusDraft})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := store.MarkTaskSynced(local.ID, local.Sync.SyncVersion); err != nil {
		t.Fatalf("MarkTaskSynced failed: %v", err)
	}

	stale := remoteTask("theirs", base.Add(-time.Hour))
	stale.ID = local.ID

	client := &fakeClient{tasks: []*models.Task{stale}}
	sum := NewReconciler(store, client).Run(context.Background())
	if !sum.Success {
		t.Fatalf("Expected success, got errors: %v", sum.Errors)
	}

	got, err := store.GetTask(local.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Title != "mine" {
		t.Errorf("Stale remote copy overwrote local record: %q", got.Title)
	}
}

// TestReconcileConflictLoggedAndCounted verifies diverging unsynced
// copies produce a conflict log entry and a summary count.
func TestReconcileConflictLoggedAndCounted(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	local, err := store.CreateTask(&models.Task{Title: "offline edit", Status: models.TaskStatusDraft})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	newer := remoteTask("remote edit", base.Add(time.Minute))
	newer.ID = local.ID

	client := &fakeClient{tasks: []*models.Task{newer}}
	sum := NewReconciler(store, client).Run(context.Background())

	if sum.ConflictsResolved != 1 {
		t.Errorf("Expected 1 conflict resolved, got %d", sum.ConflictsResolved)
	}
	logs, err := store.ConflictLogs(10)
	if err != nil {
		t.Fatalf("ConflictLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected 1 conflict log entry, got %d", len(logs))
	}
	if logs[0].Resolution != "remote_wins" {
		t.Errorf("Expected remote_wins, got %q", logs[0].Resolution)
	}

	got, err := store.GetTask(local.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Title != "remote edit" {
		t.Errorf("Strictly newer remote copy should win, got %q", got.Title)
	}
}

// TestReconcileRemoteWinsDropsQueuedEdit verifies a lost offline edit
// is not replayed by a later queue drain: when the strictly newer
// remote copy wins, the edit's queue entries are purged along with the
// overwrite.
func TestReconcileRemoteWinsDropsQueuedEdit(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	created, err := store.CreateTask(&models.Task{Title: "original", Status: models.TaskStatusDraft})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := store.MarkTaskSynced(created.ID, created.Sync.SyncVersion); err != nil {
		t.Fatalf("MarkTaskSynced failed: %v", err)
	}

	// Offline edit, queued for push.
	stale := "stale local"
	if _, err := store.UpdateTask(created.ID, db.TaskPatch{Title: &stale}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	newer := remoteTask("newer remote", base.Add(time.Hour))
	newer.ID = created.ID

	client := &fakeClient{tasks: []*models.Task{newer}}
	sum := NewReconciler(store, client).Run(context.Background())
	if sum.ConflictsResolved != 1 {
		t.Fatalf("Expected 1 conflict resolved, got %d", sum.ConflictsResolved)
	}

	size, err := store.QueueSize()
	if err != nil {
		t.Fatalf("QueueSize failed: %v", err)
	}
	if size != 0 {
		t.Fatalf("Expected purged queue after remote-wins overwrite, got %d entries", size)
	}

	// A drain pass must find nothing to replay.
	consumer := queue.NewConsumer(store, client, netstate.NewMonitor(true))
	res, err := consumer.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce failed: %v", err)
	}
	if res.Processed != 0 {
		t.Errorf("Expected nothing processed, got %d", res.Processed)
	}
	if len(client.updatedTasks) != 0 {
		t.Errorf("Stale edit was pushed over the newer remote copy: %v", client.updatedTasks)
	}

	got, err := store.GetTask(created.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Title != "newer remote" {
		t.Errorf("Expected newer remote copy to remain, got %q", got.Title)
	}
}

// TestReconcilePullTolerant verifies a dead remote leaves local data
// untouched and reports the failure in the summary instead of failing.
func TestReconcilePullTolerant(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateTask(&models.Task{Title: "keep me", Status: models.TaskStatusDraft})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	client := &fakeClient{
		fetchTasksErr: apperrors.New(apperrors.ErrRemoteUnreachable, "connection refused"),
		fetchGapsErr:  apperrors.New(apperrors.ErrRemoteUnreachable, "connection refused"),
	}
	sum := NewReconciler(store, client).Run(context.Background())

	if sum.Success {
		t.Errorf("Expected failure to be reported")
	}
	if len(sum.Errors) != 2 {
		t.Errorf("Expected 2 errors (tasks, gaps), got %v", sum.Errors)
	}

	got, err := store.GetTask(created.ID)
	if err != nil {
		t.Fatalf("Local data lost after failed pull: %v", err)
	}
	if got.Sync.IsSynced {
		t.Errorf("Record should remain unsynced for later queue drain")
	}
	if len(client.createdTasks) != 0 {
		t.Errorf("Nothing should be pushed when the pull fails")
	}
}

// TestReconcileTombstonesNotPushed verifies unsynced local deletions of
// records the remote never saw are not pushed as creations.
func TestReconcileTombstonesNotPushed(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateTask(&models.Task{Title: "short lived", Status: models.TaskStatusDraft})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := store.DeleteTask(created.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	client := &fakeClient{}
	sum := NewReconciler(store, client).Run(context.Background())
	if !sum.Success {
		t.Fatalf("Expected success, got errors: %v", sum.Errors)
	}
	if len(client.createdTasks) != 0 {
		t.Errorf("Tombstoned record was pushed as a creation")
	}
}

// TestReconcileGapsMerged verifies the gap collection follows the same
// merge rules.
func TestReconcileGapsMerged(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	localGap, err := store.CreateGap(&models.TimeGap{
		Date:            "2026-03-10",
		StartTime:       "09:00",
		EndTime:         "10:00",
		DurationMinutes: 60,
		Source:          models.GapSourceManual,
	})
	if err != nil {
		t.Fatalf("CreateGap failed: %v", err)
	}

	remoteGap := &models.TimeGap{
		ID:              models.UUID(uuid.New()),
		Date:            "2026-03-11",
		StartTime:       "14:00",
		EndTime:         "15:30",
		DurationMinutes: 90,
		Source:          models.GapSourceCalendar,
		UpdatedAt:       base,
	}

	client := &fakeClient{gaps: []*models.TimeGap{remoteGap}}
	sum := NewReconciler(store, client).Run(context.Background())
	if !sum.Success {
		t.Fatalf("Expected success, got errors: %v", sum.Errors)
	}

	gaps, err := store.ListGaps("")
	if err != nil {
		t.Fatalf("ListGaps failed: %v", err)
	}
	if len(gaps) != 2 {
		t.Fatalf("Expected 2 gaps after merge, got %d", len(gaps))
	}
	if len(client.createdGaps) != 1 || client.createdGaps[0].ID != localGap.ID {
		t.Errorf("Expected the local gap to be pushed, got %v", client.createdGaps)
	}
	if sum.GapsSynced != 2 {
		t.Errorf("Expected 2 gaps synced, got %d", sum.GapsSynced)
	}
}
