package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/kerrin-hs/gapday/core/internal/db"
	"github.com/kerrin-hs/gapday/core/internal/models"
	"github.com/kerrin-hs/gapday/core/internal/netstate"
	"github.com/kerrin-hs/gapday/core/internal/sync/queue"
)

type recordingClient struct {
	created chan *models.Task
}

func (r *recordingClient) FetchTasks(ctx context.Context) ([]*models.Task, error) { return nil, nil }

func (r *recordingClient) FetchGaps(ctx context.Context, date string) ([]*models.TimeGap, error) {
	return nil, nil
}

func (r *recordingClient) CreateTasks(ctx context.Context, tasks []*models.Task) error {
	for _, t := range tasks {
		r.created <- t
	}
	return nil
}

func (r *recordingClient) UpdateTask(ctx context.Context, task *models.Task) error { return nil }

func (r *recordingClient) DeleteTask(ctx context.Context, id models.UUID) error { return nil }

func (r *recordingClient) CreateGaps(ctx context.Context, gaps []*models.TimeGap) error { return nil }

func (r *recordingClient) UpdateGap(ctx context.Context, gap *models.TimeGap) error { return nil }

func (r *recordingClient) DeleteGap(ctx context.Context, id models.UUID) error { return nil }

func (r *recordingClient) GetPreferences(ctx context.Context) (*models.PreferencesDocument, error) {
	return nil, nil
}

func (r *recordingClient) PatchPreferences(ctx context.Context, diff map[string]interface{}, expectedVersion int64) (*models.PreferencesDocument, error) {
	return nil, nil
}

func (r *recordingClient) PostPreferences(ctx context.Context, doc *models.PreferencesDocument) (*models.PreferencesDocument, error) {
	return doc, nil
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

// TestSchedulerKickDrains verifies Kick triggers an immediate drain
// pass without waiting for the ticker.
func TestSchedulerKickDrains(t *testing.T) {
	store := newTestStore(t)
	client := &recordingClient{created: make(chan *models.Task, 4)}
	net := netstate.NewMonitor(true)
	consumer := queue.NewConsumer(store, client, net)
	sched := NewScheduler(consumer, store, net, time.Hour)

	if _, err := store.CreateTask(&models.Task{Title: "queued", Status: models.TaskStatusDraft}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	sched.Start(context.Background())
	defer sched.Stop()

	sched.Kick()
	select {
	case pushed := <-client.created:
		if pushed.Title != "queued" {
			t.Errorf("Wrong task pushed: %q", pushed.Title)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Kick did not trigger a drain pass")
	}
}

// TestSchedulerReconnectDrains verifies an offline-to-online transition
// resets backoff and drains immediately.
func TestSchedulerReconnectDrains(t *testing.T) {
	store := newTestStore(t)
	client := &recordingClient{created: make(chan *models.Task, 4)}
	net := netstate.NewMonitor(false)
	consumer := queue.NewConsumer(store, client, net)
	sched := NewScheduler(consumer, store, net, time.Hour)

	task, err := store.CreateTask(&models.Task{Title: "offline edit", Status: models.TaskStatusDraft})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	// Simulate an earlier failed attempt sitting in backoff.
	items, err := store.PendingQueueItems(time.Now(), 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("Expected 1 pending entry, got %d (err %v)", len(items), err)
	}
	if err := store.FailQueueItem(items[0].Seq, nil, time.Now()); err != nil {
		t.Fatalf("FailQueueItem failed: %v", err)
	}

	sched.Start(context.Background())
	defer sched.Stop()

	net.SetOnline(true)
	select {
	case pushed := <-client.created:
		if pushed.ID != task.ID {
			t.Errorf("Wrong task pushed: %s", pushed.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reconnect did not trigger a drain pass")
	}
}

// TestSchedulerOnDrainNotifies verifies the drain listener fires after
// a pass that replayed entries, with the pass result.
func TestSchedulerOnDrainNotifies(t *testing.T) {
	store := newTestStore(t)
	client := &recordingClient{created: make(chan *models.Task, 4)}
	net := netstate.NewMonitor(true)
	sched := NewScheduler(queue.NewConsumer(store, client, net), store, net, time.Hour)

	if _, err := store.CreateTask(&models.Task{Title: "queued", Status: models.TaskStatusDraft}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	drained := make(chan *queue.Result, 1)
	sched.OnDrain(func(res *queue.Result) { drained <- res })

	sched.Start(context.Background())
	defer sched.Stop()

	sched.Kick()
	select {
	case res := <-drained:
		if res.Processed != 1 {
			t.Errorf("Expected 1 processed entry, got %d", res.Processed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Drain listener was not invoked")
	}
}

// TestSchedulerStopIdempotent verifies Start/Stop guard against double
// invocation.
func TestSchedulerStopIdempotent(t *testing.T) {
	store := newTestStore(t)
	client := &recordingClient{created: make(chan *models.Task, 1)}
	net := netstate.NewMonitor(true)
	sched := NewScheduler(queue.NewConsumer(store, client, net), store, net, time.Hour)

	sched.Start(context.Background())
	sched.Start(context.Background())
	sched.Stop()
	sched.Stop()
}
