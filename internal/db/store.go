package db

import (
	"database/sql"
	"encoding/json"
	"time"

	apperrors "github.com/kerrin-hs/gapday/core/internal/errors"
	"github.com/kerrin-hs/gapday/core/internal/logging"
	"github.com/kerrin-hs/gapday/core/internal/models"
	"github.com/kerrin-hs/gapday/core/internal/uuid"
)

// timeLayout is the storage format for all timestamps.
const timeLayout = time.RFC3339Nano

// Store is the local record store for one authenticated session.
//
// Every mutating call applies the patch, stamps local_updated_at,
// clears is_synced, increments sync_version and appends a sync-queue
// entry, all inside a single transaction. Successful mutations are
// visible to readers immediately.
type Store struct {
	db   *sql.DB
	user string
	now  func() time.Time
	log  *logging.Logger
}

// NewStore creates a Store bound to a session's user.
func NewStore(db *DB, userID string) *Store {
	return &Store{
		db:   db.DB,
		user: userID,
		now:  func() time.Time { return time.Now().UTC() },
		log:  logging.Get().With("store"),
	}
}

// SetClock overrides the store's clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// UserID returns the session user this store is bound to.
func (s *Store) UserID() string {
	return s.user
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// inTx runs fn inside a transaction, mapping failures to the local
// I/O error class.
func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrLocalIO, "failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrLocalIO, "failed to commit transaction", err)
	}
	return nil
}

// appendQueueTx appends one sync-queue entry inside the mutation's
// transaction, so the ledger entry is exactly as durable as the
// mutation itself.
func (s *Store) appendQueueTx(tx *sql.Tx, recordID models.UUID, table string, op models.QueueOperation, payload interface{}, syncVersion int64) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to marshal queue payload", err)
	}
	_, err = tx.Exec(`
	INSERT INTO sync_queue (record_id, tbl, operation, payload, sync_version, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		recordID, table, string(op), string(data), syncVersion, fmtTime(s.now()))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrLocalIO, "failed to append sync queue entry", err)
	}
	return nil
}

// =====================================================
// Task operations
// =====================================================

// TaskPatch describes a partial task update. Nil fields are untouched.
type TaskPatch struct {
	Title      *string
	Category   *string
	Duration   *int
	DueDate    *string
	DueTime    *string
	Status     *models.TaskStatus
	Timer      *models.TimerState
	ClearTimer bool
}

const taskColumns = `id, title, category, duration_minutes, due_date, due_time, status,
	timer_running, timer_remaining, timer_total, updated_at, deleted_at,
	is_synced, sync_version, local_updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*models.Task, error) {
	var t models.Task
	var dueDate, dueTime, deletedAt sql.NullString
	var timerRunning, timerRemaining, timerTotal sql.NullInt64
	var updatedAt, localUpdatedAt string

	err := row.Scan(&t.ID, &t.Title, &t.Category, &t.Duration, &dueDate, &dueTime, &t.Status,
		&timerRunning, &timerRemaining, &timerTotal, &updatedAt, &deletedAt,
		&t.Sync.IsSynced, &t.Sync.SyncVersion, &localUpdatedAt)
	if err != nil {
		return nil, err
	}

	t.DueDate = dueDate.String
	t.DueTime = dueTime.String
	t.UpdatedAt = parseTime(updatedAt)
	t.Sync.LocalUpdatedAt = parseTime(localUpdatedAt)
	if deletedAt.Valid {
		at := parseTime(deletedAt.String)
		t.DeletedAt = &at
	}
	if timerTotal.Valid {
		t.Timer = &models.TimerState{
			Running:   timerRunning.Int64 != 0,
			Remaining: int(timerRemaining.Int64),
			Total:     int(timerTotal.Int64),
		}
	}
	return &t, nil
}

func (s *Store) writeTaskTx(tx *sql.Tx, t *models.Task) error {
	var dueDate, dueTime, deletedAt interface{}
	if t.DueDate != "" {
		dueDate = t.DueDate
	}
	if t.DueTime != "" {
		dueTime = t.DueTime
	}
	if t.DeletedAt != nil {
		deletedAt = fmtTime(*t.DeletedAt)
	}
	var timerRunning, timerRemaining, timerTotal interface{}
	if t.Timer != nil {
		timerRunning = boolInt(t.Timer.Running)
		timerRemaining = t.Timer.Remaining
		timerTotal = t.Timer.Total
	}

	_, err := tx.Exec(`
	INSERT INTO tasks (`+taskColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title=excluded.title, category=excluded.category,
		duration_minutes=excluded.duration_minutes,
		due_date=excluded.due_date, due_time=excluded.due_time,
		status=excluded.status,
		timer_running=excluded.timer_running,
		timer_remaining=excluded.timer_remaining,
		timer_total=excluded.timer_total,
		updated_at=excluded.updated_at, deleted_at=excluded.deleted_at,
		is_synced=excluded.is_synced, sync_version=excluded.sync_version,
		local_updated_at=excluded.local_updated_at`,
		t.ID, t.Title, t.Category, t.Duration, dueDate, dueTime, t.Status,
		timerRunning, timerRemaining, timerTotal,
		fmtTime(t.UpdatedAt), deletedAt,
		boolInt(t.Sync.IsSynced), t.Sync.SyncVersion, fmtTime(t.Sync.LocalUpdatedAt))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrLocalIO, "failed to write task", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateTask creates a task and appends a create entry to the sync
// queue.
func (s *Store) CreateTask(t *models.Task) (*models.Task, error) {
	now := s.now()
	created := t.Clone()
	if created.ID == "" {
		created.ID = models.UUID(uuid.New())
	}
	if created.Status == "" {
		created.Status = models.TaskStatusDraft
	}
	created.UpdatedAt = now
	created.Sync = models.SyncMeta{IsSynced: false, SyncVersion: 1, LocalUpdatedAt: now}

	err := s.inTx(func(tx *sql.Tx) error {
		if err := s.writeTaskTx(tx, created); err != nil {
			return err
		}
		return s.appendQueueTx(tx, created.ID, created.TableName(), models.QueueOpCreate, created, created.Sync.SyncVersion)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateTask applies a patch to an existing, non-tombstoned task.
func (s *Store) UpdateTask(id models.UUID, patch TaskPatch) (*models.Task, error) {
	var updated *models.Task
	err := s.inTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND deleted_at IS NULL`, id)
		t, err := scanTask(row)
		if err == sql.ErrNoRows {
			return apperrors.New(apperrors.ErrNotFound, "task not found")
		}
		if err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to read task", err)
		}

		if patch.Title != nil {
			t.Title = *patch.Title
		}
		if patch.Category != nil {
			t.Category = *patch.Category
		}
		if patch.Duration != nil {
			t.Duration = *patch.Duration
		}
		if patch.DueDate != nil {
			t.DueDate = *patch.DueDate
		}
		if patch.DueTime != nil {
			t.DueTime = *patch.DueTime
		}
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		if patch.ClearTimer {
			t.Timer = nil
		} else if patch.Timer != nil {
			timer := *patch.Timer
			t.Timer = &timer
		}

		now := s.now()
		t.UpdatedAt = now
		t.Sync.IsSynced = false
		t.Sync.SyncVersion++
		t.Sync.LocalUpdatedAt = now

		if err := s.writeTaskTx(tx, t); err != nil {
			return err
		}
		if err := s.appendQueueTx(tx, t.ID, t.TableName(), models.QueueOpUpdate, t, t.Sync.SyncVersion); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask tombstones a task. The tombstone propagates through the
// sync queue; the row is hard-removed only once the remote deletion
// is acknowledged.
func (s *Store) DeleteTask(id models.UUID) (bool, error) {
	deleted := false
	err := s.inTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND deleted_at IS NULL`, id)
		t, err := scanTask(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to read task", err)
		}

		now := s.now()
		t.DeletedAt = &now
		t.UpdatedAt = now
		t.Sync.IsSynced = false
		t.Sync.SyncVersion++
		t.Sync.LocalUpdatedAt = now

		if err := s.writeTaskTx(tx, t); err != nil {
			return err
		}
		if err := s.appendQueueTx(tx, t.ID, t.TableName(), models.QueueOpDelete, t, t.Sync.SyncVersion); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// GetTask returns a task by ID. Tombstoned tasks are not visible.
func (s *Store) GetTask(id models.UUID) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND deleted_at IS NULL`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "task not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read task", err)
	}
	return t, nil
}

// ListTasks returns all non-tombstoned tasks.
func (s *Store) ListTasks() ([]*models.Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM tasks WHERE deleted_at IS NULL ORDER BY updated_at DESC`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list tasks", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan task", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListAllTasks returns every task row including tombstones. Used by
// reconciliation, which needs to see deletes.
func (s *Store) ListAllTasks() ([]*models.Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY updated_at DESC`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list tasks", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan task", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UnsyncedTasks returns all tasks with pending local changes,
// including tombstoned ones (sync-queue processing needs them).
func (s *Store) UnsyncedTasks() ([]*models.Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM tasks WHERE is_synced = 0 ORDER BY local_updated_at`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list unsynced tasks", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan task", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkTaskSynced records a remote acknowledgment for the given ledger
// version. Sync metadata is updated only if the record has not been
// mutated again since; queue entries covered by the ack are removed
// either way.
func (s *Store) MarkTaskSynced(id models.UUID, version int64) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`UPDATE tasks SET is_synced = 1 WHERE id = ? AND sync_version <= ?`, id, version); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to mark task synced", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM sync_queue WHERE record_id = ? AND tbl = 'tasks' AND sync_version <= ?`, id, version); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to clear queue entries", err)
		}
		return nil
	})
}

// RemoveTask hard-removes a tombstoned task after its remote deletion
// was acknowledged at the given ledger version.
func (s *Store) RemoveTask(id models.UUID, version int64) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`DELETE FROM tasks WHERE id = ? AND deleted_at IS NOT NULL AND sync_version <= ?`, id, version); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to remove task", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM sync_queue WHERE record_id = ? AND tbl = 'tasks' AND sync_version <= ?`, id, version); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to clear queue entries", err)
		}
		return nil
	})
}

// PutRemoteTask writes a task as received from the remote service:
// user-visible fields are replaced, the record is marked synced and no
// queue entry is appended. The ledger version of an existing local row
// is preserved, and any queued local mutations up to that version are
// purged so a lost edit is never replayed over the remote copy.
func (s *Store) PutRemoteTask(t *models.Task) error {
	if err := uuid.Validate(string(t.ID)); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "rejected remote task", err)
	}
	return s.inTx(func(tx *sql.Tx) error {
		var syncVersion int64
		err := tx.QueryRow(`SELECT sync_version FROM tasks WHERE id = ?`, t.ID).Scan(&syncVersion)
		if err != nil && err != sql.ErrNoRows {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to read task ledger", err)
		}

		if _, err := tx.Exec(
			`DELETE FROM sync_queue WHERE record_id = ? AND tbl = 'tasks' AND sync_version <= ?`, t.ID, syncVersion); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to clear queue entries", err)
		}

		stored := t.Clone()
		stored.Sync = models.SyncMeta{IsSynced: true, SyncVersion: syncVersion, LocalUpdatedAt: s.now()}
		return s.writeTaskTx(tx, stored)
	})
}
