package db

import (
	"database/sql"
	"encoding/json"
	"time"

	apperrors "github.com/kerrin-hs/gapday/core/internal/errors"
	"github.com/kerrin-hs/gapday/core/internal/models"
)

const queueColumns = `seq, record_id, tbl, operation, payload, sync_version, retry_count, next_retry_at, last_error, created_at`

func scanQueueItem(row interface{ Scan(...interface{}) error }) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	var payload, createdAt string

	err := row.Scan(&item.Seq, &item.RecordID, &item.Table, &item.Operation, &payload,
		&item.SyncVersion, &item.RetryCount, &item.NextRetryAt, &item.LastError, &createdAt)
	if err != nil {
		return nil, err
	}
	item.Payload = json.RawMessage(payload)
	item.CreatedAt = parseTime(createdAt)
	return &item, nil
}

// PendingQueueItems returns queue entries whose retry time has come,
// in insertion order.
func (s *Store) PendingQueueItems(now time.Time, limit int) ([]*models.SyncQueueItem, error) {
	rows, err := s.db.Query(`
	SELECT `+queueColumns+` FROM sync_queue
	WHERE next_retry_at <= ? ORDER BY seq LIMIT ?`, now.Unix(), limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue entries", err)
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue entry", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// QueueSize returns the number of pending queue entries.
func (s *Store) QueueSize() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue entries", err)
	}
	return n, nil
}

// CompleteQueueItem removes a consumed queue entry.
func (s *Store) CompleteQueueItem(seq int64) error {
	if _, err := s.db.Exec(`DELETE FROM sync_queue WHERE seq = ?`, seq); err != nil {
		return apperrors.Wrap(apperrors.ErrLocalIO, "failed to complete queue entry", err)
	}
	return nil
}

// FailQueueItem records a failed push attempt and schedules the next
// retry with exponential backoff. Entries are never dropped: a
// mutation stays in the ledger until the remote acknowledges it.
// Later entries for the same record are deferred to the same retry
// time so per-record order holds across drain passes.
func (s *Store) FailQueueItem(seq int64, cause error, now time.Time) error {
	var retryCount int
	var recordID, tbl string
	err := s.db.QueryRow(
		`SELECT retry_count, record_id, tbl FROM sync_queue WHERE seq = ?`, seq).
		Scan(&retryCount, &recordID, &tbl)
	if err == sql.ErrNoRows {
		return apperrors.New(apperrors.ErrNotFound, "queue entry not found")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read queue entry", err)
	}

	retryCount++
	nextRetryAt := now.Unix() + queueBackoff(retryCount)

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
	UPDATE sync_queue SET retry_count = ?, next_retry_at = ?, last_error = ?
	WHERE seq = ?`, retryCount, nextRetryAt, msg, seq); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to update queue entry", err)
		}
		if _, err := tx.Exec(`
	UPDATE sync_queue SET next_retry_at = ?
	WHERE record_id = ? AND tbl = ? AND seq > ? AND next_retry_at < ?`,
			nextRetryAt, recordID, tbl, seq, nextRetryAt); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to defer later entries", err)
		}
		return nil
	})
}

// ResetQueueBackoff clears all retry delays so the next drain pass
// attempts every entry. Used when connectivity returns.
func (s *Store) ResetQueueBackoff() error {
	if _, err := s.db.Exec(`UPDATE sync_queue SET next_retry_at = 0`); err != nil {
		return apperrors.Wrap(apperrors.ErrLocalIO, "failed to reset queue backoff", err)
	}
	return nil
}

// queueBackoff returns the retry delay in seconds: 2^retry * 60,
// capped at one hour.
func queueBackoff(retryCount int) int64 {
	backoff := int64(1) << uint(retryCount)
	backoff *= 60
	if backoff > 3600 {
		backoff = 3600
	}
	return backoff
}

// AppendConflictLog records a resolved conflict for user awareness.
func (s *Store) AppendConflictLog(cl *models.ConflictLog) error {
	_, err := s.db.Exec(`
	INSERT INTO conflict_log (collection, record_id, local_timestamp, remote_timestamp, resolution, detected_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		cl.Collection, cl.RecordID, fmtTime(cl.LocalTimestamp), fmtTime(cl.RemoteTimestamp),
		cl.Resolution, fmtTime(cl.DetectedAt))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrLocalIO, "failed to append conflict log", err)
	}
	return nil
}

// ConflictLogs returns the most recent conflict log entries.
func (s *Store) ConflictLogs(limit int) ([]*models.ConflictLog, error) {
	rows, err := s.db.Query(`
	SELECT id, collection, record_id, local_timestamp, remote_timestamp, resolution, detected_at
	FROM conflict_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list conflict logs", err)
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var cl models.ConflictLog
		var localTS, remoteTS, detectedAt string
		if err := rows.Scan(&cl.ID, &cl.Collection, &cl.RecordID, &localTS, &remoteTS, &cl.Resolution, &detectedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan conflict log", err)
		}
		cl.LocalTimestamp = parseTime(localTS)
		cl.RemoteTimestamp = parseTime(remoteTS)
		cl.DetectedAt = parseTime(detectedAt)
		logs = append(logs, &cl)
	}
	return logs, rows.Err()
}
