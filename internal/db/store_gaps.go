package db

import (
	"database/sql"

	apperrors "github.com/kerrin-hs/gapday/core/internal/errors"
	"github.com/kerrin-hs/gapday/core/internal/models"
	"github.com/kerrin-hs/gapday/core/internal/uuid"
)

// GapPatch describes a partial time-gap update. Nil fields are
// untouched.
type GapPatch struct {
	Date            *string
	StartTime       *string
	EndTime         *string
	DurationMinutes *int
	Source          *models.GapSource
}

const gapColumns = `id, date, start_time, end_time, duration_minutes, source,
	updated_at, deleted_at, is_synced, sync_version, local_updated_at`

func scanGap(row interface{ Scan(...interface{}) error }) (*models.TimeGap, error) {
	var g models.TimeGap
	var deletedAt sql.NullString
	var updatedAt, localUpdatedAt string

	err := row.Scan(&g.ID, &g.Date, &g.StartTime, &g.EndTime, &g.DurationMinutes, &g.Source,
		&updatedAt, &deletedAt, &g.Sync.IsSynced, &g.Sync.SyncVersion, &localUpdatedAt)
	if err != nil {
		return nil, err
	}

	g.UpdatedAt = parseTime(updatedAt)
	g.Sync.LocalUpdatedAt = parseTime(localUpdatedAt)
	if deletedAt.Valid {
		at := parseTime(deletedAt.String)
		g.DeletedAt = &at
	}
	return &g, nil
}

func (s *Store) writeGapTx(tx *sql.Tx, g *models.TimeGap) error {
	var deletedAt interface{}
	if g.DeletedAt != nil {
		deletedAt = fmtTime(*g.DeletedAt)
	}

	_, err := tx.Exec(`
	INSERT INTO gaps (`+gapColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		date=excluded.date, start_time=excluded.start_time,
		end_time=excluded.end_time,
		duration_minutes=excluded.duration_minutes,
		source=excluded.source,
		updated_at=excluded.updated_at, deleted_at=excluded.deleted_at,
		is_synced=excluded.is_synced, sync_version=excluded.sync_version,
		local_updated_at=excluded.local_updated_at`,
		g.ID, g.Date, g.StartTime, g.EndTime, g.DurationMinutes, g.Source,
		fmtTime(g.UpdatedAt), deletedAt,
		boolInt(g.Sync.IsSynced), g.Sync.SyncVersion, fmtTime(g.Sync.LocalUpdatedAt))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrLocalIO, "failed to write gap", err)
	}
	return nil
}

// CreateGap creates a time-gap and appends a create entry to the sync
// queue.
func (s *Store) CreateGap(g *models.TimeGap) (*models.TimeGap, error) {
	now := s.now()
	created := g.Clone()
	if created.ID == "" {
		created.ID = models.UUID(uuid.New())
	}
	if created.Source == "" {
		created.Source = models.GapSourceDefault
	}
	created.UpdatedAt = now
	created.Sync = models.SyncMeta{IsSynced: false, SyncVersion: 1, LocalUpdatedAt: now}

	err := s.inTx(func(tx *sql.Tx) error {
		if err := s.writeGapTx(tx, created); err != nil {
			return err
		}
		return s.appendQueueTx(tx, created.ID, created.TableName(), models.QueueOpCreate, created, created.Sync.SyncVersion)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateGap applies a patch to an existing, non-tombstoned gap.
func (s *Store) UpdateGap(id models.UUID, patch GapPatch) (*models.TimeGap, error) {
	var updated *models.TimeGap
	err := s.inTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+gapColumns+` FROM gaps WHERE id = ? AND deleted_at IS NULL`, id)
		g, err := scanGap(row)
		if err == sql.ErrNoRows {
			return apperrors.New(apperrors.ErrNotFound, "gap not found")
		}
		if err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to read gap", err)
		}

		if patch.Date != nil {
			g.Date = *patch.Date
		}
		if patch.StartTime != nil {
			g.StartTime = *patch.StartTime
		}
		if patch.EndTime != nil {
			g.EndTime = *patch.EndTime
		}
		if patch.DurationMinutes != nil {
			g.DurationMinutes = *patch.DurationMinutes
		}
		if patch.Source != nil {
			g.Source = *patch.Source
		}

		now := s.now()
		g.UpdatedAt = now
		g.Sync.IsSynced = false
		g.Sync.SyncVersion++
		g.Sync.LocalUpdatedAt = now

		if err := s.writeGapTx(tx, g); err != nil {
			return err
		}
		if err := s.appendQueueTx(tx, g.ID, g.TableName(), models.QueueOpUpdate, g, g.Sync.SyncVersion); err != nil {
			return err
		}
		updated = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteGap tombstones a gap.
func (s *Store) DeleteGap(id models.UUID) (bool, error) {
	deleted := false
	err := s.inTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+gapColumns+` FROM gaps WHERE id = ? AND deleted_at IS NULL`, id)
		g, err := scanGap(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to read gap", err)
		}

		now := s.now()
		g.DeletedAt = &now
		g.UpdatedAt = now
		g.Sync.IsSynced = false
		g.Sync.SyncVersion++
		g.Sync.LocalUpdatedAt = now

		if err := s.writeGapTx(tx, g); err != nil {
			return err
		}
		if err := s.appendQueueTx(tx, g.ID, g.TableName(), models.QueueOpDelete, g, g.Sync.SyncVersion); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// GetGap returns a gap by ID. Tombstoned gaps are not visible.
func (s *Store) GetGap(id models.UUID) (*models.TimeGap, error) {
	row := s.db.QueryRow(`SELECT `+gapColumns+` FROM gaps WHERE id = ? AND deleted_at IS NULL`, id)
	g, err := scanGap(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "gap not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read gap", err)
	}
	return g, nil
}

// ListGaps returns all non-tombstoned gaps, optionally filtered by
// date (YYYY-MM-DD).
func (s *Store) ListGaps(date string) ([]*models.TimeGap, error) {
	query := `SELECT ` + gapColumns + ` FROM gaps WHERE deleted_at IS NULL`
	var args []interface{}
	if date != "" {
		query += ` AND date = ?`
		args = append(args, date)
	}
	query += ` ORDER BY date, start_time`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list gaps", err)
	}
	defer rows.Close()

	var gaps []*models.TimeGap
	for rows.Next() {
		g, err := scanGap(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan gap", err)
		}
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// ListAllGaps returns every gap row including tombstones.
func (s *Store) ListAllGaps() ([]*models.TimeGap, error) {
	rows, err := s.db.Query(`SELECT ` + gapColumns + ` FROM gaps ORDER BY date, start_time`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list gaps", err)
	}
	defer rows.Close()

	var gaps []*models.TimeGap
	for rows.Next() {
		g, err := scanGap(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan gap", err)
		}
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// UnsyncedGaps returns all gaps with pending local changes, including
// tombstoned ones.
func (s *Store) UnsyncedGaps() ([]*models.TimeGap, error) {
	rows, err := s.db.Query(`SELECT ` + gapColumns + ` FROM gaps WHERE is_synced = 0 ORDER BY local_updated_at`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list unsynced gaps", err)
	}
	defer rows.Close()

	var gaps []*models.TimeGap
	for rows.Next() {
		g, err := scanGap(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan gap", err)
		}
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// MarkGapSynced records a remote acknowledgment for the given ledger
// version.
func (s *Store) MarkGapSynced(id models.UUID, version int64) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`UPDATE gaps SET is_synced = 1 WHERE id = ? AND sync_version <= ?`, id, version); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to mark gap synced", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM sync_queue WHERE record_id = ? AND tbl = 'gaps' AND sync_version <= ?`, id, version); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to clear queue entries", err)
		}
		return nil
	})
}

// RemoveGap hard-removes a tombstoned gap after its remote deletion
// was acknowledged.
func (s *Store) RemoveGap(id models.UUID, version int64) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`DELETE FROM gaps WHERE id = ? AND deleted_at IS NOT NULL AND sync_version <= ?`, id, version); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to remove gap", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM sync_queue WHERE record_id = ? AND tbl = 'gaps' AND sync_version <= ?`, id, version); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to clear queue entries", err)
		}
		return nil
	})
}

// PutRemoteGap writes a gap as received from the remote service.
// Queued local mutations up to the preserved ledger version are purged
// so a lost edit is never replayed over the remote copy.
func (s *Store) PutRemoteGap(g *models.TimeGap) error {
	if err := uuid.Validate(string(g.ID)); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "rejected remote gap", err)
	}
	return s.inTx(func(tx *sql.Tx) error {
		var syncVersion int64
		err := tx.QueryRow(`SELECT sync_version FROM gaps WHERE id = ?`, g.ID).Scan(&syncVersion)
		if err != nil && err != sql.ErrNoRows {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to read gap ledger", err)
		}

		if _, err := tx.Exec(
			`DELETE FROM sync_queue WHERE record_id = ? AND tbl = 'gaps' AND sync_version <= ?`, g.ID, syncVersion); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to clear queue entries", err)
		}

		stored := g.Clone()
		stored.Sync = models.SyncMeta{IsSynced: true, SyncVersion: syncVersion, LocalUpdatedAt: s.now()}
		return s.writeGapTx(tx, stored)
	})
}
