package db

import (
	"database/sql"
	"encoding/json"

	apperrors "github.com/kerrin-hs/gapday/core/internal/errors"
	"github.com/kerrin-hs/gapday/core/internal/models"
)

// GetPreferences returns the user's preferences document, or the
// defaults if nothing has been saved yet.
func (s *Store) GetPreferences() (*models.UserPreferences, error) {
	var payload string
	var version int64
	var updatedAt, localUpdatedAt string
	var isSynced bool
	var syncVersion int64

	err := s.db.QueryRow(`
	SELECT payload, version, updated_at, is_synced, sync_version, local_updated_at
	FROM preferences WHERE user_id = ?`, s.user).
		Scan(&payload, &version, &updatedAt, &isSynced, &syncVersion, &localUpdatedAt)
	if err == sql.ErrNoRows {
		return models.DefaultPreferences(), nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read preferences", err)
	}

	var p models.UserPreferences
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to decode preferences", err)
	}
	p.Version = version
	p.UpdatedAt = parseTime(updatedAt)
	p.Sync = models.SyncMeta{IsSynced: isSynced, SyncVersion: syncVersion, LocalUpdatedAt: parseTime(localUpdatedAt)}
	return &p, nil
}

func (s *Store) writePreferencesTx(tx *sql.Tx, p *models.UserPreferences) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode preferences", err)
	}

	_, err = tx.Exec(`
	INSERT INTO preferences (user_id, payload, version, updated_at, is_synced, sync_version, local_updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		payload=excluded.payload, version=excluded.version,
		updated_at=excluded.updated_at,
		is_synced=excluded.is_synced, sync_version=excluded.sync_version,
		local_updated_at=excluded.local_updated_at`,
		s.user, string(payload), p.Version, fmtTime(p.UpdatedAt),
		boolInt(p.Sync.IsSynced), p.Sync.SyncVersion, fmtTime(p.Sync.LocalUpdatedAt))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrLocalIO, "failed to write preferences", err)
	}
	return nil
}

// SavePreferences persists the full preferences document as a local
// mutation: the ledger is bumped and a queue entry is appended. The
// queue payload is the server-eligible view only; local-only fields
// never enter the outgoing ledger.
func (s *Store) SavePreferences(p *models.UserPreferences) (*models.UserPreferences, error) {
	now := s.now()
	saved := p.Clone()
	saved.UpdatedAt = now
	saved.Sync.IsSynced = false
	saved.Sync.SyncVersion++
	saved.Sync.LocalUpdatedAt = now

	err := s.inTx(func(tx *sql.Tx) error {
		if err := s.writePreferencesTx(tx, saved); err != nil {
			return err
		}
		return s.appendQueueTx(tx, models.UUID(s.user), saved.TableName(), models.QueueOpUpdate, saved.ServerDocument(), saved.Sync.SyncVersion)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// PutRemotePreferences writes preferences as acknowledged by the
// remote service: marked synced, no queue entry, ledger version
// preserved.
func (s *Store) PutRemotePreferences(p *models.UserPreferences) error {
	return s.inTx(func(tx *sql.Tx) error {
		var syncVersion int64
		err := tx.QueryRow(`SELECT sync_version FROM preferences WHERE user_id = ?`, s.user).Scan(&syncVersion)
		if err != nil && err != sql.ErrNoRows {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to read preferences ledger", err)
		}

		if _, err := tx.Exec(
			`DELETE FROM sync_queue WHERE record_id = ? AND tbl = 'preferences' AND sync_version <= ?`, s.user, syncVersion); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to clear queue entries", err)
		}

		stored := p.Clone()
		stored.Sync = models.SyncMeta{IsSynced: true, SyncVersion: syncVersion, LocalUpdatedAt: s.now()}
		return s.writePreferencesTx(tx, stored)
	})
}

// MarkPreferencesSynced records a remote acknowledgment for the given
// ledger version.
func (s *Store) MarkPreferencesSynced(version int64) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`UPDATE preferences SET is_synced = 1 WHERE user_id = ? AND sync_version <= ?`, s.user, version); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to mark preferences synced", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM sync_queue WHERE record_id = ? AND tbl = 'preferences' AND sync_version <= ?`, s.user, version); err != nil {
			return apperrors.Wrap(apperrors.ErrLocalIO, "failed to clear queue entries", err)
		}
		return nil
	})
}
