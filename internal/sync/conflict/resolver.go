// Package conflict provides timestamp-precedence conflict resolution
// for reconciliation between local and remote record copies.
package conflict

import (
	"time"

	"github.com/kerrin-hs/gapday/core/internal/logging"
	"github.com/kerrin-hs/gapday/core/internal/models"
)

// Outcome names the winning side of a resolved conflict.
type Outcome string

const (
	OutcomeLocalWins  Outcome = "local_wins"
	OutcomeRemoteWins Outcome = "remote_wins"
)

// Resolution is the result of comparing one record's two copies.
type Resolution struct {
	Winner Outcome
	Log    *models.ConflictLog
}

// Resolver applies the "last writer wins by timestamp" rule: the
// remote copy wins only when its updated_at is strictly newer. A tie
// keeps the local copy, so local edits made while offline are never
// silently discarded.
type Resolver struct {
	log *logging.Logger
	now func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{
		log: logging.Get().With("conflict"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the resolver's clock. Intended for tests.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Resolve compares the two copies of one record and returns which side
// wins, with a log entry for user awareness.
func (r *Resolver) Resolve(collection string, id models.UUID, localTS, remoteTS time.Time) *Resolution {
	winner := OutcomeLocalWins
	if remoteTS.After(localTS) {
		winner = OutcomeRemoteWins
	}

	r.log.Info("conflict resolved", map[string]interface{}{
		"collection":       collection,
		"record_id":        id,
		"local_timestamp":  localTS.Format(time.RFC3339),
		"remote_timestamp": remoteTS.Format(time.RFC3339),
		"winner":           string(winner),
	})

	return &Resolution{
		Winner: winner,
		Log: &models.ConflictLog{
			Collection:      collection,
			RecordID:        id,
			LocalTimestamp:  localTS,
			RemoteTimestamp: remoteTS,
			Resolution:      string(winner),
			DetectedAt:      r.now(),
		},
	}
}

// InConflict reports whether two copies actually diverge: timestamps
// differ and the local copy carries unsynced changes.
func InConflict(localTS, remoteTS time.Time, localSynced bool) bool {
	return !localSynced && !localTS.Equal(remoteTS)
}
