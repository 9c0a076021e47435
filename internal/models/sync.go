package models

import (
	"encoding/json"
	"time"
)

// SyncMeta is the per-record sync ledger carried by every local
// record. It is persisted locally and never serialized to the remote
// service.
type SyncMeta struct {
	IsSynced       bool      `json:"is_synced"`
	SyncVersion    int64     `json:"sync_version"`
	LocalUpdatedAt time.Time `json:"local_updated_at"`
}

// QueueOperation represents a pending mutation kind.
type QueueOperation string

const (
	QueueOpCreate QueueOperation = "create"
	QueueOpUpdate QueueOperation = "update"
	QueueOpDelete QueueOperation = "delete"
)

// SyncQueueItem is one entry in the append-only ledger of pending
// mutations. Seq is the insertion order and doubles as the drain
// order; one entry is appended per local mutation.
type SyncQueueItem struct {
	Seq         int64           `json:"seq"`
	RecordID    UUID            `json:"id"`
	Table       string          `json:"table"`
	Operation   QueueOperation  `json:"operation"`
	Payload     json.RawMessage `json:"payload"`
	SyncVersion int64           `json:"sync_version"`
	RetryCount  int             `json:"retry_count"`
	NextRetryAt int64           `json:"next_retry_at"` // unix seconds
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// ConflictLog records a reconciliation or autosave conflict and how it
// was resolved, for user awareness.
type ConflictLog struct {
	ID              int64     `json:"id"`
	Collection      string    `json:"collection"`
	RecordID        UUID      `json:"record_id"`
	LocalTimestamp  time.Time `json:"local_timestamp"`
	RemoteTimestamp time.Time `json:"remote_timestamp"`
	Resolution      string    `json:"resolution"`
	DetectedAt      time.Time `json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}
