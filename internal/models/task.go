// Package models provides data model definitions for the GapDay sync core.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// TaskStatus represents the lifecycle status of a task.
type TaskStatus string

const (
	TaskStatusDraft     TaskStatus = "draft"
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusOverdue   TaskStatus = "overdue"
	TaskStatusCompleted TaskStatus = "completed"
)

// TimerState holds the optional countdown timer sub-state of a task.
// Remaining and Total are in seconds.
type TimerState struct {
	Running   bool `json:"running"`
	Remaining int  `json:"remaining"`
	Total     int  `json:"total"`
}

// Task represents a user task.
//
// UpdatedAt is the authoritative timestamp for conflict comparison and
// is serialized as RFC 3339, matching the remote wire format. Sync
// metadata never leaves the device.
type Task struct {
	ID        UUID        `json:"id"`
	Title     string      `json:"title"`
	Category  string      `json:"category"`
	Duration  int         `json:"duration"`           // minutes
	DueDate   string      `json:"due_date,omitempty"` // YYYY-MM-DD
	DueTime   string      `json:"due_time,omitempty"` // HH:MM
	Status    TaskStatus  `json:"status"`
	Timer     *TimerState `json:"timer,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
	DeletedAt *time.Time  `json:"deleted_at,omitempty"`

	Sync SyncMeta `json:"-"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// Deleted reports whether the task carries a tombstone.
func (t *Task) Deleted() bool {
	return t.DeletedAt != nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.Timer != nil {
		timer := *t.Timer
		c.Timer = &timer
	}
	if t.DeletedAt != nil {
		at := *t.DeletedAt
		c.DeletedAt = &at
	}
	return &c
}
