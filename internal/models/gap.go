package models

import "time"

// GapSource tags where a free-time interval came from.
type GapSource string

const (
	GapSourceDefault  GapSource = "default"
	GapSourceCalendar GapSource = "calendar"
	GapSourceManual   GapSource = "manual"
)

// TimeGap represents a free-time interval on a given day.
type TimeGap struct {
	ID              UUID       `json:"id"`
	Date            string     `json:"date"`       // YYYY-MM-DD
	StartTime       string     `json:"start_time"` // HH:MM
	EndTime         string     `json:"end_time"`   // HH:MM
	DurationMinutes int        `json:"duration_minutes"`
	Source          GapSource  `json:"source"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`

	Sync SyncMeta `json:"-"`
}

// TableName returns the table name for TimeGap.
func (TimeGap) TableName() string {
	return "gaps"
}

// Deleted reports whether the gap carries a tombstone.
func (g *TimeGap) Deleted() bool {
	return g.DeletedAt != nil
}

// Clone returns a deep copy of the gap.
func (g *TimeGap) Clone() *TimeGap {
	c := *g
	if g.DeletedAt != nil {
		at := *g.DeletedAt
		c.DeletedAt = &at
	}
	return &c
}
