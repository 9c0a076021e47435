package models

import "time"

// ServerPrefs holds the preference fields that are synchronized with
// the remote service. Only fields in this struct may ever appear in an
// outgoing preference diff; the partition is enforced at the type
// level rather than by a runtime key filter.
type ServerPrefs struct {
	WorkStart               string   `json:"work_start"` // HH:MM
	WorkEnd                 string   `json:"work_end"`   // HH:MM
	WorkingDays             []string `json:"working_days"`
	NotificationsEnabled    bool     `json:"notifications_enabled"`
	NotificationLeadMinutes int      `json:"notification_lead_minutes"`
	Theme                   string   `json:"theme"`
	ShowDeviceCalendarBusy  bool     `json:"show_device_calendar_busy"`
}

// LocalPrefs holds device-local preference fields that never leave the
// device (e.g. which device calendars the user selected).
type LocalPrefs struct {
	DeviceCalendarIDs []string `json:"device_calendar_ids,omitempty"`
	LastBackupPath    string   `json:"last_backup_path,omitempty"`
}

// PreferencesDocument is the canonical preferences shape exchanged
// with the remote service: server-eligible fields plus the version
// token used as an optimistic-concurrency precondition.
type PreferencesDocument struct {
	ServerPrefs
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// UserPreferences is the single on-device preferences document per
// user: the server-synced fields, the local-only fields, and the
// version token of the last acknowledged canonical document.
type UserPreferences struct {
	ServerPrefs
	LocalPrefs
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`

	Sync SyncMeta `json:"-"`
}

// TableName returns the table name for UserPreferences.
func (UserPreferences) TableName() string {
	return "preferences"
}

// DefaultPreferences returns the preferences document used before the
// user has saved anything.
func DefaultPreferences() *UserPreferences {
	return &UserPreferences{
		ServerPrefs: ServerPrefs{
			WorkStart:               "09:00",
			WorkEnd:                 "17:00",
			WorkingDays:             []string{"mon", "tue", "wed", "thu", "fri"},
			NotificationsEnabled:    true,
			NotificationLeadMinutes: 10,
			Theme:                   "system",
		},
	}
}

// ServerDocument extracts the server-eligible view of the preferences.
func (p *UserPreferences) ServerDocument() *PreferencesDocument {
	doc := &PreferencesDocument{
		ServerPrefs: p.ServerPrefs,
		UpdatedAt:   p.UpdatedAt,
		Version:     p.Version,
	}
	doc.WorkingDays = cloneStrings(p.WorkingDays)
	return doc
}

// ApplyDocument merges a canonical remote document into the local
// preferences, leaving local-only fields untouched.
func (p *UserPreferences) ApplyDocument(doc *PreferencesDocument) {
	p.ServerPrefs = doc.ServerPrefs
	p.WorkingDays = cloneStrings(doc.WorkingDays)
	p.UpdatedAt = doc.UpdatedAt
	p.Version = doc.Version
}

// Clone returns a deep copy of the preferences.
func (p *UserPreferences) Clone() *UserPreferences {
	c := *p
	c.WorkingDays = cloneStrings(p.WorkingDays)
	c.DeviceCalendarIDs = cloneStrings(p.DeviceCalendarIDs)
	return &c
}

// Clone returns a deep copy of the document.
func (d *PreferencesDocument) Clone() *PreferencesDocument {
	c := *d
	c.WorkingDays = cloneStrings(d.WorkingDays)
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
