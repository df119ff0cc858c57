package model

import (
	"encoding/json"
	"time"
)

// Event names recorded in the activity log.
const (
	EventCreate = "Create"
	EventUpdate = "Update"
	EventDelete = "Delete"
)

// Record is the authoritative row for one entity. Data is nil once the
// record has been tombstoned; the row itself is never deleted so the
// entity stays addressable by the activity feed and the timegate.
type Record struct {
	ID              int64           `json:"-"`
	EntityID        string          `json:"entityId"`
	EntityType      string          `json:"entityType,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Checksum        string          `json:"checksum"`
	DateTimeCreated time.Time       `json:"datetimeCreated"`
	DateTimeUpdated time.Time       `json:"datetimeUpdated"`
	DateTimeDeleted *time.Time      `json:"datetimeDeleted,omitempty"`
}

// IsTombstoned reports whether the record has been deleted.
func (r *Record) IsTombstoned() bool { return r.DateTimeDeleted != nil }

// Version is an immutable snapshot of a record state that was supplanted
// by a later write. EntityID is freshly generated at archival time and is
// never the entity id of any record. DateTimeCreated/Updated carry the
// superseded record's own update time, not the wall clock of archival.
type Version struct {
	ID              int64           `json:"-"`
	EntityID        string          `json:"entityId"`
	RecordID        int64           `json:"-"`
	Data            json.RawMessage `json:"data,omitempty"`
	Checksum        string          `json:"checksum"`
	DateTimeCreated time.Time       `json:"datetimeCreated"`
	DateTimeUpdated time.Time       `json:"datetimeUpdated"`
}

// Activity is one change-feed event, bound 1:1 to the record mutation
// that produced it. EntityID and EntityType are populated from the owning
// record by the store's join queries.
type Activity struct {
	ID              int64     `json:"-"`
	UUID            string    `json:"uuid"`
	RecordID        int64     `json:"-"`
	Event           string    `json:"event"`
	DateTimeCreated time.Time `json:"datetimeCreated"`

	EntityID   string `json:"entityId,omitempty"`
	EntityType string `json:"entityType,omitempty"`
}

// ActivityFilter narrows feed queries to one entity or one entity type.
// The zero value means the whole feed.
type ActivityFilter struct {
	EntityID   string
	EntityType string
}
