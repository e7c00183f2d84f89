// Package domain provides domain models used across the application.
package domain

import "time"

// RecordStatus is the lifecycle status of a harvested record.
type RecordStatus string

// Record lifecycle statuses.
const (
	// RecordStatusActive means the record was observed by a recent harvest.
	RecordStatusActive RecordStatus = "ACTIVE"
	// RecordStatusMissing means the record was not observed by the most
	// recently completed harvest of its source.
	RecordStatusMissing RecordStatus = "MISSING"
	// RecordStatusDeleted means the record stayed missing past the grace
	// period, or an operator deleted it. Soft-deleted, never removed.
	RecordStatusDeleted RecordStatus = "DELETED"
)

// IsValid reports whether s is a known record status.
func (s RecordStatus) IsValid() bool {
	switch s {
	case RecordStatusActive, RecordStatusMissing, RecordStatusDeleted:
		return true
	default:
		return false
	}
}

// SyncStatus is the downstream synchronization status of a record.
type SyncStatus string

// Sync statuses for a record's sync state.
const (
	SyncStatusPending SyncStatus = "PENDING"
	SyncStatusSynced  SyncStatus = "SYNCED"
	SyncStatusFailed  SyncStatus = "FAILED"
)

// SyncState tracks the last interaction with the downstream commit sink.
// The zero value means no push has ever been scheduled; it is persisted
// as NULL.
type SyncState struct {
	LastCommitRef string     `json:"last_commit_ref,omitempty"`
	LastPushAt    *time.Time `json:"last_push_at,omitempty"`
	Status        SyncStatus `json:"status"`
	LastError     string     `json:"last_error,omitempty"`
}

// IsZero reports whether no sync has ever been scheduled for the record.
func (s SyncState) IsZero() bool {
	return s.Status == ""
}

// Record is one logical dataset tracked across harvests. Its identity is
// stable: RecordID is derived from source identifiers and never regenerated.
// Content and lifecycle state are mutated exclusively through the store.
type Record struct {
	// Identity
	RecordID string `db:"record_id" json:"record_id"`
	Source   string `db:"source"    json:"source"`

	// Content
	Content     JSONBMap `db:"content"      json:"content"`
	ContentHash string   `db:"content_hash" json:"content_hash"`

	// Lifecycle
	Status        RecordStatus `db:"status"          json:"status"`
	FirstSeen     time.Time    `db:"first_seen"      json:"first_seen"`
	LastSeen      time.Time    `db:"last_seen"       json:"last_seen"`
	LastHarvestID string       `db:"last_harvest_id" json:"last_harvest_id"`
	MissingSince  *time.Time   `db:"missing_since"   json:"missing_since,omitempty"`

	// Event log, oldest first, FIFO-trimmed to the configured cap.
	Events EventList `db:"events" json:"events"`

	// Downstream sync state, zero until the first push is scheduled.
	Sync SyncState `db:"sync_state" json:"sync_state,omitempty"`

	// Timestamps
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
