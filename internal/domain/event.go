package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// EventType classifies entries in a record's event log.
type EventType string

// Lifecycle events.
const (
	EventRecordCreated       EventType = "RECORD_CREATED"
	EventRecordUpdated       EventType = "RECORD_UPDATED"
	EventRecordSeen          EventType = "RECORD_SEEN"
	EventRecordNotSeen       EventType = "RECORD_NOT_SEEN"
	EventRecordMarkedDeleted EventType = "RECORD_MARKED_DELETED"
	EventRecordRestored      EventType = "RECORD_RESTORED"
)

// Downstream sync events.
const (
	EventGitQueued      EventType = "GIT_QUEUED"
	EventGitPushSuccess EventType = "GIT_PUSH_SUCCESS"
	EventGitPushFailed  EventType = "GIT_PUSH_FAILED"
)

// Operator events. These carry no harvest ID.
const (
	EventManualDeletion EventType = "MANUAL_DELETION"
	EventOperatorNote   EventType = "OPERATOR_NOTE"
)

// Event is one immutable fact in a record's event log. Events are owned by
// their record and never referenced independently.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	HarvestID string         `json:"harvest_id,omitempty"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventList is an ordered event sequence, oldest first. It implements
// sql.Scanner and driver.Valuer so it round-trips through a JSONB column.
type EventList []Event

// Scan implements the sql.Scanner interface.
func (l *EventList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("unsupported type for EventList")
	}

	if len(data) == 0 {
		*l = EventList{}
		return nil
	}

	return json.Unmarshal(data, l)
}

// Value implements the driver.Valuer interface.
func (l EventList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Append adds an event and trims the oldest entries so that at most cap
// events remain. Eviction is strictly FIFO from the oldest end.
func (l EventList) Append(e Event, maxLen int) EventList {
	out := append(l, e)
	if maxLen > 0 && len(out) > maxLen {
		out = out[len(out)-maxLen:]
	}
	return out
}
