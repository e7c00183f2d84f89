package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// HarvestStatus is the status of one harvest run.
type HarvestStatus string

// Harvest statuses.
const (
	HarvestStatusRunning   HarvestStatus = "RUNNING"
	HarvestStatusCompleted HarvestStatus = "COMPLETED"
	HarvestStatusCancelled HarvestStatus = "CANCELLED"
)

// HarvestStatistics counts per-record outcomes of a harvest run.
type HarvestStatistics struct {
	Submitted int64 `json:"submitted"`
	New       int64 `json:"new"`
	Updated   int64 `json:"updated"`
	Unchanged int64 `json:"unchanged"`
	Missing   int64 `json:"missing"`
	Deleted   int64 `json:"deleted"`
	Failed    int64 `json:"failed"`
}

// HarvestConfig holds the per-run deletion-detection settings.
type HarvestConfig struct {
	// GracePeriod is how long a record may stay MISSING before it is
	// marked DELETED.
	GracePeriod time.Duration `json:"grace_period"`
	// AutoDelete enables the MISSING -> DELETED transition. When false
	// records stay MISSING indefinitely.
	AutoDelete bool `json:"auto_delete"`
}

// Harvest is one run of the ingestion pipeline against one source.
// It is created at harvest start and mutated only by the owning run.
type Harvest struct {
	HarvestID   string            `db:"harvest_id"   json:"harvest_id"`
	Source      string            `db:"source"       json:"source"`
	StartedAt   time.Time         `db:"started_at"   json:"started_at"`
	CompletedAt *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
	Status      HarvestStatus     `db:"status"       json:"status"`
	Statistics  HarvestStatistics `db:"statistics"   json:"statistics"`
	Config      HarvestConfig     `db:"config"       json:"config"`
}

// Scan implements the sql.Scanner interface.
func (s *HarvestStatistics) Scan(value any) error {
	return scanJSON(value, s)
}

// Value implements the driver.Valuer interface.
func (s HarvestStatistics) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface.
func (c *HarvestConfig) Scan(value any) error {
	return scanJSON(value, c)
}

// Value implements the driver.Valuer interface.
func (c HarvestConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// scanJSON unmarshals a JSONB column into dst, tolerating NULL.
func scanJSON(value, dst any) error {
	if value == nil {
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("unsupported type for JSON column")
	}

	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, dst)
}
