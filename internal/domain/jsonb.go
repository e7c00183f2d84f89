package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONBMap is a custom type for handling JSONB data in PostgreSQL.
// It implements sql.Scanner and driver.Valuer so document content converts
// seamlessly between map[string]any and a JSONB column.
type JSONBMap map[string]any

// Scan implements the sql.Scanner interface.
func (j *JSONBMap) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("unsupported type for JSONBMap")
	}

	if len(data) == 0 {
		*j = JSONBMap{}
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements the driver.Valuer interface.
func (j JSONBMap) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// Clone returns a deep copy of the map via a JSON round trip. A nil map
// clones to nil.
func (j JSONBMap) Clone() JSONBMap {
	if j == nil {
		return nil
	}

	data, err := json.Marshal(j)
	if err != nil {
		return JSONBMap{}
	}

	var out JSONBMap
	if err := json.Unmarshal(data, &out); err != nil {
		return JSONBMap{}
	}
	return out
}

// Scan implements the sql.Scanner interface. A NULL column leaves the
// zero value in place.
func (s *SyncState) Scan(value any) error {
	if value == nil {
		*s = SyncState{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("unsupported type for SyncState")
	}

	if len(data) == 0 {
		*s = SyncState{}
		return nil
	}

	return json.Unmarshal(data, s)
}

// Value implements the driver.Valuer interface. The zero value is stored
// as NULL.
func (s SyncState) Value() (driver.Value, error) {
	if s.IsZero() {
		return nil, nil
	}
	return json.Marshal(s)
}
