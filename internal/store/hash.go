// Package store implements the change-detection record store: content
// hashing, idempotent upserts, the record lifecycle state machine, and
// the per-record event log.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fairdatahub/arc-harvester/internal/domain"
)

// HashContent returns the hex-encoded SHA-256 of the canonical JSON form
// of a document's content. encoding/json emits map keys in sorted order
// and no insignificant whitespace, so two semantically equal documents
// hash identically regardless of field order or formatting.
func HashContent(content domain.JSONBMap) (string, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return "", err
	}

	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:]), nil
}
