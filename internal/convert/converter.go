// Package convert turns raw investigation rows into canonical ARC
// documents. Conversion is pure: it reads nothing but its input and
// touches no pipeline state.
package convert

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fairdatahub/arc-harvester/internal/domain"
)

// ErrMissingIdentifier is returned when a raw record carries no stable
// investigation identifier.
var ErrMissingIdentifier = errors.New("investigation identifier is missing")

// ConversionError marks a record as permanently unconvertible within the
// current harvest. It never aborts the pipeline.
type ConversionError struct {
	RecordID string
	Err      error
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed for record %s: %v", e.RecordID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConversionError) Unwrap() error {
	return e.Err
}

// RecordID derives the stable record identifier from the investigation
// identifier and the source name. It never changes across harvests.
func RecordID(identifier, source string) string {
	h := sha256.Sum256([]byte(identifier + ":" + source))
	return hex.EncodeToString(h[:])
}

// Converter converts one raw investigation into a canonical document.
type Converter struct {
	source string
}

// NewConverter creates a converter for the given source name.
func NewConverter(source string) *Converter {
	return &Converter{source: source}
}

// Convert builds the canonical ARC document for a raw investigation.
// The result is normalized: string fields are whitespace-trimmed and
// timestamps are rendered in RFC 3339 UTC, so formatting noise in the
// source never shows up in the content hash.
func (c *Converter) Convert(raw *domain.RawInvestigation) (*domain.Document, error) {
	identifier := strings.TrimSpace(raw.InvestigationID)
	if identifier == "" {
		return nil, &ConversionError{
			RecordID: fmt.Sprintf("row-%d", raw.ID),
			Err:      ErrMissingIdentifier,
		}
	}

	recordID := RecordID(identifier, c.source)

	isa := domain.JSONBMap{
		"identifier":  identifier,
		"title":       strings.TrimSpace(raw.Title),
		"description": strings.TrimSpace(raw.Description),
	}
	if ts := normalizeTime(raw.SubmissionTime); ts != "" {
		isa["submission_date"] = ts
	}
	if ts := normalizeTime(raw.ReleaseTime); ts != "" {
		isa["public_release_date"] = ts
	}

	studies := make([]any, 0, len(raw.Studies))
	for _, s := range raw.Studies {
		study := domain.JSONBMap{
			"identifier":  strings.TrimSpace(s.Identifier),
			"title":       strings.TrimSpace(s.Title),
			"description": strings.TrimSpace(s.Description),
		}
		if ts := normalizeTime(s.SubmissionTime); ts != "" {
			study["submission_date"] = ts
		}
		if ts := normalizeTime(s.ReleaseTime); ts != "" {
			study["public_release_date"] = ts
		}
		studies = append(studies, study)
	}

	assays := make([]any, 0, len(raw.Assays))
	for _, a := range raw.Assays {
		assays = append(assays, domain.JSONBMap{
			"identifier":       strings.TrimSpace(a.Identifier),
			"measurement_type": strings.TrimSpace(a.MeasurementType),
			"technology_type":  strings.TrimSpace(a.TechnologyType),
		})
	}

	protocols := make([]any, 0, len(raw.Protocols))
	for _, p := range raw.Protocols {
		protocols = append(protocols, domain.JSONBMap{
			"name":          strings.TrimSpace(p.Name),
			"protocol_type": strings.TrimSpace(p.ProtocolType),
			"description":   strings.TrimSpace(p.Description),
			"version":       strings.TrimSpace(p.Version),
		})
	}

	content := domain.JSONBMap{
		"isa":       isa,
		"studies":   studies,
		"assays":    assays,
		"protocols": protocols,
	}

	return &domain.Document{
		RecordID: recordID,
		Source:   c.source,
		Content:  content,
	}, nil
}

// normalizeTime renders a nullable timestamp as RFC 3339 UTC, or "" for
// nil.
func normalizeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
