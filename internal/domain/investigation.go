package domain

import "time"

// RawInvestigation is one parent row from the relational source together
// with its bulk-fetched children. It is the unit handed to the converter.
type RawInvestigation struct {
	ID              int64      `db:"id"              json:"id"`
	InvestigationID string     `db:"investigation_id" json:"investigation_id"`
	Title           string     `db:"title"           json:"title"`
	Description     string     `db:"description"     json:"description"`
	SubmissionTime  *time.Time `db:"submission_time" json:"submission_time,omitempty"`
	ReleaseTime     *time.Time `db:"release_time"    json:"release_time,omitempty"`

	Studies   []RawStudy    `json:"studies,omitempty"`
	Assays    []RawAssay    `json:"assays,omitempty"`
	Protocols []RawProtocol `json:"protocols,omitempty"`
}

// RawStudy is one study row belonging to an investigation.
type RawStudy struct {
	ID              int64      `db:"id"               json:"id"`
	InvestigationID int64      `db:"investigation_ref" json:"investigation_ref"`
	Identifier      string     `db:"identifier"       json:"identifier"`
	Title           string     `db:"title"            json:"title"`
	Description     string     `db:"description"      json:"description"`
	SubmissionTime  *time.Time `db:"submission_time"  json:"submission_time,omitempty"`
	ReleaseTime     *time.Time `db:"release_time"     json:"release_time,omitempty"`
}

// RawAssay is one assay row belonging to an investigation.
type RawAssay struct {
	ID              int64  `db:"id"                json:"id"`
	InvestigationID int64  `db:"investigation_ref" json:"investigation_ref"`
	StudyID         *int64 `db:"study_ref"         json:"study_ref,omitempty"`
	Identifier      string `db:"identifier"        json:"identifier"`
	MeasurementType string `db:"measurement_type"  json:"measurement_type"`
	TechnologyType  string `db:"technology_type"   json:"technology_type"`
}

// RawProtocol is one protocol row in the provenance graph of an
// investigation.
type RawProtocol struct {
	ID              int64  `db:"id"                json:"id"`
	InvestigationID int64  `db:"investigation_ref" json:"investigation_ref"`
	Name            string `db:"name"              json:"name"`
	ProtocolType    string `db:"protocol_type"     json:"protocol_type"`
	Description     string `db:"description"       json:"description"`
	Version         string `db:"version"           json:"version"`
}

// Document is the canonical, hashable representation of a converted
// investigation. Content holds the normalized ARC document; the hash is
// computed over its canonical JSON form, never over raw source rows.
type Document struct {
	// RecordID is derived from the source identifiers and stays stable
	// across harvests.
	RecordID string `json:"record_id"`
	// Source names the relational source the document came from.
	Source string `json:"source"`
	// Content is the canonical ARC document.
	Content JSONBMap `json:"content"`
}
