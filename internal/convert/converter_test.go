package convert_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairdatahub/arc-harvester/internal/convert"
	"github.com/fairdatahub/arc-harvester/internal/domain"
)

func TestRecordIDIsStable(t *testing.T) {
	first := convert.RecordID("inv-1", "src")
	second := convert.RecordID("inv-1", "src")

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestRecordIDVariesBySource(t *testing.T) {
	assert.NotEqual(t,
		convert.RecordID("inv-1", "src-a"),
		convert.RecordID("inv-1", "src-b"),
	)
}

func TestConvertBuildsCanonicalDocument(t *testing.T) {
	c := convert.NewConverter("test-source")

	submitted := time.Date(2026, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	raw := &domain.RawInvestigation{
		ID:              1,
		InvestigationID: "inv-1",
		Title:           "  Plant growth  ",
		Description:     "desc",
		SubmissionTime:  &submitted,
		Studies: []domain.RawStudy{
			{Identifier: "study-1", Title: "Study one"},
		},
		Assays: []domain.RawAssay{
			{Identifier: "assay-1", MeasurementType: "transcription profiling"},
		},
		Protocols: []domain.RawProtocol{
			{Name: "extraction", ProtocolType: "nucleic acid extraction"},
		},
	}

	doc, err := c.Convert(raw)
	require.NoError(t, err)

	assert.Equal(t, convert.RecordID("inv-1", "test-source"), doc.RecordID)
	assert.Equal(t, "test-source", doc.Source)

	isa, ok := doc.Content["isa"].(domain.JSONBMap)
	require.True(t, ok)
	assert.Equal(t, "Plant growth", isa["title"])
	// Timestamps are rendered in UTC so timezone noise never changes the hash.
	assert.Equal(t, "2026-03-01T09:30:00Z", isa["submission_date"])

	assert.Len(t, doc.Content["studies"], 1)
	assert.Len(t, doc.Content["assays"], 1)
	assert.Len(t, doc.Content["protocols"], 1)
}

func TestConvertNormalizationIsHashStable(t *testing.T) {
	c := convert.NewConverter("test-source")

	clean := &domain.RawInvestigation{ID: 1, InvestigationID: "inv-1", Title: "Title"}
	noisy := &domain.RawInvestigation{ID: 1, InvestigationID: " inv-1 ", Title: "  Title\t"}

	docClean, err := c.Convert(clean)
	require.NoError(t, err)

	docNoisy, err := c.Convert(noisy)
	require.NoError(t, err)

	assert.Equal(t, docClean.RecordID, docNoisy.RecordID)
	assert.Equal(t, docClean.Content, docNoisy.Content)
}

func TestConvertMissingIdentifier(t *testing.T) {
	c := convert.NewConverter("test-source")

	_, err := c.Convert(&domain.RawInvestigation{ID: 7, InvestigationID: "   "})
	require.Error(t, err)
	assert.ErrorIs(t, err, convert.ErrMissingIdentifier)

	var convErr *convert.ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, "row-7", convErr.RecordID)
}
