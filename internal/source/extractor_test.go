package source_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairdatahub/arc-harvester/internal/source"
)

func newMockExtractor(t *testing.T, batchSize int) (*source.Extractor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return source.NewExtractor(sqlx.NewDb(db, "postgres"), batchSize), mock
}

func investigationRows(ids ...int64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "investigation_id", "title", "description",
		"submission_time", "release_time",
	})
	now := time.Now()
	for _, id := range ids {
		rows.AddRow(id, "inv", "title", "desc", now, nil)
	}
	return rows
}

func emptyChildRows(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT (.+) FROM studies").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "investigation_ref", "identifier", "title", "description",
			"submission_time", "release_time",
		}))
	mock.ExpectQuery("SELECT (.+) FROM assays").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "investigation_ref", "study_ref", "identifier",
			"measurement_type", "technology_type",
		}))
	mock.ExpectQuery("SELECT (.+) FROM protocols").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "investigation_ref", "name", "protocol_type", "description", "version",
		}))
}

func TestExtractorYieldsBatchesInKeyOrder(t *testing.T) {
	e, mock := newMockExtractor(t, 2)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM investigations").
		WithArgs(int64(0), 2).
		WillReturnRows(investigationRows(1, 2))
	emptyChildRows(mock)

	mock.ExpectQuery("SELECT (.+) FROM investigations").
		WithArgs(int64(2), 2).
		WillReturnRows(investigationRows(3))
	emptyChildRows(mock)

	mock.ExpectQuery("SELECT (.+) FROM investigations").
		WithArgs(int64(3), 2).
		WillReturnRows(investigationRows())

	first, err := e.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.Equal(t, int64(1), first.Records[0].ID)

	second, err := e.Next(ctx)
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.Equal(t, int64(3), second.Records[0].ID)

	_, err = e.Next(ctx)
	assert.ErrorIs(t, err, source.ErrExhausted)

	// Exhaustion is sticky: no further queries are issued.
	_, err = e.Next(ctx)
	assert.ErrorIs(t, err, source.ErrExhausted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractorAttachesChildren(t *testing.T) {
	e, mock := newMockExtractor(t, 10)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM investigations").
		WillReturnRows(investigationRows(1, 2))

	mock.ExpectQuery("SELECT (.+) FROM studies").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "investigation_ref", "identifier", "title", "description",
			"submission_time", "release_time",
		}).
			AddRow(10, 1, "study-a", "A", "", nil, nil).
			AddRow(11, 2, "study-b", "B", "", nil, nil))

	mock.ExpectQuery("SELECT (.+) FROM assays").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "investigation_ref", "study_ref", "identifier",
			"measurement_type", "technology_type",
		}).AddRow(20, 1, 10, "assay-a", "m", "t"))

	mock.ExpectQuery("SELECT (.+) FROM protocols").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "investigation_ref", "name", "protocol_type", "description", "version",
		}))

	batch, err := e.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)

	require.Len(t, batch.Records[0].Studies, 1)
	assert.Equal(t, "study-a", batch.Records[0].Studies[0].Identifier)
	require.Len(t, batch.Records[0].Assays, 1)
	assert.Empty(t, batch.Records[0].Protocols)

	require.Len(t, batch.Records[1].Studies, 1)
	assert.Equal(t, "study-b", batch.Records[1].Studies[0].Identifier)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractorRetriesFailedBatchWithoutAdvancing(t *testing.T) {
	e, mock := newMockExtractor(t, 2)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM investigations").
		WithArgs(int64(0), 2).
		WillReturnError(errors.New("connection reset"))

	mock.ExpectQuery("SELECT (.+) FROM investigations").
		WithArgs(int64(0), 2).
		WillReturnRows(investigationRows(1, 2))
	emptyChildRows(mock)

	_, err := e.Next(ctx)
	require.Error(t, err)

	// The cursor did not advance: the same batch is re-read.
	batch, err := e.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, int64(1), batch.Records[0].ID)

	require.NoError(t, mock.ExpectationsWereMet())
}
