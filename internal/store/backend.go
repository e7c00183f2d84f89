package store

import (
	"context"
	"errors"

	"github.com/fairdatahub/arc-harvester/internal/domain"
)

var (
	// ErrRecordNotFound is returned when no record exists for an ID.
	// Callers should check with errors.Is().
	ErrRecordNotFound = errors.New("record not found")

	// ErrHarvestNotFound is returned when no harvest exists for an ID.
	ErrHarvestNotFound = errors.New("harvest not found")
)

// Backend persists record and harvest documents. Implementations must
// make PutRecord atomic per record: a failed put leaves the previously
// stored record fully intact.
type Backend interface {
	// GetRecord returns the record with the given ID, or ErrRecordNotFound.
	GetRecord(ctx context.Context, recordID string) (*domain.Record, error)
	// PutRecord upserts the full record document.
	PutRecord(ctx context.Context, rec *domain.Record) error
	// ListRecords returns up to limit records of the given source in the
	// given statuses, with record_id > afterID, ordered by record_id.
	ListRecords(
		ctx context.Context,
		source string,
		statuses []domain.RecordStatus,
		afterID string,
		limit int,
	) ([]domain.Record, error)

	// GetHarvest returns the harvest with the given ID, or ErrHarvestNotFound.
	GetHarvest(ctx context.Context, harvestID string) (*domain.Harvest, error)
	// PutHarvest upserts the harvest document.
	PutHarvest(ctx context.Context, h *domain.Harvest) error
}
