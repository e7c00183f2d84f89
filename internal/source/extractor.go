package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/fairdatahub/arc-harvester/internal/domain"
)

// ErrExhausted is returned by Next once the source has no further parent
// rows. Callers should check with errors.Is().
var ErrExhausted = errors.New("source exhausted")

// investigationSelectColumns lists columns for SELECT queries on
// investigations.
const investigationSelectColumns = `id, investigation_id, title, description,
	submission_time, release_time`

// Batch is one batch of parent rows with their children joined in.
type Batch struct {
	// Records holds at most the configured batch size of investigations.
	Records []domain.RawInvestigation
	// AfterID is the key cursor that produced this batch.
	AfterID int64
}

// Extractor produces a lazy, finite, non-restartable sequence of raw
// investigation records in key order. For each batch of parent rows it
// issues exactly one bulk query per child relation, so memory stays
// bounded by the batch size. A transient failure does not advance the
// cursor: calling Next again retries the same batch.
type Extractor struct {
	db        *sqlx.DB
	batchSize int
	afterID   int64
	exhausted bool
}

// NewExtractor creates an extractor over the given source handle.
func NewExtractor(db *sqlx.DB, batchSize int) *Extractor {
	return &Extractor{db: db, batchSize: batchSize}
}

// Next fetches the next batch of investigations with their children.
// It returns ErrExhausted once all rows have been yielded. Any other
// error is batch-scoped: already-yielded batches stay valid and the
// failed batch can be retried by calling Next again.
func (e *Extractor) Next(ctx context.Context) (*Batch, error) {
	if e.exhausted {
		return nil, ErrExhausted
	}

	parents, err := e.fetchParents(ctx)
	if err != nil {
		return nil, err
	}

	if len(parents) == 0 {
		e.exhausted = true
		return nil, ErrExhausted
	}

	if joinErr := e.joinChildren(ctx, parents); joinErr != nil {
		return nil, joinErr
	}

	batch := &Batch{Records: parents, AfterID: e.afterID}

	// Advance the cursor only after the whole batch loaded, so a failed
	// batch is re-read on retry.
	e.afterID = parents[len(parents)-1].ID

	return batch, nil
}

// fetchParents reads the next key-ranged batch of investigation rows.
func (e *Extractor) fetchParents(ctx context.Context) ([]domain.RawInvestigation, error) {
	query := `
		SELECT ` + investigationSelectColumns + `
		FROM investigations
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`

	var parents []domain.RawInvestigation
	if err := e.db.SelectContext(ctx, &parents, query, e.afterID, e.batchSize); err != nil {
		return nil, fmt.Errorf("failed to fetch investigation batch after id %d: %w", e.afterID, err)
	}

	return parents, nil
}

// joinChildren bulk-fetches each child relation for the batch's parent-key
// set and attaches the rows to their parents. One query per relation,
// never one per parent.
func (e *Extractor) joinChildren(ctx context.Context, parents []domain.RawInvestigation) error {
	ids := make([]int64, len(parents))
	index := make(map[int64]*domain.RawInvestigation, len(parents))
	for i := range parents {
		ids[i] = parents[i].ID
		index[parents[i].ID] = &parents[i]
	}

	studies, err := fetchChildren[domain.RawStudy](ctx, e.db, `
		SELECT id, investigation_ref, identifier, title, description,
			submission_time, release_time
		FROM studies
		WHERE investigation_ref IN (?)
		ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("failed to fetch studies: %w", err)
	}
	for _, s := range studies {
		if parent, ok := index[s.InvestigationID]; ok {
			parent.Studies = append(parent.Studies, s)
		}
	}

	assays, err := fetchChildren[domain.RawAssay](ctx, e.db, `
		SELECT id, investigation_ref, study_ref, identifier,
			measurement_type, technology_type
		FROM assays
		WHERE investigation_ref IN (?)
		ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("failed to fetch assays: %w", err)
	}
	for _, a := range assays {
		if parent, ok := index[a.InvestigationID]; ok {
			parent.Assays = append(parent.Assays, a)
		}
	}

	protocols, err := fetchChildren[domain.RawProtocol](ctx, e.db, `
		SELECT id, investigation_ref, name, protocol_type, description, version
		FROM protocols
		WHERE investigation_ref IN (?)
		ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("failed to fetch protocols: %w", err)
	}
	for _, p := range protocols {
		if parent, ok := index[p.InvestigationID]; ok {
			parent.Protocols = append(parent.Protocols, p)
		}
	}

	return nil
}

// fetchChildren runs one IN-constrained bulk query for a child relation.
func fetchChildren[T any](ctx context.Context, db *sqlx.DB, query string, ids []int64) ([]T, error) {
	expanded, args, err := sqlx.In(query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to expand IN clause: %w", err)
	}

	var rows []T
	if selectErr := db.SelectContext(ctx, &rows, db.Rebind(expanded), args...); selectErr != nil {
		return nil, selectErr
	}

	return rows, nil
}
