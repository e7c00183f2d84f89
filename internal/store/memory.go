package store

import (
	"context"
	"sort"
	"sync"

	"github.com/fairdatahub/arc-harvester/internal/domain"
)

// MemoryBackend is an in-memory Backend for tests and single-process
// experiments. Records are deep-copied on the way in and out, so callers
// never share state with the store.
type MemoryBackend struct {
	mu       sync.RWMutex
	records  map[string]domain.Record
	harvests map[string]domain.Harvest
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records:  make(map[string]domain.Record),
		harvests: make(map[string]domain.Harvest),
	}
}

// GetRecord returns a copy of the record with the given ID.
func (b *MemoryBackend) GetRecord(_ context.Context, recordID string) (*domain.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[recordID]
	if !ok {
		return nil, ErrRecordNotFound
	}

	out := copyRecord(rec)
	return &out, nil
}

// PutRecord stores a copy of the record.
func (b *MemoryBackend) PutRecord(_ context.Context, rec *domain.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records[rec.RecordID] = copyRecord(*rec)
	return nil
}

// ListRecords returns a key-ranged batch of matching records.
func (b *MemoryBackend) ListRecords(
	_ context.Context,
	source string,
	statuses []domain.RecordStatus,
	afterID string,
	limit int,
) ([]domain.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	wanted := make(map[domain.RecordStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var out []domain.Record
	for _, rec := range b.records {
		if rec.Source != source || !wanted[rec.Status] || rec.RecordID <= afterID {
			continue
		}
		out = append(out, copyRecord(rec))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// GetHarvest returns a copy of the harvest with the given ID.
func (b *MemoryBackend) GetHarvest(_ context.Context, harvestID string) (*domain.Harvest, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	h, ok := b.harvests[harvestID]
	if !ok {
		return nil, ErrHarvestNotFound
	}

	out := h
	return &out, nil
}

// PutHarvest stores a copy of the harvest.
func (b *MemoryBackend) PutHarvest(_ context.Context, h *domain.Harvest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.harvests[h.HarvestID] = *h
	return nil
}

// copyRecord deep-copies a record so stored state never aliases caller
// state.
func copyRecord(rec domain.Record) domain.Record {
	out := rec
	out.Content = rec.Content.Clone()
	if rec.Events != nil {
		out.Events = append(domain.EventList(nil), rec.Events...)
	}
	if rec.MissingSince != nil {
		t := *rec.MissingSince
		out.MissingSince = &t
	}
	return out
}
