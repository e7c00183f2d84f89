package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fairdatahub/arc-harvester/internal/domain"
	"github.com/fairdatahub/arc-harvester/internal/logger"
)

// Outcome classifies the result of submitting a document.
type Outcome string

// Submit outcomes.
const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeRestored means a non-ACTIVE record reappeared with identical
	// content. The sink may have removed it, so restoration needs a push
	// even though nothing changed.
	OutcomeRestored Outcome = "restored"
)

// Store is the sole mutator of record content and lifecycle state. It
// serializes mutation per record ID and stays fully concurrent across
// distinct IDs.
type Store struct {
	backend     Backend
	log         logger.Logger
	eventLogCap int
	locks       *keyLock

	// now is swapped in tests to control time.
	now func() time.Time
}

// New creates a store over the given backend. eventLogCap bounds each
// record's event log length.
func New(backend Backend, eventLogCap int, log logger.Logger) *Store {
	return &Store{
		backend:     backend,
		log:         log,
		eventLogCap: eventLogCap,
		locks:       newKeyLock(),
		now:         time.Now,
	}
}

// Submit upserts a canonical document with change detection. It computes
// the content hash, compares it against the stored record, and writes only
// when something changed. Submitting the same document twice yields
// OutcomeUnchanged the second time. A record observed in any state other
// than ACTIVE is restored.
func (s *Store) Submit(ctx context.Context, harvestID string, doc *domain.Document) (Outcome, error) {
	hash, err := HashContent(doc.Content)
	if err != nil {
		return "", fmt.Errorf("failed to hash document %s: %w", doc.RecordID, err)
	}

	s.locks.Lock(doc.RecordID)
	defer s.locks.Unlock(doc.RecordID)

	now := s.now().UTC()

	rec, err := s.backend.GetRecord(ctx, doc.RecordID)
	switch {
	case err == nil:
		return s.submitExisting(ctx, rec, doc, harvestID, hash, now)
	case isNotFound(err):
		return s.submitNew(ctx, doc, harvestID, hash, now)
	default:
		return "", fmt.Errorf("failed to load record %s: %w", doc.RecordID, err)
	}
}

// submitNew creates a record for a document never seen before.
func (s *Store) submitNew(
	ctx context.Context,
	doc *domain.Document,
	harvestID, hash string,
	now time.Time,
) (Outcome, error) {
	rec := &domain.Record{
		RecordID:      doc.RecordID,
		Source:        doc.Source,
		Content:       doc.Content,
		ContentHash:   hash,
		Status:        domain.RecordStatusActive,
		FirstSeen:     now,
		LastSeen:      now,
		LastHarvestID: harvestID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	rec.Events = rec.Events.Append(domain.Event{
		Timestamp: now,
		Type:      domain.EventRecordCreated,
		HarvestID: harvestID,
		Message:   "record first seen",
	}, s.eventLogCap)

	if err := s.backend.PutRecord(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to store new record %s: %w", doc.RecordID, err)
	}

	s.log.Debug("record created",
		logger.String("record_id", doc.RecordID),
		logger.String("content_hash", shortHash(hash)),
	)

	return OutcomeCreated, nil
}

// submitExisting reconciles a document against its stored record. On a
// storage failure nothing is written, so last_seen stays put and the next
// harvest reconciles correctly.
func (s *Store) submitExisting(
	ctx context.Context,
	rec *domain.Record,
	doc *domain.Document,
	harvestID, hash string,
	now time.Time,
) (Outcome, error) {
	outcome := OutcomeUnchanged
	if rec.ContentHash != hash {
		outcome = OutcomeUpdated

		s.log.Debug("record changed",
			logger.String("record_id", rec.RecordID),
			logger.String("old_hash", shortHash(rec.ContentHash)),
			logger.String("new_hash", shortHash(hash)),
		)

		rec.Content = doc.Content
		rec.ContentHash = hash
		rec.Events = rec.Events.Append(domain.Event{
			Timestamp: now,
			Type:      domain.EventRecordUpdated,
			HarvestID: harvestID,
			Message:   "record content updated",
		}, s.eventLogCap)
	}

	rec.LastSeen = now
	rec.LastHarvestID = harvestID
	rec.UpdatedAt = now

	// Reappearance always wins over missing or soft-deleted state.
	if rec.Status != domain.RecordStatusActive {
		rec.Status = domain.RecordStatusActive
		rec.MissingSince = nil
		rec.Events = rec.Events.Append(domain.Event{
			Timestamp: now,
			Type:      domain.EventRecordRestored,
			HarvestID: harvestID,
			Message:   "record reappeared after being missing or deleted",
		}, s.eventLogCap)

		if outcome == OutcomeUnchanged {
			outcome = OutcomeRestored
		}
	}

	if err := s.backend.PutRecord(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to store record %s: %w", rec.RecordID, err)
	}

	return outcome, nil
}

// MarkMissing transitions an ACTIVE record that was not observed by the
// given completed harvest to MISSING.
func (s *Store) MarkMissing(ctx context.Context, recordID, harvestID string) error {
	return s.mutate(ctx, recordID, func(rec *domain.Record, now time.Time) error {
		if rec.Status != domain.RecordStatusActive {
			return fmt.Errorf("record %s is %s, not ACTIVE", recordID, rec.Status)
		}

		rec.Status = domain.RecordStatusMissing
		rec.MissingSince = &now
		rec.Events = rec.Events.Append(domain.Event{
			Timestamp: now,
			Type:      domain.EventRecordNotSeen,
			HarvestID: harvestID,
			Message:   "record not observed in completed harvest",
		}, s.eventLogCap)

		return nil
	})
}

// MarkDeleted transitions a MISSING record whose grace period has elapsed
// to DELETED. The transition is terminal unless the record reappears.
func (s *Store) MarkDeleted(ctx context.Context, recordID, harvestID string) error {
	return s.mutate(ctx, recordID, func(rec *domain.Record, now time.Time) error {
		if rec.Status != domain.RecordStatusMissing {
			return fmt.Errorf("record %s is %s, not MISSING", recordID, rec.Status)
		}

		rec.Status = domain.RecordStatusDeleted
		rec.Events = rec.Events.Append(domain.Event{
			Timestamp: now,
			Type:      domain.EventRecordMarkedDeleted,
			HarvestID: harvestID,
			Message:   "grace period elapsed without observation",
		}, s.eventLogCap)

		return nil
	})
}

// DeleteManually soft-deletes a record from any state, bypassing the
// grace period. Operator events carry no harvest ID.
func (s *Store) DeleteManually(ctx context.Context, recordID, reason string) error {
	return s.mutate(ctx, recordID, func(rec *domain.Record, now time.Time) error {
		rec.Status = domain.RecordStatusDeleted
		rec.MissingSince = nil
		rec.Events = rec.Events.Append(domain.Event{
			Timestamp: now,
			Type:      domain.EventManualDeletion,
			Message:   reason,
		}, s.eventLogCap)

		return nil
	})
}

// AddNote appends an operator note to a record's event log.
func (s *Store) AddNote(ctx context.Context, recordID, note string) error {
	return s.mutate(ctx, recordID, func(rec *domain.Record, now time.Time) error {
		rec.Events = rec.Events.Append(domain.Event{
			Timestamp: now,
			Type:      domain.EventOperatorNote,
			Message:   note,
		}, s.eventLogCap)

		return nil
	})
}

// RecordQueued marks a record as pending downstream sync.
func (s *Store) RecordQueued(ctx context.Context, recordID string) error {
	return s.mutate(ctx, recordID, func(rec *domain.Record, now time.Time) error {
		rec.Sync.Status = domain.SyncStatusPending
		rec.Events = rec.Events.Append(domain.Event{
			Timestamp: now,
			Type:      domain.EventGitQueued,
			Message:   "queued for downstream sync",
		}, s.eventLogCap)

		return nil
	})
}

// RecordSynced stores a successful push: commit reference, push time and
// a GIT_PUSH_SUCCESS event.
func (s *Store) RecordSynced(ctx context.Context, recordID, commitRef string) error {
	return s.mutate(ctx, recordID, func(rec *domain.Record, now time.Time) error {
		pushedAt := now
		rec.Sync = domain.SyncState{
			LastCommitRef: commitRef,
			LastPushAt:    &pushedAt,
			Status:        domain.SyncStatusSynced,
		}
		rec.Events = rec.Events.Append(domain.Event{
			Timestamp: now,
			Type:      domain.EventGitPushSuccess,
			Message:   "pushed to commit sink",
			Metadata:  map[string]any{"commit_ref": commitRef},
		}, s.eventLogCap)

		return nil
	})
}

// RecordSyncFailed stores a terminally failed push. The record stays
// marked out-of-sync for external alerting; ingestion is not blocked.
func (s *Store) RecordSyncFailed(ctx context.Context, recordID, pushErr string) error {
	return s.mutate(ctx, recordID, func(rec *domain.Record, now time.Time) error {
		rec.Sync.Status = domain.SyncStatusFailed
		rec.Sync.LastError = pushErr
		rec.Events = rec.Events.Append(domain.Event{
			Timestamp: now,
			Type:      domain.EventGitPushFailed,
			Message:   "push to commit sink failed",
			Metadata:  map[string]any{"error": pushErr},
		}, s.eventLogCap)

		return nil
	})
}

// Record returns the full record for an ID.
func (s *Store) Record(ctx context.Context, recordID string) (*domain.Record, error) {
	rec, err := s.backend.GetRecord(ctx, recordID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load record %s: %w", recordID, err)
	}
	return rec, nil
}

// Events returns a record's event log, newest last.
func (s *Store) Events(ctx context.Context, recordID string) ([]domain.Event, error) {
	rec, err := s.Record(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return rec.Events, nil
}

// ListRecords exposes batched listing for the deletion detector and the
// operator surface.
func (s *Store) ListRecords(
	ctx context.Context,
	source string,
	statuses []domain.RecordStatus,
	afterID string,
	limit int,
) ([]domain.Record, error) {
	return s.backend.ListRecords(ctx, source, statuses, afterID, limit)
}

// StartHarvest creates a RUNNING harvest document for one source.
func (s *Store) StartHarvest(ctx context.Context, source string, cfg domain.HarvestConfig) (*domain.Harvest, error) {
	h := &domain.Harvest{
		HarvestID: uuid.NewString(),
		Source:    source,
		StartedAt: s.now().UTC(),
		Status:    domain.HarvestStatusRunning,
		Config:    cfg,
	}

	if err := s.backend.PutHarvest(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to create harvest: %w", err)
	}

	return h, nil
}

// CompleteHarvest marks a harvest COMPLETED with its final statistics.
func (s *Store) CompleteHarvest(ctx context.Context, h *domain.Harvest, stats domain.HarvestStatistics) error {
	return s.finishHarvest(ctx, h, domain.HarvestStatusCompleted, stats)
}

// CancelHarvest marks a harvest CANCELLED with its partial statistics.
// Statistics are never silently truncated.
func (s *Store) CancelHarvest(ctx context.Context, h *domain.Harvest, stats domain.HarvestStatistics) error {
	return s.finishHarvest(ctx, h, domain.HarvestStatusCancelled, stats)
}

// Harvest returns a harvest document by ID.
func (s *Store) Harvest(ctx context.Context, harvestID string) (*domain.Harvest, error) {
	h, err := s.backend.GetHarvest(ctx, harvestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load harvest %s: %w", harvestID, err)
	}
	return h, nil
}

func (s *Store) finishHarvest(
	ctx context.Context,
	h *domain.Harvest,
	status domain.HarvestStatus,
	stats domain.HarvestStatistics,
) error {
	now := s.now().UTC()
	h.Status = status
	h.CompletedAt = &now
	h.Statistics = stats

	if err := s.backend.PutHarvest(ctx, h); err != nil {
		return fmt.Errorf("failed to finish harvest %s: %w", h.HarvestID, err)
	}

	return nil
}

// mutate loads a record under its key lock, applies fn, and writes it
// back. fn receives the current UTC time used for any appended events.
func (s *Store) mutate(ctx context.Context, recordID string, fn func(*domain.Record, time.Time) error) error {
	s.locks.Lock(recordID)
	defer s.locks.Unlock(recordID)

	rec, err := s.backend.GetRecord(ctx, recordID)
	if err != nil {
		if isNotFound(err) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to load record %s: %w", recordID, err)
	}

	now := s.now().UTC()
	if fnErr := fn(rec, now); fnErr != nil {
		return fnErr
	}

	rec.UpdatedAt = now

	if putErr := s.backend.PutRecord(ctx, rec); putErr != nil {
		return fmt.Errorf("failed to store record %s: %w", recordID, putErr)
	}

	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

func shortHash(hash string) string {
	const n = 8
	if len(hash) <= n {
		return hash
	}
	return hash[:n]
}
