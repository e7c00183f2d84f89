package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/fairdatahub/arc-harvester/internal/config"
	"github.com/fairdatahub/arc-harvester/internal/domain"
	"github.com/fairdatahub/arc-harvester/internal/logger"
	"github.com/fairdatahub/arc-harvester/internal/store"
	"github.com/fairdatahub/arc-harvester/internal/syncqueue"
)

// detectorBatchSize is the page size for record store scans during
// deletion detection.
const detectorBatchSize = 500

// Detector reconciles the record store against the set of records a
// completed harvest observed: unobserved ACTIVE records become MISSING,
// and MISSING records past the grace period become DELETED when
// auto-delete is enabled.
type Detector struct {
	store *store.Store
	queue Enqueuer
	cfg   config.HarvestConfig
	log   logger.Logger

	// now is swapped in tests to control grace-period arithmetic.
	now func() time.Time
}

// NewDetector creates a deletion detector.
func NewDetector(recordStore *store.Store, queue Enqueuer, cfg config.HarvestConfig, log logger.Logger) *Detector {
	return &Detector{
		store: recordStore,
		queue: queue,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Run executes the detection pass for one completed harvest, updating
// stats with the missing and deleted counts.
func (d *Detector) Run(ctx context.Context, h *domain.Harvest, seen *seenSet, stats *runStats) error {
	if err := d.markMissing(ctx, h, seen, stats); err != nil {
		return err
	}
	return d.deleteExpired(ctx, h, seen, stats)
}

// markMissing transitions every ACTIVE record the harvest did not observe
// to MISSING.
func (d *Detector) markMissing(ctx context.Context, h *domain.Harvest, seen *seenSet, stats *runStats) error {
	return d.scan(ctx, domain.RecordStatusActive, func(rec *domain.Record) error {
		if seen.has(rec.RecordID) {
			return nil
		}

		if err := d.store.MarkMissing(ctx, rec.RecordID, h.HarvestID); err != nil {
			return fmt.Errorf("failed to mark record missing: %w", err)
		}

		stats.add(func(s *domain.HarvestStatistics) { s.Missing++ })
		d.log.Info("record missing",
			logger.String("record_id", rec.RecordID),
			logger.String("harvest_id", h.HarvestID),
		)
		return nil
	})
}

// deleteExpired transitions MISSING records whose grace period has fully
// elapsed to DELETED and schedules the downstream removal. Records that
// went missing in this harvest always survive: their grace period starts
// now.
func (d *Detector) deleteExpired(ctx context.Context, h *domain.Harvest, seen *seenSet, stats *runStats) error {
	if !d.cfg.AutoDelete {
		return nil
	}

	now := d.now().UTC()

	return d.scan(ctx, domain.RecordStatusMissing, func(rec *domain.Record) error {
		if seen.has(rec.RecordID) {
			return nil
		}
		if rec.MissingSince == nil || now.Sub(*rec.MissingSince) < d.cfg.GracePeriod {
			return nil
		}

		if err := d.store.MarkDeleted(ctx, rec.RecordID, h.HarvestID); err != nil {
			return fmt.Errorf("failed to mark record deleted: %w", err)
		}

		stats.add(func(s *domain.HarvestStatistics) { s.Deleted++ })
		d.log.Info("record deleted after grace period",
			logger.String("record_id", rec.RecordID),
			logger.String("harvest_id", h.HarvestID),
		)

		if enqErr := d.queue.Enqueue(ctx, rec.RecordID, syncqueue.OpRemove); enqErr != nil {
			d.log.Error("failed to enqueue record removal",
				logger.String("record_id", rec.RecordID),
				logger.Error(enqErr),
			)
		}
		return nil
	})
}

// scan pages through all records of one status in key order.
func (d *Detector) scan(ctx context.Context, status domain.RecordStatus, fn func(*domain.Record) error) error {
	afterID := ""
	for {
		records, err := d.store.ListRecords(
			ctx, d.cfg.SourceName, []domain.RecordStatus{status}, afterID, detectorBatchSize,
		)
		if err != nil {
			return fmt.Errorf("failed to list %s records: %w", status, err)
		}
		if len(records) == 0 {
			return nil
		}

		for i := range records {
			if fnErr := fn(&records[i]); fnErr != nil {
				return fnErr
			}
		}

		afterID = records[len(records)-1].RecordID
	}
}
