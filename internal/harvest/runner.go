package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fairdatahub/arc-harvester/internal/config"
	"github.com/fairdatahub/arc-harvester/internal/convert"
	"github.com/fairdatahub/arc-harvester/internal/domain"
	"github.com/fairdatahub/arc-harvester/internal/logger"
	"github.com/fairdatahub/arc-harvester/internal/metrics"
	"github.com/fairdatahub/arc-harvester/internal/retry"
	"github.com/fairdatahub/arc-harvester/internal/source"
	"github.com/fairdatahub/arc-harvester/internal/store"
	"github.com/fairdatahub/arc-harvester/internal/syncqueue"
)

// finishTimeout bounds persisting a harvest document after the run
// context is already cancelled.
const finishTimeout = 30 * time.Second

// BatchSource yields batches of raw records until source.ErrExhausted.
type BatchSource interface {
	Next(ctx context.Context) (*source.Batch, error)
}

// Enqueuer schedules records for downstream sync.
type Enqueuer interface {
	Enqueue(ctx context.Context, recordID string, op syncqueue.Op) error
}

// Runner executes one harvest for one source. Cancellation is graceful:
// admitted records finish, the harvest is persisted as CANCELLED with its
// partial statistics, and deletion detection is skipped.
type Runner struct {
	src     BatchSource
	pool    *convert.Pool
	store   *store.Store
	queue   Enqueuer
	limiter *Limiter
	metrics *metrics.Metrics
	log     logger.Logger
	cfg     config.HarvestConfig
}

// NewRunner wires a harvest runner from its pipeline stages.
func NewRunner(
	src BatchSource,
	pool *convert.Pool,
	recordStore *store.Store,
	queue Enqueuer,
	m *metrics.Metrics,
	cfg config.HarvestConfig,
	log logger.Logger,
) *Runner {
	return &Runner{
		src:     src,
		pool:    pool,
		store:   recordStore,
		queue:   queue,
		limiter: NewLimiter(cfg.MaxInFlight, m),
		metrics: m,
		log:     log,
		cfg:     cfg,
	}
}

// runStats accumulates harvest statistics across record goroutines.
type runStats struct {
	mu sync.Mutex
	s  domain.HarvestStatistics
}

func (r *runStats) add(fn func(*domain.HarvestStatistics)) {
	r.mu.Lock()
	fn(&r.s)
	r.mu.Unlock()
}

func (r *runStats) snapshot() domain.HarvestStatistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s
}

// seenSet tracks record IDs observed during one harvest.
type seenSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{ids: make(map[string]struct{})}
}

func (s *seenSet) add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *seenSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Run executes the harvest and returns the persisted harvest document.
// A per-record failure is counted and logged but never stops the run; a
// batch failure that survives its retries cancels the harvest.
func (r *Runner) Run(ctx context.Context) (*domain.Harvest, error) {
	h, err := r.store.StartHarvest(ctx, r.cfg.SourceName, domain.HarvestConfig{
		GracePeriod: r.cfg.GracePeriod,
		AutoDelete:  r.cfg.AutoDelete,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start harvest: %w", err)
	}

	r.metrics.SetCurrentSource(r.cfg.SourceName)
	r.log.Info("harvest started",
		logger.String("harvest_id", h.HarvestID),
		logger.String("source", r.cfg.SourceName),
	)

	stats := &runStats{}
	seen := newSeenSet()

	runErr := r.extract(ctx, h, stats, seen)

	if runErr != nil {
		partial := stats.snapshot()

		// The run context is typically already cancelled here; the
		// harvest must still be persisted as CANCELLED with its partial
		// statistics, so the write runs under a detached context.
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer cancel()

		if cancelErr := r.store.CancelHarvest(cancelCtx, h, partial); cancelErr != nil {
			r.log.Error("failed to persist cancelled harvest", logger.Error(cancelErr))
		}

		r.log.Warn("harvest cancelled",
			logger.String("harvest_id", h.HarvestID),
			logger.Int64("submitted", partial.Submitted),
			logger.Error(runErr),
		)
		return h, runErr
	}

	// Deletion detection runs only over completed harvests, so a partial
	// run can never mark unvisited records missing.
	detector := NewDetector(r.store, r.queue, r.cfg, r.log)
	if detectErr := detector.Run(ctx, h, seen, stats); detectErr != nil {
		r.log.Error("deletion detection failed", logger.Error(detectErr))
	}

	final := stats.snapshot()
	if completeErr := r.store.CompleteHarvest(ctx, h, final); completeErr != nil {
		return h, fmt.Errorf("failed to complete harvest: %w", completeErr)
	}

	r.log.Info("harvest completed",
		logger.String("harvest_id", h.HarvestID),
		logger.Int64("submitted", final.Submitted),
		logger.Int64("new", final.New),
		logger.Int64("updated", final.Updated),
		logger.Int64("unchanged", final.Unchanged),
		logger.Int64("missing", final.Missing),
		logger.Int64("deleted", final.Deleted),
		logger.Int64("failed", final.Failed),
	)

	return h, nil
}

// extract drives the batch loop and fans records out to the pipeline.
// It always waits for admitted records before returning.
func (r *Runner) extract(ctx context.Context, h *domain.Harvest, stats *runStats, seen *seenSet) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	batchRetry := retry.Config{
		MaxAttempts: r.cfg.BatchRetries,
		IsRetryable: retry.DefaultIsRetryable,
	}

	for {
		if ctx.Err() != nil {
			return fmt.Errorf("harvest interrupted: %w", ctx.Err())
		}

		var batch *source.Batch
		err := retry.Retry(ctx, batchRetry, func() error {
			var nextErr error
			batch, nextErr = r.src.Next(ctx)
			if errors.Is(nextErr, source.ErrExhausted) {
				// Terminal, not transient.
				return nil
			}
			return nextErr
		})
		if err != nil {
			return fmt.Errorf("failed to extract batch: %w", err)
		}
		if batch == nil {
			return nil
		}

		for i := range batch.Records {
			if acquireErr := r.limiter.Acquire(ctx); acquireErr != nil {
				return acquireErr
			}

			wg.Add(1)
			go func(raw *domain.RawInvestigation) {
				defer wg.Done()
				defer r.limiter.Release()
				r.process(ctx, h, raw, stats, seen)
			}(&batch.Records[i])
		}
	}
}

// process runs one record through convert, submit and enqueue under the
// per-record deadline.
func (r *Runner) process(
	ctx context.Context,
	h *domain.Harvest,
	raw *domain.RawInvestigation,
	stats *runStats,
	seen *seenSet,
) {
	// Admitted records run to completion even while the harvest is being
	// cancelled; the record timeout still bounds them.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RecordTimeout)
	defer cancel()

	doc, err := r.pool.Convert(rctx, raw)
	if err != nil {
		r.recordFailure(stats, raw.InvestigationID, fmt.Errorf("conversion failed: %w", err))
		return
	}

	outcome, err := r.store.Submit(rctx, h.HarvestID, doc)
	if err != nil {
		r.recordFailure(stats, raw.InvestigationID, fmt.Errorf("submit failed: %w", err))
		return
	}

	seen.add(doc.RecordID)
	r.metrics.RecordSubmitted(true)

	stats.add(func(s *domain.HarvestStatistics) {
		s.Submitted++
		switch outcome {
		case store.OutcomeCreated:
			s.New++
		case store.OutcomeUpdated:
			s.Updated++
		case store.OutcomeUnchanged, store.OutcomeRestored:
			s.Unchanged++
		}
	})

	// Everything but a plain unchanged observation goes downstream: a
	// restored record needs its removal reversed even when the content is
	// byte-identical.
	if outcome != store.OutcomeUnchanged {
		if enqErr := r.queue.Enqueue(rctx, doc.RecordID, syncqueue.OpPush); enqErr != nil {
			r.log.Error("failed to enqueue record for sync",
				logger.String("record_id", doc.RecordID),
				logger.Error(enqErr),
			)
		}
	}
}

// recordFailure counts a per-record failure without stopping the harvest.
func (r *Runner) recordFailure(stats *runStats, investigationID string, err error) {
	r.metrics.RecordSubmitted(false)
	stats.add(func(s *domain.HarvestStatistics) {
		s.Submitted++
		s.Failed++
	})

	r.log.Error("record failed",
		logger.String("investigation_id", investigationID),
		logger.Error(err),
	)
}
