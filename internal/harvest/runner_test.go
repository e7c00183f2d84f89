package harvest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairdatahub/arc-harvester/internal/config"
	"github.com/fairdatahub/arc-harvester/internal/convert"
	"github.com/fairdatahub/arc-harvester/internal/domain"
	"github.com/fairdatahub/arc-harvester/internal/logger"
	"github.com/fairdatahub/arc-harvester/internal/metrics"
	"github.com/fairdatahub/arc-harvester/internal/source"
	"github.com/fairdatahub/arc-harvester/internal/store"
	"github.com/fairdatahub/arc-harvester/internal/syncqueue"
)

// fakeBatchSource yields predefined batches, optionally failing first.
type fakeBatchSource struct {
	batches  [][]domain.RawInvestigation
	failures int
	pos      int
}

func (f *fakeBatchSource) Next(_ context.Context) (*source.Batch, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	if f.pos >= len(f.batches) {
		return nil, source.ErrExhausted
	}

	batch := &source.Batch{Records: f.batches[f.pos]}
	f.pos++
	return batch, nil
}

// fakeEnqueuer records enqueued sync operations.
type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, recordID string, op syncqueue.Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, string(op)+":"+recordID)
	return nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func rawRecord(id int64, investigationID string) domain.RawInvestigation {
	return domain.RawInvestigation{
		ID:              id,
		InvestigationID: investigationID,
		Title:           "Title " + investigationID,
	}
}

func harvestConfig() config.HarvestConfig {
	cfg := config.HarvestConfig{
		SourceName:  "test-source",
		BatchSize:   10,
		MaxInFlight: 4,
	}
	cfg.SetDefaults()
	return cfg
}

type runnerFixture struct {
	runner  *Runner
	store   *store.Store
	queue   *fakeEnqueuer
	metrics *metrics.Metrics
	pool    *convert.Pool
}

func newRunnerFixture(t *testing.T, src BatchSource, cfg config.HarvestConfig) *runnerFixture {
	t.Helper()

	recordStore := store.New(store.NewMemoryBackend(), cfg.EventLogCap, logger.NewNop())
	pool := convert.NewPool(2, convert.NewConverter(cfg.SourceName), logger.NewNop())
	require.NoError(t, pool.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	queue := &fakeEnqueuer{}
	m := metrics.NewMetrics()

	return &runnerFixture{
		runner:  NewRunner(src, pool, recordStore, queue, m, cfg, logger.NewNop()),
		store:   recordStore,
		queue:   queue,
		metrics: m,
		pool:    pool,
	}
}

func TestRunnerHarvestsAllBatches(t *testing.T) {
	src := &fakeBatchSource{batches: [][]domain.RawInvestigation{
		{rawRecord(1, "inv-1"), rawRecord(2, "inv-2")},
		{rawRecord(3, "inv-3")},
	}}

	f := newRunnerFixture(t, src, harvestConfig())
	ctx := context.Background()

	h, err := f.runner.Run(ctx)
	require.NoError(t, err)

	stored, err := f.store.Harvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, domain.HarvestStatusCompleted, stored.Status)
	assert.Equal(t, int64(3), stored.Statistics.Submitted)
	assert.Equal(t, int64(3), stored.Statistics.New)

	// Every new record was queued for sync.
	assert.Equal(t, 3, f.queue.count())
}

func TestRunnerSecondHarvestIsUnchanged(t *testing.T) {
	batches := [][]domain.RawInvestigation{{rawRecord(1, "inv-1"), rawRecord(2, "inv-2")}}
	cfg := harvestConfig()

	f := newRunnerFixture(t, &fakeBatchSource{batches: batches}, cfg)
	ctx := context.Background()

	_, err := f.runner.Run(ctx)
	require.NoError(t, err)

	second := newRunnerFixture(t, &fakeBatchSource{batches: batches}, cfg)
	second.store = f.store
	second.runner = NewRunner(
		&fakeBatchSource{batches: batches}, second.pool, f.store,
		second.queue, second.metrics, cfg, logger.NewNop(),
	)

	h, err := second.runner.Run(ctx)
	require.NoError(t, err)

	stored, err := f.store.Harvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Statistics.Unchanged)
	assert.Equal(t, int64(0), stored.Statistics.New)
	// Unchanged records are not re-queued.
	assert.Equal(t, 0, second.queue.count())
}

func TestRunnerCountsPerRecordFailures(t *testing.T) {
	src := &fakeBatchSource{batches: [][]domain.RawInvestigation{
		{rawRecord(1, "inv-1"), rawRecord(2, "")},
	}}

	f := newRunnerFixture(t, src, harvestConfig())
	ctx := context.Background()

	h, err := f.runner.Run(ctx)
	require.NoError(t, err)

	stored, err := f.store.Harvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, domain.HarvestStatusCompleted, stored.Status)
	assert.Equal(t, int64(2), stored.Statistics.Submitted)
	assert.Equal(t, int64(1), stored.Statistics.New)
	assert.Equal(t, int64(1), stored.Statistics.Failed)
}

func TestRunnerRetriesTransientBatchFailures(t *testing.T) {
	src := &fakeBatchSource{
		batches:  [][]domain.RawInvestigation{{rawRecord(1, "inv-1")}},
		failures: 2,
	}

	cfg := harvestConfig()
	cfg.BatchRetries = 3

	f := newRunnerFixture(t, src, cfg)

	h, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	stored, err := f.store.Harvest(context.Background(), h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, domain.HarvestStatusCompleted, stored.Status)
	assert.Equal(t, int64(1), stored.Statistics.New)
}

func TestRunnerCancelsHarvestOnPersistentBatchFailure(t *testing.T) {
	src := &fakeBatchSource{
		batches:  [][]domain.RawInvestigation{{rawRecord(1, "inv-1")}},
		failures: 100,
	}

	cfg := harvestConfig()
	cfg.BatchRetries = 2

	f := newRunnerFixture(t, src, cfg)

	h, err := f.runner.Run(context.Background())
	require.Error(t, err)

	stored, storeErr := f.store.Harvest(context.Background(), h.HarvestID)
	require.NoError(t, storeErr)
	assert.Equal(t, domain.HarvestStatusCancelled, stored.Status)
}

func TestRunnerMarksUnobservedRecordsMissing(t *testing.T) {
	cfg := harvestConfig()

	first := newRunnerFixture(t, &fakeBatchSource{batches: [][]domain.RawInvestigation{
		{rawRecord(1, "inv-1"), rawRecord(2, "inv-2")},
	}}, cfg)
	ctx := context.Background()

	_, err := first.runner.Run(ctx)
	require.NoError(t, err)

	// Second harvest only sees inv-1.
	secondRunner := NewRunner(
		&fakeBatchSource{batches: [][]domain.RawInvestigation{{rawRecord(1, "inv-1")}}},
		first.pool, first.store, first.queue, first.metrics, cfg, logger.NewNop(),
	)

	h, err := secondRunner.Run(ctx)
	require.NoError(t, err)

	stored, err := first.store.Harvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Statistics.Missing)

	missingID := convert.RecordID("inv-2", cfg.SourceName)
	rec, err := first.store.Record(ctx, missingID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusMissing, rec.Status)
	require.NotNil(t, rec.MissingSince)
}

// ctxBackend mirrors a database-backed store: every operation fails once
// its context is cancelled, as ExecContext does.
type ctxBackend struct {
	inner *store.MemoryBackend
}

func (b *ctxBackend) GetRecord(ctx context.Context, recordID string) (*domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.inner.GetRecord(ctx, recordID)
}

func (b *ctxBackend) PutRecord(ctx context.Context, rec *domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.inner.PutRecord(ctx, rec)
}

func (b *ctxBackend) ListRecords(
	ctx context.Context,
	source string,
	statuses []domain.RecordStatus,
	afterID string,
	limit int,
) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.inner.ListRecords(ctx, source, statuses, afterID, limit)
}

func (b *ctxBackend) GetHarvest(ctx context.Context, harvestID string) (*domain.Harvest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.inner.GetHarvest(ctx, harvestID)
}

func (b *ctxBackend) PutHarvest(ctx context.Context, h *domain.Harvest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.inner.PutHarvest(ctx, h)
}

// cancellingSource yields one batch, then cancels the run context and
// fails, simulating an interrupt mid-harvest.
type cancellingSource struct {
	batch  []domain.RawInvestigation
	cancel context.CancelFunc
	pos    int
}

func (f *cancellingSource) Next(_ context.Context) (*source.Batch, error) {
	if f.pos == 0 {
		f.pos++
		return &source.Batch{Records: f.batch}, nil
	}
	f.cancel()
	return nil, errors.New("connection reset")
}

func TestRunnerPersistsCancelledHarvestOnInterrupt(t *testing.T) {
	backend := &ctxBackend{inner: store.NewMemoryBackend()}
	recordStore := store.New(backend, 50, logger.NewNop())

	pool := convert.NewPool(2, convert.NewConverter("test-source"), logger.NewNop())
	require.NoError(t, pool.Start())
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = pool.Stop(stopCtx)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &cancellingSource{
		batch:  []domain.RawInvestigation{rawRecord(1, "inv-1")},
		cancel: cancel,
	}

	runner := NewRunner(
		src, pool, recordStore, &fakeEnqueuer{},
		metrics.NewMetrics(), harvestConfig(), logger.NewNop(),
	)

	h, err := runner.Run(ctx)
	require.Error(t, err)
	require.NotNil(t, h)

	// The harvest document was persisted as CANCELLED despite the run
	// context being cancelled, with the partial statistics intact.
	stored, err := recordStore.Harvest(context.Background(), h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, domain.HarvestStatusCancelled, stored.Status)
	assert.Equal(t, int64(1), stored.Statistics.Submitted)

	// The admitted record finished its submit.
	rec, err := recordStore.Record(context.Background(), convert.RecordID("inv-1", "test-source"))
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusActive, rec.Status)
}

// failingHarvestBackend rejects harvest writes, so StartHarvest fails.
type failingHarvestBackend struct {
	*store.MemoryBackend
}

func (b *failingHarvestBackend) PutHarvest(context.Context, *domain.Harvest) error {
	return errors.New("record store unavailable")
}

func TestRunnerStartFailureReturnsNoHarvest(t *testing.T) {
	backend := &failingHarvestBackend{MemoryBackend: store.NewMemoryBackend()}
	recordStore := store.New(backend, 50, logger.NewNop())

	pool := convert.NewPool(1, convert.NewConverter("test-source"), logger.NewNop())
	require.NoError(t, pool.Start())
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = pool.Stop(stopCtx)
	})

	runner := NewRunner(
		&fakeBatchSource{}, pool, recordStore, &fakeEnqueuer{},
		metrics.NewMetrics(), harvestConfig(), logger.NewNop(),
	)

	h, err := runner.Run(context.Background())
	require.Error(t, err)
	// Callers must not dereference the harvest on this path.
	assert.Nil(t, h)
}

func TestRunnerPushesRestoredRecord(t *testing.T) {
	cfg := harvestConfig()
	batches := [][]domain.RawInvestigation{{rawRecord(1, "inv-1")}}

	f := newRunnerFixture(t, &fakeBatchSource{batches: batches}, cfg)
	ctx := context.Background()

	_, err := f.runner.Run(ctx)
	require.NoError(t, err)

	recordID := convert.RecordID("inv-1", cfg.SourceName)
	require.NoError(t, f.store.DeleteManually(ctx, recordID, "operator request"))

	// Identical content reappears: the record is restored and the push
	// reverses the downstream removal.
	second := NewRunner(
		&fakeBatchSource{batches: batches}, f.pool, f.store,
		f.queue, f.metrics, cfg, logger.NewNop(),
	)
	_, err = second.Run(ctx)
	require.NoError(t, err)

	rec, err := f.store.Record(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusActive, rec.Status)
	assert.Equal(t, 2, f.queue.count())
}

func TestRunnerNeverExceedsAdmissionLimit(t *testing.T) {
	const maxInFlight = 3

	var records []domain.RawInvestigation
	for i := int64(1); i <= 40; i++ {
		records = append(records, rawRecord(i, "inv"))
	}

	cfg := harvestConfig()
	cfg.MaxInFlight = maxInFlight

	f := newRunnerFixture(t, &fakeBatchSource{
		batches: [][]domain.RawInvestigation{records},
	}, cfg)

	_, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, f.metrics.GetMaxInFlightSeen(), int64(maxInFlight))
	assert.Equal(t, int64(0), f.metrics.GetInFlight())
}
