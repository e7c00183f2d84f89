// Package syncqueue propagates record changes to the downstream commit
// sink. The queue is keyed by record ID and coalesces: while a record is
// being pushed, further enqueues for the same record collapse into one
// pending slot, and a pusher always uploads the latest stored content.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fairdatahub/arc-harvester/internal/config"
	"github.com/fairdatahub/arc-harvester/internal/logger"
	"github.com/fairdatahub/arc-harvester/internal/metrics"
	"github.com/fairdatahub/arc-harvester/internal/retry"
	"github.com/fairdatahub/arc-harvester/internal/sink"
	"github.com/fairdatahub/arc-harvester/internal/store"
)

// Op is the kind of change to propagate for a record.
type Op string

// Sync operations.
const (
	// OpPush uploads the record's latest content.
	OpPush Op = "push"
	// OpRemove records a deletion downstream.
	OpRemove Op = "remove"
)

// ErrQueueStopped is returned when enqueueing into a stopped queue.
var ErrQueueStopped = errors.New("sync queue is stopped")

type task struct {
	recordID string
	op       Op
}

// Queue is an in-process coalescing dispatcher in front of the commit
// sink. Ingestion never blocks on it: Enqueue only flips per-key state
// and wakes a pusher.
type Queue struct {
	store   *store.Store
	sink    sink.Sink
	log     logger.Logger
	metrics *metrics.Metrics

	pushers  int
	retryCfg retry.Config

	mu sync.Mutex
	// inflight marks record IDs a pusher currently owns.
	inflight map[string]bool
	// pending holds the coalesced follow-up op per inflight record ID.
	pending map[string]Op
	ready   []task
	cond    *sync.Cond

	stopped atomic.Bool
	wg      sync.WaitGroup

	pushed atomic.Int64
	failed atomic.Int64
}

// New creates a sync queue over the given store and sink.
func New(
	recordStore *store.Store,
	commitSink sink.Sink,
	cfg config.SyncConfig,
	m *metrics.Metrics,
	log logger.Logger,
) *Queue {
	q := &Queue{
		store:    recordStore,
		sink:     commitSink,
		log:      log,
		metrics:  m,
		pushers:  cfg.Pushers,
		inflight: make(map[string]bool),
		pending:  make(map[string]Op),
		retryCfg: retry.Config{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.Backoff,
			MaxDelay:     cfg.MaxBackoff,
			Multiplier:   retry.DefaultMultiplier,
			IsRetryable:  sink.IsTransient,
		},
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the pusher workers. The given context bounds individual
// push requests; cancelling it abandons in-progress pushes.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.pushers; i++ {
		q.wg.Add(1)
		go q.pusher(ctx)
	}

	q.log.Info("sync queue started", logger.Int("pushers", q.pushers))
}

// Enqueue schedules a record for downstream sync. If the record is
// already being pushed, the request coalesces into the pending slot and
// the later operation wins. Enqueue never blocks on the sink.
func (q *Queue) Enqueue(ctx context.Context, recordID string, op Op) error {
	if q.stopped.Load() {
		return ErrQueueStopped
	}

	if err := q.store.RecordQueued(ctx, recordID); err != nil {
		return fmt.Errorf("failed to mark record queued: %w", err)
	}

	q.mu.Lock()
	// Re-check under the lock: Stop broadcasts while holding it, so a
	// task can never be appended after the pushers exited.
	if q.stopped.Load() {
		q.mu.Unlock()
		return ErrQueueStopped
	}
	if q.inflight[recordID] {
		q.pending[recordID] = op
		q.mu.Unlock()
		return nil
	}
	q.inflight[recordID] = true
	q.ready = append(q.ready, task{recordID: recordID, op: op})
	q.mu.Unlock()

	q.cond.Signal()
	return nil
}

// Stop drains the queue and waits for all pushers to exit. Further
// enqueues fail with ErrQueueStopped.
func (q *Queue) Stop() {
	if !q.stopped.CompareAndSwap(false, true) {
		return
	}

	// Broadcast under the lock so a pusher between its predicate check
	// and Wait cannot miss the wakeup.
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()

	q.log.Info("sync queue stopped",
		logger.Int64("pushed", q.pushed.Load()),
		logger.Int64("failed", q.failed.Load()),
	)
}

// Drain blocks until no tasks are ready or inflight, or the context is
// cancelled.
func (q *Queue) Drain(ctx context.Context) error {
	// abandoned is guarded by q.mu so a cancelled Drain's waiter exits
	// even while tasks are still in flight.
	abandoned := false
	done := make(chan struct{})

	go func() {
		q.mu.Lock()
		for (len(q.ready) > 0 || len(q.inflight) > 0) && !abandoned {
			q.cond.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		abandoned = true
		q.cond.Broadcast()
		q.mu.Unlock()
		<-done
		return fmt.Errorf("failed to drain sync queue: %w", ctx.Err())
	}
}

// Pushed returns the number of successful pushes.
func (q *Queue) Pushed() int64 {
	return q.pushed.Load()
}

// Failed returns the number of terminally failed pushes.
func (q *Queue) Failed() int64 {
	return q.failed.Load()
}

// pusher is one worker loop: take a ready task, execute it, then either
// requeue the coalesced follow-up or release the key.
func (q *Queue) pusher(ctx context.Context) {
	defer q.wg.Done()

	for {
		t, ok := q.next()
		if !ok {
			return
		}

		q.execute(ctx, t)
		q.finish(t.recordID)
	}
}

// next blocks until a task is ready or the queue stops with an empty
// ready list.
func (q *Queue) next() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.ready) == 0 {
		if q.stopped.Load() {
			return task{}, false
		}
		q.cond.Wait()
	}

	t := q.ready[0]
	q.ready = q.ready[1:]
	return t, true
}

// finish releases a record's inflight slot, or requeues its coalesced
// pending op while keeping the slot.
func (q *Queue) finish(recordID string) {
	q.mu.Lock()
	if op, ok := q.pending[recordID]; ok {
		delete(q.pending, recordID)
		q.ready = append(q.ready, task{recordID: recordID, op: op})
		q.mu.Unlock()
		q.cond.Signal()
		return
	}
	delete(q.inflight, recordID)
	// Wake Drain waiters.
	q.cond.Broadcast()
	q.mu.Unlock()
}

// execute performs one sync operation with bounded retries and records
// the outcome on the record.
func (q *Queue) execute(ctx context.Context, t task) {
	var commitRef string
	err := retry.Retry(ctx, q.retryCfg, func() error {
		var pushErr error
		commitRef, pushErr = q.push(ctx, t)
		return pushErr
	})

	if err != nil {
		q.failed.Add(1)
		q.metrics.RecordPush(false)
		q.log.Error("push failed",
			logger.String("record_id", t.recordID),
			logger.String("op", string(t.op)),
			logger.Error(err),
		)

		if markErr := q.store.RecordSyncFailed(ctx, t.recordID, err.Error()); markErr != nil {
			q.log.Error("failed to record push failure", logger.Error(markErr))
		}
		return
	}

	q.pushed.Add(1)
	q.metrics.RecordPush(true)

	if markErr := q.store.RecordSynced(ctx, t.recordID, commitRef); markErr != nil {
		q.log.Error("failed to record push success", logger.Error(markErr))
	}
}

// push executes one attempt against the sink. Pushes always upload the
// latest stored content, not the content at enqueue time.
func (q *Queue) push(ctx context.Context, t task) (string, error) {
	if t.op == OpRemove {
		return q.sink.Remove(ctx, t.recordID)
	}

	rec, err := q.store.Record(ctx, t.recordID)
	if err != nil {
		return "", fmt.Errorf("failed to load record for push: %w", err)
	}

	return q.sink.Push(ctx, t.recordID, rec.Content)
}
