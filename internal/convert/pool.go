package convert

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fairdatahub/arc-harvester/internal/domain"
	"github.com/fairdatahub/arc-harvester/internal/logger"
)

// PoolState represents the current state of the pool.
type PoolState int32

const (
	// PoolStateStopped means the pool is not running.
	PoolStateStopped PoolState = iota

	// PoolStateRunning means the pool is actively converting records.
	PoolStateRunning

	// PoolStateDraining means the pool is shutting down gracefully.
	PoolStateDraining
)

// String returns the string representation of a pool state.
func (s PoolState) String() string {
	switch s {
	case PoolStateStopped:
		return "stopped"
	case PoolStateRunning:
		return "running"
	case PoolStateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// ErrPoolStopped is returned when work is submitted to a pool that is not
// running.
var ErrPoolStopped = errors.New("conversion pool is not running")

type job struct {
	raw    *domain.RawInvestigation
	result chan jobResult
}

type jobResult struct {
	doc *domain.Document
	err error
}

// Pool distributes CPU-bound conversions across a fixed number of
// workers. The pool size bounds executing conversions; admission control
// for the end-to-end pipeline lives elsewhere.
type Pool struct {
	size      int
	converter *Converter
	log       logger.Logger

	jobs   chan job
	stopCh chan struct{}
	wg     sync.WaitGroup
	state  atomic.Int32

	converted atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a conversion pool with the given number of workers.
func NewPool(size int, converter *Converter, log logger.Logger) *Pool {
	if size <= 0 {
		size = 1
	}

	return &Pool{
		size:      size,
		converter: converter,
		log:       log,
		jobs:      make(chan job),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() error {
	if !p.state.CompareAndSwap(int32(PoolStateStopped), int32(PoolStateRunning)) {
		return errors.New("pool is already running")
	}

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.log.Info("conversion pool started", logger.Int("pool_size", p.size))

	return nil
}

// Stop drains the pool. In-flight conversions finish; new submissions are
// rejected.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PoolStateRunning), int32(PoolStateDraining)) {
		return errors.New("pool is not running")
	}

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("conversion pool stopped gracefully")
	case <-ctx.Done():
		p.log.Warn("conversion pool stop timed out")
	}

	p.state.Store(int32(PoolStateStopped))
	return nil
}

// Convert runs one conversion on the pool and waits for its result. A
// failure converts to a per-record error and never disturbs other
// in-flight conversions.
func (p *Pool) Convert(ctx context.Context, raw *domain.RawInvestigation) (*domain.Document, error) {
	if p.State() != PoolStateRunning {
		return nil, ErrPoolStopped
	}

	j := job{raw: raw, result: make(chan jobResult, 1)}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stopCh:
		return nil, ErrPoolStopped
	}

	select {
	case res := <-j.result:
		return res.doc, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// worker processes jobs until the pool drains.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case j := <-p.jobs:
			doc, err := p.converter.Convert(j.raw)
			if err != nil {
				p.failed.Add(1)
			} else {
				p.converted.Add(1)
			}
			j.result <- jobResult{doc: doc, err: err}
		}
	}
}

// State returns the current pool state.
func (p *Pool) State() PoolState {
	return PoolState(p.state.Load())
}

// Converted returns the number of successful conversions.
func (p *Pool) Converted() int64 {
	return p.converted.Load()
}

// Failed returns the number of failed conversions.
func (p *Pool) Failed() int64 {
	return p.failed.Load()
}
