// Package harvest orchestrates one ingestion run: streaming extraction,
// bounded-concurrency conversion, change-detecting submits and the
// deletion detection pass over the record store.
package harvest

import (
	"context"
	"fmt"

	"github.com/fairdatahub/arc-harvester/internal/metrics"
)

// Limiter bounds how many records are admitted into the pipeline at
// once. Extraction stalls on Acquire when the limit is reached, so
// memory stays bounded regardless of source size.
type Limiter struct {
	sem     chan struct{}
	metrics *metrics.Metrics
}

// NewLimiter creates a limiter admitting at most max records.
func NewLimiter(max int, m *metrics.Metrics) *Limiter {
	if max <= 0 {
		max = 1
	}
	return &Limiter{
		sem:     make(chan struct{}, max),
		metrics: m,
	}
}

// Acquire admits one record, blocking until a slot frees or the context
// is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		l.metrics.IncInFlight()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to admit record: %w", ctx.Err())
	}
}

// Release frees one admission slot.
func (l *Limiter) Release() {
	l.metrics.DecInFlight()
	<-l.sem
}
