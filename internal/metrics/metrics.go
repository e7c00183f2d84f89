// Package metrics provides in-process metrics for the harvest pipeline.
package metrics

import (
	"sync"
	"time"
)

// Metrics holds the harvest processing metrics. All methods are safe for
// concurrent use.
type Metrics struct {
	// mu protects concurrent access to all counters.
	mu sync.Mutex

	// SubmittedCount is the number of records submitted to the store.
	SubmittedCount int64
	// FailedCount is the number of per-record failures.
	FailedCount int64
	// PushSucceeded is the number of successful sink pushes.
	PushSucceeded int64
	// PushFailed is the number of terminally failed sink pushes.
	PushFailed int64

	// InFlight is the number of records currently admitted into the
	// pipeline.
	InFlight int64
	// MaxInFlightSeen is the high-water mark of InFlight.
	MaxInFlightSeen int64

	// LastProcessedTime is the time of the last successful submit.
	LastProcessedTime time.Time
	// StartTime is when metrics collection began.
	StartTime time.Time
	// CurrentSource is the source currently being harvested.
	CurrentSource string
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// RecordSubmitted updates the counters after one record submit.
func (m *Metrics) RecordSubmitted(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SubmittedCount++
	if success {
		m.LastProcessedTime = time.Now()
	} else {
		m.FailedCount++
	}
}

// RecordPush updates the push counters.
func (m *Metrics) RecordPush(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if success {
		m.PushSucceeded++
	} else {
		m.PushFailed++
	}
}

// IncInFlight increments the in-flight gauge and tracks its high-water
// mark.
func (m *Metrics) IncInFlight() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InFlight++
	if m.InFlight > m.MaxInFlightSeen {
		m.MaxInFlightSeen = m.InFlight
	}
}

// DecInFlight decrements the in-flight gauge.
func (m *Metrics) DecInFlight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InFlight--
}

// GetInFlight returns the current in-flight count.
func (m *Metrics) GetInFlight() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InFlight
}

// GetMaxInFlightSeen returns the in-flight high-water mark.
func (m *Metrics) GetMaxInFlightSeen() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MaxInFlightSeen
}

// GetSubmittedCount returns the number of submitted records.
func (m *Metrics) GetSubmittedCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SubmittedCount
}

// GetFailedCount returns the number of per-record failures.
func (m *Metrics) GetFailedCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FailedCount
}

// SetCurrentSource sets the source currently being harvested.
func (m *Metrics) SetCurrentSource(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CurrentSource = source
}

// GetCurrentSource returns the source currently being harvested.
func (m *Metrics) GetCurrentSource() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CurrentSource
}
