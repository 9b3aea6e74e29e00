package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	instructionsProcessed atomic.Uint64
	instructionsRejected  atomic.Uint64
	commitsFailed         atomic.Uint64
	eventsPublished       atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordInstruction records one processed instruction with its latency.
func (m *Metrics) RecordInstruction(latencyNs int64) {
	m.instructionsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordRejection records a rejected instruction.
func (m *Metrics) RecordRejection() {
	m.instructionsRejected.Add(1)
}

// RecordCommitFailure records a failed durable write.
func (m *Metrics) RecordCommitFailure() {
	m.commitsFailed.Add(1)
}

// RecordEventPublished records one event handed to the sinks.
func (m *Metrics) RecordEventPublished() {
	m.eventsPublished.Add(1)
}

// IncrementConnections increments active feed connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active feed connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	InstructionsProcessed uint64
	InstructionsRejected  uint64
	CommitsFailed         uint64
	EventsPublished       uint64
	AvgLatencyNs          int64
	ActiveConnections     int32
	Timestamp             time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		InstructionsProcessed: m.instructionsProcessed.Load(),
		InstructionsRejected:  m.instructionsRejected.Load(),
		CommitsFailed:         m.commitsFailed.Load(),
		EventsPublished:       m.eventsPublished.Load(),
		AvgLatencyNs:          avgLatency,
		ActiveConnections:     m.activeConnections.Load(),
		Timestamp:             time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.instructionsProcessed.Store(0)
	m.instructionsRejected.Store(0)
	m.commitsFailed.Store(0)
	m.eventsPublished.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
}
