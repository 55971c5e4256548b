package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics counts context-budget activity for one manager.
type Metrics struct {
	requestTotal       atomic.Int64
	requestFailed      atomic.Int64
	entriesIncluded    atomic.Int64
	entriesCompressed  atomic.Int64
	entriesSkipped     atomic.Int64
	compressionFailure atomic.Int64
	sessionsExpired    atomic.Int64

	mu           sync.Mutex
	durations    []time.Duration
	maxDurations int
}

// NewMetrics creates a collector keeping at most maxDurations request durations.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000
	}
	return &Metrics{
		durations:    make([]time.Duration, 0, maxDurations),
		maxDurations: maxDurations,
	}
}

// RecordRequest records a context request.
func (m *Metrics) RecordRequest() { m.requestTotal.Add(1) }

// RecordFailure records a failed context request.
func (m *Metrics) RecordFailure() { m.requestFailed.Add(1) }

// RecordSelection records the outcome of one selection pass.
func (m *Metrics) RecordSelection(included, compressed, skipped, compressionFailures int) {
	m.entriesIncluded.Add(int64(included))
	m.entriesCompressed.Add(int64(compressed))
	m.entriesSkipped.Add(int64(skipped))
	m.compressionFailure.Add(int64(compressionFailures))
}

// RecordExpired records sessions removed by a cleanup sweep.
func (m *Metrics) RecordExpired(n int) { m.sessionsExpired.Add(int64(n)) }

// RecordDuration records a request duration, dropping the oldest beyond capacity.
func (m *Metrics) RecordDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.durations) >= m.maxDurations {
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, d)
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	var total time.Duration
	for _, d := range m.durations {
		total += d
	}
	count := len(m.durations)
	m.mu.Unlock()

	var avg time.Duration
	if count > 0 {
		avg = total / time.Duration(count)
	}

	return MetricsSnapshot{
		RequestTotal:       m.requestTotal.Load(),
		RequestFailed:      m.requestFailed.Load(),
		EntriesIncluded:    m.entriesIncluded.Load(),
		EntriesCompressed:  m.entriesCompressed.Load(),
		EntriesSkipped:     m.entriesSkipped.Load(),
		CompressionFailure: m.compressionFailure.Load(),
		SessionsExpired:    m.sessionsExpired.Load(),
		DurationCount:      count,
		AverageDuration:    avg,
	}
}

// MetricsSnapshot is a point-in-time view of Metrics.
type MetricsSnapshot struct {
	RequestTotal       int64         `json:"request_total"`
	RequestFailed      int64         `json:"request_failed"`
	EntriesIncluded    int64         `json:"entries_included"`
	EntriesCompressed  int64         `json:"entries_compressed"`
	EntriesSkipped     int64         `json:"entries_skipped"`
	CompressionFailure int64         `json:"compression_failures"`
	SessionsExpired    int64         `json:"sessions_expired"`
	DurationCount      int           `json:"duration_count"`
	AverageDuration    time.Duration `json:"average_duration"`
}
