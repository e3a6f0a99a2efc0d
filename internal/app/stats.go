package app

import (
	"math"
	"slices"
	"sync"
	"time"
)

// defaultStatsWindow is the number of latency samples kept per session.
const defaultStatsWindow = 100

// LatencyPercentiles holds p50 and p95 of the retained samples.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// StatsSnapshot is a point-in-time copy of a session's [Stats].
type StatsSnapshot struct {
	// Delivered counts results handed to the sink.
	Delivered int64

	// Degraded counts delivered results built from an unparseable answer.
	Degraded int64

	// Failed counts utterances whose translation failed.
	Failed int64

	// Discarded counts results dropped because the session was gone.
	Discarded int64

	// Latency is measured from flush to result.
	Latency LatencyPercentiles
}

// Stats collects per-session pipeline counters and a bounded window of
// flush-to-result latencies.
//
// Thread-safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	latency latencyBuffer

	delivered int64
	degraded  int64
	failed    int64
	discarded int64
}

// NewStats creates a Stats keeping at most windowSize latency samples.
func NewStats(windowSize int) *Stats {
	if windowSize <= 0 {
		windowSize = defaultStatsWindow
	}
	return &Stats{latency: newLatencyBuffer(windowSize)}
}

// RecordDelivered records a delivered result and its latency.
func (s *Stats) RecordDelivered(latency time.Duration, degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered++
	if degraded {
		s.degraded++
	}
	s.latency.add(latency)
}

// RecordFailed records a translation failure.
func (s *Stats) RecordFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

// RecordDiscarded records a result dropped after its session closed.
func (s *Stats) RecordDiscarded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded++
}

// Snapshot returns the current counters and latency percentiles.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Delivered: s.delivered,
		Degraded:  s.degraded,
		Failed:    s.failed,
		Discarded: s.discarded,
		Latency:   s.latency.percentiles(),
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{data: make([]time.Duration, size)}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= len(lb.data) {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = len(lb.data)
	}
	if n == 0 {
		return LatencyPercentiles{}
	}
	sorted := slices.Clone(lb.data[:n])
	slices.Sort(sorted)
	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the nearest-rank value at p (0.0-1.0) of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
