package embedding

import (
	"sync/atomic"
	"time"
)

// Stats tracks embedding pipeline performance counters. All updates are
// atomic; reads are approximate, which is fine for reporting. Constructed
// once at process start and shared by reference - there is no package-level
// instance.
type Stats struct {
	totalRequests atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	errorCount    atomic.Int64
	costSavedMic  atomic.Int64 // microdollars, so savings fit an int64
	timeSavedMs   atomic.Int64
	healthy       atomic.Bool
}

// NewStats creates a stats collector. The service starts out healthy.
func NewStats() *Stats {
	s := &Stats{}
	s.healthy.Store(true)
	return s
}

// RecordRequest counts one embedding request.
func (s *Stats) RecordRequest() {
	s.totalRequests.Add(1)
}

// RecordHit counts a cache hit along with the estimated cost and time the
// hit avoided.
func (s *Stats) RecordHit(costSaved float64, timeSaved time.Duration) {
	s.cacheHits.Add(1)
	s.costSavedMic.Add(int64(costSaved * 1e6))
	if ms := timeSaved.Milliseconds(); ms > 0 {
		s.timeSavedMs.Add(ms)
	}
}

// RecordMiss counts a cache miss.
func (s *Stats) RecordMiss() {
	s.cacheMisses.Add(1)
}

// RecordError counts an upstream failure.
func (s *Stats) RecordError() {
	s.errorCount.Add(1)
}

// SetHealthy records the last observed backend health.
func (s *Stats) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	TotalRequests    int64   `json:"total_requests"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	HitRatePercent   float64 `json:"hit_rate_percent"`
	CostSavedDollars float64 `json:"cost_saved_dollars"`
	TimeSavedSeconds float64 `json:"time_saved_seconds"`
	ErrorCount       int64   `json:"error_count"`
	Healthy          bool    `json:"healthy"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	hits := s.cacheHits.Load()
	misses := s.cacheMisses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Snapshot{
		TotalRequests:    s.totalRequests.Load(),
		CacheHits:        hits,
		CacheMisses:      misses,
		HitRatePercent:   hitRate,
		CostSavedDollars: float64(s.costSavedMic.Load()) / 1e6,
		TimeSavedSeconds: float64(s.timeSavedMs.Load()) / 1000,
		ErrorCount:       s.errorCount.Load(),
		Healthy:          s.healthy.Load(),
	}
}
