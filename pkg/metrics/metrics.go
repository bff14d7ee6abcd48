package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects real-time performance metrics for the
// transaction manager, epoch manager, and garbage collector: atomic
// counters plus a shared TimingHistogram for percentiles, re-keyed to
// engine-core concerns (commit/abort counts, epoch advances, reclaimed
// tuples).
type MetricsCollector struct {
	// Transaction metrics
	transactionsStarted     uint64
	transactionsCommitted   uint64
	transactionsAborted     uint64
	ownershipConflicts      uint64 // AcquireOwnership CAS failures
	totalCommitTime         uint64 // in nanoseconds

	// Epoch metrics
	epochAdvances uint64
	currentEpoch  uint64

	// GC metrics
	gcSweeps          uint64
	tuplesReclaimed   uint64
	totalGCSweepTime  uint64 // in nanoseconds
	slotsRecycledHit  uint64 // allocator served from the recycled freelist
	slotsRecycledMiss uint64 // allocator fell back to a fresh slot

	mu            sync.RWMutex
	commitTimings *TimingHistogram
	gcTimings     *TimingHistogram

	startTime time.Time
}

// TimingHistogram stores timing data in buckets for histogram generation
type TimingHistogram struct {
	// Buckets: <1ms, 1-10ms, 10-100ms, 100ms-1s, >1s
	bucket0_1ms      uint64 // 0-1ms
	bucket1_10ms     uint64 // 1-10ms
	bucket10_100ms   uint64 // 10-100ms
	bucket100_1000ms uint64 // 100-1000ms
	bucket1000ms     uint64 // >1s

	// P50, P95, P99 tracking
	mu               sync.Mutex
	recentTimings    []time.Duration // Keep last 1000 timings
	maxRecentTimings int
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		commitTimings: NewTimingHistogram(1000),
		gcTimings:     NewTimingHistogram(1000),
		startTime:     time.Now(),
	}
}

// NewTimingHistogram creates a new timing histogram
func NewTimingHistogram(maxRecent int) *TimingHistogram {
	return &TimingHistogram{
		recentTimings:    make([]time.Duration, 0, maxRecent),
		maxRecentTimings: maxRecent,
	}
}

// RecordTransactionStart records a Begin.
func (mc *MetricsCollector) RecordTransactionStart() {
	atomic.AddUint64(&mc.transactionsStarted, 1)
}

// RecordTransactionCommit records a successful Commit, with its wall
// time from commit_cid assignment through install.
func (mc *MetricsCollector) RecordTransactionCommit(duration time.Duration) {
	atomic.AddUint64(&mc.transactionsCommitted, 1)
	atomic.AddUint64(&mc.totalCommitTime, uint64(duration.Nanoseconds()))
	mc.commitTimings.Record(duration)
}

// RecordTransactionAbort records an Abort, whether user-initiated or
// forced by a failed validation/ownership acquisition.
func (mc *MetricsCollector) RecordTransactionAbort() {
	atomic.AddUint64(&mc.transactionsAborted, 1)
}

// RecordOwnershipConflict records a failed AcquireOwnership CAS.
func (mc *MetricsCollector) RecordOwnershipConflict() {
	atomic.AddUint64(&mc.ownershipConflicts, 1)
}

// RecordEpochAdvance records the epoch manager minting a new epoch.
func (mc *MetricsCollector) RecordEpochAdvance(epochID uint64) {
	atomic.AddUint64(&mc.epochAdvances, 1)
	atomic.StoreUint64(&mc.currentEpoch, epochID)
}

// RecordGCSweep records one reclamation pass: how many tuples it
// reclaimed and how long it took.
func (mc *MetricsCollector) RecordGCSweep(reclaimed uint64, duration time.Duration) {
	atomic.AddUint64(&mc.gcSweeps, 1)
	atomic.AddUint64(&mc.tuplesReclaimed, reclaimed)
	atomic.AddUint64(&mc.totalGCSweepTime, uint64(duration.Nanoseconds()))
	mc.gcTimings.Record(duration)
}

// RecordSlotAllocation records whether the Allocator Front served an
// insert from the recycled freelist or had to allocate fresh.
func (mc *MetricsCollector) RecordSlotAllocation(recycled bool) {
	if recycled {
		atomic.AddUint64(&mc.slotsRecycledHit, 1)
	} else {
		atomic.AddUint64(&mc.slotsRecycledMiss, 1)
	}
}

// Record adds a timing to the histogram
func (th *TimingHistogram) Record(duration time.Duration) {
	// Update buckets atomically
	ms := duration.Milliseconds()
	if ms < 1 {
		atomic.AddUint64(&th.bucket0_1ms, 1)
	} else if ms < 10 {
		atomic.AddUint64(&th.bucket1_10ms, 1)
	} else if ms < 100 {
		atomic.AddUint64(&th.bucket10_100ms, 1)
	} else if ms < 1000 {
		atomic.AddUint64(&th.bucket100_1000ms, 1)
	} else {
		atomic.AddUint64(&th.bucket1000ms, 1)
	}

	// Add to recent timings for percentile calculation
	th.mu.Lock()
	defer th.mu.Unlock()

	if len(th.recentTimings) >= th.maxRecentTimings {
		// Shift array to remove oldest
		th.recentTimings = th.recentTimings[1:]
	}
	th.recentTimings = append(th.recentTimings, duration)
}

// GetBuckets returns the histogram bucket counts
func (th *TimingHistogram) GetBuckets() map[string]uint64 {
	return map[string]uint64{
		"0-1ms":      atomic.LoadUint64(&th.bucket0_1ms),
		"1-10ms":     atomic.LoadUint64(&th.bucket1_10ms),
		"10-100ms":   atomic.LoadUint64(&th.bucket10_100ms),
		"100-1000ms": atomic.LoadUint64(&th.bucket100_1000ms),
		">1000ms":    atomic.LoadUint64(&th.bucket1000ms),
	}
}

// GetPercentiles calculates P50, P95, P99 from recent timings
func (th *TimingHistogram) GetPercentiles() map[string]time.Duration {
	th.mu.Lock()
	defer th.mu.Unlock()

	if len(th.recentTimings) == 0 {
		return map[string]time.Duration{
			"p50": 0,
			"p95": 0,
			"p99": 0,
		}
	}

	// Create sorted copy
	sorted := make([]time.Duration, len(th.recentTimings))
	copy(sorted, th.recentTimings)

	// Simple insertion sort (fine for 1000 elements)
	for i := 1; i < len(sorted); i++ {
		key := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > key {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = key
	}

	// Calculate percentiles
	p50idx := len(sorted) * 50 / 100
	p95idx := len(sorted) * 95 / 100
	p99idx := len(sorted) * 99 / 100

	return map[string]time.Duration{
		"p50": sorted[p50idx],
		"p95": sorted[p95idx],
		"p99": sorted[p99idx],
	}
}

// GetMetrics returns a snapshot of all metrics
func (mc *MetricsCollector) GetMetrics() map[string]interface{} {
	transactionsStarted := atomic.LoadUint64(&mc.transactionsStarted)
	transactionsCommitted := atomic.LoadUint64(&mc.transactionsCommitted)
	transactionsAborted := atomic.LoadUint64(&mc.transactionsAborted)
	ownershipConflicts := atomic.LoadUint64(&mc.ownershipConflicts)
	totalCommitTime := atomic.LoadUint64(&mc.totalCommitTime)

	epochAdvances := atomic.LoadUint64(&mc.epochAdvances)
	currentEpoch := atomic.LoadUint64(&mc.currentEpoch)

	gcSweeps := atomic.LoadUint64(&mc.gcSweeps)
	tuplesReclaimed := atomic.LoadUint64(&mc.tuplesReclaimed)
	totalGCSweepTime := atomic.LoadUint64(&mc.totalGCSweepTime)
	slotsRecycledHit := atomic.LoadUint64(&mc.slotsRecycledHit)
	slotsRecycledMiss := atomic.LoadUint64(&mc.slotsRecycledMiss)

	var avgCommitTime float64
	if transactionsCommitted > 0 {
		avgCommitTime = float64(totalCommitTime) / float64(transactionsCommitted) / 1e6 // ms
	}
	var avgGCSweepTime float64
	if gcSweeps > 0 {
		avgGCSweepTime = float64(totalGCSweepTime) / float64(gcSweeps) / 1e6 // ms
	}

	var recycleHitRate float64
	totalAllocs := slotsRecycledHit + slotsRecycledMiss
	if totalAllocs > 0 {
		recycleHitRate = float64(slotsRecycledHit) / float64(totalAllocs) * 100
	}

	uptime := time.Since(mc.startTime)

	return map[string]interface{}{
		"uptime_seconds": uptime.Seconds(),

		"transactions": map[string]interface{}{
			"started":             transactionsStarted,
			"committed":           transactionsCommitted,
			"aborted":             transactionsAborted,
			"ownership_conflicts": ownershipConflicts,
			"commit_rate":         calculateSuccessRate(transactionsStarted, transactionsAborted),
			"avg_commit_ms":       avgCommitTime,
			"commit_histogram":    mc.commitTimings.GetBuckets(),
			"commit_percentiles":  mc.commitTimings.GetPercentiles(),
		},

		"epoch": map[string]interface{}{
			"advances": epochAdvances,
			"current":  currentEpoch,
		},

		"gc": map[string]interface{}{
			"sweeps":             gcSweeps,
			"tuples_reclaimed":   tuplesReclaimed,
			"avg_sweep_ms":       avgGCSweepTime,
			"sweep_histogram":    mc.gcTimings.GetBuckets(),
			"sweep_percentiles":  mc.gcTimings.GetPercentiles(),
			"recycled_hits":      slotsRecycledHit,
			"recycled_misses":    slotsRecycledMiss,
			"recycle_hit_rate":   recycleHitRate,
		},
	}
}

// Reset resets all metrics to zero
func (mc *MetricsCollector) Reset() {
	atomic.StoreUint64(&mc.transactionsStarted, 0)
	atomic.StoreUint64(&mc.transactionsCommitted, 0)
	atomic.StoreUint64(&mc.transactionsAborted, 0)
	atomic.StoreUint64(&mc.ownershipConflicts, 0)
	atomic.StoreUint64(&mc.totalCommitTime, 0)

	atomic.StoreUint64(&mc.epochAdvances, 0)
	// currentEpoch reflects live state, not a cumulative count: left alone.

	atomic.StoreUint64(&mc.gcSweeps, 0)
	atomic.StoreUint64(&mc.tuplesReclaimed, 0)
	atomic.StoreUint64(&mc.totalGCSweepTime, 0)
	atomic.StoreUint64(&mc.slotsRecycledHit, 0)
	atomic.StoreUint64(&mc.slotsRecycledMiss, 0)

	mc.mu.Lock()
	mc.commitTimings = NewTimingHistogram(1000)
	mc.gcTimings = NewTimingHistogram(1000)
	mc.mu.Unlock()

	mc.startTime = time.Now()
}

// Helper functions

func calculateSuccessRate(total, failed uint64) float64 {
	if total == 0 {
		return 0
	}
	succeeded := total - failed
	return float64(succeeded) / float64(total) * 100
}
