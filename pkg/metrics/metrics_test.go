package metrics

import (
	"testing"
	"time"
)

func TestMetricsCollector_Transactions(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordTransactionStart()
	mc.RecordTransactionStart()
	mc.RecordTransactionCommit(10 * time.Millisecond)
	mc.RecordTransactionStart()
	mc.RecordTransactionAbort()
	mc.RecordTransactionCommit(20 * time.Millisecond)

	metrics := mc.GetMetrics()
	txns := metrics["transactions"].(map[string]interface{})

	if txns["started"].(uint64) != 3 {
		t.Errorf("Expected 3 started transactions, got %v", txns["started"])
	}
	if txns["committed"].(uint64) != 2 {
		t.Errorf("Expected 2 committed transactions, got %v", txns["committed"])
	}
	if txns["aborted"].(uint64) != 1 {
		t.Errorf("Expected 1 aborted transaction, got %v", txns["aborted"])
	}

	commitRate := txns["commit_rate"].(float64)
	if commitRate < 66.0 || commitRate > 67.0 {
		t.Errorf("Expected commit rate around 66.67%%, got %.2f%%", commitRate)
	}
}

func TestMetricsCollector_OwnershipConflicts(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordOwnershipConflict()
	mc.RecordOwnershipConflict()

	metrics := mc.GetMetrics()
	txns := metrics["transactions"].(map[string]interface{})

	if txns["ownership_conflicts"].(uint64) != 2 {
		t.Errorf("Expected 2 ownership conflicts, got %v", txns["ownership_conflicts"])
	}
}

func TestMetricsCollector_Epoch(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordEpochAdvance(1)
	mc.RecordEpochAdvance(2)
	mc.RecordEpochAdvance(3)

	metrics := mc.GetMetrics()
	epoch := metrics["epoch"].(map[string]interface{})

	if epoch["advances"].(uint64) != 3 {
		t.Errorf("Expected 3 epoch advances, got %v", epoch["advances"])
	}
	if epoch["current"].(uint64) != 3 {
		t.Errorf("Expected current epoch 3, got %v", epoch["current"])
	}
}

func TestMetricsCollector_GC(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordGCSweep(5, 10*time.Millisecond)
	mc.RecordGCSweep(3, 5*time.Millisecond)

	metrics := mc.GetMetrics()
	gc := metrics["gc"].(map[string]interface{})

	if gc["sweeps"].(uint64) != 2 {
		t.Errorf("Expected 2 sweeps, got %v", gc["sweeps"])
	}
	if gc["tuples_reclaimed"].(uint64) != 8 {
		t.Errorf("Expected 8 tuples reclaimed, got %v", gc["tuples_reclaimed"])
	}
}

func TestMetricsCollector_SlotAllocation(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordSlotAllocation(true)
	mc.RecordSlotAllocation(true)
	mc.RecordSlotAllocation(true)
	mc.RecordSlotAllocation(false)

	metrics := mc.GetMetrics()
	gc := metrics["gc"].(map[string]interface{})

	if gc["recycled_hits"].(uint64) != 3 {
		t.Errorf("Expected 3 recycled hits, got %v", gc["recycled_hits"])
	}
	if gc["recycled_misses"].(uint64) != 1 {
		t.Errorf("Expected 1 recycled miss, got %v", gc["recycled_misses"])
	}

	hitRate := gc["recycle_hit_rate"].(float64)
	if hitRate != 75.0 {
		t.Errorf("Expected 75%% recycle hit rate, got %.2f%%", hitRate)
	}
}

func TestTimingHistogram_Buckets(t *testing.T) {
	th := NewTimingHistogram(100)

	th.Record(500 * time.Microsecond)  // <1ms
	th.Record(5 * time.Millisecond)    // 1-10ms
	th.Record(50 * time.Millisecond)   // 10-100ms
	th.Record(500 * time.Millisecond)  // 100-1000ms
	th.Record(1500 * time.Millisecond) // >1s

	buckets := th.GetBuckets()

	if buckets["0-1ms"] != 1 {
		t.Errorf("Expected 1 in 0-1ms bucket, got %v", buckets["0-1ms"])
	}
	if buckets["1-10ms"] != 1 {
		t.Errorf("Expected 1 in 1-10ms bucket, got %v", buckets["1-10ms"])
	}
	if buckets["10-100ms"] != 1 {
		t.Errorf("Expected 1 in 10-100ms bucket, got %v", buckets["10-100ms"])
	}
	if buckets["100-1000ms"] != 1 {
		t.Errorf("Expected 1 in 100-1000ms bucket, got %v", buckets["100-1000ms"])
	}
	if buckets[">1000ms"] != 1 {
		t.Errorf("Expected 1 in >1000ms bucket, got %v", buckets[">1000ms"])
	}
}

func TestTimingHistogram_Percentiles(t *testing.T) {
	th := NewTimingHistogram(100)

	for i := 1; i <= 100; i++ {
		th.Record(time.Duration(i) * time.Millisecond)
	}

	percentiles := th.GetPercentiles()

	p50 := percentiles["p50"]
	if p50 < 40*time.Millisecond || p50 > 60*time.Millisecond {
		t.Errorf("Expected p50 around 50ms, got %v", p50)
	}

	p95 := percentiles["p95"]
	if p95 < 90*time.Millisecond || p95 > 100*time.Millisecond {
		t.Errorf("Expected p95 around 95ms, got %v", p95)
	}

	p99 := percentiles["p99"]
	if p99 < 95*time.Millisecond || p99 > 100*time.Millisecond {
		t.Errorf("Expected p99 around 99ms, got %v", p99)
	}
}

func TestTimingHistogram_EmptyPercentiles(t *testing.T) {
	th := NewTimingHistogram(100)

	percentiles := th.GetPercentiles()

	if percentiles["p50"] != 0 {
		t.Errorf("Expected p50 to be 0 for empty histogram, got %v", percentiles["p50"])
	}
	if percentiles["p95"] != 0 {
		t.Errorf("Expected p95 to be 0 for empty histogram, got %v", percentiles["p95"])
	}
	if percentiles["p99"] != 0 {
		t.Errorf("Expected p99 to be 0 for empty histogram, got %v", percentiles["p99"])
	}
}

func TestMetricsCollector_Reset(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordTransactionStart()
	mc.RecordTransactionCommit(5 * time.Millisecond)
	mc.RecordGCSweep(1, 1*time.Millisecond)

	metrics := mc.GetMetrics()
	if metrics["transactions"].(map[string]interface{})["started"].(uint64) != 1 {
		t.Error("Expected 1 transaction before reset")
	}

	mc.Reset()

	metrics = mc.GetMetrics()
	txns := metrics["transactions"].(map[string]interface{})
	gc := metrics["gc"].(map[string]interface{})

	if txns["started"].(uint64) != 0 {
		t.Errorf("Expected 0 transactions after reset, got %v", txns["started"])
	}
	if gc["sweeps"].(uint64) != 0 {
		t.Errorf("Expected 0 sweeps after reset, got %v", gc["sweeps"])
	}
}

func TestMetricsCollector_AverageCommitTiming(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordTransactionCommit(10 * time.Millisecond)
	mc.RecordTransactionCommit(20 * time.Millisecond)
	mc.RecordTransactionCommit(30 * time.Millisecond)

	metrics := mc.GetMetrics()
	txns := metrics["transactions"].(map[string]interface{})
	avgDuration := txns["avg_commit_ms"].(float64)

	if avgDuration < 19.0 || avgDuration > 21.0 {
		t.Errorf("Expected average commit time around 20ms, got %.2fms", avgDuration)
	}
}

func TestMetricsCollector_Uptime(t *testing.T) {
	mc := NewMetricsCollector()

	time.Sleep(100 * time.Millisecond)

	metrics := mc.GetMetrics()
	uptime := metrics["uptime_seconds"].(float64)

	if uptime < 0.1 {
		t.Errorf("Expected uptime >= 0.1 seconds, got %.3f", uptime)
	}
}

func TestMetricsCollector_ZeroDivision(t *testing.T) {
	mc := NewMetricsCollector()

	metrics := mc.GetMetrics()
	txns := metrics["transactions"].(map[string]interface{})

	if txns["avg_commit_ms"].(float64) != 0 {
		t.Errorf("Expected 0 average commit time with no transactions, got %v", txns["avg_commit_ms"])
	}

	gc := metrics["gc"].(map[string]interface{})
	if gc["recycle_hit_rate"].(float64) != 0 {
		t.Errorf("Expected 0 recycle hit rate with no allocations, got %v", gc["recycle_hit_rate"])
	}
}

func TestTimingHistogram_CircularBuffer(t *testing.T) {
	th := NewTimingHistogram(5) // Small buffer

	for i := 1; i <= 10; i++ {
		th.Record(time.Duration(i) * time.Millisecond)
	}

	th.mu.Lock()
	count := len(th.recentTimings)
	th.mu.Unlock()

	if count != 5 {
		t.Errorf("Expected 5 recent timings, got %d", count)
	}

	percentiles := th.GetPercentiles()
	p50 := percentiles["p50"]

	// P50 of [6,7,8,9,10] should be 8
	if p50 < 7*time.Millisecond || p50 > 9*time.Millisecond {
		t.Errorf("Expected p50 around 8ms, got %v", p50)
	}
}

func TestMetricsCollector_Concurrent(t *testing.T) {
	mc := NewMetricsCollector()

	done := make(chan bool, 4)

	go func() {
		for i := 0; i < 100; i++ {
			mc.RecordTransactionStart()
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			mc.RecordTransactionCommit(1 * time.Millisecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			mc.RecordGCSweep(1, 1*time.Millisecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = mc.GetMetrics()
		}
		done <- true
	}()

	for i := 0; i < 4; i++ {
		<-done
	}

	metrics := mc.GetMetrics()
	txns := metrics["transactions"].(map[string]interface{})
	gc := metrics["gc"].(map[string]interface{})

	if txns["started"].(uint64) != 100 {
		t.Errorf("Expected 100 started transactions, got %v", txns["started"])
	}
	if txns["committed"].(uint64) != 100 {
		t.Errorf("Expected 100 committed transactions, got %v", txns["committed"])
	}
	if gc["sweeps"].(uint64) != 100 {
		t.Errorf("Expected 100 GC sweeps, got %v", gc["sweeps"])
	}
}
