package metrics

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// PrometheusExporter exports metrics in Prometheus text format
type PrometheusExporter struct {
	collector        *MetricsCollector
	resourceTracker  *ResourceTracker
	namespace        string // Metric namespace prefix (e.g., "laura_db")
}

// NewPrometheusExporter creates a new Prometheus exporter
func NewPrometheusExporter(collector *MetricsCollector, resourceTracker *ResourceTracker) *PrometheusExporter {
	return &PrometheusExporter{
		collector:       collector,
		resourceTracker: resourceTracker,
		namespace:       "laura_db",
	}
}

// SetNamespace sets the metric namespace prefix
func (pe *PrometheusExporter) SetNamespace(namespace string) {
	pe.namespace = namespace
}

// WriteMetrics writes all metrics in Prometheus text format to the writer
// Format: https://prometheus.io/docs/instrumenting/exposition_formats/
func (pe *PrometheusExporter) WriteMetrics(w io.Writer) error {
	// Write uptime metric
	uptime := time.Since(pe.collector.startTime).Seconds()
	if err := pe.writeGauge(w, "uptime_seconds", "Database uptime in seconds", uptime); err != nil {
		return err
	}

	// Transaction metrics
	transactionsStarted := atomic.LoadUint64(&pe.collector.transactionsStarted)
	transactionsCommitted := atomic.LoadUint64(&pe.collector.transactionsCommitted)
	transactionsAborted := atomic.LoadUint64(&pe.collector.transactionsAborted)
	ownershipConflicts := atomic.LoadUint64(&pe.collector.ownershipConflicts)
	totalCommitTime := atomic.LoadUint64(&pe.collector.totalCommitTime)

	if err := pe.writeCounter(w, "transactions_started_total", "Total number of transactions started", transactionsStarted); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "transactions_committed_total", "Total number of transactions committed", transactionsCommitted); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "transactions_aborted_total", "Total number of transactions aborted", transactionsAborted); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "ownership_conflicts_total", "Total number of failed ownership acquisitions", ownershipConflicts); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "commit_duration_nanoseconds_total", "Total commit time in nanoseconds", totalCommitTime); err != nil {
		return err
	}

	// Commit timing histogram
	if err := pe.writeHistogram(w, "commit_duration_seconds", "Transaction commit duration histogram", pe.collector.commitTimings); err != nil {
		return err
	}
	if err := pe.writePercentiles(w, "commit_duration_seconds", pe.collector.commitTimings); err != nil {
		return err
	}

	// Epoch metrics
	epochAdvances := atomic.LoadUint64(&pe.collector.epochAdvances)
	currentEpoch := atomic.LoadUint64(&pe.collector.currentEpoch)

	if err := pe.writeCounter(w, "epoch_advances_total", "Total number of epoch advances", epochAdvances); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "epoch_current", "Current epoch identifier", float64(currentEpoch)); err != nil {
		return err
	}

	// GC metrics
	gcSweeps := atomic.LoadUint64(&pe.collector.gcSweeps)
	tuplesReclaimed := atomic.LoadUint64(&pe.collector.tuplesReclaimed)
	totalGCSweepTime := atomic.LoadUint64(&pe.collector.totalGCSweepTime)
	slotsRecycledHit := atomic.LoadUint64(&pe.collector.slotsRecycledHit)
	slotsRecycledMiss := atomic.LoadUint64(&pe.collector.slotsRecycledMiss)
	totalAllocs := slotsRecycledHit + slotsRecycledMiss
	var recycleHitRate float64
	if totalAllocs > 0 {
		recycleHitRate = float64(slotsRecycledHit) / float64(totalAllocs)
	}

	if err := pe.writeCounter(w, "gc_sweeps_total", "Total number of reclamation sweeps", gcSweeps); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "gc_tuples_reclaimed_total", "Total number of tuple slots reclaimed", tuplesReclaimed); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "gc_sweep_duration_nanoseconds_total", "Total reclamation sweep time in nanoseconds", totalGCSweepTime); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "gc_slots_recycled_hit_total", "Total slot allocations served from the recycled freelist", slotsRecycledHit); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "gc_slots_recycled_miss_total", "Total slot allocations that fell back to a fresh slot", slotsRecycledMiss); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "gc_recycle_hit_rate", "Recycled-slot hit rate (0-1)", recycleHitRate); err != nil {
		return err
	}

	// GC sweep timing histogram
	if err := pe.writeHistogram(w, "gc_sweep_duration_seconds", "Reclamation sweep duration histogram", pe.collector.gcTimings); err != nil {
		return err
	}
	if err := pe.writePercentiles(w, "gc_sweep_duration_seconds", pe.collector.gcTimings); err != nil {
		return err
	}

	// Resource tracker metrics (if available)
	if pe.resourceTracker != nil {
		stats := pe.resourceTracker.GetStats()

		// Memory metrics
		if err := pe.writeGauge(w, "memory_heap_bytes", "Heap memory in bytes", float64(stats.HeapInUse)); err != nil {
			return err
		}
		if err := pe.writeGauge(w, "memory_stack_bytes", "Stack memory in bytes", float64(stats.StackInUse)); err != nil {
			return err
		}
		if err := pe.writeCounter(w, "memory_allocations_total", "Total memory allocations", stats.AllocBytes); err != nil {
			return err
		}
		if err := pe.writeGauge(w, "memory_objects", "Number of allocated objects", float64(stats.AllocObjects)); err != nil {
			return err
		}

		// Goroutine metrics
		if err := pe.writeGauge(w, "goroutines", "Number of goroutines", float64(stats.NumGoroutines)); err != nil {
			return err
		}

		// I/O metrics
		if err := pe.writeCounter(w, "io_bytes_read_total", "Total bytes read", stats.BytesRead); err != nil {
			return err
		}
		if err := pe.writeCounter(w, "io_bytes_written_total", "Total bytes written", stats.BytesWritten); err != nil {
			return err
		}
		if err := pe.writeCounter(w, "io_read_operations_total", "Total read operations", stats.ReadsCompleted); err != nil {
			return err
		}
		if err := pe.writeCounter(w, "io_write_operations_total", "Total write operations", stats.WritesCompleted); err != nil {
			return err
		}

		// GC metrics
		if err := pe.writeCounter(w, "gc_runs_total", "Total garbage collection runs", uint64(stats.GCRuns)); err != nil {
			return err
		}
		if err := pe.writeGauge(w, "gc_pause_nanoseconds", "Time the last GC finished, in nanoseconds since the Unix epoch", float64(stats.LastGCTimeNs)); err != nil {
			return err
		}

		// System info
		if err := pe.writeGauge(w, "cpu_count", "Number of CPUs", float64(stats.NumCPU)); err != nil {
			return err
		}
	}

	return nil
}

// writeCounter writes a counter metric
func (pe *PrometheusExporter) writeCounter(w io.Writer, name, help string, value uint64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n",
		metricName, help, metricName, metricName, value)
	return err
}

// writeGauge writes a gauge metric
func (pe *PrometheusExporter) writeGauge(w io.Writer, name, help string, value float64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n",
		metricName, help, metricName, metricName, value)
	return err
}

// writeHistogram writes histogram metrics from timing data
func (pe *PrometheusExporter) writeHistogram(w io.Writer, name, help string, th *TimingHistogram) error {
	metricName := pe.namespace + "_" + name

	// Write HELP and TYPE
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", metricName, help, metricName); err != nil {
		return err
	}

	// Get bucket counts
	buckets := th.GetBuckets()

	// Convert to cumulative counts and write buckets
	// Prometheus histogram buckets are cumulative
	var cumulative uint64

	// 0-1ms bucket (le="0.001")
	cumulative += buckets["0-1ms"]
	if _, err := fmt.Fprintf(w, "%s_bucket{le=\"0.001\"} %d\n", metricName, cumulative); err != nil {
		return err
	}

	// 1-10ms bucket (le="0.01")
	cumulative += buckets["1-10ms"]
	if _, err := fmt.Fprintf(w, "%s_bucket{le=\"0.01\"} %d\n", metricName, cumulative); err != nil {
		return err
	}

	// 10-100ms bucket (le="0.1")
	cumulative += buckets["10-100ms"]
	if _, err := fmt.Fprintf(w, "%s_bucket{le=\"0.1\"} %d\n", metricName, cumulative); err != nil {
		return err
	}

	// 100-1000ms bucket (le="1.0")
	cumulative += buckets["100-1000ms"]
	if _, err := fmt.Fprintf(w, "%s_bucket{le=\"1.0\"} %d\n", metricName, cumulative); err != nil {
		return err
	}

	// >1000ms bucket (le="+Inf")
	cumulative += buckets[">1000ms"]
	if _, err := fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", metricName, cumulative); err != nil {
		return err
	}

	// Write count (no _sum series is written)
	if _, err := fmt.Fprintf(w, "%s_count %d\n", metricName, cumulative); err != nil {
		return err
	}

	// For sum, we use the total time from the collector
	// This is available in the parent collector but we can't easily access it here
	// So we'll approximate or skip it for now
	// Prometheus can still calculate rates and percentiles from buckets

	return nil
}

// writePercentiles writes percentile metrics as gauges
func (pe *PrometheusExporter) writePercentiles(w io.Writer, baseName string, th *TimingHistogram) error {
	percentiles := th.GetPercentiles()

	// P50
	if err := pe.writeGauge(w, baseName+"_p50",
		fmt.Sprintf("50th percentile of %s", baseName),
		percentiles["p50"].Seconds()); err != nil {
		return err
	}

	// P95
	if err := pe.writeGauge(w, baseName+"_p95",
		fmt.Sprintf("95th percentile of %s", baseName),
		percentiles["p95"].Seconds()); err != nil {
		return err
	}

	// P99
	if err := pe.writeGauge(w, baseName+"_p99",
		fmt.Sprintf("99th percentile of %s", baseName),
		percentiles["p99"].Seconds()); err != nil {
		return err
	}

	return nil
}
