package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/mvccdb/mvccd/pkg/compression"
	"github.com/mvccdb/mvccd/pkg/epoch"
	"github.com/mvccdb/mvccd/pkg/gc"
	"github.com/mvccdb/mvccd/pkg/metrics"
	"github.com/mvccdb/mvccd/pkg/mvcc"
	"github.com/mvccdb/mvccd/pkg/storage"
	"github.com/mvccdb/mvccd/pkg/walsink"
)

// Engine is the top-level handle wiring the transaction manager, epoch
// manager, garbage collector, version store, and logging sink into one
// long-lived object, the way a database, metrics collector, and HTTP
// router are wired behind a single constructor.
type Engine struct {
	config *Config

	storage      *storage.StorageEngine
	versionStore *storage.VersionStore
	epochs       *epoch.Manager
	gc           *gc.Manager
	sink         *walsink.FileSink
	txnMgr       mvcc.TransactionManager
	tables       *tableRegistry

	metricsCollector *metrics.MetricsCollector
	resourceTracker  *metrics.ResourceTracker
	promExporter     *metrics.PrometheusExporter
	profiler         *metrics.OperationProfiler
	slowLog          *metrics.SlowTransactionLog
	payloadCache     *payloadCache

	txnMu      sync.Mutex
	onCommit   []func(txnID uint64)
	onAbort    []func(txnID uint64)

	startTime time.Time
}

// OnEpochAdvance registers fn to run every time the epoch manager
// mints a new epoch, letting observers such as adminserver's event
// feed react without polling.
func (e *Engine) OnEpochAdvance(fn func(epochID uint64)) { e.epochs.OnAdvance(fn) }

// OnGCSweep registers fn to run after every garbage-collection pass.
func (e *Engine) OnGCSweep(fn func(reclaimed uint64, duration time.Duration)) { e.gc.OnSweep(fn) }

// OnCommit registers fn to run whenever a transaction commits
// successfully.
func (e *Engine) OnCommit(fn func(txnID uint64)) {
	e.txnMu.Lock()
	defer e.txnMu.Unlock()
	e.onCommit = append(e.onCommit, fn)
}

// OnAbort registers fn to run whenever a transaction aborts.
func (e *Engine) OnAbort(fn func(txnID uint64)) {
	e.txnMu.Lock()
	defer e.txnMu.Unlock()
	e.onAbort = append(e.onAbort, fn)
}

func (e *Engine) fireCommitHooks(txnID uint64) {
	e.txnMu.Lock()
	fns := e.onCommit
	e.txnMu.Unlock()
	for _, fn := range fns {
		fn(txnID)
	}
}

func (e *Engine) fireAbortHooks(txnID uint64) {
	e.txnMu.Lock()
	fns := e.onAbort
	e.txnMu.Unlock()
	for _, fn := range fns {
		fn(txnID)
	}
}

// New opens an engine rooted at config.DataDir: a storage engine and
// version store over it, an epoch manager and garbage collector bound
// to that version store, a write-ahead logging sink, and a transaction
// manager of the configured concurrency-control mode over all of it.
// Background loops (epoch ticking, GC sweeping) are not started; call
// Start.
func New(config *Config) (*Engine, error) {
	if config == nil {
		return nil, fmt.Errorf("engine: nil config")
	}

	storageCfg := &storage.Config{
		DataDir:        config.DataDir,
		BufferPoolSize: config.BufferPoolSize,
	}
	storageEngine, err := storage.NewStorageEngine(storageCfg)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to open storage: %w", err)
	}

	versionStore := storage.NewVersionStore(storageEngine, config.TuplesPerTileGroup)

	walCfg := walsink.DefaultConfig(config.WALPath)
	if config.WALCompression {
		walCfg.Compress = compression.DefaultConfig()
	}
	sink, err := walsink.NewFileSink(walCfg)
	if err != nil {
		storageEngine.Close()
		return nil, fmt.Errorf("engine: failed to open logging sink: %w", err)
	}

	epochs := epoch.NewManager(config.EpochTickInterval)
	tables := newTableRegistry()
	gcMgr := gc.NewManager(epochs, versionStore, tables, config.GCTickInterval)

	txnMgr := mvcc.NewTransactionManager(config.Mode, versionStore, epochs, gcMgr, sink, tables.tableOf)
	// txnMgr needs gcMgr as its GarbageEnqueuer and gcMgr needs txnMgr as
	// its WatermarkSource: a genuine construction cycle, broken by
	// wiring the watermark in after both exist.
	gcMgr.SetWatermark(txnMgr)

	metricsCollector := metrics.NewMetricsCollector()
	resourceTracker := metrics.NewResourceTracker(nil)
	promExporter := metrics.NewPrometheusExporter(metricsCollector, resourceTracker)
	profiler := metrics.NewOperationProfiler(true)
	slowLog, err := metrics.NewSlowTransactionLog(metrics.DefaultSlowTransactionLogConfig())
	if err != nil {
		sink.Close()
		storageEngine.Close()
		return nil, fmt.Errorf("engine: failed to create slow transaction log: %w", err)
	}
	slowLog.SetThreshold(config.SlowTxnThreshold)
	cache := newPayloadCache(config.BufferPoolSize)

	epochs.OnAdvance(func(epochID uint64) {
		metricsCollector.RecordEpochAdvance(epochID)
	})
	gcMgr.OnSweep(func(reclaimed uint64, duration time.Duration) {
		metricsCollector.RecordGCSweep(reclaimed, duration)
		if reclaimed > 0 {
			slowLog.LogTransaction(metrics.SlowTransactionEntry{
				Timestamp:     time.Now(),
				Duration:      duration,
				DurationMS:    float64(duration.Microseconds()) / 1000.0,
				Operation:     "gc_sweep",
				TuplesTouched: int(reclaimed),
			})
			cache.clear()
		}
	})

	return &Engine{
		config:           config,
		storage:          storageEngine,
		versionStore:     versionStore,
		epochs:           epochs,
		gc:               gcMgr,
		sink:             sink,
		txnMgr:           txnMgr,
		tables:           tables,
		metricsCollector: metricsCollector,
		resourceTracker:  resourceTracker,
		promExporter:     promExporter,
		profiler:         profiler,
		slowLog:          slowLog,
		payloadCache:     cache,
		startTime:        time.Now(),
	}, nil
}

// Start begins the engine's background loops: the epoch manager's tick
// and the garbage collector's sweep.
func (e *Engine) Start() {
	e.epochs.Start()
	e.gc.Start()
}

// Close stops the background loops and releases the storage engine and
// logging sink.
func (e *Engine) Close() error {
	e.gc.Stop()
	e.epochs.Stop()

	if err := e.sink.Close(); err != nil {
		return fmt.Errorf("engine: failed to close logging sink: %w", err)
	}
	if err := e.storage.Close(); err != nil {
		return fmt.Errorf("engine: failed to close storage: %w", err)
	}
	return nil
}

// OpenTable assigns (or looks up) the table id for name, so callers
// can address a table by name without tracking ids themselves.
func (e *Engine) OpenTable(name string) uint32 {
	return e.tables.open(name)
}

// Metrics returns the engine's metrics collector.
func (e *Engine) Metrics() *metrics.MetricsCollector { return e.metricsCollector }

// ResourceTracker returns the engine's process resource tracker.
func (e *Engine) ResourceTracker() *metrics.ResourceTracker { return e.resourceTracker }

// PrometheusExporter returns the engine's text-exposition exporter.
func (e *Engine) PrometheusExporter() *metrics.PrometheusExporter { return e.promExporter }

// Profiler returns the engine's stage-timing profiler.
func (e *Engine) Profiler() *metrics.OperationProfiler { return e.profiler }

// SlowTransactionLog returns the engine's slow-transaction record.
func (e *Engine) SlowTransactionLog() *metrics.SlowTransactionLog { return e.slowLog }

// EpochStats reports the epoch manager's introspection data.
func (e *Engine) EpochStats() map[string]interface{} { return e.epochs.Stats() }

// GCStats reports the garbage collector's introspection data, plus the
// current safe-reclaim watermark it gates reclamation against.
func (e *Engine) GCStats() map[string]interface{} {
	stats := e.gc.Stats()
	stats["safe_reclaim_cid"] = uint64(e.txnMgr.SafeReclaimCid())
	return stats
}

// TableStats reports per-table live-slot counts.
func (e *Engine) TableStats() map[string]interface{} { return e.tables.stats() }

// CacheStats reports the read-through payload cache's hit/miss/eviction
// counters.
func (e *Engine) CacheStats() map[string]interface{} { return e.payloadCache.stats() }

// ActiveTransactions reports the number of in-flight transactions.
func (e *Engine) ActiveTransactions() int { return e.txnMgr.ActiveTransactions() }

// Uptime reports how long the engine has been open.
func (e *Engine) Uptime() time.Duration { return time.Since(e.startTime) }
