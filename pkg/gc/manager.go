// Package gc implements background reclamation of superseded tuple
// versions. Each version is staged once the epoch active when it was
// superseded has fully drained, but a drained epoch is not on its own
// proof that nothing can still see the version: a transaction that
// began in an older epoch and is still running holds a snapshot that
// can predate the superseding commit regardless of what the newer
// epoch's own ref count says. Staged versions are therefore only
// actually reclaimed once their end_cid falls at or below the
// safe-reclaim watermark — the smallest begin_cid among every
// transaction active anywhere in the system — recomputed on every
// sweep.
package gc

import (
	"context"
	"sync"
	"time"

	"github.com/mvccdb/mvccd/pkg/concurrent"
	"github.com/mvccdb/mvccd/pkg/epoch"
	"github.com/mvccdb/mvccd/pkg/mvcc"
)

// DefaultTickInterval matches the epoch manager's default tick: there's
// no benefit reclaiming faster than new epochs are minted.
const DefaultTickInterval = epoch.DefaultTickInterval

// record is one superseded version awaiting reclamation.
type record struct {
	tableID uint32
	coord   mvcc.TupleCoordinate
	endCid  mvcc.Cid
}

// Resetter is the consumed interface onto the version store: once a
// version is safe to reclaim, its header is reset to EMPTY and its
// slot becomes available for reuse.
type Resetter interface {
	ResetSlot(coord mvcc.TupleCoordinate) error
}

// IndexMaintainer lets secondary indexes (outside this package's
// scope) drop entries pointing at a coordinate before its slot is
// recycled. Optional: a nil IndexMaintainer simply skips this step,
// matching deployments with no secondary indexes.
type IndexMaintainer interface {
	RemoveEntry(tableID uint32, coord mvcc.TupleCoordinate)
}

// WatermarkSource reports the safe-reclaim watermark: the smallest
// begin_cid among every currently active transaction, below which no
// live snapshot can fall. The transaction manager implements this.
type WatermarkSource interface {
	SafeReclaimCid() mvcc.Cid
}

// Manager is the garbage collector: it implements mvcc.GarbageEnqueuer
// so the transaction manager can hand it superseded versions, and runs
// a background loop that drains epochs once they're safe to retire and
// reclaims what they held once it clears the safe-reclaim watermark.
type Manager struct {
	epochs    *epoch.Manager
	resetter  Resetter
	indexes   IndexMaintainer
	watermark WatermarkSource

	tickInterval time.Duration

	mu       sync.Mutex
	recycled map[uint32]*concurrent.LockFreeStack // table id -> free coordinates
	pending  []record                             // staged, awaiting a safe watermark

	reclaimed concurrent.Counter

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	onSweep []func(reclaimed uint64, duration time.Duration)
}

// SetWatermark wires the transaction manager's watermark source in.
// The two are constructed in a cycle — the transaction manager needs
// this Manager as its GarbageEnqueuer, and this Manager needs the
// transaction manager as its WatermarkSource — so this is a
// post-construction setter rather than a NewManager parameter. Must be
// called before Start.
func (m *Manager) SetWatermark(ws WatermarkSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermark = ws
}

func (m *Manager) safeReclaimCid() mvcc.Cid {
	m.mu.Lock()
	ws := m.watermark
	m.mu.Unlock()
	if ws == nil {
		return 0
	}
	return ws.SafeReclaimCid()
}

// OnSweep registers a callback invoked after every sweep with the
// number of versions reclaimed in that pass and how long it took,
// letting the metrics collector track GC pass duration without
// polling Stats on a separate timer. May be called more than once;
// every registered callback fires on each sweep.
func (m *Manager) OnSweep(fn func(reclaimed uint64, duration time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSweep = append(m.onSweep, fn)
}

// NewManager creates a garbage collector over the given epoch manager
// and version store. indexes may be nil.
func NewManager(epochs *epoch.Manager, resetter Resetter, indexes IndexMaintainer, tickInterval time.Duration) *Manager {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		epochs:       epochs,
		resetter:     resetter,
		indexes:      indexes,
		tickInterval: tickInterval,
		recycled:     make(map[uint32]*concurrent.LockFreeStack),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// RecycleTupleSlot implements mvcc.GarbageEnqueuer: a commit (or
// installInPlace tombstone) has just superseded the version at coord,
// and it cannot be freed until epochID has no remaining joiners.
func (m *Manager) RecycleTupleSlot(tableID uint32, coord mvcc.TupleCoordinate, endCid mvcc.Cid, epochID uint64) {
	rec := record{tableID: tableID, coord: coord, endCid: endCid}
	if m.epochs.Enqueue(epochID, rec) {
		return
	}
	// The epoch was already retired by the time this record arrived (a
	// slow committer straggling behind a fast-advancing clock); no
	// later sweep will drain it off the epoch, so stage it directly.
	// It still has to clear the watermark before reclaim() runs.
	m.stage(rec)
}

// stage records rec as awaiting a safe-reclaim check. Called both for
// records drained off a retired epoch and for records whose epoch was
// already gone by the time they arrived.
func (m *Manager) stage(rec record) {
	m.mu.Lock()
	m.pending = append(m.pending, rec)
	m.mu.Unlock()
}

// ReturnFreeSlot pops a recycled coordinate for tableID, the Allocator
// Front's first-choice path on insert before falling back to a fresh
// version-store allocation. Returns false on a miss.
func (m *Manager) ReturnFreeSlot(tableID uint32) (mvcc.TupleCoordinate, bool) {
	m.mu.Lock()
	stack, ok := m.recycled[tableID]
	m.mu.Unlock()
	if !ok {
		return mvcc.NilCoordinate, false
	}
	v, ok := stack.Pop()
	if !ok {
		return mvcc.NilCoordinate, false
	}
	return v.(mvcc.TupleCoordinate), true
}

// Start begins the background reclamation loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
}

func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep drains and retires every epoch the epoch manager reports as
// reclaimable (staging their records rather than reclaiming them
// outright), then re-checks every staged record, this sweep's and any
// carried over from earlier ones, against the current safe-reclaim
// watermark.
func (m *Manager) sweep() {
	start := time.Now()
	before := m.reclaimed.Load()

	for _, e := range m.epochs.Reclaimable() {
		for _, item := range e.Drain() {
			m.stage(item.(record))
		}
		m.epochs.Retire(e.ID())
	}

	m.drainPending()

	m.mu.Lock()
	hooks := m.onSweep
	m.mu.Unlock()
	reclaimed := m.reclaimed.Load() - before
	elapsed := time.Since(start)
	for _, fn := range hooks {
		fn(reclaimed, elapsed)
	}
}

// drainPending reclaims every staged record whose end_cid has fallen
// at or below the current safe-reclaim watermark, leaving the rest
// staged for the next sweep.
func (m *Manager) drainPending() {
	watermark := m.safeReclaimCid()

	m.mu.Lock()
	staged := m.pending
	m.pending = nil
	m.mu.Unlock()

	var keep []record
	for _, rec := range staged {
		if rec.endCid <= watermark {
			m.reclaim(rec)
		} else {
			keep = append(keep, rec)
		}
	}
	if len(keep) > 0 {
		m.mu.Lock()
		m.pending = append(m.pending, keep...)
		m.mu.Unlock()
	}
}

func (m *Manager) reclaim(rec record) {
	if m.indexes != nil {
		m.indexes.RemoveEntry(rec.tableID, rec.coord)
	}
	if err := m.resetter.ResetSlot(rec.coord); err != nil {
		return
	}

	m.mu.Lock()
	stack, ok := m.recycled[rec.tableID]
	if !ok {
		stack = concurrent.NewLockFreeStack()
		m.recycled[rec.tableID] = stack
	}
	m.mu.Unlock()

	stack.Push(rec.coord)
	m.reclaimed.Inc()
}

// Stats reports reclamation counters for the admin surface.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.Lock()
	tables := len(m.recycled)
	pending := len(m.pending)
	m.mu.Unlock()
	return map[string]interface{}{
		"reclaimed_total":   m.reclaimed.Load(),
		"recycled_tables":   tables,
		"pending_watermark": pending,
	}
}

// Stop halts the reclamation loop and waits for it to exit.
func (m *Manager) Stop() {
	m.closeOnce.Do(func() {
		m.cancel()
	})
	m.wg.Wait()
}
