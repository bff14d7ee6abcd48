package engine

import (
	"fmt"
	"time"

	"github.com/mvccdb/mvccd/pkg/metrics"
	"github.com/mvccdb/mvccd/pkg/mvcc"
)

// TxnHandle scopes a single transaction's lifecycle against an Engine:
// begin once, perform any number of reads/writes, then commit or
// abort exactly once. It is not safe for concurrent use by multiple
// goroutines, single-owner like a cursor handle.
type TxnHandle struct {
	engine *Engine
	ctx    *mvcc.TxnContext
	start  time.Time
	done   bool
}

// Begin starts a new transaction under the engine's configured
// concurrency-control mode.
func (e *Engine) Begin() *TxnHandle {
	e.metricsCollector.RecordTransactionStart()
	return &TxnHandle{
		engine: e,
		ctx:    e.txnMgr.Begin(),
		start:  time.Now(),
	}
}

// ID returns the transaction's identifier.
func (t *TxnHandle) ID() mvcc.TxnID { return t.ctx.ID }

// Insert allocates a slot for table, preferring a coordinate the
// garbage collector has already recycled before falling back to a
// fresh version-store allocation, writes payload into it, and records
// the write in the transaction's write set.
func (t *TxnHandle) Insert(table string, payload []byte) (mvcc.TupleCoordinate, error) {
	tableID, ok := t.engine.tables.idFor(table)
	if !ok {
		return mvcc.NilCoordinate, errUnknownTable(table)
	}

	coord, header, err := t.allocate(tableID)
	if err != nil {
		return mvcc.NilCoordinate, err
	}

	header.SetOwner(t.ctx.ID)
	if err := t.engine.versionStore.WritePayload(coord, payload); err != nil {
		return mvcc.NilCoordinate, fmt.Errorf("engine: insert: %w", err)
	}
	if err := t.engine.txnMgr.PerformInsert(t.ctx, coord); err != nil {
		return mvcc.NilCoordinate, err
	}

	t.engine.tables.track(tableID, coord)
	return coord, nil
}

// allocate returns a slot for tableID, a recycled one if the garbage
// collector's freelist has one waiting, otherwise a fresh one off the
// version store.
func (t *TxnHandle) allocate(tableID uint32) (mvcc.TupleCoordinate, *mvcc.TupleHeader, error) {
	if coord, ok := t.engine.gc.ReturnFreeSlot(tableID); ok {
		t.engine.metricsCollector.RecordSlotAllocation(true)
		header, err := t.engine.versionStore.Header(coord)
		if err != nil {
			return mvcc.NilCoordinate, nil, fmt.Errorf("engine: recycled slot %s vanished: %w", coord, err)
		}
		return coord, header, nil
	}

	t.engine.metricsCollector.RecordSlotAllocation(false)
	coord, header, err := t.engine.versionStore.AllocateSlot()
	if err != nil {
		return mvcc.NilCoordinate, nil, fmt.Errorf("engine: insert: %w", err)
	}
	return coord, header, nil
}

// Read returns the payload at coord if it is visible to this
// transaction's snapshot, and false if it is not (a tombstoned or
// not-yet-committed version), matching PerformRead's contract. Visible
// payloads are served through the engine's read-through cache, since a
// committed version's bytes never change once installed.
func (t *TxnHandle) Read(coord mvcc.TupleCoordinate) ([]byte, bool, error) {
	visible, err := t.engine.txnMgr.PerformRead(t.ctx, coord)
	if err != nil || !visible {
		return nil, visible, err
	}

	if data, ok := t.engine.payloadCache.get(coord); ok {
		return data, true, nil
	}

	data, err := t.engine.versionStore.ReadPayload(coord)
	if err != nil {
		return nil, false, fmt.Errorf("engine: read: %w", err)
	}
	t.engine.payloadCache.put(coord, data)
	return data, true, nil
}

// Update installs a new version of the tuple at oldCoord, allocating a
// fresh slot for the new payload and chaining it as oldCoord's
// successor at commit, following the copy-on-write update path.
// oldCoord must already be owned by this transaction (see
// AcquireOwnership, required in either mode before calling this).
func (t *TxnHandle) Update(table string, oldCoord mvcc.TupleCoordinate, payload []byte) (mvcc.TupleCoordinate, error) {
	tableID, ok := t.engine.tables.idFor(table)
	if !ok {
		return mvcc.NilCoordinate, errUnknownTable(table)
	}

	newCoord, newHeader, err := t.allocate(tableID)
	if err != nil {
		return mvcc.NilCoordinate, err
	}
	newHeader.SetOwner(t.ctx.ID)

	if err := t.engine.versionStore.WritePayload(newCoord, payload); err != nil {
		return mvcc.NilCoordinate, fmt.Errorf("engine: update: %w", err)
	}
	if err := t.engine.txnMgr.PerformUpdate(t.ctx, oldCoord, newCoord); err != nil {
		return mvcc.NilCoordinate, err
	}

	t.engine.tables.track(tableID, newCoord)
	return newCoord, nil
}

// Delete tombstones the tuple at oldCoord: a new, empty successor slot
// is installed and chained so the predecessor's end_cid can be stamped
// at commit without mutating a version a concurrent reader might still
// be looking at.
func (t *TxnHandle) Delete(table string, oldCoord mvcc.TupleCoordinate) error {
	tableID, ok := t.engine.tables.idFor(table)
	if !ok {
		return errUnknownTable(table)
	}

	newCoord, newHeader, err := t.allocate(tableID)
	if err != nil {
		return err
	}
	newHeader.SetOwner(t.ctx.ID)

	if err := t.engine.txnMgr.PerformDelete(t.ctx, oldCoord, newCoord); err != nil {
		return err
	}

	t.engine.tables.track(tableID, newCoord)
	return nil
}

// AcquireOwnership attempts the ownership CAS over coord. Update and
// Delete fail with an ownership conflict unless coord is already owned,
// under mvcc.Optimistic and mvcc.Pessimistic alike.
func (t *TxnHandle) AcquireOwnership(coord mvcc.TupleCoordinate) bool {
	acquired := t.engine.txnMgr.AcquireOwnership(t.ctx, coord)
	if !acquired {
		t.engine.metricsCollector.RecordOwnershipConflict()
	}
	return acquired
}

// Commit finalizes the transaction, recording its duration against the
// engine's metrics collector and, if it ran long enough, the slow
// transaction log.
func (t *TxnHandle) Commit() error {
	if t.done {
		return fmt.Errorf("engine: transaction %d already finished", t.ctx.ID)
	}
	t.done = true

	result := t.engine.txnMgr.Commit(t.ctx)
	duration := time.Since(t.start)

	if result == mvcc.ResultSuccess {
		t.engine.metricsCollector.RecordTransactionCommit(duration)
		t.recordSlow("commit", duration, "")
		t.engine.fireCommitHooks(uint64(t.ctx.ID))
		return nil
	}

	t.engine.metricsCollector.RecordTransactionAbort()
	t.recordSlow("abort", duration, "commit validation failed")
	t.engine.fireAbortHooks(uint64(t.ctx.ID))
	return fmt.Errorf("engine: transaction %d failed to commit: %s", t.ctx.ID, result)
}

// Abort rolls the transaction back.
func (t *TxnHandle) Abort() error {
	if t.done {
		return fmt.Errorf("engine: transaction %d already finished", t.ctx.ID)
	}
	t.done = true

	t.engine.txnMgr.Abort(t.ctx)
	duration := time.Since(t.start)
	t.engine.metricsCollector.RecordTransactionAbort()
	t.recordSlow("abort", duration, "")
	t.engine.fireAbortHooks(uint64(t.ctx.ID))
	return nil
}

func (t *TxnHandle) recordSlow(operation string, duration time.Duration, errMsg string) {
	t.engine.slowLog.LogTransaction(metrics.SlowTransactionEntry{
		Timestamp:    time.Now(),
		Duration:     duration,
		DurationMS:   float64(duration.Microseconds()) / 1000.0,
		Operation:    operation,
		TxnID:        uint64(t.ctx.ID),
		EpochID:      t.ctx.EpochID(),
		ReadSetSize:  len(t.ctx.ReadSet()),
		WriteSetSize: len(t.ctx.WriteSet()),
		Error:        errMsg,
	})
}
