package mvcc

import "fmt"

// OptimisticManager defers conflict detection to commit time: readers
// never block writers, and a committing transaction re-validates every
// coordinate in its read set before installing its write set.
type OptimisticManager struct {
	baseManager
}

// NewOptimisticManager constructs a transaction manager using the
// optimistic (validate-at-commit) protocol.
func NewOptimisticManager(vs VersionStore, epochMgr EpochJoiner, gc GarbageEnqueuer, sink LoggingSink, tableOf TableOf) *OptimisticManager {
	return &OptimisticManager{baseManager: newBaseManager(vs, epochMgr, gc, sink, tableOf)}
}

func (m *OptimisticManager) Begin() *TxnContext { return m.begin() }

func (m *OptimisticManager) PerformRead(txn *TxnContext, coord TupleCoordinate) (bool, error) {
	return m.performRead(txn, coord)
}

func (m *OptimisticManager) PerformInsert(txn *TxnContext, coord TupleCoordinate) error {
	return m.performInsert(txn, coord)
}

func (m *OptimisticManager) PerformUpdate(txn *TxnContext, oldCoord, newCoord TupleCoordinate) error {
	return m.performUpdate(txn, oldCoord, newCoord)
}

func (m *OptimisticManager) PerformDelete(txn *TxnContext, oldCoord, newCoord TupleCoordinate) error {
	return m.performDelete(txn, oldCoord, newCoord)
}

func (m *OptimisticManager) PerformUpdateInPlace(txn *TxnContext, coord TupleCoordinate) error {
	return m.performUpdateInPlace(txn, coord)
}

func (m *OptimisticManager) PerformDeleteInPlace(txn *TxnContext, coord TupleCoordinate) error {
	return m.performDeleteInPlace(txn, coord)
}

func (m *OptimisticManager) AcquireOwnership(txn *TxnContext, coord TupleCoordinate) bool {
	return m.acquireOwnership(txn, coord)
}

func (m *OptimisticManager) IsVisible(txn *TxnContext, h *TupleHeader) bool {
	return IsVisible(txn.ID, txn.BeginCid, h)
}

func (m *OptimisticManager) IsOwner(txn *TxnContext, h *TupleHeader) bool {
	return IsOwner(txn.ID, h)
}

func (m *OptimisticManager) ActiveTransactions() int { return m.activeTransactions() }

func (m *OptimisticManager) SafeReclaimCid() Cid { return m.baseManager.SafeReclaimCid() }

// Commit implements the optimistic protocol: assign commit_cid,
// validate the read set, install the write set, enqueue superseded
// versions for GC (done inside install), leave the epoch.
func (m *OptimisticManager) Commit(txn *TxnContext) Result {
	if txn.Result == ResultFailure {
		return m.abort(txn)
	}
	if !txn.IsActive() {
		return txn.Result
	}

	txn.CommitCid = Cid(m.nextCid.Inc())

	if err := m.validateReadSet(txn); err != nil {
		txn.Result = ResultFailure
		m.abort(txn)
		return ResultFailure
	}

	if err := m.install(txn); err != nil {
		txn.Result = ResultFailure
		return m.abort(txn)
	}

	return m.finishCommit(txn)
}

func (m *OptimisticManager) Abort(txn *TxnContext) Result {
	return m.abort(txn)
}

// validateReadSet re-reads every coordinate this transaction's read
// set touched and requires, for each one, that either (a) this
// transaction still owns the slot, or (b) the slot is committed
// (owner == InitialTxnID) and its window still covers this
// transaction's own commit_cid: begin_cid <= commit_cid < end_cid.
// Any coordinate failing both means a concurrent writer updated or
// deleted a version this transaction read somewhere between its
// snapshot and its commit_cid — a read-write conflict the optimistic
// protocol only catches here, at commit time, never when the read
// itself happened, which is why a pure read can still cause a
// transaction to abort even though it never wrote anything.
func (m *OptimisticManager) validateReadSet(txn *TxnContext) error {
	for coord := range txn.ReadSet() {
		h, err := m.versionStore.Header(coord)
		if err != nil {
			return err
		}
		if IsOwner(txn.ID, h) {
			continue
		}
		if h.Owner() == InitialTxnID &&
			h.BeginCid() <= txn.CommitCid && txn.CommitCid < h.EndCid() {
			continue
		}
		return fmt.Errorf("validatereadset: %s: %w", coord, ErrConflict)
	}
	return nil
}
