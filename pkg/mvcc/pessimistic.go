package mvcc

// PessimisticManager acquires ownership eagerly at write time via
// AcquireOwnership, so by the time a transaction reaches commit every
// write-set coordinate it still holds is uncontested. Commit therefore
// skips read-set validation entirely and goes straight from
// commit_cid assignment to install: a single-pass commit.
type PessimisticManager struct {
	baseManager
}

// NewPessimisticManager constructs a transaction manager using the
// pessimistic (acquire-on-write) protocol.
func NewPessimisticManager(vs VersionStore, epochMgr EpochJoiner, gc GarbageEnqueuer, sink LoggingSink, tableOf TableOf) *PessimisticManager {
	return &PessimisticManager{baseManager: newBaseManager(vs, epochMgr, gc, sink, tableOf)}
}

func (m *PessimisticManager) Begin() *TxnContext { return m.begin() }

func (m *PessimisticManager) PerformRead(txn *TxnContext, coord TupleCoordinate) (bool, error) {
	return m.performRead(txn, coord)
}

func (m *PessimisticManager) PerformInsert(txn *TxnContext, coord TupleCoordinate) error {
	return m.performInsert(txn, coord)
}

// PerformUpdate requires ownership of oldCoord to already have been
// acquired via AcquireOwnership; this variant doesn't additionally
// validate it at commit, unlike the optimistic variant's read-set
// validation.
func (m *PessimisticManager) PerformUpdate(txn *TxnContext, oldCoord, newCoord TupleCoordinate) error {
	return m.performUpdate(txn, oldCoord, newCoord)
}

func (m *PessimisticManager) PerformDelete(txn *TxnContext, oldCoord, newCoord TupleCoordinate) error {
	return m.performDelete(txn, oldCoord, newCoord)
}

func (m *PessimisticManager) PerformUpdateInPlace(txn *TxnContext, coord TupleCoordinate) error {
	return m.performUpdateInPlace(txn, coord)
}

func (m *PessimisticManager) PerformDeleteInPlace(txn *TxnContext, coord TupleCoordinate) error {
	return m.performDeleteInPlace(txn, coord)
}

func (m *PessimisticManager) AcquireOwnership(txn *TxnContext, coord TupleCoordinate) bool {
	return m.acquireOwnership(txn, coord)
}

func (m *PessimisticManager) IsVisible(txn *TxnContext, h *TupleHeader) bool {
	return IsVisible(txn.ID, txn.BeginCid, h)
}

func (m *PessimisticManager) IsOwner(txn *TxnContext, h *TupleHeader) bool {
	return IsOwner(txn.ID, h)
}

func (m *PessimisticManager) ActiveTransactions() int { return m.activeTransactions() }

func (m *PessimisticManager) SafeReclaimCid() Cid { return m.baseManager.SafeReclaimCid() }

// Commit skips read-set validation entirely because ownership was
// already established at PerformUpdate/PerformDelete time; it assigns
// commit_cid and installs directly.
func (m *PessimisticManager) Commit(txn *TxnContext) Result {
	if txn.Result == ResultFailure {
		return m.abort(txn)
	}
	if !txn.IsActive() {
		return txn.Result
	}

	txn.CommitCid = Cid(m.nextCid.Inc())

	if err := m.install(txn); err != nil {
		txn.Result = ResultFailure
		return m.abort(txn)
	}

	return m.finishCommit(txn)
}

func (m *PessimisticManager) Abort(txn *TxnContext) Result {
	return m.abort(txn)
}
