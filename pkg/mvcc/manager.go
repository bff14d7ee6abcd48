package mvcc

import (
	"fmt"
	"sync"

	"github.com/mvccdb/mvccd/pkg/concurrent"
)

// VersionStore is the consumed interface onto the physical tile-group
// pages: a page-addressed array of tuple slots, each carrying a
// TupleHeader. The transaction manager never touches page/slot layout
// directly; pkg/storage implements this.
type VersionStore interface {
	// Header returns the header for an already-allocated slot.
	Header(coord TupleCoordinate) (*TupleHeader, error)
}

// EpochJoiner is the consumed interface onto the epoch manager: join on
// begin, leave on commit/abort, identified by an opaque epoch id.
type EpochJoiner interface {
	Join() uint64
	Leave(epochID uint64)
}

// GarbageEnqueuer is the consumed interface onto the garbage collector's
// per-epoch pending-free list.
type GarbageEnqueuer interface {
	RecycleTupleSlot(tableID uint32, coord TupleCoordinate, endCid Cid, epochID uint64)
}

// LoggingSink is the consumed push-only interface for transaction
// records. Replay is out of scope at this layer.
type LoggingSink interface {
	LogBeginTxn(tid TxnID)
	LogCommitTxn(tid TxnID, cid Cid)
	LogAbort(tid TxnID)
	LogUpdate(oldCoord, newCoord TupleCoordinate)
	LogInsert(coord TupleCoordinate)
	LogDelete(coord TupleCoordinate)
}

// TransactionManager is the common API implemented by the optimistic
// and pessimistic variants.
type TransactionManager interface {
	Begin() *TxnContext
	Commit(txn *TxnContext) Result
	Abort(txn *TxnContext) Result
	PerformRead(txn *TxnContext, coord TupleCoordinate) (bool, error)
	PerformInsert(txn *TxnContext, coord TupleCoordinate) error
	PerformUpdate(txn *TxnContext, oldCoord, newCoord TupleCoordinate) error
	PerformDelete(txn *TxnContext, oldCoord, newCoord TupleCoordinate) error
	PerformUpdateInPlace(txn *TxnContext, coord TupleCoordinate) error
	PerformDeleteInPlace(txn *TxnContext, coord TupleCoordinate) error
	AcquireOwnership(txn *TxnContext, coord TupleCoordinate) bool
	IsVisible(txn *TxnContext, h *TupleHeader) bool
	IsOwner(txn *TxnContext, h *TupleHeader) bool
	ActiveTransactions() int
	SafeReclaimCid() Cid
}

// TableOf resolves which table a coordinate's slot belongs to. The
// transaction manager doesn't track table membership itself (that's a
// version-store / catalog concern); instead the caller of Commit
// supplies it so GC enqueue records carry the right table_id.
type TableOf func(coord TupleCoordinate) uint32

// baseManager holds the state and operations common to both commit
// protocols: counters, active-transaction bookkeeping, and the
// PerformX family, which do not differ between optimistic and
// pessimistic.
type baseManager struct {
	nextTxnID concurrent.Counter
	nextCid   concurrent.Counter

	versionStore VersionStore
	epochMgr     EpochJoiner
	gc           GarbageEnqueuer
	sink         LoggingSink
	tableOf      TableOf

	mu         sync.RWMutex
	activeTxns map[TxnID]*TxnContext
}

func newBaseManager(vs VersionStore, epochMgr EpochJoiner, gc GarbageEnqueuer, sink LoggingSink, tableOf TableOf) baseManager {
	return baseManager{
		versionStore: vs,
		epochMgr:     epochMgr,
		gc:           gc,
		sink:         sink,
		tableOf:      tableOf,
		activeTxns:   make(map[TxnID]*TxnContext),
	}
}

func (m *baseManager) begin() *TxnContext {
	tid := TxnID(m.nextTxnID.Inc())
	beginCid := Cid(m.nextCid.Load())
	epochID := m.epochMgr.Join()

	txn := newTxnContext(tid, beginCid, epochID)

	m.mu.Lock()
	m.activeTxns[tid] = txn
	m.mu.Unlock()

	m.sink.LogBeginTxn(tid)
	return txn
}

func (m *baseManager) performRead(txn *TxnContext, coord TupleCoordinate) (bool, error) {
	if !txn.IsActive() {
		return false, ErrTransactionNotActive
	}
	h, err := m.versionStore.Header(coord)
	if err != nil {
		return false, fmt.Errorf("performread: %w", err)
	}
	if !IsVisible(txn.ID, txn.BeginCid, h) {
		return false, nil
	}
	txn.recordRead(coord)
	return true, nil
}

func (m *baseManager) performInsert(txn *TxnContext, coord TupleCoordinate) error {
	if !txn.IsActive() {
		return ErrTransactionNotActive
	}
	h, err := m.versionStore.Header(coord)
	if err != nil {
		return fmt.Errorf("performinsert: %w", err)
	}
	if h.Owner() != txn.ID || h.BeginCid() != MaxCid || h.EndCid() != MaxCid {
		return fmt.Errorf("performinsert: slot %s is not freshly held by txn %d", coord, txn.ID)
	}
	txn.recordWrite(coord, OpInsert)
	return nil
}

func (m *baseManager) performUpdate(txn *TxnContext, oldCoord, newCoord TupleCoordinate) error {
	if !txn.IsActive() {
		return ErrTransactionNotActive
	}
	newHeader, err := m.versionStore.Header(newCoord)
	if err != nil {
		return fmt.Errorf("performupdate: %w", err)
	}
	if newHeader.Owner() != txn.ID || newHeader.BeginCid() != MaxCid || newHeader.EndCid() != MaxCid {
		return fmt.Errorf("performupdate: new slot %s is not freshly held by txn %d", newCoord, txn.ID)
	}
	oldHeader, err := m.versionStore.Header(oldCoord)
	if err != nil {
		return fmt.Errorf("performupdate: %w", err)
	}
	if !IsOwner(txn.ID, oldHeader) {
		return ErrOwnershipConflict
	}
	txn.recordPair(oldCoord, newCoord, OpUpdate, OpInsert)
	return nil
}

func (m *baseManager) performDelete(txn *TxnContext, oldCoord, newCoord TupleCoordinate) error {
	if !txn.IsActive() {
		return ErrTransactionNotActive
	}
	newHeader, err := m.versionStore.Header(newCoord)
	if err != nil {
		return fmt.Errorf("performdelete: %w", err)
	}
	if newHeader.Owner() != txn.ID || newHeader.BeginCid() != MaxCid {
		return fmt.Errorf("performdelete: new slot %s is not held by txn %d", newCoord, txn.ID)
	}
	newHeader.SetEndCid(InvalidCid) // tombstone marker, precondition for visibility
	oldHeader, err := m.versionStore.Header(oldCoord)
	if err != nil {
		return fmt.Errorf("performdelete: %w", err)
	}
	if !IsOwner(txn.ID, oldHeader) {
		return ErrOwnershipConflict
	}
	txn.recordPair(oldCoord, newCoord, OpDelete, OpInsDel)
	return nil
}

// performUpdateInPlace is the single-coordinate degenerate overload:
// the "new location" equals the already-owned slot (pessimistic fast
// path). With no distinct predecessor to unlink, install treats it
// exactly like a fresh insert into that slot.
func (m *baseManager) performUpdateInPlace(txn *TxnContext, coord TupleCoordinate) error {
	if !txn.IsActive() {
		return ErrTransactionNotActive
	}
	h, err := m.versionStore.Header(coord)
	if err != nil {
		return fmt.Errorf("performupdateinplace: %w", err)
	}
	if h.Owner() != txn.ID {
		return ErrOwnershipConflict
	}
	txn.recordPair(coord, coord, OpUpdate, OpInsert)
	return nil
}

// performDeleteInPlace covers both degenerate single-coordinate cases:
// deleting a version this same transaction only just inserted (the
// insert and delete cancel, scenario 3) and the pessimistic fast-path
// in-place tombstone of an already-committed slot this transaction
// owns.
func (m *baseManager) performDeleteInPlace(txn *TxnContext, coord TupleCoordinate) error {
	if !txn.IsActive() {
		return ErrTransactionNotActive
	}
	h, err := m.versionStore.Header(coord)
	if err != nil {
		return fmt.Errorf("performdeleteinplace: %w", err)
	}
	if h.Owner() != txn.ID {
		return ErrOwnershipConflict
	}
	if h.BeginCid() == MaxCid && h.EndCid() == MaxCid {
		// Own pending insert: cancel.
		txn.recordWrite(coord, OpInsDel)
		return nil
	}
	txn.recordPair(coord, coord, OpDelete, OpInsDel)
	return nil
}

func (m *baseManager) acquireOwnership(txn *TxnContext, coord TupleCoordinate) bool {
	h, err := m.versionStore.Header(coord)
	if err != nil {
		txn.Result = ResultFailure
		return false
	}
	if h.AcquireOwnership(txn.ID) {
		return true
	}
	txn.Result = ResultFailure
	return false
}

func (m *baseManager) abort(txn *TxnContext) Result {
	txn.mu.Lock()
	// A transaction reaches abort either while still IN_PROGRESS (an
	// explicit UserAbort) or after AcquireOwnership has already set
	// Result=FAILURE, at the caller's discretion; either way the
	// rollback below still runs and the terminal state is ABORTED.
	needsRollback := txn.Result == ResultInProgress || txn.Result == ResultFailure
	txn.mu.Unlock()
	if !needsRollback {
		return txn.Result
	}

	for coord, tag := range txn.writeSet {
		h, err := m.versionStore.Header(coord)
		if err != nil {
			continue
		}
		switch tag {
		case OpInsert, OpInsDel:
			h.SetOwner(InvalidTxnID)
			h.SetBeginCid(MaxCid)
			h.SetEndCid(MaxCid)
		case OpUpdate, OpDelete:
			// Successor slot rolled back above via OpInsert/OpInsDel
			// handling when it shares the write set; the predecessor
			// just needs its owner lock released unchanged.
			h.SetEndCid(MaxCid)
			h.ReleaseOwnership()
		}
	}

	txn.Result = ResultAborted
	m.epochMgr.Leave(txn.EpochID())
	m.sink.LogAbort(txn.ID)

	m.mu.Lock()
	delete(m.activeTxns, txn.ID)
	m.mu.Unlock()

	return ResultAborted
}

// install stamps the write set's final header values. Shared by both
// commit protocols; only the validation that precedes it differs.
func (m *baseManager) install(txn *TxnContext) error {
	handled := make(map[TupleCoordinate]bool, len(txn.pairs)*2)

	for _, p := range txn.pairs {
		oldTag := txn.writeSet[p.old]
		handled[p.old] = true
		handled[p.new] = true

		oldHeader, err := m.versionStore.Header(p.old)
		if err != nil {
			return fmt.Errorf("install: %w", err)
		}
		newHeader, err := m.versionStore.Header(p.new)
		if err != nil {
			return fmt.Errorf("install: %w", err)
		}

		if p.old == p.new {
			m.installInPlace(txn, oldTag, p.old, oldHeader)
			continue
		}

		switch oldTag {
		case OpUpdate:
			oldHeader.SetEndCid(txn.CommitCid)
			newHeader.SetBeginCid(txn.CommitCid)
			newHeader.SetEndCid(MaxCid)
			newHeader.ReleaseOwnership()
			oldHeader.SetNextVersion(p.new)
			oldHeader.ReleaseOwnership()
			m.enqueueGC(txn, p.old, txn.CommitCid)
			m.sink.LogUpdate(p.old, p.new)
		case OpDelete:
			oldHeader.SetEndCid(txn.CommitCid)
			newHeader.SetBeginCid(txn.CommitCid)
			newHeader.SetEndCid(MaxCid)
			newHeader.SetOwner(InvalidTxnID)
			oldHeader.SetNextVersion(p.new)
			oldHeader.ReleaseOwnership()
			m.enqueueGC(txn, p.old, txn.CommitCid)
			m.sink.LogDelete(p.old)
		}
	}

	for coord, tag := range txn.writeSet {
		if handled[coord] {
			continue
		}
		h, err := m.versionStore.Header(coord)
		if err != nil {
			return fmt.Errorf("install: %w", err)
		}
		switch tag {
		case OpInsert:
			h.SetBeginCid(txn.CommitCid)
			h.SetEndCid(MaxCid)
			h.ReleaseOwnership()
			m.sink.LogInsert(coord)
		case OpInsDel:
			h.SetOwner(InvalidTxnID)
			h.SetBeginCid(MaxCid)
			h.SetEndCid(MaxCid)
		}
	}

	return nil
}

func (m *baseManager) installInPlace(txn *TxnContext, tag OpTag, coord TupleCoordinate, h *TupleHeader) {
	switch tag {
	case OpUpdate:
		h.SetBeginCid(txn.CommitCid)
		h.SetEndCid(MaxCid)
		h.ReleaseOwnership()
		m.sink.LogInsert(coord)
	case OpDelete:
		// performDeleteInPlace already diverted the own-pending-insert
		// cancel case to a standalone OpInsDel entry, so reaching here
		// means a previously committed version is being tombstoned in
		// place: stamp its end_cid and enqueue it for reclamation.
		h.SetEndCid(txn.CommitCid)
		h.SetOwner(InvalidTxnID)
		m.enqueueGC(txn, coord, txn.CommitCid)
		m.sink.LogDelete(coord)
	}
}

func (m *baseManager) enqueueGC(txn *TxnContext, coord TupleCoordinate, endCid Cid) {
	if m.gc == nil {
		return
	}
	tableID := uint32(0)
	if m.tableOf != nil {
		tableID = m.tableOf(coord)
	}
	m.gc.RecycleTupleSlot(tableID, coord, endCid, txn.EpochID())
}

func (m *baseManager) finishCommit(txn *TxnContext) Result {
	txn.Result = ResultSuccess
	m.epochMgr.Leave(txn.EpochID())
	m.sink.LogCommitTxn(txn.ID, txn.CommitCid)

	m.mu.Lock()
	delete(m.activeTxns, txn.ID)
	m.mu.Unlock()

	return ResultSuccess
}

func (m *baseManager) activeTransactions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeTxns)
}

// SafeReclaimCid returns the smallest begin_cid among this manager's
// currently active transactions, or the most recently issued commit_cid
// if none are active. No live transaction holds a snapshot older than this value,
// so the garbage collector may reclaim any superseded version whose
// end_cid has fallen at or below it, even if the epoch that recorded
// the version has already fully drained: epoch membership alone does
// not imply visibility, since a transaction that began in an older
// epoch and is still running can hold a snapshot that predates a
// newer epoch's commits and must still be able to see what they
// superseded.
func (m *baseManager) SafeReclaimCid() Cid {
	m.mu.RLock()
	defer m.mu.RUnlock()

	watermark := Cid(m.nextCid.Load())
	for _, txn := range m.activeTxns {
		if txn.BeginCid < watermark {
			watermark = txn.BeginCid
		}
	}
	return watermark
}
