package mvcc

import (
	"github.com/mvccdb/mvccd/pkg/concurrent"
)

// TxnID identifies a transaction. It also doubles as the "owner" token
// written into a tuple header while a transaction holds the slot.
type TxnID uint64

// Cid is a commit id: a monotonic timestamp assigned at commit time and
// reused as a reader's snapshot.
type Cid uint64

const (
	// InitialTxnID marks a slot owned by nobody: the version is
	// committed and visible subject to its begin/end window.
	InitialTxnID TxnID = 0

	// InvalidTxnID marks an empty slot: no version, available for
	// (re)allocation.
	InvalidTxnID TxnID = ^TxnID(0)
)

const (
	// MaxCid means "not yet committed" when held in begin_cid, and
	// "still current" when held in end_cid.
	MaxCid Cid = ^Cid(0)

	// InvalidCid marks an uncommitted delete's end_cid (the tombstone
	// marker carried by the new version of a PerformDelete pair).
	InvalidCid Cid = 0
)

// TupleHeader is the per-slot MVCC metadata the version store carries
// alongside the tuple payload. Every field is independently atomic so
// that AcquireOwnership and the commit install phase can CAS/store
// individual fields without a slot-wide lock.
type TupleHeader struct {
	owner        concurrent.Counter // holds a TxnID
	beginCid     concurrent.Counter // holds a Cid
	endCid       concurrent.Counter // holds a Cid
	nextPage     concurrent.Counter // holds a PageID, part of next_version
	nextSlot     concurrent.Counter // holds a SlotIndex, part of next_version
	nextHasValue concurrent.Counter // 1 once next_version has been set
}

// NewEmptyHeader returns a header in the EMPTY state: owner=INVALID,
// both timestamps at MaxCid, no successor.
func NewEmptyHeader() *TupleHeader {
	h := &TupleHeader{}
	h.owner.Store(uint64(InvalidTxnID))
	h.beginCid.Store(uint64(MaxCid))
	h.endCid.Store(uint64(MaxCid))
	return h
}

func (h *TupleHeader) Owner() TxnID    { return TxnID(h.owner.Load()) }
func (h *TupleHeader) BeginCid() Cid   { return Cid(h.beginCid.Load()) }
func (h *TupleHeader) EndCid() Cid     { return Cid(h.endCid.Load()) }

// NextVersion returns the successor coordinate, or the nil coordinate
// if none has been installed yet.
func (h *TupleHeader) NextVersion() TupleCoordinate {
	if h.nextHasValue.Load() == 0 {
		return NilCoordinate
	}
	return TupleCoordinate{
		PageID: PageID(h.nextPage.Load()),
		Slot:   SlotIndex(h.nextSlot.Load()),
	}
}

// SetNextVersion installs the chain successor. Called once, at install
// time, by the committing transaction that superseded this slot.
func (h *TupleHeader) SetNextVersion(coord TupleCoordinate) {
	h.nextPage.Store(uint64(coord.PageID))
	h.nextSlot.Store(uint64(coord.Slot))
	h.nextHasValue.Store(1)
}

// AcquireOwnership performs the CAS owner: INITIAL -> tid. Returns
// false if the slot is already owned by someone else (or is
// INVALID/empty).
func (h *TupleHeader) AcquireOwnership(tid TxnID) bool {
	return h.owner.CompareAndSwap(uint64(InitialTxnID), uint64(tid))
}

// ReleaseOwnership publishes owner=INITIAL. Called after the payload
// and timestamps of the superseded version have their final values;
// the store here is the release half of the fence — readers that
// observe INITIAL are guaranteed to also observe the new begin/end
// values.
func (h *TupleHeader) ReleaseOwnership() {
	h.owner.Store(uint64(InitialTxnID))
}

// Reset returns the header to EMPTY. Called only by the GC once a
// version's end_cid has fallen behind the reclamation watermark.
func (h *TupleHeader) Reset() {
	h.owner.Store(uint64(InvalidTxnID))
	h.beginCid.Store(uint64(MaxCid))
	h.endCid.Store(uint64(MaxCid))
	h.nextHasValue.Store(0)
}

// SetBeginCid and SetEndCid are used by the install phase of commit
// and by AbortTransaction's rollback of a new slot's pending values.
func (h *TupleHeader) SetBeginCid(cid Cid) { h.beginCid.Store(uint64(cid)) }
func (h *TupleHeader) SetEndCid(cid Cid)   { h.endCid.Store(uint64(cid)) }

// SetOwner force-sets the owner field without a CAS. Used by
// PerformInsert (the slot was just allocated fresh, uncontended) and
// by abort/tombstone paths that already hold exclusive access.
func (h *TupleHeader) SetOwner(tid TxnID) { h.owner.Store(uint64(tid)) }
