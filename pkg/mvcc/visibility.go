package mvcc

// IsVisible implements the visibility predicate: given the calling
// transaction's identifier and snapshot, and a tuple header, decide
// whether the version is visible.
//
// The decision table is applied in order; the first matching row
// wins. A transaction always sees its own pending writes and never
// sees a concurrent transaction's uncommitted ones, except through the
// "dirty" overload used by secondary-index uniqueness probes (see
// IsVisibleDirty).
func IsVisible(tid TxnID, ts Cid, h *TupleHeader) bool {
	owner := h.Owner()
	begin := h.BeginCid()
	end := h.EndCid()

	switch {
	case owner == InvalidTxnID:
		return false

	case owner == tid && begin == MaxCid && end == MaxCid:
		return true

	case owner == tid:
		return false

	case owner != InitialTxnID && owner != tid && begin == MaxCid:
		return false

	case owner != InitialTxnID && owner != tid:
		return begin <= ts && ts < end

	case owner == InitialTxnID:
		return begin <= ts && ts < end

	default:
		return false
	}
}

// IsVisibleDirty is the read-dirty overload: visible even if the
// owning transaction has not committed, as long as the version is not
// a delete's tombstone marker (end=INVALID_CID). Used exclusively by
// uniqueness checks on secondary index probes, never by ordinary
// scans.
func IsVisibleDirty(tid TxnID, h *TupleHeader) bool {
	owner := h.Owner()
	begin := h.BeginCid()
	end := h.EndCid()

	if owner == InvalidTxnID {
		return false
	}
	if owner == tid {
		return begin == MaxCid && end == MaxCid
	}
	if begin == MaxCid {
		return end != InvalidCid
	}
	return true
}

// IsOwner reports whether tid currently holds the slot's owner token.
func IsOwner(tid TxnID, h *TupleHeader) bool {
	return h.Owner() == tid
}
