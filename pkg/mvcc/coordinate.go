package mvcc

import "fmt"

// TupleCoordinate identifies a physical tuple version by the page that
// holds it and its slot index within that page. It doubles as the
// next-version pointer inside a version chain.
type TupleCoordinate struct {
	PageID PageID
	Slot   SlotIndex
}

// PageID mirrors storage.PageID without importing pkg/storage, so that
// pkg/mvcc stays the consumed-interface side of the version store boundary.
type PageID uint32

// SlotIndex is the position of a tuple slot within a page.
type SlotIndex uint16

// NilCoordinate is the zero-value coordinate, used to mean "no
// successor" in a next_version pointer and "no slot" for a failed
// allocation.
var NilCoordinate = TupleCoordinate{}

// IsNil reports whether c carries no addressable slot.
func (c TupleCoordinate) IsNil() bool {
	return c == NilCoordinate
}

func (c TupleCoordinate) String() string {
	return fmt.Sprintf("(%d:%d)", c.PageID, c.Slot)
}
