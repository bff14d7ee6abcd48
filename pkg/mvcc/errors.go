package mvcc

import "errors"

var (
	// ErrTransactionNotActive is returned when operating on a
	// transaction that has already committed or aborted.
	ErrTransactionNotActive = errors.New("transaction is not active")

	// ErrConflict is returned when read-set validation fails at
	// commit time (ValidationFailure in the error taxonomy).
	ErrConflict = errors.New("write conflict detected")

	// ErrOwnershipConflict is returned when AcquireOwnership loses its
	// CAS against another transaction's owner token.
	ErrOwnershipConflict = errors.New("slot already owned by another transaction")

	// ErrNotVisible is returned when PerformRead is attempted against
	// a slot that is not visible to the calling transaction.
	ErrNotVisible = errors.New("tuple version not visible to transaction")

	// ErrKeyNotFound is returned when a coordinate has no live slot.
	ErrKeyNotFound = errors.New("tuple coordinate not found")

	// ErrSlotAllocation is returned when neither the recycled freelist
	// nor a fresh version-store allocation can produce a slot.
	ErrSlotAllocation = errors.New("no slot available for allocation")
)
