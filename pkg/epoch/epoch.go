// Package epoch implements epoch-based staging: transactions enroll in
// the current epoch on Begin and depart on Commit/Abort; an epoch's
// pending list is safe to drain once every transaction that ever
// joined it has departed. Draining an epoch only means no transaction
// still references that particular epoch — it does not by itself mean
// every drained version is safe to reclaim, since a transaction
// enrolled in an older, still-open epoch can hold a snapshot that
// predates what a newer epoch's commits superseded; pkg/gc applies
// that additional, cross-epoch check before actually freeing anything
// an epoch hands it. A manager hands out monotonically increasing
// epoch ids rather than tracking one fixed global epoch.
package epoch

import (
	"github.com/mvccdb/mvccd/pkg/concurrent"
)

// Epoch tracks one generation: how many transactions are currently
// enrolled in it, and the versions recorded as garbage while it was
// current. The pending list is a LockFreeStack rather than a queue —
// reclamation processes it in a single sweep once the epoch is
// retired, so LIFO order doesn't matter and the Treiber-stack CAS push
// the garbage collector needs is cheaper than a lock-free queue.
type Epoch struct {
	id      uint64
	refs    concurrent.Counter
	pending *concurrent.LockFreeStack
}

func newEpoch(id uint64) *Epoch {
	return &Epoch{id: id, pending: concurrent.NewLockFreeStack()}
}

// ID returns the epoch's generation number.
func (e *Epoch) ID() uint64 { return e.id }

func (e *Epoch) join() uint64 {
	e.refs.Inc()
	return e.id
}

// leave returns the ref count remaining after departure.
func (e *Epoch) leave() uint64 {
	return e.refs.Dec()
}

// RefCount reports how many transactions are currently enrolled.
func (e *Epoch) RefCount() uint64 { return e.refs.Load() }

// Enqueue records a reclaimable item against this epoch; the garbage
// collector is the only caller.
func (e *Epoch) Enqueue(item interface{}) { e.pending.Push(item) }

// Drain removes and returns every item recorded against this epoch, in
// no particular order.
func (e *Epoch) Drain() []interface{} {
	var items []interface{}
	for {
		v, ok := e.pending.Pop()
		if !ok {
			break
		}
		items = append(items, v)
	}
	return items
}
