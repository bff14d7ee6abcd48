package mvcc

// Mode selects which commit protocol a transaction manager uses.
// Dispatch happens once, at construction, per the design note against
// per-call virtual dispatch: both variants implement the identical
// TransactionManager interface.
type Mode int

const (
	Optimistic Mode = iota
	Pessimistic
)

func (m Mode) String() string {
	if m == Pessimistic {
		return "PESSIMISTIC"
	}
	return "OPTIMISTIC"
}

// NewTransactionManager constructs the concurrency-control variant
// named by mode.
func NewTransactionManager(mode Mode, vs VersionStore, epochMgr EpochJoiner, gc GarbageEnqueuer, sink LoggingSink, tableOf TableOf) TransactionManager {
	if mode == Pessimistic {
		return NewPessimisticManager(vs, epochMgr, gc, sink, tableOf)
	}
	return NewOptimisticManager(vs, epochMgr, gc, sink, tableOf)
}
