package engine

import (
	"fmt"
	"sync"

	"github.com/mvccdb/mvccd/pkg/mvcc"
)

// tableRegistry assigns a stable uint32 id to each table name a caller
// opens, since the transaction manager's install path (baseManager.tableOf)
// and the GC's recycled-slot freelist are both keyed by table id rather
// than name. DDL/catalog ownership of table definitions is out of
// scope here; this registry is just the name<->id mapping the engine
// needs to route coordinates.
//
// It doubles as the engine's gc.IndexMaintainer: once the garbage
// collector reclaims a coordinate it calls RemoveEntry so the
// coordinate->table map doesn't grow unbounded over the life of the
// engine.
type tableRegistry struct {
	mu     sync.RWMutex
	byName map[string]uint32
	byID   map[uint32]string
	nextID uint32
	owner  map[mvcc.TupleCoordinate]uint32
}

func newTableRegistry() *tableRegistry {
	return &tableRegistry{
		byName: make(map[string]uint32),
		byID:   make(map[uint32]string),
		owner:  make(map[mvcc.TupleCoordinate]uint32),
	}
}

// open returns the id for name, assigning the next sequential id the
// first time name is seen.
func (r *tableRegistry) open(name string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		return id
	}
	r.nextID++
	id := r.nextID
	r.byName[name] = id
	r.byID[id] = name
	return id
}

func (r *tableRegistry) name(id uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byID[id]
	return n, ok
}

func (r *tableRegistry) idFor(name string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// track records which table a freshly allocated coordinate belongs to.
func (r *tableRegistry) track(id uint32, coord mvcc.TupleCoordinate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner[coord] = id
}

// tableOf implements mvcc.TableOf: the baseManager install path calls
// this with a bare coordinate to learn which table's GC freelist a
// superseded version belongs to.
func (r *tableRegistry) tableOf(coord mvcc.TupleCoordinate) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner[coord]
}

// RemoveEntry implements gc.IndexMaintainer: once a coordinate is
// reclaimed the registry no longer needs to remember its table.
func (r *tableRegistry) RemoveEntry(tableID uint32, coord mvcc.TupleCoordinate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owner, coord)
}

func (r *tableRegistry) stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[uint32]int, len(r.byID))
	for _, id := range r.owner {
		counts[id]++
	}
	out := make(map[string]interface{}, len(r.byName))
	for name, id := range r.byName {
		out[name] = map[string]interface{}{
			"table_id":   id,
			"live_slots": counts[id],
		}
	}
	return out
}

// errUnknownTable is returned when a TxnHandle operation names a table
// that was never opened.
func errUnknownTable(name string) error {
	return fmt.Errorf("engine: unknown table %q", name)
}
