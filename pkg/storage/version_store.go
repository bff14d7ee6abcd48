package storage

import (
	"fmt"
	"sync"

	"github.com/mvccdb/mvccd/pkg/mvcc"
)

// DefaultTuplesPerTileGroup is the default_tuples_per_tile_group
// configuration value named in the external interfaces list.
const DefaultTuplesPerTileGroup = 100

// tileGroup is one page's worth of tuple slots: the slotted-page
// directory backing variable-length payload bytes, plus the live
// MVCC header for each slot. Headers stay as in-memory objects (not
// re-parsed from page bytes on every access) because their fields
// must support the lock-free CAS/atomic operations the transaction
// manager performs on them; the payload bytes are what actually goes
// through the slotted page and the buffer pool/disk manager beneath
// it.
type tileGroup struct {
	pageID  PageID
	slotted *SlottedPage
	headers []*mvcc.TupleHeader
}

// VersionStore is the page-addressed array of tuple slots: a tile
// group is a page, a slot within it is addressed by
// mvcc.TupleCoordinate. It implements
// mvcc.VersionStore so the transaction manager can reach tuple
// headers without knowing anything about pages, slots, or the buffer
// pool underneath.
type VersionStore struct {
	engine         *StorageEngine
	tuplesPerGroup uint16

	mu     sync.RWMutex
	groups map[PageID]*tileGroup
	order  []PageID // tile groups with room, in allocation order

	// freeHead chains whole vacated tile-group pages, reusing
	// pkg/storage's page-level free list rather than always growing
	// the page file: when every slot in a tile group has been
	// reclaimed by the garbage collector, its page is pushed here
	// instead of left allocated and empty.
	freeHead PageID
}

// NewVersionStore creates a version store backed by engine, allocating
// fresh tile groups of tuplesPerGroup slots as needed.
func NewVersionStore(engine *StorageEngine, tuplesPerGroup uint16) *VersionStore {
	if tuplesPerGroup == 0 {
		tuplesPerGroup = DefaultTuplesPerTileGroup
	}
	return &VersionStore{
		engine:         engine,
		tuplesPerGroup: tuplesPerGroup,
		groups:         make(map[PageID]*tileGroup),
	}
}

// Header implements mvcc.VersionStore.
func (vs *VersionStore) Header(coord mvcc.TupleCoordinate) (*mvcc.TupleHeader, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	group, ok := vs.groups[PageID(coord.PageID)]
	if !ok {
		return nil, fmt.Errorf("version store: %w: page %d not allocated", mvcc.ErrKeyNotFound, coord.PageID)
	}
	idx := int(coord.Slot)
	if idx < 0 || idx >= len(group.headers) {
		return nil, fmt.Errorf("version store: %w: slot %d out of range", mvcc.ErrKeyNotFound, coord.Slot)
	}
	return group.headers[idx], nil
}

// AllocateSlot is the fresh-allocation half of slot allocation: the
// recycled-slot path lives in pkg/gc's freelist and is tried first by
// callers; this is the fallback that hands out a brand-new EMPTY slot,
// inserting a zero-length payload placeholder so the slotted page
// reserves a directory entry for it.
func (vs *VersionStore) AllocateSlot() (mvcc.TupleCoordinate, *mvcc.TupleHeader, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	group, err := vs.groupWithRoom()
	if err != nil {
		return mvcc.NilCoordinate, nil, err
	}

	slotID, err := group.slotted.InsertSlot([]byte{0})
	if err != nil {
		return mvcc.NilCoordinate, nil, fmt.Errorf("version store: failed to reserve slot: %w", err)
	}

	header := mvcc.NewEmptyHeader()
	group.headers = append(group.headers, header)

	coord := mvcc.TupleCoordinate{PageID: mvcc.PageID(group.pageID), Slot: mvcc.SlotIndex(slotID)}
	return coord, header, nil
}

// groupWithRoom returns a tile group with free directory capacity,
// allocating a fresh page-backed one if none of the known groups has
// room. Caller holds vs.mu.
func (vs *VersionStore) groupWithRoom() (*tileGroup, error) {
	for _, pageID := range vs.order {
		g := vs.groups[pageID]
		if g.slotted.SlotCount() < vs.tuplesPerGroup {
			return g, nil
		}
	}

	page, err := vs.nextPage()
	if err != nil {
		return nil, fmt.Errorf("version store: failed to allocate tile group page: %w", err)
	}
	slotted, err := NewSlottedPage(page)
	if err != nil {
		return nil, fmt.Errorf("version store: failed to lay out tile group: %w", err)
	}

	g := &tileGroup{pageID: page.ID, slotted: slotted}
	vs.groups[page.ID] = g
	vs.order = append(vs.order, page.ID)
	return g, nil
}

// nextPage returns a vacated page off the free list if one is
// available, falling back to a fresh page from the engine.
func (vs *VersionStore) nextPage() (*Page, error) {
	if vs.freeHead != 0 {
		freeList, err := vs.engine.FetchPage(vs.freeHead)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch free list page: %w", err)
		}
		pageID, ok, err := RemoveFreePageFromList(freeList)
		if err != nil {
			vs.engine.UnpinPage(freeList.ID, false)
			return nil, err
		}
		if ok {
			vs.engine.UnpinPage(freeList.ID, true)
			page, err := vs.engine.FetchPage(pageID)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch recycled page: %w", err)
			}
			page.Type = PageTypeData
			return page, nil
		}

		empty, err := IsFreeListPageEmpty(freeList)
		if err == nil && empty {
			header, _ := DeserializeFreePageHeader(freeList)
			next := PageID(0)
			if header != nil {
				next = header.NextFreeListPage
			}
			vs.engine.UnpinPage(freeList.ID, false)
			vs.freeHead = next
		} else {
			vs.engine.UnpinPage(freeList.ID, false)
		}
	}

	return vs.engine.AllocatePage()
}

// ReleasePage returns a tile group's page to the free list once every
// slot in it has been reclaimed by the garbage collector, and stops
// the version store from offering it as a tile group with room.
func (vs *VersionStore) ReleasePage(pageID PageID) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if _, ok := vs.groups[pageID]; !ok {
		return fmt.Errorf("version store: %w: page %d not tracked", mvcc.ErrKeyNotFound, pageID)
	}
	delete(vs.groups, pageID)
	for i, id := range vs.order {
		if id == pageID {
			vs.order = append(vs.order[:i], vs.order[i+1:]...)
			break
		}
	}

	var freeList *Page
	var err error
	if vs.freeHead == 0 {
		freeList, err = vs.engine.AllocatePage()
		if err != nil {
			return fmt.Errorf("version store: failed to allocate free list head: %w", err)
		}
		InitializeFreeListPage(freeList)
		vs.freeHead = freeList.ID
	} else {
		freeList, err = vs.engine.FetchPage(vs.freeHead)
		if err != nil {
			return fmt.Errorf("version store: failed to fetch free list head: %w", err)
		}
	}

	added, err := AddFreePageToList(freeList, pageID)
	if err != nil {
		vs.engine.UnpinPage(freeList.ID, false)
		return err
	}
	if !added {
		// Current head is full: chain a fresh head in front of it.
		newHead, err := vs.engine.AllocatePage()
		if err != nil {
			vs.engine.UnpinPage(freeList.ID, false)
			return fmt.Errorf("version store: failed to allocate chained free list page: %w", err)
		}
		InitializeFreeListPage(newHead)
		SerializeFreePageHeader(newHead, &FreePageHeader{NextFreeListPage: vs.freeHead, EntryCount: 0})
		vs.engine.UnpinPage(freeList.ID, false)

		if _, err := AddFreePageToList(newHead, pageID); err != nil {
			vs.engine.UnpinPage(newHead.ID, false)
			return err
		}
		vs.freeHead = newHead.ID
		vs.engine.UnpinPage(newHead.ID, true)
		return nil
	}

	vs.engine.UnpinPage(freeList.ID, true)
	return nil
}

// ReadPayload returns the tuple bytes stored at coord, independent of
// MVCC visibility (callers are expected to have already checked
// IsVisible/IsOwner).
func (vs *VersionStore) ReadPayload(coord mvcc.TupleCoordinate) ([]byte, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	group, ok := vs.groups[PageID(coord.PageID)]
	if !ok {
		return nil, fmt.Errorf("version store: %w", mvcc.ErrKeyNotFound)
	}
	return group.slotted.GetSlot(uint16(coord.Slot))
}

// WritePayload overwrites the tuple bytes stored at coord, used when a
// transaction populates a freshly allocated slot before PerformInsert.
func (vs *VersionStore) WritePayload(coord mvcc.TupleCoordinate, data []byte) error {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	group, ok := vs.groups[PageID(coord.PageID)]
	if !ok {
		return fmt.Errorf("version store: %w", mvcc.ErrKeyNotFound)
	}
	return group.slotted.UpdateSlot(uint16(coord.Slot), data)
}

// ResetSlot returns a reclaimed slot's header to EMPTY and its payload
// to a zero-length placeholder; called only by the garbage collector
// once a version's end_cid has fallen behind the reclamation
// watermark.
func (vs *VersionStore) ResetSlot(coord mvcc.TupleCoordinate) error {
	h, err := vs.Header(coord)
	if err != nil {
		return err
	}
	h.Reset()

	vs.mu.Lock()
	group := vs.groups[PageID(coord.PageID)]
	if group == nil {
		vs.mu.Unlock()
		return fmt.Errorf("version store: %w", mvcc.ErrKeyNotFound)
	}
	if err := group.slotted.UpdateSlot(uint16(coord.Slot), []byte{0}); err != nil {
		vs.mu.Unlock()
		return err
	}
	isVacant := vacant(group)
	vs.mu.Unlock()

	if isVacant {
		return vs.ReleasePage(group.pageID)
	}
	return nil
}

// vacant reports whether every header in group has returned to the
// EMPTY state, making the whole tile-group page reclaimable.
func vacant(group *tileGroup) bool {
	for _, h := range group.headers {
		if h.Owner() != mvcc.InvalidTxnID || h.BeginCid() != mvcc.MaxCid || h.EndCid() != mvcc.MaxCid {
			return false
		}
	}
	return len(group.headers) > 0
}

// Stats reports tile-group counts for introspection.
func (vs *VersionStore) Stats() map[string]interface{} {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	slots := 0
	for _, g := range vs.groups {
		slots += int(g.slotted.SlotCount())
	}
	return map[string]interface{}{
		"tile_groups":      len(vs.groups),
		"tuples_per_group": vs.tuplesPerGroup,
		"total_slots":      slots,
	}
}
