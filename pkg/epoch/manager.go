package epoch

import (
	"context"
	"sync"
	"time"
)

// DefaultTickInterval is the interval at which a new epoch is minted
// and the previous one becomes eligible for retirement once its ref
// count drains to zero.
const DefaultTickInterval = 40 * time.Millisecond

// retirementLag is how many epochs behind current an epoch must be
// before it is considered for reclamation, even with a zero ref count.
// A transaction can observe currentID and be about to call Join just
// as the ticker advances it; waiting one extra generation bounds that
// race without needing a handshake between begin() and the ticker.
const retirementLag = 2

// Manager hands out epoch ids and advances the current epoch on a
// fixed tick, using the same context-cancellation shutdown shape as a
// worker pool but with a single ticking goroutine instead of a task
// queue: there's nothing to submit, only a clock to advance.
type Manager struct {
	tickInterval time.Duration

	mu        sync.RWMutex
	epochs    map[uint64]*Epoch
	currentID uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once

	onAdvance []func(epochID uint64)
}

// NewManager creates an epoch manager with epoch 0 already open; Start
// must be called to begin advancing it.
func NewManager(tickInterval time.Duration) *Manager {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		tickInterval: tickInterval,
		epochs:       make(map[uint64]*Epoch),
		ctx:          ctx,
		cancel:       cancel,
	}
	m.epochs[0] = newEpoch(0)
	return m
}

// Start begins the background ticker that advances the current epoch.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.tickLoop()
}

func (m *Manager) tickLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.advance()
		}
	}
}

func (m *Manager) advance() {
	m.mu.Lock()
	m.currentID++
	m.epochs[m.currentID] = newEpoch(m.currentID)
	id := m.currentID
	hooks := m.onAdvance
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
}

// OnAdvance registers a callback invoked with the new epoch id every
// time the ticker mints one, letting the admin surface and metrics
// collector observe epoch advancement without polling Current. May be
// called more than once; every registered callback fires on each
// advance.
func (m *Manager) OnAdvance(fn func(epochID uint64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAdvance = append(m.onAdvance, fn)
}

// Join implements mvcc.EpochJoiner: enrolls the caller in whatever
// epoch is current and returns its id.
func (m *Manager) Join() uint64 {
	m.mu.RLock()
	e := m.epochs[m.currentID]
	m.mu.RUnlock()
	return e.join()
}

// Leave implements mvcc.EpochJoiner.
func (m *Manager) Leave(epochID uint64) {
	m.mu.RLock()
	e, ok := m.epochs[epochID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	e.leave()
}

// Current returns the current epoch id.
func (m *Manager) Current() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentID
}

// Enqueue records an item against the named epoch for later draining
// by the garbage collector. Returns false if the epoch is unknown
// (already retired); the item is then not recorded anywhere and stays
// the caller's to handle.
func (m *Manager) Enqueue(epochID uint64, item interface{}) bool {
	m.mu.RLock()
	e, ok := m.epochs[epochID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	e.Enqueue(item)
	return true
}

// Reclaimable returns every tracked epoch old enough and idle enough
// (ref count zero, at least retirementLag generations behind current)
// to be drained and retired, in no particular order.
func (m *Manager) Reclaimable() []*Epoch {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.currentID < retirementLag {
		return nil
	}
	cutoff := m.currentID - retirementLag

	var out []*Epoch
	for id, e := range m.epochs {
		if id <= cutoff && e.RefCount() == 0 {
			out = append(out, e)
		}
	}
	return out
}

// Retire removes an epoch from tracking once the garbage collector has
// drained it; calling Retire without having drained it first leaks its
// pending items.
func (m *Manager) Retire(epochID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.epochs, epochID)
}

// Stats reports epoch manager state for the admin surface.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"current_epoch": m.currentID,
		"tracked":       len(m.epochs),
	}
}

// Stop halts the ticker and waits for it to exit.
func (m *Manager) Stop() {
	m.closeOnce.Do(func() {
		m.cancel()
	})
	m.wg.Wait()
}
