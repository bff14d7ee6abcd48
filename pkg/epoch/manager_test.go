package epoch

import (
	"testing"
	"time"
)

func TestManagerJoinLeave(t *testing.T) {
	m := NewManager(10 * time.Millisecond)

	id := m.Join()
	if id != 0 {
		t.Fatalf("expected to join epoch 0, got %d", id)
	}

	m.mu.RLock()
	ref := m.epochs[0].RefCount()
	m.mu.RUnlock()
	if ref != 1 {
		t.Fatalf("expected ref count 1, got %d", ref)
	}

	m.Leave(id)

	m.mu.RLock()
	ref = m.epochs[0].RefCount()
	m.mu.RUnlock()
	if ref != 0 {
		t.Fatalf("expected ref count 0 after leave, got %d", ref)
	}
}

func TestManagerAdvancesAndTracksMultipleEpochs(t *testing.T) {
	m := NewManager(5 * time.Millisecond)
	m.Start()
	defer m.Stop()

	time.Sleep(40 * time.Millisecond)

	if m.Current() == 0 {
		t.Fatal("expected current epoch to have advanced past 0")
	}
}

func TestManagerReclaimableRespectsLagAndRefCount(t *testing.T) {
	m := NewManager(time.Hour) // no automatic ticking during the test

	id := m.Join()
	m.mu.Lock()
	m.currentID = retirementLag + 1
	m.epochs[m.currentID] = newEpoch(m.currentID)
	m.mu.Unlock()

	// id (0) is old enough but still has a joiner: not reclaimable yet.
	if reclaimable := m.Reclaimable(); len(reclaimable) != 0 {
		t.Fatalf("expected no reclaimable epochs while ref count is nonzero, got %d", len(reclaimable))
	}

	m.Leave(id)

	reclaimable := m.Reclaimable()
	if len(reclaimable) != 1 || reclaimable[0].ID() != id {
		t.Fatalf("expected epoch %d to be reclaimable, got %+v", id, reclaimable)
	}
}

func TestEpochEnqueueDrain(t *testing.T) {
	e := newEpoch(3)
	e.Enqueue("a")
	e.Enqueue("b")

	items := e.Drain()
	if len(items) != 2 {
		t.Fatalf("expected 2 drained items, got %d", len(items))
	}
	if len(e.Drain()) != 0 {
		t.Fatal("expected second drain to be empty")
	}
}
