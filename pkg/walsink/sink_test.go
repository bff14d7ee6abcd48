package walsink

import (
	"os"
	"testing"

	"github.com/mvccdb/mvccd/pkg/compression"
	"github.com/mvccdb/mvccd/pkg/mvcc"
)

func TestFileSinkAppendsAndFlushes(t *testing.T) {
	path := "./test_sink.log"
	defer os.Remove(path)

	sink, err := NewFileSink(DefaultConfig(path))
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	sink.LogBeginTxn(1)
	sink.LogInsert(mvcc.TupleCoordinate{PageID: 1, Slot: 2})
	sink.LogCommitTxn(1, 5)

	if err := sink.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("expected non-empty sink file after appending records")
	}
}

func TestFileSinkWithCompression(t *testing.T) {
	path := "./test_sink_compressed.log"
	defer os.Remove(path)

	cfg := DefaultConfig(path)
	cfg.Compress = compression.SnappyConfig()

	sink, err := NewFileSink(cfg)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	for i := 0; i < 50; i++ {
		sink.LogUpdate(
			mvcc.TupleCoordinate{PageID: 1, Slot: mvcc.SlotIndex(i)},
			mvcc.TupleCoordinate{PageID: 1, Slot: mvcc.SlotIndex(i + 1)},
		)
	}

	if err := sink.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestFileSinkLogAbort(t *testing.T) {
	path := "./test_sink_abort.log"
	defer os.Remove(path)

	sink, err := NewFileSink(DefaultConfig(path))
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	sink.LogBeginTxn(7)
	sink.LogDelete(mvcc.TupleCoordinate{PageID: 3, Slot: 9})
	sink.LogAbort(7)
}
