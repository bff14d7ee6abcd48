// Package engine wires the transaction manager, epoch manager, garbage
// collector, version store, and logging sink into a single long-lived
// handle, the way a server constructor assembles a database, metrics,
// and HTTP layers behind one entry point.
package engine

import (
	"time"

	"github.com/mvccdb/mvccd/pkg/epoch"
	"github.com/mvccdb/mvccd/pkg/gc"
	"github.com/mvccdb/mvccd/pkg/mvcc"
	"github.com/mvccdb/mvccd/pkg/storage"
	"github.com/mvccdb/mvccd/pkg/walsink"
)

// Config holds engine configuration: a flat struct of overridable
// fields, filled in by DefaultConfig and then adjusted by flag parsing
// in cmd/mvccd.
type Config struct {
	DataDir        string
	BufferPoolSize int

	Mode               mvcc.Mode
	TuplesPerTileGroup uint16

	EpochTickInterval time.Duration
	GCTickInterval    time.Duration

	WALPath        string
	WALCompression bool

	SlowTxnThreshold time.Duration
}

// DefaultConfig returns the engine's baseline configuration: sane
// defaults for every field a deployment is likely to leave untouched.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:            dataDir,
		BufferPoolSize:     1000,
		Mode:               mvcc.Optimistic,
		TuplesPerTileGroup: storage.DefaultTuplesPerTileGroup,
		EpochTickInterval:  epoch.DefaultTickInterval,
		GCTickInterval:     gc.DefaultTickInterval,
		WALPath:            dataDir + "/wal.log",
		WALCompression:     false,
		SlowTxnThreshold:   100 * time.Millisecond,
	}
}
