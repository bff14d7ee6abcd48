package engine

import (
	"time"

	"github.com/mvccdb/mvccd/pkg/concurrent"
	"github.com/mvccdb/mvccd/pkg/mvcc"
)

// payloadCacheTTL bounds how long a cached payload can outlive the
// version it was read from; the real invalidation path is clear
// below, this is just a backstop.
const payloadCacheTTL = 10 * time.Minute

const payloadCacheShards = 16

// payloadCache is a read-through cache of committed tuple payloads in
// front of the version store, sharded to keep per-read lock contention
// off a single mutex.
type payloadCache struct {
	cache *concurrent.ShardedLRUCache
}

func newPayloadCache(capacity int) *payloadCache {
	return &payloadCache{
		cache: concurrent.NewShardedLRUCache(capacity, payloadCacheTTL, payloadCacheShards),
	}
}

func (c *payloadCache) get(coord mvcc.TupleCoordinate) ([]byte, bool) {
	v, ok := c.cache.Get(coord.String())
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (c *payloadCache) put(coord mvcc.TupleCoordinate, payload []byte) {
	c.cache.Put(coord.String(), payload)
}

// clear drops every cached entry. Called after a GC sweep reclaims
// any versions: a reclaimed coordinate may be handed out to the very
// next insert into the same table, and a stale cached payload at that
// coordinate would otherwise be served to readers of the new row.
func (c *payloadCache) clear() {
	c.cache.Clear()
}

func (c *payloadCache) stats() map[string]interface{} {
	return c.cache.Stats()
}
