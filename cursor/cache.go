package cursor

import (
	"container/list"
	"sync"

	"github.com/ponysql/ponysql-go/wire"
)

// cacheAdmissionThreshold is the approximate per-row encoded-size cutoff
// above which a row bypasses the cache entirely, so a result set heavy
// with large objects cannot evict useful small rows.
const cacheAdmissionThreshold = 3200

// defaultCacheEntries and defaultCacheBytes bound the row cache; the
// reference leaves the exact limits unspecified beyond "bounded by
// element count and by an approximate byte budget", so this driver picks generous round numbers suited to a
// single connection's working set.
const (
	defaultCacheEntries = 4096
	defaultCacheBytes   = 4 << 20
)

type rowCacheKey struct {
	resultID int32
	rowIndex int32
}

// RowCache is a size- and count-bounded LRU keyed by (resultId,
// rowIndex), shared across every cursor on a connection. container/list is stdlib rather than a pack-sourced
// dependency because no example repo in the corpus imports a
// third-party LRU implementation; see DESIGN.md.
type RowCache struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int
	curBytes   int
	ll         *list.List
	items      map[rowCacheKey]*list.Element
}

type cacheEntry struct {
	key  rowCacheKey
	row  []wire.Value
	size int
}

// NewRowCache creates an empty cache bounded by maxEntries and
// maxBytes. A zero value for either falls back to the package default.
func NewRowCache(maxEntries, maxBytes int) *RowCache {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	if maxBytes <= 0 {
		maxBytes = defaultCacheBytes
	}
	return &RowCache{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ll:         list.New(),
		items:      make(map[rowCacheKey]*list.Element),
	}
}

// Get returns the cached row at (resultID, rowIndex), promoting it to
// most-recently-used.
func (c *RowCache) Get(resultID, rowIndex int32) ([]wire.Value, bool) {
	key := rowCacheKey{resultID, rowIndex}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).row, true
}

// Put inserts row at (resultID, rowIndex) unless its estimated encoded
// size exceeds cacheAdmissionThreshold.
func (c *RowCache) Put(resultID, rowIndex int32, row []wire.Value) {
	size := 0
	for _, v := range row {
		size += wire.EncodedSizeEstimate(v)
	}
	if size > cacheAdmissionThreshold {
		return
	}

	key := rowCacheKey{resultID, rowIndex}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.curBytes -= el.Value.(*cacheEntry).size
		c.ll.Remove(el)
		delete(c.items, key)
	}

	entry := &cacheEntry{key: key, row: row, size: size}
	el := c.ll.PushFront(entry)
	c.items[key] = el
	c.curBytes += size

	for (c.ll.Len() > c.maxEntries || c.curBytes > c.maxBytes) && c.ll.Len() > 0 {
		c.evictOldest()
	}
}

func (c *RowCache) evictOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*cacheEntry)
	c.curBytes -= entry.size
	c.ll.Remove(el)
	delete(c.items, entry.key)
}

// InvalidateResult drops every cached entry for resultID.
func (c *RowCache) InvalidateResult(resultID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.items {
		if key.resultID != resultID {
			continue
		}
		entry := el.Value.(*cacheEntry)
		c.curBytes -= entry.size
		c.ll.Remove(el)
		delete(c.items, key)
	}
}
