// Package refcache implements a bounded LRU cache mapping a reference
// path to its parsed FTAG, used by the streamwalker to avoid re-reading
// and re-parsing the same xattr across a chain of contiguous operations
// (spec.md §4.4's reference-path cache).
package refcache

import (
	"container/list"
	"sync"

	"github.com/marfs-core/marfs/internal/tagging"
)

type entry struct {
	key   string
	ftag  *tagging.FTAG
}

// Cache is a fixed-capacity, least-recently-used cache. One instance is
// owned per streamwalker.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[string]*list.Element

	hits   int64
	misses int64
}

// New returns a Cache holding at most capacity entries. A non-positive
// capacity disables caching: every Get is a miss and Put is a no-op.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		index:    map[string]*list.Element{},
	}
}

// Get returns the cached FTAG for refPath, if present, promoting it to
// most-recently-used.
func (c *Cache) Get(refPath string) (*tagging.FTAG, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[refPath]
	if !ok {
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return el.Value.(*entry).ftag, true
}

// Put inserts or updates the cached FTAG for refPath, evicting the least
// recently used entry if the cache is at capacity.
func (c *Cache) Put(refPath string, ftag *tagging.FTAG) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[refPath]; ok {
		el.Value.(*entry).ftag = ftag
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&entry{key: refPath, ftag: ftag})
	c.index[refPath] = el
	for c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.ll.Remove(back)
		delete(c.index, back.Value.(*entry).key)
	}
}

// Invalidate drops refPath from the cache, used once a reference is
// deleted or rewritten so a stale FTAG can't be served.
func (c *Cache) Invalidate(refPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[refPath]; ok {
		c.ll.Remove(el)
		delete(c.index, refPath)
	}
}

// Stats reports cumulative hit/miss counters, used for diagnostics.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
