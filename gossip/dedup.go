package gossip

import "sync"

// DedupCache is a bounded FIFO set of envelope digests used for
// message-level deduplication. When the cache is full, inserting a new
// digest evicts the oldest one, so eviction order is deterministic.
type DedupCache struct {
	mu       sync.Mutex
	capacity int
	ring     []string
	index    map[string]struct{}
	next     int
	size     int
}

// NewDedupCache creates a cache holding up to capacity digests.
func NewDedupCache(capacity int) *DedupCache {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	return &DedupCache{
		capacity: capacity,
		ring:     make([]string, capacity),
		index:    make(map[string]struct{}, capacity),
	}
}

// Seen records digest and reports whether it was already present.
// A duplicate does not refresh the digest's position in eviction order.
func (c *DedupCache) Seen(digest string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[digest]; ok {
		return true
	}

	if c.size == c.capacity {
		delete(c.index, c.ring[c.next])
	} else {
		c.size++
	}
	c.ring[c.next] = digest
	c.index[digest] = struct{}{}
	c.next = (c.next + 1) % c.capacity
	return false
}

// Len returns the number of digests currently held.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
