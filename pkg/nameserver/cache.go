package nameserver

import "time"

const (
	cacheCapacity = 100
	cacheTTL      = 60 * time.Second
)

// searchCache memoizes filename lookups into the files slice. Entries
// expire after cacheTTL and overflow evicts the oldest entry. Purges flush
// the cache wholesale because slot indices shift on removal.
type searchCache struct {
	entries map[string]cacheEntry
}

type cacheEntry struct {
	index    int
	storedAt time.Time
}

func newSearchCache() *searchCache {
	return &searchCache{entries: make(map[string]cacheEntry, cacheCapacity)}
}

func (c *searchCache) Get(name string, now time.Time) (int, bool) {
	e, ok := c.entries[name]
	if !ok {
		return 0, false
	}
	if now.Sub(e.storedAt) > cacheTTL {
		delete(c.entries, name)
		return 0, false
	}
	return e.index, true
}

func (c *searchCache) Put(name string, index int, now time.Time) {
	if _, ok := c.entries[name]; !ok && len(c.entries) >= cacheCapacity {
		c.evictOldest()
	}
	c.entries[name] = cacheEntry{index: index, storedAt: now}
}

func (c *searchCache) evictOldest() {
	var oldest string
	var oldestAt time.Time
	first := true
	for name, e := range c.entries {
		if first || e.storedAt.Before(oldestAt) {
			oldest, oldestAt, first = name, e.storedAt, false
		}
	}
	if !first {
		delete(c.entries, oldest)
	}
}

func (c *searchCache) Flush() {
	clear(c.entries)
}

func (c *searchCache) Len() int {
	return len(c.entries)
}
