package nameserver

import (
	"strconv"
	"testing"
	"time"
)

func TestCacheHitAndTTL(t *testing.T) {
	c := newSearchCache()
	now := time.Now()
	c.Put("doc.txt", 3, now)

	if got, ok := c.Get("doc.txt", now.Add(30*time.Second)); !ok || got != 3 {
		t.Fatalf("Get within TTL = %d, %v; want 3, true", got, ok)
	}
	if _, ok := c.Get("doc.txt", now.Add(61*time.Second)); ok {
		t.Fatal("expired entry must miss")
	}
	// The expired entry is dropped on access.
	if c.Len() != 0 {
		t.Fatalf("Len = %d after expiry; want 0", c.Len())
	}
}

func TestCacheEvictsOldestOnOverflow(t *testing.T) {
	c := newSearchCache()
	base := time.Now()
	for i := 0; i < cacheCapacity; i++ {
		c.Put("file"+strconv.Itoa(i), i, base.Add(time.Duration(i)*time.Millisecond))
	}
	c.Put("overflow", 999, base.Add(time.Second))

	if c.Len() != cacheCapacity {
		t.Fatalf("Len = %d; want %d", c.Len(), cacheCapacity)
	}
	if _, ok := c.Get("file0", base.Add(time.Second)); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if got, ok := c.Get("overflow", base.Add(time.Second)); !ok || got != 999 {
		t.Fatalf("Get(overflow) = %d, %v; want 999, true", got, ok)
	}
}

func TestCacheFlush(t *testing.T) {
	c := newSearchCache()
	now := time.Now()
	c.Put("a", 1, now)
	c.Put("b", 2, now)
	c.Flush()
	if c.Len() != 0 {
		t.Fatalf("Len after flush = %d; want 0", c.Len())
	}
}
