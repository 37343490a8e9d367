// Package cache provides the namespaced response cache for generation
// results. Entries carry a per-entry TTL checked lazily at read time; each
// namespace is additionally bounded by an LRU so memory cannot grow without
// limit between reads of stale namespaces.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntriesPerNamespace bounds each namespace's LRU.
const DefaultMaxEntriesPerNamespace = 1024

type entry struct {
	payload   []byte
	createdAt time.Time
	ttl       time.Duration
	size      int64
}

func (e entry) expiresAt() time.Time {
	return e.createdAt.Add(e.ttl)
}

// Stats holds hit/miss counters and memory accounting for one namespace.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Entries     int    `json:"entries"`
	MemoryBytes int64  `json:"memoryUsage"`
}

// HitRatio returns hits/(hits+misses), or 1 when there has been no traffic.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 1
	}
	return float64(s.Hits) / float64(total)
}

type namespace struct {
	entries *lru.Cache[string, entry]
	hits    uint64
	misses  uint64
	memory  int64
}

// Cache is a process-wide namespaced fingerprint-to-payload store.
// All operations are synchronous in-memory work guarded by a mutex.
type Cache struct {
	maxEntries int
	now        func() time.Time

	mu         sync.Mutex
	namespaces map[string]*namespace
}

// New creates an empty cache whose namespaces hold at most maxEntries entries
// each. maxEntries <= 0 falls back to DefaultMaxEntriesPerNamespace.
func New(maxEntries int) *Cache {
	return NewWithClock(maxEntries, time.Now)
}

// NewWithClock creates a cache using the supplied clock. Intended for tests.
func NewWithClock(maxEntries int, now func() time.Time) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntriesPerNamespace
	}
	return &Cache{
		maxEntries: maxEntries,
		now:        now,
		namespaces: make(map[string]*namespace),
	}
}

// Get returns the payload stored under (namespace, fingerprint), or ok=false
// on a miss. An entry read at or past createdAt+ttl counts as a miss and is
// evicted. Counters are updated on every call.
func (c *Cache) Get(ns, fingerprint string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.namespaces[ns]
	if !ok {
		// Still record the miss so hit ratios reflect cold namespaces.
		n = c.getOrCreate(ns)
		n.misses++
		return nil, false
	}

	e, ok := n.entries.Get(fingerprint)
	if !ok {
		n.misses++
		return nil, false
	}

	if !c.now().Before(e.expiresAt()) {
		n.entries.Remove(fingerprint)
		n.misses++
		return nil, false
	}

	n.hits++
	return e.payload, true
}

// Set stores payload under (namespace, fingerprint) with the given TTL,
// replacing any previous entry wholesale. The payload's byte length is
// recorded for memory accounting.
func (c *Cache) Set(ns, fingerprint string, payload []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.getOrCreate(ns)
	if old, ok := n.entries.Peek(fingerprint); ok {
		// Replacement does not go through the eviction callback.
		n.memory -= old.size
	}
	n.entries.Add(fingerprint, entry{
		payload:   payload,
		createdAt: c.now(),
		ttl:       ttl,
		size:      int64(len(payload)),
	})
	n.memory += int64(len(payload))
}

// Invalidate removes a single entry if present.
func (c *Cache) Invalidate(ns, fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.namespaces[ns]; ok {
		n.entries.Remove(fingerprint)
	}
}

// Stats returns counters for a single namespace.
func (c *Cache) Stats(ns string) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.namespaces[ns]
	if !ok {
		return Stats{}
	}
	return Stats{
		Hits:        n.hits,
		Misses:      n.misses,
		Entries:     n.entries.Len(),
		MemoryBytes: n.memory,
	}
}

// AllStats aggregates counters across every namespace.
func (c *Cache) AllStats() map[string]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make(map[string]Stats, len(c.namespaces))
	for name, n := range c.namespaces {
		stats[name] = Stats{
			Hits:        n.hits,
			Misses:      n.misses,
			Entries:     n.entries.Len(),
			MemoryBytes: n.memory,
		}
	}
	return stats
}

// TotalStats sums counters across namespaces.
func (c *Cache) TotalStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total Stats
	for _, n := range c.namespaces {
		total.Hits += n.hits
		total.Misses += n.misses
		total.Entries += n.entries.Len()
		total.MemoryBytes += n.memory
	}
	return total
}

// ClearAll drops every namespace, counters included. Operator reset path only.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.namespaces = make(map[string]*namespace)
}

// Sweep removes expired entries from every namespace and returns the number
// removed. Run periodically so stale namespaces release memory without
// waiting for a read.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, n := range c.namespaces {
		for _, fingerprint := range n.entries.Keys() {
			if e, ok := n.entries.Peek(fingerprint); ok && !now.Before(e.expiresAt()) {
				n.entries.Remove(fingerprint)
				removed++
			}
		}
	}
	return removed
}

// getOrCreate returns the namespace, creating it on first use.
// Caller must hold c.mu.
func (c *Cache) getOrCreate(name string) *namespace {
	if n, ok := c.namespaces[name]; ok {
		return n
	}

	n := &namespace{}
	// The eviction callback fires for capacity evictions and removals; memory
	// for replacements is reconciled in Set.
	entries, err := lru.NewWithEvict(c.maxEntries, func(_ string, e entry) {
		n.memory -= e.size
	})
	if err != nil {
		// Only reachable with a non-positive size, which New guards against.
		panic(err)
	}
	n.entries = entries
	c.namespaces[name] = n
	return n
}
