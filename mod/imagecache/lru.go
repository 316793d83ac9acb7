package imagecache

import (
	"sync"
)

// DefaultLRUCapacity is the fixed entry budget of the in-process tier
const DefaultLRUCapacity = 50

type lruEntry struct {
	payload     []byte
	contentType string
	format      Format
	lastAccess  uint64
}

// MemoryCache is the in-process LRU tier. It keeps transcoded payloads so
// an identical variant is never transcoded twice within one process
// lifetime, and carries the in-flight markers that deduplicate concurrent
// transcodes for the same key.
//
// There is no TTL at this tier; freshness is the edge tier's concern.
// Entries live until evicted by capacity pressure or process restart.
type MemoryCache struct {
	mu         sync.Mutex
	capacity   int
	entries    map[string]*lruEntry
	processing map[string]struct{}
	clock      uint64
}

// NewMemoryCache creates the LRU tier. A non-positive capacity falls back
// to DefaultLRUCapacity.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultLRUCapacity
	}
	return &MemoryCache{
		capacity:   capacity,
		entries:    make(map[string]*lruEntry),
		processing: make(map[string]struct{}),
	}
}

// Get returns the cached payload for a key. Every hit bumps the entry's
// access stamp, so eviction order is true LRU rather than insertion order.
func (mc *MemoryCache) Get(key Key) ([]byte, string, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	e, ok := mc.entries[key.String()]
	if !ok {
		return nil, "", false
	}
	mc.clock++
	e.lastAccess = mc.clock
	return e.payload, e.contentType, true
}

// Put stores a transcoded payload. When the cache is full the entry with
// the lowest access stamp is evicted first.
func (mc *MemoryCache) Put(key Key, payload []byte, contentType string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	ks := key.String()
	if _, exists := mc.entries[ks]; !exists && len(mc.entries) >= mc.capacity {
		mc.evictLRU()
	}

	mc.clock++
	mc.entries[ks] = &lruEntry{
		payload:     payload,
		contentType: contentType,
		format:      key.Format,
		lastAccess:  mc.clock,
	}
}

// evictLRU removes the least recently accessed entry. Caller holds mc.mu.
func (mc *MemoryCache) evictLRU() {
	var victim string
	var oldest uint64
	first := true
	for ks, e := range mc.entries {
		if first || e.lastAccess < oldest {
			victim = ks
			oldest = e.lastAccess
			first = false
		}
	}
	if !first {
		delete(mc.entries, victim)
	}
}

// Purge removes every entry whose key falls under the matcher and returns
// the number removed. In-flight markers for matching keys are cleared as
// well so an aborted fill cannot leave a key permanently locked.
func (mc *MemoryCache) Purge(m Matcher) int {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	removed := 0
	for ks := range mc.entries {
		if m.MatchString(ks) {
			delete(mc.entries, ks)
			removed++
		}
	}
	for ks := range mc.processing {
		if m.MatchString(ks) {
			delete(mc.processing, ks)
		}
	}
	return removed
}

// Len returns the current entry count
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.entries)
}

// IsProcessing reports whether a transcode for the key is underway
func (mc *MemoryCache) IsProcessing(key Key) bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	_, ok := mc.processing[key.String()]
	return ok
}

// SetProcessing marks a transcode as in flight. It returns false if the
// key was already marked, so a caller can atomically check-and-claim.
func (mc *MemoryCache) SetProcessing(key Key) bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	ks := key.String()
	if _, ok := mc.processing[ks]; ok {
		return false
	}
	mc.processing[ks] = struct{}{}
	return true
}

// ClearProcessing removes the in-flight marker. Callers must clear on
// every exit path, success or failure, or the key silently stops caching.
func (mc *MemoryCache) ClearProcessing(key Key) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.processing, key.String())
}
