package imagecache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemStore implements Store in process memory. Items are stored without a
// map-level TTL: freshness is enforced on read via Entry.IsExpired (an
// expired entry is deleted and reported as a miss), and expired entries
// stay visible to Keys until then so the status report can count them,
// matching the on-disk backends.
type MemStore struct {
	cache      *ttlcache.Cache[string, *Entry]
	defaultTTL time.Duration
}

// NewMemStore creates a new in-memory cache store
func NewMemStore(defaultTTL time.Duration) *MemStore {
	return &MemStore{
		cache:      ttlcache.New[string, *Entry](),
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a cached entry by key. An expired entry is collected and
// reported as a miss.
func (ms *MemStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	item := ms.cache.Get(key)
	if item == nil {
		return nil, false, nil
	}
	if item.Value().IsExpired() {
		ms.cache.Delete(key)
		return nil, false, nil
	}
	return item.Value(), true, nil
}

// Put stores an entry, replacing any previous entry for the same key.
// Replacement is delete+insert so the old payload is never mutated in
// place.
func (ms *MemStore) Put(ctx context.Context, entry *Entry) error {
	if entry.TTL <= 0 {
		entry.TTL = ms.defaultTTL
	}

	key := entry.Key.String()
	entry.KeyString = key
	entry.Tier = TierPersistent
	entry.SizeBytes = int64(len(entry.Payload))

	ms.cache.Delete(key)
	ms.cache.Set(key, entry, ttlcache.NoTTL)
	return nil
}

// Delete removes a cached entry by key
func (ms *MemStore) Delete(ctx context.Context, key string) error {
	ms.cache.Delete(key)
	return nil
}

// Purge removes all entries matching the matcher
func (ms *MemStore) Purge(ctx context.Context, m Matcher) (int, error) {
	var victims []string
	ms.cache.Range(func(item *ttlcache.Item[string, *Entry]) bool {
		if m.MatchString(item.Key()) {
			victims = append(victims, item.Key())
		}
		return true
	})

	for _, key := range victims {
		ms.cache.Delete(key)
	}
	return len(victims), nil
}

// Keys lists summaries of all stored entries
func (ms *MemStore) Keys(ctx context.Context) ([]KeyInfo, error) {
	infos := make([]KeyInfo, 0, ms.cache.Len())
	ms.cache.Range(func(item *ttlcache.Item[string, *Entry]) bool {
		e := item.Value()
		infos = append(infos, KeyInfo{
			Key:       item.Key(),
			CreatedAt: e.CreatedAt,
			SizeBytes: e.SizeBytes,
			Expired:   e.IsExpired(),
		})
		return true
	})
	return infos, nil
}

// Close releases the underlying map
func (ms *MemStore) Close() error {
	ms.cache.DeleteAll()
	return nil
}
