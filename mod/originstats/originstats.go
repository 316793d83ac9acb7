package originstats

import (
	"strings"
	"sync"
	"time"
)

/*
	Origin Statistics Package

	Tracks per-origin-namespace delivery statistics:
	- Request counts and cache hit rate
	- Fallback (placeholder) responses
	- Bytes served from cache
*/

// OriginStatistics holds statistics for one origin namespace (the first
// path segment of the origin id, e.g. "posts" for "posts/u1/img.png")
type OriginStatistics struct {
	Namespace string `json:"namespace"`

	// Request counters
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	Fallbacks     int64   `json:"fallbacks"`
	CacheHitRate  float64 `json:"cache_hit_rate"` // Percentage

	// Cache statistics
	CachedObjects  int64 `json:"cached_objects"`
	CachedBytes    int64 `json:"cached_bytes"`
	BytesDelivered int64 `json:"bytes_delivered"`

	LastUpdated time.Time `json:"last_updated"`

	mu sync.RWMutex `json:"-"`
}

// Collector manages statistics for all origin namespaces. Statistics are
// process-lifetime, matching the memory tier's lifetime.
type Collector struct {
	stats map[string]*OriginStatistics
	mu    sync.RWMutex
}

// NewCollector creates a new origin statistics collector
func NewCollector() *Collector {
	return &Collector{
		stats: make(map[string]*OriginStatistics),
	}
}

// Namespace maps an origin id to its statistics bucket
func Namespace(originID string) string {
	if idx := strings.IndexByte(originID, '/'); idx > 0 {
		return originID[:idx]
	}
	return originID
}

func (c *Collector) bucket(originID string) *OriginStatistics {
	ns := Namespace(originID)

	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.stats[ns]
	if !exists {
		stats = &OriginStatistics{
			Namespace:   ns,
			LastUpdated: time.Now(),
		}
		c.stats[ns] = stats
	}
	return stats
}

// RecordRequest records a request outcome for an origin
func (c *Collector) RecordRequest(originID string, hit bool) {
	stats := c.bucket(originID)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	stats.TotalRequests++
	if hit {
		stats.CacheHits++
	} else {
		stats.CacheMisses++
	}

	if stats.TotalRequests > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalRequests) * 100.0
	}
	stats.LastUpdated = time.Now()
}

// RecordFallback records a placeholder response for an origin
func (c *Collector) RecordFallback(originID string) {
	stats := c.bucket(originID)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	stats.Fallbacks++
	stats.LastUpdated = time.Now()
}

// RecordCacheData records stored cache data for an origin
func (c *Collector) RecordCacheData(originID string, sizeDelta int64, objectsDelta int64) {
	stats := c.bucket(originID)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	stats.CachedBytes += sizeDelta
	stats.CachedObjects += objectsDelta
	stats.LastUpdated = time.Now()
}

// RecordDelivery records bytes served to a client
func (c *Collector) RecordDelivery(originID string, bytes int64) {
	stats := c.bucket(originID)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	stats.BytesDelivered += bytes
	stats.LastUpdated = time.Now()
}

// GetStats returns a copy of the statistics for one namespace
func (c *Collector) GetStats(namespace string) *OriginStatistics {
	c.mu.RLock()
	stats, exists := c.stats[namespace]
	c.mu.RUnlock()

	if !exists {
		return nil
	}

	stats.mu.RLock()
	defer stats.mu.RUnlock()

	statsCopy := *stats
	return &statsCopy
}

// GetAllStats returns copies of the statistics for every namespace
func (c *Collector) GetAllStats() map[string]*OriginStatistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*OriginStatistics, len(c.stats))
	for ns, stats := range c.stats {
		stats.mu.RLock()
		statsCopy := *stats
		stats.mu.RUnlock()
		result[ns] = &statsCopy
	}
	return result
}

// Reset clears the statistics for one namespace
func (c *Collector) Reset(namespace string) {
	c.mu.RLock()
	stats, exists := c.stats[namespace]
	c.mu.RUnlock()

	if !exists {
		return
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()

	stats.TotalRequests = 0
	stats.CacheHits = 0
	stats.CacheMisses = 0
	stats.Fallbacks = 0
	stats.CacheHitRate = 0
	stats.CachedObjects = 0
	stats.CachedBytes = 0
	stats.BytesDelivered = 0
	stats.LastUpdated = time.Now()
}
