package originstats

import (
	"sync"
	"testing"
)

func TestNamespace(t *testing.T) {
	tests := []struct {
		originID string
		want     string
	}{
		{"posts/u1/photo.png", "posts"},
		{"avatars/x.jpg", "avatars"},
		{"toplevel.png", "toplevel.png"},
		{"/odd", "/odd"},
	}

	for _, tt := range tests {
		if got := Namespace(tt.originID); got != tt.want {
			t.Errorf("Namespace(%q) = %q, want %q", tt.originID, got, tt.want)
		}
	}
}

func TestCollectorRecordRequest(t *testing.T) {
	collector := NewCollector()

	// 3 hits and 1 miss in one namespace
	collector.RecordRequest("posts/u1/a.png", true)
	collector.RecordRequest("posts/u1/b.png", true)
	collector.RecordRequest("posts/u2/c.png", true)
	collector.RecordRequest("posts/u2/d.png", false)

	stats := collector.GetStats("posts")
	if stats == nil {
		t.Fatal("Expected statistics for posts namespace")
	}
	if stats.TotalRequests != 4 {
		t.Errorf("Expected 4 total requests, got %d", stats.TotalRequests)
	}
	if stats.CacheHits != 3 {
		t.Errorf("Expected 3 cache hits, got %d", stats.CacheHits)
	}
	if stats.CacheMisses != 1 {
		t.Errorf("Expected 1 cache miss, got %d", stats.CacheMisses)
	}
	if stats.CacheHitRate != 75.0 {
		t.Errorf("Expected cache hit rate 75.0, got %f", stats.CacheHitRate)
	}
}

func TestCollectorSeparatesNamespaces(t *testing.T) {
	collector := NewCollector()

	collector.RecordRequest("posts/a.png", true)
	collector.RecordRequest("avatars/b.png", false)

	all := collector.GetAllStats()
	if len(all) != 2 {
		t.Fatalf("Expected 2 namespaces, got %d", len(all))
	}
	if all["posts"].CacheHits != 1 {
		t.Errorf("Expected 1 hit for posts, got %d", all["posts"].CacheHits)
	}
	if all["avatars"].CacheMisses != 1 {
		t.Errorf("Expected 1 miss for avatars, got %d", all["avatars"].CacheMisses)
	}
}

func TestCollectorRecordFallback(t *testing.T) {
	collector := NewCollector()

	collector.RecordFallback("posts/a.png")
	collector.RecordFallback("posts/b.png")

	stats := collector.GetStats("posts")
	if stats == nil || stats.Fallbacks != 2 {
		t.Errorf("Expected 2 fallbacks, got %+v", stats)
	}
}

func TestCollectorRecordCacheData(t *testing.T) {
	collector := NewCollector()

	collector.RecordCacheData("posts/a.png", 2048, 1)
	collector.RecordCacheData("posts/b.png", 4096, 1)
	collector.RecordDelivery("posts/a.png", 2048)

	stats := collector.GetStats("posts")
	if stats.CachedBytes != 6144 {
		t.Errorf("Expected 6144 cached bytes, got %d", stats.CachedBytes)
	}
	if stats.CachedObjects != 2 {
		t.Errorf("Expected 2 cached objects, got %d", stats.CachedObjects)
	}
	if stats.BytesDelivered != 2048 {
		t.Errorf("Expected 2048 bytes delivered, got %d", stats.BytesDelivered)
	}
}

func TestCollectorGetStatsReturnsCopy(t *testing.T) {
	collector := NewCollector()
	collector.RecordRequest("posts/a.png", true)

	snapshot := collector.GetStats("posts")
	collector.RecordRequest("posts/b.png", true)

	// The snapshot must not move with later updates
	if snapshot.TotalRequests != 1 {
		t.Errorf("Expected snapshot to stay at 1 request, got %d", snapshot.TotalRequests)
	}
}

func TestCollectorReset(t *testing.T) {
	collector := NewCollector()

	collector.RecordRequest("posts/a.png", true)
	collector.RecordFallback("posts/a.png")
	collector.RecordCacheData("posts/a.png", 1024, 1)

	collector.Reset("posts")

	stats := collector.GetStats("posts")
	if stats == nil {
		t.Fatal("Expected the namespace to survive a reset")
	}
	if stats.TotalRequests != 0 || stats.Fallbacks != 0 || stats.CachedBytes != 0 {
		t.Errorf("Expected zeroed statistics, got %+v", stats)
	}

	// Resetting an unknown namespace is a no-op
	collector.Reset("unknown")
}

func TestCollectorConcurrentAccess(t *testing.T) {
	collector := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				collector.RecordRequest("posts/a.png", j%2 == 0)
				collector.GetStats("posts")
				collector.GetAllStats()
			}
		}()
	}
	wg.Wait()

	stats := collector.GetStats("posts")
	if stats.TotalRequests != 1000 {
		t.Errorf("Expected 1000 total requests, got %d", stats.TotalRequests)
	}
}
