package imagecache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestMemStore_PutAndGet(t *testing.T) {
	store := NewMemStore(time.Hour)
	defer store.Close()

	ctx := context.Background()
	entry := testEntry("posts/u1/photo.png", QualityDesktop, time.Hour)

	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Failed to put entry: %v", err)
	}

	got, found, err := store.Get(ctx, entry.Key.String())
	if err != nil {
		t.Fatalf("Failed to get entry: %v", err)
	}
	if !found {
		t.Fatal("Expected entry to be found")
	}
	if !bytes.Equal(got.Payload, entry.Payload) {
		t.Errorf("Expected payload %s, got %s", entry.Payload, got.Payload)
	}
}

func TestMemStore_DefaultTTL(t *testing.T) {
	store := NewMemStore(50 * time.Millisecond)
	defer store.Close()

	ctx := context.Background()
	entry := testEntry("posts/u1/photo.png", QualityDesktop, 0)

	store.Put(ctx, entry)

	time.Sleep(100 * time.Millisecond)

	if _, found, _ := store.Get(ctx, entry.Key.String()); found {
		t.Fatal("Expected entry to expire under the default TTL")
	}
}

func TestMemStore_Replace(t *testing.T) {
	store := NewMemStore(time.Hour)
	defer store.Close()

	ctx := context.Background()
	first := testEntry("posts/u1/photo.png", QualityDesktop, time.Hour)
	store.Put(ctx, first)

	second := testEntry("posts/u1/photo.png", QualityDesktop, time.Hour)
	second.Payload = []byte("replacement")
	store.Put(ctx, second)

	got, found, _ := store.Get(ctx, second.Key.String())
	if !found {
		t.Fatal("Expected entry to be found")
	}
	if string(got.Payload) != "replacement" {
		t.Errorf("Expected replacement payload, got %s", got.Payload)
	}

	infos, _ := store.Keys(ctx)
	if len(infos) != 1 {
		t.Errorf("Expected 1 entry after replace, got %d", len(infos))
	}
}

func TestMemStore_ExpiredEntriesVisibleToKeys(t *testing.T) {
	store := NewMemStore(time.Hour)
	defer store.Close()

	ctx := context.Background()
	entry := testEntry("posts/u1/photo.png", QualityDesktop, 30*time.Millisecond)
	store.Put(ctx, entry)

	time.Sleep(60 * time.Millisecond)

	// An expired entry reads as a miss but stays listed until collected,
	// so the status report can count it like the on-disk backends do
	infos, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Failed to list keys: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("Expected expired entry still listed by Keys, got %d entries", len(infos))
	}
	if !infos[0].Expired {
		t.Error("Expected the listed entry to be flagged expired")
	}

	if _, found, _ := store.Get(ctx, entry.Key.String()); found {
		t.Fatal("Expected expired entry to read as a miss")
	}

	// The read collected it; Keys no longer lists it
	infos, _ = store.Keys(ctx)
	if len(infos) != 0 {
		t.Errorf("Expected 0 entries after collection, got %d", len(infos))
	}
}

func TestMemStore_PurgeIdempotent(t *testing.T) {
	store := NewMemStore(time.Hour)
	defer store.Close()

	ctx := context.Background()
	store.Put(ctx, testEntry("posts/u1/a.png", QualityDesktop, time.Hour))
	store.Put(ctx, testEntry("posts/u1/a.png", QualityThumbnail, time.Hour))
	store.Put(ctx, testEntry("posts/u2/b.png", QualityDesktop, time.Hour))

	m, err := NewMatcher("posts/u1", ScopePrefix)
	if err != nil {
		t.Fatalf("Failed to create matcher: %v", err)
	}

	removed, err := store.Purge(ctx, m)
	if err != nil {
		t.Fatalf("Failed to purge: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}

	removed, err = store.Purge(ctx, m)
	if err != nil {
		t.Fatalf("Failed to purge again: %v", err)
	}
	if removed != 0 {
		t.Errorf("Expected 0 removed on second purge, got %d", removed)
	}
}
