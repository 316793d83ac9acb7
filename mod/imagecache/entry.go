package imagecache

import (
	"context"
	"errors"
	"time"
)

// Taxonomy of failures in the delivery pipeline. Origin and decode
// failures are always recovered locally (stale entry, original bytes or
// the placeholder payload); only ErrInvalidRequest reaches a caller.
var (
	// ErrOriginUnavailable indicates the origin could not be fetched
	// (network failure, timeout or non-2xx status)
	ErrOriginUnavailable = errors.New("origin unavailable")

	// ErrDecodeFailed indicates the source bytes are not a decodable image
	ErrDecodeFailed = errors.New("image decode failed")

	// ErrInvalidRequest indicates malformed request parameters
	ErrInvalidRequest = errors.New("invalid request")
)

// Tier identifies which cache tier holds an entry. The in-process LRU
// tier stores raw payloads rather than entries, so every stored Entry is
// persistent-tier.
type Tier string

const (
	TierPersistent Tier = "persistent"
)

// Entry is one cached image variant. The payload is immutable once the
// entry is stored; replacing a variant is always delete+insert so a
// concurrent reader never observes a torn write.
type Entry struct {
	Key         Key           `json:"-"`
	KeyString   string        `json:"key"`
	Payload     []byte        `json:"-"`
	ContentType string        `json:"content_type"`
	ETag        string        `json:"etag"`
	SizeBytes   int64         `json:"size_bytes"`
	CreatedAt   time.Time     `json:"created_at"`
	TTL         time.Duration `json:"ttl"`
	Tier        Tier          `json:"tier"`
}

// IsExpired checks if the entry has outlived its TTL
func (e *Entry) IsExpired() bool {
	if e.TTL <= 0 {
		return false
	}
	return time.Since(e.CreatedAt) > e.TTL
}

// Age returns the entry age in seconds
func (e *Entry) Age() int64 {
	return int64(time.Since(e.CreatedAt).Seconds())
}

// KeyInfo is a lightweight per-entry summary used for capacity
// maintenance and status reporting without loading payloads
type KeyInfo struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	Expired   bool      `json:"expired"`
}

// Store is the persistent edge tier storage contract.
//
// Get must treat an expired entry as a miss and delete it. Put replaces
// any existing entry for the same key. Purge removes every entry whose key
// falls under the matcher and reports how many were removed.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)

	Put(ctx context.Context, entry *Entry) error

	Delete(ctx context.Context, key string) error

	Purge(ctx context.Context, m Matcher) (int, error)

	// Keys lists summaries of all stored entries, including ones that
	// have expired but not yet been collected
	Keys(ctx context.Context) ([]KeyInfo, error)

	Close() error
}
