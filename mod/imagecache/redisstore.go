package imagecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis. Payload and metadata live
// under paired keys so the metadata stays small enough to inspect with
// redis-cli while the payload remains opaque bytes.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxSize    int64
	defaultTTL time.Duration
}

// RedisStoreConfig holds configuration for the Redis store
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces all cache keys; changing it starts a fresh
	// cache generation without touching the old entries
	Prefix string

	// MaxSize caps a single cached payload (default 10MB)
	MaxSize int64

	// DefaultTTL applies when an entry carries no TTL of its own
	DefaultTTL time.Duration
}

// NewRedisStore creates a new Redis-based cache store
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 * 1024 * 1024
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "pixveil:cache:"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client:     client,
		prefix:     cfg.Prefix,
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
	}, nil
}

// Get retrieves a cached entry from Redis
func (rs *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	fullKey := rs.prefix + key

	pipe := rs.client.Pipeline()
	dataCmd := pipe.Get(ctx, fullKey+":data")
	metaCmd := pipe.Get(ctx, fullKey+":meta")

	_, err := pipe.Exec(ctx)
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get from Redis: %w", err)
	}

	metaBytes, err := metaCmd.Bytes()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get metadata: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(metaBytes, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	// Redis expires entries on its own, but the entry-level check keeps
	// the miss semantics identical across backends
	if entry.IsExpired() {
		rs.Delete(ctx, key)
		return nil, false, nil
	}

	entry.Payload, err = dataCmd.Bytes()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get payload: %w", err)
	}
	if k, err := ParseKey(entry.KeyString); err == nil {
		entry.Key = k
	}

	return &entry, true, nil
}

// Put stores an entry in Redis
func (rs *RedisStore) Put(ctx context.Context, entry *Entry) error {
	key := entry.Key.String()
	entry.KeyString = key
	entry.Tier = TierPersistent
	entry.SizeBytes = int64(len(entry.Payload))

	if entry.SizeBytes > rs.maxSize {
		return fmt.Errorf("cache entry exceeds maximum size: %d > %d", entry.SizeBytes, rs.maxSize)
	}

	metaBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	ttl := entry.TTL
	if ttl <= 0 {
		ttl = rs.defaultTTL
	}

	fullKey := rs.prefix + key
	pipe := rs.client.Pipeline()
	pipe.Set(ctx, fullKey+":data", entry.Payload, ttl)
	pipe.Set(ctx, fullKey+":meta", metaBytes, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store in Redis: %w", err)
	}

	return nil
}

// Delete removes a cached entry from Redis
func (rs *RedisStore) Delete(ctx context.Context, key string) error {
	fullKey := rs.prefix + key

	pipe := rs.client.Pipeline()
	pipe.Del(ctx, fullKey+":data")
	pipe.Del(ctx, fullKey+":meta")

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from Redis: %w", err)
	}

	return nil
}

// Purge removes all entries matching the matcher
func (rs *RedisStore) Purge(ctx context.Context, m Matcher) (int, error) {
	removed := 0
	err := rs.scanMeta(ctx, func(key string, _ []byte) error {
		if m.MatchString(key) {
			if err := rs.Delete(ctx, key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Keys lists summaries of all stored entries
func (rs *RedisStore) Keys(ctx context.Context) ([]KeyInfo, error) {
	var infos []KeyInfo
	err := rs.scanMeta(ctx, func(key string, metaBytes []byte) error {
		var entry Entry
		if err := json.Unmarshal(metaBytes, &entry); err != nil {
			return nil
		}
		infos = append(infos, KeyInfo{
			Key:       key,
			CreatedAt: entry.CreatedAt,
			SizeBytes: entry.SizeBytes,
			Expired:   entry.IsExpired(),
		})
		return nil
	})
	return infos, err
}

// scanMeta walks all metadata keys in the namespace and invokes fn with
// the cache key and raw metadata for each
func (rs *RedisStore) scanMeta(ctx context.Context, fn func(key string, meta []byte) error) error {
	pattern := rs.prefix + "*:meta"

	var cursor uint64
	for {
		keys, next, err := rs.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan Redis keys: %w", err)
		}

		for _, fullKey := range keys {
			key := fullKey[len(rs.prefix) : len(fullKey)-len(":meta")]

			metaBytes, err := rs.client.Get(ctx, fullKey).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to read metadata: %w", err)
			}

			if err := fn(key, metaBytes); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Close cleanly shuts down the Redis connection
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
