package imagecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore implements Store on an embedded LevelDB database. Keys are
// namespaced by a cache generation so a format change can start fresh by
// bumping the generation instead of wiping the database. Payload and
// metadata live under paired records, mirroring the Redis layout.
type LevelDBStore struct {
	db         *leveldb.DB
	generation string
	defaultTTL time.Duration
}

// LevelDBStoreConfig holds configuration for the LevelDB store
type LevelDBStoreConfig struct {
	// Path is the on-disk database directory
	Path string

	// Generation namespaces all keys (default "g1")
	Generation string

	// DefaultTTL applies when an entry carries no TTL of its own
	DefaultTTL time.Duration
}

// NewLevelDBStore opens (or creates) a LevelDB-backed cache store
func NewLevelDBStore(cfg LevelDBStoreConfig) (*LevelDBStore, error) {
	if cfg.Generation == "" {
		cfg.Generation = "g1"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}

	db, err := leveldb.OpenFile(cfg.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}

	return &LevelDBStore{
		db:         db,
		generation: cfg.Generation,
		defaultTTL: cfg.DefaultTTL,
	}, nil
}

func (ls *LevelDBStore) metaKey(key string) []byte {
	return []byte(ls.generation + "/" + key + ":meta")
}

func (ls *LevelDBStore) dataKey(key string) []byte {
	return []byte(ls.generation + "/" + key + ":data")
}

// Get retrieves a cached entry
func (ls *LevelDBStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	metaBytes, err := ls.db.Get(ls.metaKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read metadata: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(metaBytes, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	if entry.IsExpired() {
		ls.Delete(ctx, key)
		return nil, false, nil
	}

	entry.Payload, err = ls.db.Get(ls.dataKey(key), nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read payload: %w", err)
	}
	if k, err := ParseKey(entry.KeyString); err == nil {
		entry.Key = k
	}

	return &entry, true, nil
}

// Put stores an entry. Both records go in one batch so a reader never
// sees metadata without its payload.
func (ls *LevelDBStore) Put(ctx context.Context, entry *Entry) error {
	key := entry.Key.String()
	entry.KeyString = key
	entry.Tier = TierPersistent
	entry.SizeBytes = int64(len(entry.Payload))
	if entry.TTL <= 0 {
		entry.TTL = ls.defaultTTL
	}

	metaBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(ls.dataKey(key), entry.Payload)
	batch.Put(ls.metaKey(key), metaBytes)

	if err := ls.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write to leveldb: %w", err)
	}
	return nil
}

// Delete removes a cached entry
func (ls *LevelDBStore) Delete(ctx context.Context, key string) error {
	batch := new(leveldb.Batch)
	batch.Delete(ls.dataKey(key))
	batch.Delete(ls.metaKey(key))

	if err := ls.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to delete from leveldb: %w", err)
	}
	return nil
}

// Purge removes all entries matching the matcher
func (ls *LevelDBStore) Purge(ctx context.Context, m Matcher) (int, error) {
	removed := 0
	err := ls.scanMeta(func(key string, _ []byte) error {
		if m.MatchString(key) {
			if err := ls.Delete(ctx, key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Keys lists summaries of all stored entries
func (ls *LevelDBStore) Keys(ctx context.Context) ([]KeyInfo, error) {
	var infos []KeyInfo
	err := ls.scanMeta(func(key string, metaBytes []byte) error {
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

// scanMeta iterates all metadata records of the current generation
func (ls *LevelDBStore) scanMeta(fn func(key string, meta []byte) error) error {
	prefix := ls.generation + "/"
	iter := ls.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		record := string(iter.Key())
		if !strings.HasSuffix(record, ":meta") {
			continue
		}
		key := record[len(prefix) : len(record)-len(":meta")]

		meta := make([]byte, len(iter.Value()))
		copy(meta, iter.Value())

		if err := fn(key, meta); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close cleanly shuts down the database
func (ls *LevelDBStore) Close() error {
	return ls.db.Close()
}
