package imagecache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FSStore implements Store on the filesystem. Each entry is a payload
// file plus a metadata sidecar, written atomically via temp-file rename,
// under shard directories derived from the escaped key.
type FSStore struct {
	rootDir    string
	shardDepth int
	mu         sync.RWMutex
}

// NewFSStore creates a new filesystem-based cache store
func NewFSStore(rootDir string, shardDepth int) (*FSStore, error) {
	if shardDepth < 0 || shardDepth > 4 {
		shardDepth = 2
	}

	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FSStore{
		rootDir:    rootDir,
		shardDepth: shardDepth,
	}, nil
}

// Get retrieves a cached entry from the filesystem
func (fs *FSStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	metaPath := fs.metaPath(key)
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		return nil, false, nil
	}

	entry, err := fs.readMeta(metaPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read metadata: %w", err)
	}

	if entry.IsExpired() {
		fs.removeLocked(key)
		return nil, false, nil
	}

	payload, err := os.ReadFile(fs.dataPath(key))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache payload: %w", err)
	}

	entry.Payload = payload
	if k, err := ParseKey(entry.KeyString); err == nil {
		entry.Key = k
	}
	return entry, true, nil
}

// Put stores an entry on the filesystem
func (fs *FSStore) Put(ctx context.Context, entry *Entry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	key := entry.Key.String()
	entry.KeyString = key
	entry.Tier = TierPersistent
	entry.SizeBytes = int64(len(entry.Payload))

	dataPath := fs.dataPath(key)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Write payload to a temp file first so a reader never sees a
	// partially written entry
	tmpDataPath := dataPath + ".tmp"
	if err := os.WriteFile(tmpDataPath, entry.Payload, 0644); err != nil {
		return fmt.Errorf("failed to write cache payload: %w", err)
	}
	defer os.Remove(tmpDataPath)

	if err := fs.writeMeta(fs.metaPath(key), entry); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := os.Rename(tmpDataPath, dataPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Delete removes a cached entry from the filesystem
func (fs *FSStore) Delete(ctx context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.removeLocked(key)
	return nil
}

// Purge removes all entries matching the matcher
func (fs *FSStore) Purge(ctx context.Context, m Matcher) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	removed := 0
	err := filepath.Walk(fs.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}

		key, err := keyFromFilename(filepath.Base(path))
		if err != nil {
			return nil
		}
		if m.MatchString(key) {
			fs.removeLocked(key)
			removed++
		}
		return nil
	})

	return removed, err
}

// Keys lists summaries of all stored entries
func (fs *FSStore) Keys(ctx context.Context) ([]KeyInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var infos []KeyInfo
	err := filepath.Walk(fs.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}

		entry, err := fs.readMeta(path)
		if err != nil {
			return nil
		}
		infos = append(infos, KeyInfo{
			Key:       entry.KeyString,
			CreatedAt: entry.CreatedAt,
			SizeBytes: entry.SizeBytes,
			Expired:   entry.IsExpired(),
		})
		return nil
	})

	return infos, err
}

// Close cleanly shuts down the filesystem store
func (fs *FSStore) Close() error {
	return nil
}

// removeLocked deletes both files of an entry. Caller holds fs.mu.
func (fs *FSStore) removeLocked(key string) {
	os.Remove(fs.dataPath(key))
	os.Remove(fs.metaPath(key))
}

func (fs *FSStore) dataPath(key string) string {
	return fs.shardedPath(key, ".data")
}

func (fs *FSStore) metaPath(key string) string {
	return fs.shardedPath(key, ".meta")
}

// shardedPath maps a key to its on-disk location. The key is escaped to
// be filename-safe; the escaping is reversible so Purge and Keys can
// recover the original key from the filename.
func (fs *FSStore) shardedPath(key string, suffix string) string {
	name := url.QueryEscape(key)
	if fs.shardDepth == 0 {
		return filepath.Join(fs.rootDir, name+suffix)
	}

	var shardParts []string
	for i := 0; i < fs.shardDepth && i*2+2 <= len(name); i++ {
		shardParts = append(shardParts, name[i*2:i*2+2])
	}

	return filepath.Join(fs.rootDir, filepath.Join(shardParts...), name+suffix)
}

// keyFromFilename inverts the escaping applied by shardedPath
func keyFromFilename(name string) (string, error) {
	return url.QueryUnescape(strings.TrimSuffix(name, ".meta"))
}

// readMeta reads entry metadata from a sidecar file
func (fs *FSStore) readMeta(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// writeMeta writes entry metadata to a sidecar file
func (fs *FSStore) writeMeta(path string, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
