package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pixveil/pixveil/mod/imagecache"
)

// Configuration holds the configuration for the image delivery cache
type Configuration struct {
	Listen string `json:"listen"`

	// OriginBaseURL is the upstream storage/CDN root source images are
	// fetched from
	OriginBaseURL string `json:"origin_base_url"`

	// PathPrefix is the URL prefix of the image fetch endpoint
	PathPrefix string `json:"path_prefix"`

	Backend string `json:"backend"` // "memory", "fs", "leveldb", "redis"

	// Filesystem backend settings
	FS struct {
		Root       string `json:"root"`
		ShardDepth int    `json:"shard_depth"`
	} `json:"fs"`

	// LevelDB backend settings
	LevelDB struct {
		Path       string `json:"path"`
		Generation string `json:"generation"`
	} `json:"leveldb"`

	// Redis backend settings
	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
	} `json:"redis"`

	// Cache settings
	TTL            int `json:"ttl"`             // Edge TTL in seconds
	MaxEntries     int `json:"max_entries"`     // Edge entry budget
	MemoryCapacity int `json:"memory_capacity"` // LRU tier entry budget

	// Origin fetch settings
	FetchTimeout  int   `json:"fetch_timeout"`   // Seconds
	MaxFetchBytes int64 `json:"max_fetch_bytes"` // Per-image cap

	// Background fill worker settings
	Worker struct {
		QueueSize   int `json:"queue_size"`
		WorkerCount int `json:"worker_count"`
		JobTimeout  int `json:"job_timeout"` // Seconds
	} `json:"worker"`

	// Admin secret for the control channel endpoints
	AdminSecret string `json:"admin_secret"`
}

// DefaultConfiguration returns the default configuration
func DefaultConfiguration() *Configuration {
	config := &Configuration{
		Listen:         ":8338",
		OriginBaseURL:  "http://localhost:9000",
		PathPrefix:     "/img/",
		Backend:        "memory",
		TTL:            86400, // 24h
		MaxEntries:     100,
		MemoryCapacity: imagecache.DefaultLRUCapacity,
		FetchTimeout:   10,
		MaxFetchBytes:  20 * 1024 * 1024,
	}

	config.FS.Root = "./cache"
	config.FS.ShardDepth = 2

	config.LevelDB.Path = "./cache.db"
	config.LevelDB.Generation = "g1"

	config.Worker.QueueSize = 256
	config.Worker.WorkerCount = 4
	config.Worker.JobTimeout = 30

	return config
}

// LoadConfiguration loads configuration from file, creating the default
// one on first run
func LoadConfiguration(path string) (*Configuration, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultConfiguration()
		if err := SaveConfiguration(config, path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfiguration()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfiguration saves configuration to file
func SaveConfiguration(config *Configuration, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// BuildStore creates the edge store from configuration
func BuildStore(config *Configuration) (imagecache.Store, error) {
	ttl := time.Duration(config.TTL) * time.Second

	switch config.Backend {
	case "memory", "":
		return imagecache.NewMemStore(ttl), nil

	case "fs":
		return imagecache.NewFSStore(config.FS.Root, config.FS.ShardDepth)

	case "leveldb":
		return imagecache.NewLevelDBStore(imagecache.LevelDBStoreConfig{
			Path:       config.LevelDB.Path,
			Generation: config.LevelDB.Generation,
			DefaultTTL: ttl,
		})

	case "redis":
		return imagecache.NewRedisStore(imagecache.RedisStoreConfig{
			Addr:       config.Redis.Addr,
			Password:   config.Redis.Password,
			DB:         config.Redis.DB,
			MaxSize:    config.MaxFetchBytes,
			DefaultTTL: ttl,
		})

	default:
		return nil, fmt.Errorf("unknown cache backend %q", config.Backend)
	}
}
