package main

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pixveil/pixveil/mod/delivery"
	"github.com/pixveil/pixveil/mod/edgecache"
	"github.com/pixveil/pixveil/mod/fillworker"
	"github.com/pixveil/pixveil/mod/imagecache"
	"github.com/pixveil/pixveil/mod/origin"
	"github.com/pixveil/pixveil/mod/originstats"
	"github.com/pixveil/pixveil/mod/transcoder"
)

// Global cache service handles, constructed once at startup
var (
	SystemWideLogger *logrus.Logger

	edgeStore      imagecache.Store
	edgeCache      *edgecache.EdgeCache
	fillWorker     *fillworker.Worker
	fetchHandler   *delivery.Handler
	adminHandler   *delivery.AdminHandler
	statsCollector *originstats.Collector
	configuration  *Configuration
)

// initCacheSystem initializes the cache pipeline during startup
func initCacheSystem(configPath string) error {
	SystemWideLogger.Println("Initializing image delivery cache")

	config, err := LoadConfiguration(configPath)
	if err != nil {
		SystemWideLogger.Println("Failed to load configuration:", err)
		config = DefaultConfiguration()
	}
	configuration = config

	store, err := BuildStore(config)
	if err != nil {
		SystemWideLogger.Println("Failed to create cache store:", err)
		return err
	}
	edgeStore = store
	SystemWideLogger.Println("Cache backend:", config.Backend)

	fetcher, err := origin.NewFetcher(origin.Config{
		BaseURL:  config.OriginBaseURL,
		Timeout:  time.Duration(config.FetchTimeout) * time.Second,
		MaxBytes: config.MaxFetchBytes,
	})
	if err != nil {
		return err
	}

	statsCollector = originstats.NewCollector()

	edgeCache, err = edgecache.New(edgecache.Config{
		Store:      store,
		Memory:     imagecache.NewMemoryCache(config.MemoryCapacity),
		Fetcher:    fetcher,
		Engine:     transcoder.NewEngine(),
		TTL:        time.Duration(config.TTL) * time.Second,
		MaxEntries: config.MaxEntries,
		OnEvent:    handleCacheEvent,
		Logger:     SystemWideLogger,
	})
	if err != nil {
		return err
	}

	workerConfig := fillworker.DefaultConfig(edgeCache.Fill)
	workerConfig.QueueSize = config.Worker.QueueSize
	workerConfig.WorkerCount = config.Worker.WorkerCount
	workerConfig.JobTimeout = time.Duration(config.Worker.JobTimeout) * time.Second
	workerConfig.Logger = SystemWideLogger
	fillWorker = fillworker.NewWorker(workerConfig)
	fillWorker.Start()
	edgeCache.SetQueue(fillWorker)

	fetchHandler = delivery.NewHandler(edgeCache, config.PathPrefix)
	adminHandler = delivery.NewAdminHandler(edgeCache, config.AdminSecret)

	SystemWideLogger.Println("Cache system initialized (TTL:", config.TTL, "s, Max entries:", config.MaxEntries, ")")
	return nil
}

// handleCacheEvent feeds edge cache events into the stats collector
func handleCacheEvent(originID string, eventType string, size int64) {
	if statsCollector == nil {
		return
	}

	switch eventType {
	case edgecache.EventHit:
		statsCollector.RecordRequest(originID, true)
		statsCollector.RecordDelivery(originID, size)
	case edgecache.EventMiss:
		statsCollector.RecordRequest(originID, false)
	case edgecache.EventPut:
		statsCollector.RecordCacheData(originID, size, 1)
	case edgecache.EventFallback:
		statsCollector.RecordFallback(originID)
	}
}

// shutdownCacheSystem cleanly shuts down the cache pipeline
func shutdownCacheSystem() {
	SystemWideLogger.Println("Shutting down cache system")

	if fillWorker != nil {
		fillWorker.Stop()
	}

	if edgeStore != nil {
		edgeStore.Close()
	}

	SystemWideLogger.Println("Cache system shut down")
}
