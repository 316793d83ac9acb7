package edgecache

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pixveil/pixveil/mod/imagecache"
	"github.com/pixveil/pixveil/mod/origin"
	"github.com/pixveil/pixveil/mod/transcoder"
)

const (
	// DefaultTTL is the edge-tier freshness window
	DefaultTTL = 24 * time.Hour

	// DefaultMaxEntries is the edge-tier entry budget
	DefaultMaxEntries = 100

	// EvictionSlack is the batch hysteresis margin: eviction removes
	// this many entries beyond the overage so a single insert does not
	// trigger an eviction pass every time
	EvictionSlack = 10

	// StatusSampleSize caps the sample list in a status report
	StatusSampleSize = 10

	// PreloadConcurrency bounds concurrent preload fetches
	PreloadConcurrency = 8
)

// Source tells an observer where a response came from
type Source string

const (
	SourceHit         Source = "HIT"
	SourceMiss        Source = "MISS"
	SourceProgressive Source = "PROGRESSIVE"
	SourceStale       Source = "STALE"
	SourceFallback    Source = "FALLBACK"
)

// Cache events reported through the OnEvent callback
const (
	EventHit      = "hit"
	EventMiss     = "miss"
	EventPut      = "put"
	EventFallback = "fallback"
)

// placeholderPayload is the fixed 1x1 transparent image served when the
// pipeline cannot produce anything better. Built once at startup.
var placeholderPayload = func() []byte {
	var buf bytes.Buffer
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

// Request describes one delivery request entering the edge tier
type Request struct {
	// Path is the variant path relative to the origin root
	Path string

	// Quality is the requested delivery tier
	Quality imagecache.Quality

	// MaxWidth overrides the tier's default width bound (0 = default)
	MaxWidth int

	// PreferWebP allows WebP output
	PreferWebP bool

	// Progressive allows serving a cached thumbnail while the requested
	// quality is filled in the background
	Progressive bool

	// ForceFresh bypasses the stored entry, used for freshly mutated
	// resources
	ForceFresh bool

	// Delivery carries the client context signals for the transcoder
	Delivery transcoder.DeliveryContext
}

// Response is what the edge tier hands back. There is always a payload;
// hard failures degrade to a stale entry or the placeholder.
type Response struct {
	Payload      []byte
	ContentType  string
	ETag         string
	Source       Source
	AgeSeconds   int64
	TTLRemaining time.Duration
}

// FillJob is a deferred fill of one cache slot
type FillJob struct {
	Key     imagecache.Key
	Opts    transcoder.Options
	Preload bool
}

// FillQueue schedules background fills and lets invalidation abort the
// ones still in flight
type FillQueue interface {
	Enqueue(job FillJob) error
	CancelMatching(m imagecache.Matcher) int
}

// OriginFetcher retrieves source images by origin id
type OriginFetcher interface {
	Fetch(ctx context.Context, originID string) (*origin.Image, error)
}

// EventFunc observes cache events (hit/miss/put/fallback)
type EventFunc func(originID string, event string, sizeBytes int64)

// Logger is the minimal logging surface the edge tier needs
type Logger interface {
	Printf(format string, v ...interface{})
}

// Config holds edge cache construction parameters
type Config struct {
	Store      imagecache.Store
	Memory     *imagecache.MemoryCache
	Fetcher    OriginFetcher
	Engine     *transcoder.Engine
	Queue      FillQueue
	TTL        time.Duration
	MaxEntries int
	OnEvent    EventFunc
	Logger     Logger
}

// EdgeCache is the persistent edge tier: it serves previously computed
// variants, deduplicates concurrent fills, enforces freshness and
// capacity, and degrades to stale bytes or a placeholder instead of
// surfacing pipeline failures.
type EdgeCache struct {
	store   imagecache.Store
	memory  *imagecache.MemoryCache
	fetcher OriginFetcher
	engine  *transcoder.Engine
	queue   FillQueue
	ttl     time.Duration
	max     int
	onEvent EventFunc
	logger  Logger

	fills singleflight.Group
}

// New creates an edge cache
func New(cfg Config) (*EdgeCache, error) {
	if cfg.Store == nil || cfg.Fetcher == nil || cfg.Engine == nil {
		return nil, fmt.Errorf("edgecache: store, fetcher and engine are required")
	}
	if cfg.Memory == nil {
		cfg.Memory = imagecache.NewMemoryCache(imagecache.DefaultLRUCapacity)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &EdgeCache{
		store:   cfg.Store,
		memory:  cfg.Memory,
		fetcher: cfg.Fetcher,
		engine:  cfg.Engine,
		queue:   cfg.Queue,
		ttl:     cfg.TTL,
		max:     cfg.MaxEntries,
		onEvent: cfg.OnEvent,
		logger:  cfg.Logger,
	}, nil
}

// SetQueue attaches the background fill queue after construction. The
// worker needs the cache for its fill function, so the two are wired in
// two steps.
func (c *EdgeCache) SetQueue(q FillQueue) {
	c.queue = q
}

// BuildKey derives the canonical cache key for a request
func (c *EdgeCache) BuildKey(req Request) (imagecache.Key, error) {
	originID, err := imagecache.DeriveOriginID(req.Path)
	if err != nil {
		return imagecache.Key{}, err
	}

	quality := req.Quality
	if quality == "" {
		quality = imagecache.QualityDesktop
	}

	width := req.MaxWidth
	if width == 0 {
		width = imagecache.DefaultWidths[quality]
	}

	format := imagecache.FormatJPEG
	if quality == imagecache.QualityOriginal {
		format = imagecache.FormatSource
	} else if req.PreferWebP && c.engine.WebPSupported() {
		format = imagecache.FormatWebP
	}

	key := imagecache.Key{
		OriginID: originID,
		Quality:  quality,
		MaxWidth: width,
		Format:   format,
	}
	if err := key.Validate(); err != nil {
		return imagecache.Key{}, err
	}
	return key, nil
}

// Get serves a request through the edge tier. The only error it returns
// is ErrInvalidRequest for malformed parameters; every pipeline failure
// is degraded to a stale entry or the placeholder payload.
func (c *EdgeCache) Get(ctx context.Context, req Request) (*Response, error) {
	key, err := c.BuildKey(req)
	if err != nil {
		return nil, err
	}
	ks := key.String()

	if !req.ForceFresh {
		if entry, ok, err := c.store.Get(ctx, ks); err == nil && ok {
			c.event(key.OriginID, EventHit, entry.SizeBytes)
			return c.respond(entry, SourceHit), nil
		} else if err != nil {
			c.logger.Printf("edge store read failed for %s: %v", ks, err)
		}
	}

	c.event(key.OriginID, EventMiss, 0)

	// Progressive delivery: hand back a cached thumbnail variant right
	// away and upgrade to the requested quality off the request path.
	// A forced-fresh read must never shortcut to pre-mutation bytes.
	if req.Progressive && !req.ForceFresh && key.Quality != imagecache.QualityThumbnail {
		if thumb := c.findThumbnail(ctx, key.OriginID); thumb != nil {
			c.scheduleFill(key, req)
			return c.respond(thumb, SourceProgressive), nil
		}
	}

	entry, err := c.fill(ctx, key, c.transcodeOptions(key, req))
	if err != nil {
		// A concurrent fill may have landed an entry in the meantime;
		// slightly stale beats broken
		if stale, ok, serr := c.store.Get(ctx, ks); serr == nil && ok {
			return c.respond(stale, SourceStale), nil
		}
		c.logger.Printf("fill failed for %s, serving placeholder: %v", ks, err)
		c.event(key.OriginID, EventFallback, 0)
		return &Response{
			Payload:     placeholderPayload,
			ContentType: "image/png",
			Source:      SourceFallback,
		}, nil
	}

	return c.respond(entry, SourceMiss), nil
}

// fill performs the miss path: fetch, transcode, cache in both tiers.
// Concurrent fills for the same key collapse into a single execution and
// all callers share its result.
func (c *EdgeCache) fill(ctx context.Context, key imagecache.Key, opts transcoder.Options) (*imagecache.Entry, error) {
	v, err, _ := c.fills.Do(key.String(), func() (interface{}, error) {
		// The LRU tier may still hold the transcoded payload even if
		// the edge entry expired or was evicted
		if payload, contentType, ok := c.memory.Get(key); ok {
			return c.storeEntry(ctx, key, payload, contentType)
		}

		claimed := c.memory.SetProcessing(key)
		if claimed {
			defer c.memory.ClearProcessing(key)
		}

		img, err := c.fetcher.Fetch(ctx, key.OriginID)
		if err != nil {
			return nil, err
		}

		payload, contentType := c.produce(ctx, key, img, opts)
		if claimed {
			c.memory.Put(key, payload, contentType)
		}
		return c.storeEntry(ctx, key, payload, contentType)
	})
	if err != nil {
		return nil, err
	}
	return v.(*imagecache.Entry), nil
}

// storeEntry writes a fresh entry into the edge tier and enforces the
// capacity budget before the caller returns
func (c *EdgeCache) storeEntry(ctx context.Context, key imagecache.Key, payload []byte, contentType string) (*imagecache.Entry, error) {
	now := time.Now()
	entry := &imagecache.Entry{
		Key:         key,
		Payload:     payload,
		ContentType: contentType,
		ETag:        fmt.Sprintf(`"%x-%x"`, now.UnixNano(), len(payload)),
		SizeBytes:   int64(len(payload)),
		CreatedAt:   now,
		TTL:         c.ttl,
	}

	if err := c.store.Put(ctx, entry); err != nil {
		return nil, err
	}
	c.event(key.OriginID, EventPut, entry.SizeBytes)

	if err := c.maintainCapacity(ctx); err != nil {
		c.logger.Printf("capacity maintenance failed: %v", err)
	}
	return entry, nil
}

// maintainCapacity evicts the oldest entries in one batch whenever the
// entry count exceeds the budget
func (c *EdgeCache) maintainCapacity(ctx context.Context) error {
	infos, err := c.store.Keys(ctx)
	if err != nil {
		return err
	}
	if len(infos) <= c.max {
		return nil
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})

	evict := len(infos) - c.max + EvictionSlack
	if evict > len(infos) {
		evict = len(infos)
	}
	for _, info := range infos[:evict] {
		if err := c.store.Delete(ctx, info.Key); err != nil {
			c.logger.Printf("failed to evict %s: %v", info.Key, err)
		}
	}
	return nil
}

// findThumbnail looks for any unexpired cached thumbnail variant of the
// origin id
func (c *EdgeCache) findThumbnail(ctx context.Context, originID string) *imagecache.Entry {
	infos, err := c.store.Keys(ctx)
	if err != nil {
		return nil
	}

	for _, info := range infos {
		if info.Expired {
			continue
		}
		k, err := imagecache.ParseKey(info.Key)
		if err != nil || k.OriginID != originID || k.Quality != imagecache.QualityThumbnail {
			continue
		}
		if entry, ok, err := c.store.Get(ctx, info.Key); err == nil && ok {
			return entry
		}
	}
	return nil
}

// scheduleFill enqueues a background upgrade fill; a full queue or a
// missing worker silently degrades to no upgrade
func (c *EdgeCache) scheduleFill(key imagecache.Key, req Request) {
	if c.queue == nil {
		return
	}
	if err := c.queue.Enqueue(FillJob{Key: key, Opts: c.transcodeOptions(key, req)}); err != nil {
		c.logger.Printf("failed to schedule fill for %s: %v", key.String(), err)
	}
}

// Fill performs one background fill job. It is executed by the fill
// worker and honors the in-flight marker: a fill already underway for the
// key means this one is redundant and skips.
func (c *EdgeCache) Fill(ctx context.Context, job FillJob) error {
	ks := job.Key.String()
	if _, ok, err := c.store.Get(ctx, ks); err == nil && ok {
		return nil
	}

	if !c.memory.SetProcessing(job.Key) {
		return nil
	}
	defer c.memory.ClearProcessing(job.Key)

	img, err := c.fetcher.Fetch(ctx, job.Key.OriginID)
	if err != nil {
		return err
	}

	payload, contentType := c.produce(ctx, job.Key, img, job.Opts)
	c.memory.Put(job.Key, payload, contentType)
	_, err = c.storeEntry(ctx, job.Key, payload, contentType)
	return err
}

// produce turns fetched source bytes into the payload for a key. An
// original-quality slot passes the source through untouched; everything
// else goes through the adaptive engine, which itself may decline and
// hand the source back.
func (c *EdgeCache) produce(ctx context.Context, key imagecache.Key, img *origin.Image, opts transcoder.Options) ([]byte, string) {
	if key.Format == imagecache.FormatSource {
		contentType := img.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return img.Payload, contentType
	}

	opts.ContentType = img.ContentType
	result := c.engine.Transcode(ctx, img.Payload, opts)
	if result.Err != nil {
		c.logger.Printf("serving original bytes for %s: %v", key.String(), result.Err)
	}
	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return result.Payload, contentType
}

// Invalidate removes every matching entry from both tiers and aborts
// matching in-flight background fills. It returns the number of edge-tier
// entries removed; invalidating the same pattern again reports zero.
func (c *EdgeCache) Invalidate(ctx context.Context, m imagecache.Matcher) (int, error) {
	if c.queue != nil {
		if n := c.queue.CancelMatching(m); n > 0 {
			c.logger.Printf("cancelled %d in-flight fills for pattern %q", n, m.Pattern)
		}
	}

	c.memory.Purge(m)

	return c.store.Purge(ctx, m)
}

// Status is the aggregate state report for the control channel
type Status struct {
	TotalEntries   int                  `json:"total_entries"`
	TotalSizeBytes int64                `json:"total_size_bytes"`
	ExpiredCount   int                  `json:"expired_count"`
	MemoryEntries  int                  `json:"memory_entries"`
	SampleEntries  []imagecache.KeyInfo `json:"sample_entries"`
}

// Status reports entry counts and sizes across the edge tier
func (c *EdgeCache) Status(ctx context.Context) (*Status, error) {
	infos, err := c.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		TotalEntries:  len(infos),
		MemoryEntries: c.memory.Len(),
		SampleEntries: make([]imagecache.KeyInfo, 0, StatusSampleSize),
	}
	for _, info := range infos {
		st.TotalSizeBytes += info.SizeBytes
		if info.Expired {
			st.ExpiredCount++
		}
		if len(st.SampleEntries) < StatusSampleSize {
			st.SampleEntries = append(st.SampleEntries, info)
		}
	}
	return st, nil
}

// PreloadResult reports one preload attempt
type PreloadResult struct {
	Path   string `json:"path"`
	Cached bool   `json:"cached"`
	Error  string `json:"error,omitempty"`
}

// Preload proactively fills entries for paths not already cached. All
// fetches run concurrently; an individual failure is recorded in its
// result and never fails the batch.
func (c *EdgeCache) Preload(ctx context.Context, paths []string) []PreloadResult {
	results := make([]PreloadResult, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(PreloadConcurrency)

	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			results[i] = c.preloadOne(ctx, p)
			return nil
		})
	}
	g.Wait()

	return results
}

func (c *EdgeCache) preloadOne(ctx context.Context, path string) PreloadResult {
	res := PreloadResult{Path: path}

	key, err := c.BuildKey(Request{Path: path, Quality: imagecache.QualityDesktop})
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if _, ok, err := c.store.Get(ctx, key.String()); err == nil && ok {
		res.Cached = true
		return res
	}

	if err := c.Fill(ctx, FillJob{Key: key, Opts: c.transcodeOptions(key, Request{}), Preload: true}); err != nil {
		c.logger.Printf("preload failed for %s: %v", path, err)
		res.Error = err.Error()
		return res
	}

	res.Cached = true
	return res
}

// transcodeOptions maps a request onto engine options
func (c *EdgeCache) transcodeOptions(key imagecache.Key, req Request) transcoder.Options {
	dc := req.Delivery
	if key.Quality == imagecache.QualityThumbnail {
		dc.Aggressive = true
	}
	return transcoder.Options{
		MaxWidth:   key.MaxWidth,
		PreferWebP: key.Format == imagecache.FormatWebP,
		Delivery:   dc,
	}
}

func (c *EdgeCache) respond(entry *imagecache.Entry, source Source) *Response {
	remaining := entry.TTL - time.Since(entry.CreatedAt)
	if remaining < 0 {
		remaining = 0
	}
	return &Response{
		Payload:      entry.Payload,
		ContentType:  entry.ContentType,
		ETag:         entry.ETag,
		Source:       source,
		AgeSeconds:   entry.Age(),
		TTLRemaining: remaining,
	}
}

func (c *EdgeCache) event(originID, event string, size int64) {
	if c.onEvent != nil {
		c.onEvent(originID, event, size)
	}
}
