package fillworker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pixveil/pixveil/mod/edgecache"
	"github.com/pixveil/pixveil/mod/imagecache"
)

// FillFunc performs one fill job. Wired to EdgeCache.Fill.
type FillFunc func(ctx context.Context, job edgecache.FillJob) error

// Worker processes background fill jobs: progressive quality upgrades and
// preload inserts. Each running job has its own cancellable context so an
// invalidation can abort a fill mid-flight instead of racing it.
type Worker struct {
	queue       chan edgecache.FillJob
	fill        FillFunc
	workerCount int
	jobTimeout  time.Duration
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// Logger interface for worker logging
type Logger interface {
	Printf(format string, v ...interface{})
	Println(v ...interface{})
}

// defaultLogger is a simple logger that uses the standard log package
type defaultLogger struct{}

func (dl *defaultLogger) Printf(format string, v ...interface{}) {
	log.Printf(format, v...)
}

func (dl *defaultLogger) Println(v ...interface{}) {
	log.Println(v...)
}

// Config holds worker configuration
type Config struct {
	// Fill executes one job
	Fill FillFunc

	// QueueSize is the size of the job queue
	QueueSize int

	// WorkerCount is the number of concurrent workers
	WorkerCount int

	// JobTimeout bounds a single fill
	JobTimeout time.Duration

	// Logger for worker output
	Logger Logger
}

// DefaultConfig returns default worker configuration
func DefaultConfig(fill FillFunc) Config {
	return Config{
		Fill:        fill,
		QueueSize:   256,
		WorkerCount: 4,
		JobTimeout:  30 * time.Second,
		Logger:      &defaultLogger{},
	}
}

// NewWorker creates a new background fill worker
func NewWorker(config Config) *Worker {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = &defaultLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		queue:       make(chan edgecache.FillJob, config.QueueSize),
		fill:        config.Fill,
		workerCount: config.WorkerCount,
		jobTimeout:  config.JobTimeout,
		ctx:         ctx,
		cancel:      cancel,
		logger:      config.Logger,
		running:     make(map[string]context.CancelFunc),
	}
}

// Start starts the worker pool
func (w *Worker) Start() {
	w.logger.Printf("Starting %d background fill workers", w.workerCount)

	for i := 0; i < w.workerCount; i++ {
		w.wg.Add(1)
		go w.processJobs(i)
	}
}

// Stop stops the worker pool gracefully
func (w *Worker) Stop() {
	w.logger.Println("Stopping background fill workers")
	w.cancel()
	close(w.queue)
	w.wg.Wait()
	w.logger.Println("Background fill workers stopped")
}

// Enqueue adds a job to the queue (implements edgecache.FillQueue). A
// full queue drops the job: a missed upgrade only costs one slower
// request later.
func (w *Worker) Enqueue(job edgecache.FillJob) error {
	select {
	case w.queue <- job:
		return nil
	default:
		w.logger.Println("Fill queue is full, dropping job for key:", job.Key.String())
		return nil
	}
}

// CancelMatching aborts in-flight fills whose key falls under the
// matcher (implements edgecache.FillQueue). Returns how many were
// cancelled. Queued-but-unstarted matching jobs are cancelled when they
// start, via the same registry check the invalidation already cleared.
func (w *Worker) CancelMatching(m imagecache.Matcher) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cancelled := 0
	for ks, cancel := range w.running {
		if m.MatchString(ks) {
			cancel()
			cancelled++
		}
	}
	return cancelled
}

// processJobs processes jobs from the queue
func (w *Worker) processJobs(workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case job, ok := <-w.queue:
			if !ok {
				return
			}
			w.processJob(workerID, job)
		}
	}
}

// processJob runs a single fill with its own cancellable, bounded context
func (w *Worker) processJob(workerID int, job edgecache.FillJob) {
	ctx, cancel := context.WithTimeout(w.ctx, w.jobTimeout)
	defer cancel()

	ks := job.Key.String()
	w.mu.Lock()
	w.running[ks] = cancel
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.running, ks)
		w.mu.Unlock()
	}()

	if err := w.fill(ctx, job); err != nil {
		w.logger.Printf("Worker %d: fill failed for key %s: %v", workerID, ks, err)
		return
	}
}

// GetQueueSize returns the current queue size
func (w *Worker) GetQueueSize() int {
	return len(w.queue)
}

// GetQueueCapacity returns the queue capacity
func (w *Worker) GetQueueCapacity() int {
	return cap(w.queue)
}
