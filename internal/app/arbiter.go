package app

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/okian/hiscore/internal/adapters/mq/queue"
	"github.com/okian/hiscore/internal/adapters/mq/worker"
	"github.com/okian/hiscore/internal/domain/arbiter"
	"github.com/okian/hiscore/internal/domain/dedupe"
	"github.com/okian/hiscore/internal/domain/model"
	"github.com/okian/hiscore/pkg/logger"
	"github.com/okian/hiscore/pkg/metrics"
)

// Workflow runs one arbitration.
type Workflow interface {
	Run(ctx context.Context, e model.DispatchEvent) (arbiter.Result, error)
}

// Arbiter hosts the arbitration workflow behind a dedupe filter, a bounded
// queue and a worker pool.
type Arbiter struct {
	mu sync.RWMutex

	workflow Workflow
	deduper  dedupe.Deduper
	queue    *queue.InMemoryQueue
	pool     *worker.Pool

	workerCount int
	queueSize   int
	dedupeSize  int

	duplicates atomic.Int64
	started    bool

	logger logger.Logger
}

// Option applies a configuration option to the Arbiter.
type Option func(*Arbiter)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(a *Arbiter) {
		if count > 0 {
			a.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(a *Arbiter) {
		if size > 0 {
			a.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(a *Arbiter) {
		if size > 0 {
			a.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the arbiter.
func WithLogger(l logger.Logger) Option {
	return func(a *Arbiter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewArbiter constructs an Arbiter with default configuration.
func NewArbiter(workflow Workflow, opts ...Option) *Arbiter {
	a := &Arbiter{
		workflow:    workflow,
		workerCount: runtime.NumCPU(),
		queueSize:   1024,
		dedupeSize:  10000,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(a.dedupeSize))
	return a
}

// Start creates the queue and starts the worker pool.
func (a *Arbiter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	a.queue = queue.NewInMemoryQueue(queue.WithCapacity(a.queueSize))
	a.pool = worker.NewPool(a.workerCount, a.queue, worker.ProcessorFunc(func(ctx context.Context, e worker.Event) error {
		a.queue.Len(ctx) // refreshes the queue size gauge
		_, err := a.Process(ctx, e)
		if err != nil {
			// Let a redelivery of the failed dispatch through.
			a.deduper.Unrecord(ctx, e.ID)
		}
		return err
	}), worker.WithLogger(a.logger))
	a.pool.Start(ctx)

	a.started = true
	a.logger.Info(ctx, "arbiter started",
		logger.Int("workers", a.workerCount),
		logger.Int("queueSize", a.queueSize),
		logger.Int("dedupeSize", a.dedupeSize),
	)
	return nil
}

// Stop closes the queue and waits for queued events to be processed.
func (a *Arbiter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	a.logger.Info(ctx, "stopping arbiter...")
	err := a.pool.Shutdown(ctx)
	a.started = false
	a.logger.Info(ctx, "arbiter stopped")
	return err
}

// Enqueue accepts e for asynchronous arbitration. Replays of a recently seen
// dispatch ID are dropped and still count as accepted, unless that dispatch
// failed. False means backpressure: the caller should redeliver later.
func (a *Arbiter) Enqueue(ctx context.Context, e model.DispatchEvent) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.started {
		return false
	}

	if a.deduper.SeenAndRecord(ctx, e.ID) {
		a.duplicates.Add(1)
		metrics.RecordDispatchDuplicate()
		a.logger.Debug(ctx, "duplicate dispatch dropped", logger.String("dispatch_id", e.ID))
		return true
	}

	if !a.queue.Enqueue(ctx, e) {
		a.deduper.Unrecord(ctx, e.ID)
		a.logger.Warn(ctx, "dispatch refused by queue", logger.String("dispatch_id", e.ID))
		return false
	}
	return true
}

// Process runs the workflow synchronously.
func (a *Arbiter) Process(ctx context.Context, e model.DispatchEvent) (arbiter.Result, error) {
	return a.workflow.Run(ctx, e)
}

// Stats is a point-in-time view for health reporting.
type Stats struct {
	Started       bool  `json:"started"`
	Workers       int   `json:"workers"`
	QueueLength   int   `json:"queueLength"`
	QueueCapacity int   `json:"queueCapacity"`
	Processed     int64 `json:"processed"`
	Failed        int64 `json:"failed"`
	Duplicates    int64 `json:"duplicates"`
	DedupeSize    int64 `json:"dedupeSize"`
}

// Stats returns arbiter statistics for monitoring.
func (a *Arbiter) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Stats{
		Started:       a.started,
		Workers:       a.workerCount,
		QueueCapacity: a.queueSize,
		Duplicates:    a.duplicates.Load(),
		DedupeSize:    a.deduper.Size(),
	}
	if a.queue != nil {
		s.QueueLength = a.queue.Len(context.Background())
	}
	if a.pool != nil {
		s.Processed = a.pool.Processed()
		s.Failed = a.pool.Failed()
	}
	return s
}
