package attestation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carbon-scribe/mrv-registry/internal/metrics"
)

var (
	ErrQueueFull        = errors.New("anchor queue full")
	ErrDispatcherClosed = errors.New("anchor dispatcher closed")
)

// Job asks a worker to anchor one pending record.
type Job struct {
	RecordID    string
	ProjectID   string
	ValidatorID string
	Digest      string
	AnalyzedAt  time.Time
	EnqueuedAt  time.Time
}

// JobHandler anchors and reconciles one job.
type JobHandler func(ctx context.Context, job Job)

// Dispatcher runs anchoring jobs on a fixed number of workers fed by a
// bounded queue. Enqueue never blocks.
type Dispatcher struct {
	jobs    chan Job
	workers int
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// NewDispatcher creates a dispatcher with workers goroutines and room for
// queueSize waiting jobs.
func NewDispatcher(workers, queueSize int, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 3
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Dispatcher{
		jobs:    make(chan Job, queueSize),
		workers: workers,
		logger:  logger,
		metrics: m,
	}
}

// Start launches the workers. Jobs enqueued earlier are picked up.
func (d *Dispatcher) Start(ctx context.Context, handle JobHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	d.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		worker := i
		d.group.Go(func() error {
			for job := range d.jobs {
				d.metrics.SetQueueDepth(len(d.jobs))
				d.logger.Debug("Anchor job started",
					zap.Int("worker", worker),
					zap.String("record_id", job.RecordID))
				handle(ctx, job)
			}
			return nil
		})
	}
	d.logger.Info("Anchor dispatcher started", zap.Int("workers", d.workers), zap.Int("queue_size", cap(d.jobs)))
}

// Enqueue hands a job to the workers, failing fast when the queue is full.
func (d *Dispatcher) Enqueue(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- job:
		d.metrics.SetQueueDepth(len(d.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth is the number of jobs waiting for a worker.
func (d *Dispatcher) Depth() int {
	return len(d.jobs)
}

// Shutdown stops accepting jobs and waits for queued ones to finish. If ctx
// expires first, in-flight jobs are cancelled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	group, cancel := d.group, d.cancel
	d.mu.Unlock()

	if group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}
