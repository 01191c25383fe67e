package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gmicheli/driftwatch/internal/logger"
	"github.com/gmicheli/driftwatch/pkg/eventstore"
)

// ErrQueueFull is returned when a job could not be enqueued within the
// enqueue timeout. The producer counts it and moves on; the queue never
// grows unboundedly.
var ErrQueueFull = errors.New("dispatch queue full")

const (
	// DefaultQueueSize bounds the job queue.
	DefaultQueueSize = 1000

	// DefaultEnqueueTimeout is how long a producer blocks on a full queue
	// before the job is dropped.
	DefaultEnqueueTimeout = 5 * time.Second

	// DefaultMaxRetries bounds per-job retry attempts.
	DefaultMaxRetries = 3

	// DefaultRetryBase is the first retry delay; it doubles per attempt.
	DefaultRetryBase = 30 * time.Second

	// maxRetryDelay caps the backoff growth.
	maxRetryDelay = 5 * time.Minute
)

// Options configures a Pool.
type Options struct {
	// Workers is the pool size. Zero means one worker per CPU.
	Workers int

	// QueueSize bounds the queue. Zero means DefaultQueueSize.
	QueueSize int

	// EnqueueTimeout overrides DefaultEnqueueTimeout.
	EnqueueTimeout time.Duration

	// MaxRetries overrides DefaultMaxRetries.
	MaxRetries int

	// RetryBase overrides DefaultRetryBase. Tests shrink it.
	RetryBase time.Duration

	// Metrics receives observations; nil disables collection.
	Metrics Metrics
}

// Pool is the shared dispatch worker pool. One pool serves all storage
// roots.
type Pool struct {
	catalog Catalog
	store   eventstore.Store
	metrics Metrics

	queue          chan Job
	workers        int
	enqueueTimeout time.Duration
	maxRetries     int
	retryBase      time.Duration

	dropped atomic.Uint64

	// workCtx outlives the context Start was given so queued jobs still
	// settle during a graceful shutdown. Close cancels it when the drain
	// grace period expires.
	workCtx  context.Context
	stopWork context.CancelFunc

	// mu serializes channel close against in-flight sends: senders hold
	// the read side for the whole send, Close takes the write side before
	// closing the queue.
	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	timers sync.WaitGroup
}

// NewPool builds a pool settling events in store and reporting outcomes to
// catalog.
func NewPool(catalog Catalog, store eventstore.Store, opts Options) *Pool {
	p := &Pool{
		catalog:        catalog,
		store:          store,
		metrics:        opts.Metrics,
		workers:        opts.Workers,
		enqueueTimeout: opts.EnqueueTimeout,
		maxRetries:     opts.MaxRetries,
		retryBase:      opts.RetryBase,
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}
	if p.workers <= 0 {
		p.workers = runtime.NumCPU()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	p.queue = make(chan Job, size)
	if p.enqueueTimeout <= 0 {
		p.enqueueTimeout = DefaultEnqueueTimeout
	}
	if p.maxRetries <= 0 {
		p.maxRetries = DefaultMaxRetries
	}
	if p.retryBase <= 0 {
		p.retryBase = DefaultRetryBase
	}
	return p
}

// Start launches the workers. Workers run detached from ctx cancellation:
// a shutdown closes the queue and the remaining jobs are still processed.
// In-flight protocol calls are aborted only when Close's drain grace
// period expires.
func (p *Pool) Start(ctx context.Context) {
	p.workCtx, p.stopWork = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.queue {
				p.metrics.QueueDepth(len(p.queue))
				p.process(p.workCtx, job)
			}
		}()
	}
	logger.Info("Dispatch pool started (%d workers, queue %d)", p.workers, cap(p.queue))
}

// Enqueue submits a job, blocking up to the enqueue timeout when the queue
// is full. Returns ErrQueueFull on timeout; the drop is counted.
func (p *Pool) Enqueue(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("enqueue %s: pool closed", job.Kind)
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()
	select {
	case p.queue <- job:
		p.metrics.QueueDepth(len(p.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		p.dropped.Add(1)
		p.metrics.JobDropped(job.Kind)
		logger.Warn("Dispatch queue full, dropped %s for %s", job.Kind, job.targetPath())
		return ErrQueueFull
	}
}

// Dropped returns how many jobs were dropped at enqueue.
func (p *Pool) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops accepting jobs and drains the queue. Retry timers still
// pending are waited out only until the context's grace period expires.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if p.stopWork != nil {
			p.stopWork()
		}
		return nil
	case <-ctx.Done():
		// Grace period over: abort whatever the workers are still doing.
		if p.stopWork != nil {
			p.stopWork()
		}
		return fmt.Errorf("dispatch drain: %w", ctx.Err())
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	var err error
	switch job.Kind {
	case KindMove:
		err = p.processMove(ctx, job)
	case KindCreate:
		err = p.catalog.CreateEntry(ctx, job.Identifier, job.Path)
	case KindDelete:
		err = p.catalog.RemoveEntry(ctx, job.Identifier, job.Path)
	}
	if err == nil {
		p.metrics.JobProcessed(job.Kind)
		return
	}

	job.attempt++
	if job.attempt < p.maxRetries {
		delay := p.retryDelay(job.attempt)
		logger.Warn("%s for %s failed (attempt %d/%d), retrying in %s: %v",
			job.Kind, job.targetPath(), job.attempt, p.maxRetries, delay, err)
		p.metrics.JobRetried(job.Kind)
		p.scheduleRetry(job, delay)
		return
	}

	// Terminal: surfaced via the event store and statistics, never
	// silently discarded.
	p.metrics.JobFailed(job.Kind)
	logger.Error("%s for %s failed terminally after %d attempts: %v",
		job.Kind, job.targetPath(), job.attempt, err)
	if job.Kind == KindMove && job.EventID != 0 {
		if serr := p.store.SetStatus(context.WithoutCancel(ctx), job.EventID, eventstore.StatusFailed); serr != nil {
			logger.Error("Mark event %d failed: %v", job.EventID, serr)
		}
	}
}

func (p *Pool) processMove(ctx context.Context, job Job) error {
	if !job.SkipPhysical {
		if err := job.Handler.PerformMove(ctx, job.FS, job.OldPath, job.NewPath, job.IsDirectory); err != nil {
			return fmt.Errorf("perform move: %w", err)
		}
	}
	if err := job.Handler.ValidateMove(ctx, job.FS, job.OldPath, job.NewPath); err != nil {
		return fmt.Errorf("validate move: %w", err)
	}

	if err := p.catalog.UpdatePath(ctx, job.Identifier, job.OldPath, job.NewPath); err != nil {
		return fmt.Errorf("catalog update: %w", err)
	}
	// One handler call covered the whole subtree; the catalog still needs
	// each child's new path.
	for _, child := range job.Children {
		if err := p.catalog.UpdatePath(ctx, job.Identifier, child.OldPath, child.NewPath); err != nil {
			return fmt.Errorf("catalog update child %s: %w", child.OldPath, err)
		}
	}

	if job.EventID != 0 {
		if err := p.store.SetStatus(ctx, job.EventID, eventstore.StatusProcessed); err != nil {
			return fmt.Errorf("settle event %d: %w", job.EventID, err)
		}
	}
	return nil
}

func (p *Pool) retryDelay(attempt int) time.Duration {
	delay := p.retryBase << (attempt - 1)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (p *Pool) scheduleRetry(job Job, delay time.Duration) {
	p.timers.Add(1)
	time.AfterFunc(delay, func() {
		defer p.timers.Done()
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.closed {
			return
		}
		select {
		case p.queue <- job:
		default:
			p.dropped.Add(1)
			p.metrics.JobDropped(job.Kind)
			logger.Warn("Dispatch queue full, dropped retry of %s for %s", job.Kind, job.targetPath())
		}
	})
}

func (j Job) targetPath() string {
	if j.Kind == KindMove {
		return j.NewPath
	}
	return j.Path
}
