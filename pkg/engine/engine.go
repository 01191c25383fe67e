// Package engine wires storage roots, the rename tracker, the dispatch pool
// and the resilience controllers into one runnable change-tracking engine.
//
// Architecture:
// Each storage root gets an event source (OS notifications for local roots,
// listing diffs for everything else), a debounce stage and a resilience
// controller. All roots share one tracker, one dispatch pool, one event
// store and one catalog collaborator.
//
// Lifecycle:
//  1. Creation: New() with the catalog, the event store and a registry of roots
//  2. Startup: Serve() starts all roots and blocks until the context is cancelled
//  3. Shutdown: sources stop first, then the tracker, then the pool drains
//
// Thread safety:
// Engine is safe for concurrent use. Serve() must only be called once.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gmicheli/driftwatch/internal/logger"
	"github.com/gmicheli/driftwatch/pkg/dispatch"
	"github.com/gmicheli/driftwatch/pkg/eventstore"
	"github.com/gmicheli/driftwatch/pkg/protocol"
	"github.com/gmicheli/driftwatch/pkg/registry"
	"github.com/gmicheli/driftwatch/pkg/resilience"
	"github.com/gmicheli/driftwatch/pkg/tracker"
	"github.com/gmicheli/driftwatch/pkg/watch"
)

// ResilienceOptions tunes the per-root circuit breakers.
type ResilienceOptions struct {
	MaxFailures  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	ProbeTimeout time.Duration
	CacheEntries int
}

// Options configures an Engine. Zero values take component defaults.
type Options struct {
	// Dispatch pool tuning.
	QueueSize      int
	Workers        int
	EnqueueTimeout time.Duration
	MaxRetries     int
	RetryBase      time.Duration

	// DebounceWindow coalesces rapid successive modifies per root.
	DebounceWindow time.Duration

	// DefaultPollInterval is used by polling roots that set none.
	DefaultPollInterval time.Duration

	// ShutdownTimeout bounds the dispatch drain during shutdown.
	ShutdownTimeout time.Duration

	// Resilience tunes the per-root breakers and offline caches.
	Resilience ResilienceOptions

	// Metrics collectors. Nil values disable collection.
	TrackerMetrics  tracker.Metrics
	DispatchMetrics dispatch.Metrics
	WatchMetrics    watch.Metrics
	BreakerMetrics  resilience.Metrics
}

// Engine is the change-tracking engine for a set of storage roots.
type Engine struct {
	registry *registry.Registry
	store    eventstore.Store
	tracker  *tracker.Tracker
	pool     *dispatch.Pool
	opts     Options

	mu      sync.RWMutex
	runners map[string]*runner

	serveOnce sync.Once
}

// New creates an engine over the roots in reg, reporting outcomes to
// catalog and persisting rename events in store.
//
// Panics if catalog or store is nil.
func New(catalog dispatch.Catalog, store eventstore.Store, reg *registry.Registry, opts Options) *Engine {
	if catalog == nil {
		panic("catalog cannot be nil")
	}
	if store == nil {
		panic("event store cannot be nil")
	}

	e := &Engine{
		registry: reg,
		store:    store,
		opts:     opts,
		runners:  make(map[string]*runner),
	}
	e.tracker = tracker.New(store, tracker.Options{
		OnExpire: e.expire,
		Metrics:  opts.TrackerMetrics,
	})
	e.pool = dispatch.NewPool(catalog, store, dispatch.Options{
		Workers:        opts.Workers,
		QueueSize:      opts.QueueSize,
		EnqueueTimeout: opts.EnqueueTimeout,
		MaxRetries:     opts.MaxRetries,
		RetryBase:      opts.RetryBase,
		Metrics:        opts.DispatchMetrics,
	})
	if opts.DefaultPollInterval <= 0 {
		e.opts.DefaultPollInterval = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		e.opts.ShutdownTimeout = 30 * time.Second
	}
	return e
}

// Serve starts all storage roots and blocks until the context is cancelled.
//
// On cancellation the engine shuts down in order: event sources stop and
// flush their debouncers, the tracker stops sweeping, then the dispatch
// pool drains in-flight jobs. Returns context.Canceled after a graceful
// shutdown.
//
// Panics if called more than once.
func (e *Engine) Serve(ctx context.Context) error {
	var err error
	called := false
	e.serveOnce.Do(func() {
		called = true
		err = e.serve(ctx)
	})
	if !called {
		panic("Serve() has already been called on this engine instance")
	}
	return err
}

func (e *Engine) serve(ctx context.Context) error {
	roots := e.registry.Roots()
	if len(roots) == 0 {
		return fmt.Errorf("no storage roots registered")
	}
	logger.Info("Starting engine with %d storage root(s)", len(roots))

	e.pool.Start(ctx)
	e.tracker.Start(ctx)

	var wg sync.WaitGroup
	for _, root := range roots {
		r := newRunner(e, root)

		controller := resilience.NewController(root.Name, root.Client, resilience.ControllerOptions{
			Breaker: resilience.BreakerOptions{
				MaxFailures: e.opts.Resilience.MaxFailures,
				BaseBackoff: e.opts.Resilience.BaseBackoff,
				MaxBackoff:  e.opts.Resilience.MaxBackoff,
			},
			CacheEntries: e.opts.Resilience.CacheEntries,
			ProbeTimeout: e.opts.Resilience.ProbeTimeout,
			OnRecovered:  r.reconcile,
			Metrics:      e.opts.BreakerMetrics,
		})
		root.Controller = controller
		r.controller = controller

		// Each root gets its own cancellable context so StopRoot can tear
		// one down without touching the others. The stop hook is in place
		// before the runner becomes visible.
		rctx, rcancel := context.WithCancel(ctx)
		r.stop = rcancel

		e.mu.Lock()
		e.runners[root.Name] = r
		e.mu.Unlock()

		var rwg sync.WaitGroup
		rwg.Add(2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			defer rwg.Done()
			controller.Run(rctx)
		}()
		go func() {
			defer wg.Done()
			defer rwg.Done()
			r.run(rctx)
		}()
		go func() {
			rwg.Wait()
			close(r.done)
		}()
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received (reason: %v)", ctx.Err())

	// Sources and controllers exit on the cancelled context.
	wg.Wait()

	e.tracker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.opts.ShutdownTimeout)
	defer cancel()
	if err := e.pool.Close(shutdownCtx); err != nil {
		logger.Warn("Dispatch pool close: %v", err)
	}

	// The caller owns the event store and closes it after Serve returns.
	logger.Info("Engine stopped")
	return ctx.Err()
}

// expire turns a pending move whose window closed into true deletes: one
// for the entry and one per snapshotted child.
func (e *Engine) expire(p *tracker.PendingMove) {
	ctx := context.Background()
	for _, child := range p.Children {
		e.enqueue(ctx, dispatch.Job{
			Kind:       dispatch.KindDelete,
			Identifier: child.Identifier,
			Path:       child.OldPath,
		})
	}
	e.enqueue(ctx, dispatch.Job{
		Kind:       dispatch.KindDelete,
		Identifier: p.Identifier,
		Path:       p.OldPath,
	})
}

func (e *Engine) enqueue(ctx context.Context, job dispatch.Job) {
	if err := e.pool.Enqueue(ctx, job); err != nil {
		logger.Warn("Enqueue %s for %s: %v", job.Kind, job.Path, err)
	}
}

// TrackDelete records an externally observed delete with the shared rename
// tracker. Exposed for callers that feed events from outside the engine's
// own sources.
func (e *Engine) TrackDelete(ctx context.Context, id *protocol.FileIdentifier, oldPath string, detectedAt time.Time, children []*protocol.FileIdentifier) error {
	return e.tracker.TrackDelete(ctx, id, oldPath, detectedAt, children)
}

// DetectCreate checks an externally observed create against pending moves.
func (e *Engine) DetectCreate(ctx context.Context, id *protocol.FileIdentifier, newPath string, detectedAt time.Time) (*tracker.PendingMove, bool, error) {
	return e.tracker.DetectCreate(ctx, id, newPath, detectedAt)
}

// RequestMove performs an explicit move on a storage root: the physical
// move runs through the root's handler (atomic rename where the protocol
// has one, copy-verify-delete where it does not), then the catalog learns
// the new path. The move is persisted as a RenameEvent and settled by the
// dispatch worker that executes it.
//
// Returns the pending event so callers can track its settlement.
func (e *Engine) RequestMove(ctx context.Context, rootName, oldPath, newPath string) (*eventstore.RenameEvent, error) {
	root, err := e.registry.GetRoot(rootName)
	if err != nil {
		return nil, err
	}
	id, err := root.Handler.Identify(ctx, root.Client, rootName, oldPath)
	if err != nil {
		return nil, fmt.Errorf("identify %s: %w", oldPath, err)
	}

	ev := &eventstore.RenameEvent{
		StorageRootID: rootName,
		Protocol:      root.Protocol,
		OldPath:       oldPath,
		NewPath:       newPath,
		IsDirectory:   id.IsDirectory,
		Size:          id.Size,
		FileHash:      id.ContentHash,
		DetectedAt:    time.Now(),
		Status:        eventstore.StatusPending,
	}
	if err := e.store.Save(ctx, ev); err != nil {
		return nil, fmt.Errorf("persist move event: %w", err)
	}

	if err := e.pool.Enqueue(ctx, dispatch.Job{
		Kind:        dispatch.KindMove,
		Identifier:  id,
		OldPath:     oldPath,
		NewPath:     newPath,
		IsDirectory: id.IsDirectory,
		EventID:     ev.ID,
		FS:          root.Client,
		Handler:     root.Handler,
	}); err != nil {
		return nil, err
	}
	return ev, nil
}

// Statistics returns tracker state plus persisted event totals.
func (e *Engine) Statistics(ctx context.Context) (*tracker.Statistics, error) {
	return e.tracker.Statistics(ctx)
}

// EventsByRoot returns up to limit persisted rename events for one root,
// newest first.
func (e *Engine) EventsByRoot(ctx context.Context, storageRootID string, limit int) ([]*eventstore.RenameEvent, error) {
	return e.store.ListByRoot(ctx, storageRootID, limit)
}

// EventsByStatus returns up to limit persisted rename events in the given
// status, newest first.
func (e *Engine) EventsByStatus(ctx context.Context, status eventstore.Status, limit int) ([]*eventstore.RenameEvent, error) {
	return e.store.ListByStatus(ctx, status, limit)
}

// RootStatus returns the resilience status of one storage root.
func (e *Engine) RootStatus(name string) (resilience.SourceStatus, error) {
	root, err := e.registry.GetRoot(name)
	if err != nil {
		return resilience.SourceStatus{}, err
	}
	if root.Controller == nil {
		return resilience.SourceStatus{Source: name}, nil
	}
	return root.Controller.Status(), nil
}

// RootStatuses returns the resilience status of every root, ordered by name.
func (e *Engine) RootStatuses() []resilience.SourceStatus {
	roots := e.registry.Roots()
	out := make([]resilience.SourceStatus, 0, len(roots))
	for _, root := range roots {
		if root.Controller == nil {
			out = append(out, resilience.SourceStatus{Source: root.Name})
			continue
		}
		out = append(out, root.Controller.Status())
	}
	return out
}

// RootEntries returns the last known entries of one storage root, keyed by
// path. While the root's breaker is open the view is served from the
// offline cache, so callers keep the pre-outage listing instead of an
// error for the duration of the outage.
func (e *Engine) RootEntries(name string) (map[string]*protocol.FileInfo, error) {
	e.mu.RLock()
	r, ok := e.runners[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("root %q is not running", name)
	}
	if r.controller.Status().Breaker.State != resilience.StateClosed {
		return r.controller.Cache().Entries(), nil
	}
	return r.entries(), nil
}

// StopRoot tears down one running storage root. Its event source and
// breaker goroutines stop, pending moves for the root are discarded, and
// persisted rename events still pending are marked expired since no source
// remains to confirm them. The root leaves the registry; the shared pool
// keeps serving the other roots.
func (e *Engine) StopRoot(ctx context.Context, name string) error {
	e.mu.Lock()
	r, ok := e.runners[name]
	delete(e.runners, name)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("root %q is not running", name)
	}

	r.stop()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// The runner flushed its debouncer on exit; what is left is arena
	// state and events that will never settle.
	e.tracker.DropRoot(name)
	events, err := e.store.ListByRoot(ctx, name, 0)
	if err != nil {
		return fmt.Errorf("list events for %s: %w", name, err)
	}
	for _, ev := range events {
		if ev.Status != eventstore.StatusPending {
			continue
		}
		if serr := e.store.SetStatus(ctx, ev.ID, eventstore.StatusExpired); serr != nil {
			logger.Warn("Expire event %d for stopped root %s: %v", ev.ID, name, serr)
		}
	}

	logger.Info("Root %s stopped", name)
	return e.registry.RemoveRoot(name)
}

// ForceReconnect clears a root's failure counters and schedules an
// immediate reconnection probe.
func (e *Engine) ForceReconnect(name string) error {
	root, err := e.registry.GetRoot(name)
	if err != nil {
		return err
	}
	if root.Controller == nil {
		return fmt.Errorf("root %q is not running", name)
	}
	root.Controller.ForceReconnect()
	return nil
}

// DroppedJobs returns how many jobs were dropped on a saturated queue.
func (e *Engine) DroppedJobs() uint64 {
	return e.pool.Dropped()
}
