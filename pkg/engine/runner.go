package engine

import (
	"context"
	"errors"
	"time"

	"github.com/gmicheli/driftwatch/internal/logger"
	"github.com/gmicheli/driftwatch/pkg/dispatch"
	"github.com/gmicheli/driftwatch/pkg/protocol"
	"github.com/gmicheli/driftwatch/pkg/registry"
	"github.com/gmicheli/driftwatch/pkg/resilience"
	"github.com/gmicheli/driftwatch/pkg/tracker"
	"github.com/gmicheli/driftwatch/pkg/watch"
)

// basePather is implemented by backends rooted at an OS directory, which is
// what the real-time notification source needs to translate watch paths.
type basePather interface {
	BasePath() string
}

// runner drives one storage root: it observes changes, debounces them,
// feeds deletes and creates to the shared tracker and turns the results
// into dispatch jobs.
type runner struct {
	engine     *Engine
	root       *registry.Root
	controller *resilience.Controller
	debouncer  *watch.Debouncer
	poller     *watch.Poller
	notify     *watch.NotifySource

	// pollNow wakes the polling loop early, used by recovery reconciliation.
	pollNow chan struct{}

	// stop cancels the runner's goroutines; done closes once they exited.
	// Set by the engine when the root is started.
	stop context.CancelFunc
	done chan struct{}
}

func newRunner(e *Engine, root *registry.Root) *runner {
	r := &runner{
		engine:  e,
		root:    root,
		pollNow: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	r.debouncer = watch.NewDebouncer(root.Protocol, e.opts.DebounceWindow, func(ev watch.Event) {
		r.handleEvent(context.Background(), ev)
	}, e.opts.WatchMetrics)
	// Built even for notification roots: they fall back to polling when the
	// OS watch cannot be established.
	r.poller = watch.NewPoller(root.Client, root.Protocol, "/", watch.PollerOptions{
		RateLimit: uint(root.RateLimit),
		Metrics:   e.opts.WatchMetrics,
	})
	if bp, ok := root.Client.(basePather); ok && root.Handler.SupportsRealTime() {
		r.notify = watch.NewNotifySource(root.Client, bp.BasePath(), r.debouncer.Offer, e.opts.WatchMetrics)
	}
	return r
}

// run observes the root until the context is cancelled.
func (r *runner) run(ctx context.Context) {
	if err := r.root.Client.Connect(ctx); err != nil {
		logger.Warn("Root %s: initial connect failed: %v", r.root.Name, err)
		r.controller.ReportFailure(err)
	} else {
		r.controller.ReportSuccess()
	}
	defer func() {
		if err := r.root.Client.Disconnect(); err != nil {
			logger.Warn("Root %s: disconnect: %v", r.root.Name, err)
		}
	}()
	defer r.debouncer.Flush()

	if r.notify != nil {
		r.runNotify(ctx)
		return
	}
	r.runPolling(ctx)
}

func (r *runner) runNotify(ctx context.Context) {
	logger.Info("Root %s: watching via OS notifications", r.root.Name)
	if err := r.notify.Run(ctx); err != nil {
		logger.Error("Root %s: notification source stopped: %v", r.root.Name, err)
		r.controller.ReportFailure(err)
		// Fall back to polling so the root keeps being observed.
		r.runPolling(ctx)
	}
}

func (r *runner) runPolling(ctx context.Context) {
	interval := r.root.PollInterval
	if interval <= 0 {
		interval = r.engine.opts.DefaultPollInterval
	}
	logger.Info("Root %s: polling every %s", r.root.Name, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		case <-r.pollNow:
			r.pollOnce(ctx)
		}
	}
}

// pollOnce runs a single listing diff, routing the outcome through the
// breaker. While the breaker is open the scan is skipped entirely so a dead
// source is not hammered.
func (r *runner) pollOnce(ctx context.Context) {
	if !r.controller.Allow() {
		return
	}
	events, err := r.poller.PollOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Root %s: poll failed: %v", r.root.Name, err)
		r.controller.ReportFailure(err)
		return
	}
	r.controller.ReportSuccess()
	r.controller.Cache().PutSnapshot(r.poller.Snapshot())
	for _, ev := range events {
		r.debouncer.Offer(ev)
	}
}

// entries is the live view of the root: the notification snapshot when the
// OS watch is in place, the poll snapshot otherwise. A notification root
// that fell back to polling has a non-empty poll snapshot, which is the
// fresher of the two.
func (r *runner) entries() map[string]*protocol.FileInfo {
	if snap := r.poller.Snapshot(); len(snap) > 0 || r.notify == nil {
		return snap
	}
	return r.notify.Snapshot()
}

// reconcile runs when the breaker closes again after an outage. The poller
// still holds the pre-outage snapshot, so one immediate scan surfaces
// everything that changed while the source was unreachable, through the
// same delete-create correlation as live events.
func (r *runner) reconcile(ctx context.Context) {
	logger.Info("Root %s: reconnected, reconciling offline changes", r.root.Name)
	// Notification roots rebuild their view from live events; the kick is
	// only consumed by a polling loop.
	select {
	case r.pollNow <- struct{}{}:
	default:
	}
}

// handleEvent routes one debounced change. Deletes become pending moves,
// creates either consume a pending move (a rename) or dispatch as plain
// creates, and modifies dispatch as upserts.
func (r *runner) handleEvent(ctx context.Context, ev watch.Event) {
	switch ev.Op {
	case watch.OpDelete:
		r.handleDelete(ctx, ev)
	case watch.OpCreate:
		r.handleCreate(ctx, ev)
	case watch.OpModify:
		r.handleModify(ctx, ev)
	}
}

func (r *runner) handleDelete(ctx context.Context, ev watch.Event) {
	id := r.deletedIdentifier(ctx, ev)
	if id == nil {
		return
	}
	children := make([]*protocol.FileIdentifier, 0, len(ev.Children))
	for _, childInfo := range ev.Children {
		childID, err := r.identify(ctx, childInfo)
		if err != nil {
			logger.Warn("Root %s: identify deleted child %s: %v", r.root.Name, childInfo.Path, err)
			continue
		}
		children = append(children, childID)
	}
	if err := r.engine.tracker.TrackDelete(ctx, id, ev.Path, ev.At, children); err != nil {
		logger.Warn("Root %s: track delete %s: %v", r.root.Name, ev.Path, err)
	}
}

func (r *runner) handleCreate(ctx context.Context, ev watch.Event) {
	id, err := r.identify(ctx, ev.Info)
	if err != nil {
		logger.Warn("Root %s: identify created %s: %v", r.root.Name, ev.Path, err)
		return
	}
	matched, ok, err := r.engine.tracker.DetectCreate(ctx, id, ev.Path, ev.At)
	if err != nil {
		logger.Warn("Root %s: detect create %s: %v", r.root.Name, ev.Path, err)
		return
	}
	if !ok {
		r.engine.enqueue(ctx, dispatch.Job{
			Kind:       dispatch.KindCreate,
			Identifier: id,
			Path:       ev.Path,
		})
		return
	}
	// An observed rename already happened on storage, whether it arrived
	// through a notification or a listing diff. Only validation and the
	// catalog update remain.
	r.engine.enqueue(ctx, dispatch.Job{
		Kind:         dispatch.KindMove,
		Identifier:   matched.Identifier,
		OldPath:      matched.OldPath,
		NewPath:      ev.Path,
		IsDirectory:  matched.IsDirectory,
		EventID:      matched.EventID,
		SkipPhysical: true,
		Children:     toMappings(matched.RemapChildren(ev.Path)),
		FS:           r.root.Client,
		Handler:      r.root.Handler,
	})
}

// handleModify dispatches the entry as a create. CreateEntry is an
// idempotent upsert on the catalog side, so a content change and a new
// entry take the same path.
func (r *runner) handleModify(ctx context.Context, ev watch.Event) {
	id, err := r.identify(ctx, ev.Info)
	if err != nil {
		logger.Warn("Root %s: identify modified %s: %v", r.root.Name, ev.Path, err)
		return
	}
	r.engine.enqueue(ctx, dispatch.Job{
		Kind:       dispatch.KindCreate,
		Identifier: id,
		Path:       ev.Path,
	})
}

// deletedIdentifier resolves the identity of a deleted entry. Fast churn
// can remove a path the source never recorded (a temp file deleted before
// its create could be stated), leaving only the path; such deletes are
// tracked on a synthetic identifier so they still reach the catalog
// instead of being dropped.
func (r *runner) deletedIdentifier(ctx context.Context, ev watch.Event) *protocol.FileIdentifier {
	if ev.Info == nil {
		return &protocol.FileIdentifier{
			StorageRootID: r.root.Name,
			Protocol:      r.root.Protocol,
			Path:          ev.Path,
		}
	}
	id, err := r.identify(ctx, ev.Info)
	if err != nil {
		logger.Warn("Root %s: identify deleted %s: %v", r.root.Name, ev.Path, err)
		return nil
	}
	return id
}

// identify computes the identifier for an already-listed entry, reporting
// backend unavailability to the breaker.
func (r *runner) identify(ctx context.Context, info *protocol.FileInfo) (*protocol.FileIdentifier, error) {
	id, err := r.root.Handler.IdentifyInfo(ctx, r.root.Client, r.root.Name, info)
	if err != nil && errors.Is(err, protocol.ErrUnavailable) {
		r.controller.ReportFailure(err)
	}
	return id, err
}

func toMappings(pairs []tracker.PathPair) []dispatch.PathMapping {
	if len(pairs) == 0 {
		return nil
	}
	out := make([]dispatch.PathMapping, len(pairs))
	for i, pair := range pairs {
		out[i] = dispatch.PathMapping{OldPath: pair.OldPath, NewPath: pair.NewPath}
	}
	return out
}
