// Package tracker implements rename detection: correlating delete events
// with subsequent create events inside a protocol-specific move window so a
// physical rename is recognized as one move instead of a delete plus a
// create.
//
// State is an arena of pending moves per storage root, each arena guarded by
// its own lock so storage roots never contend with each other. A background
// sweep expires pending moves whose window closed; each expiry is a true
// delete, handed to the expiry callback and never persisted as a rename.
package tracker

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gmicheli/driftwatch/internal/logger"
	"github.com/gmicheli/driftwatch/pkg/eventstore"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// DefaultSweepInterval is the pending-move expiry scan cadence. It must not
// be coarser than the smallest protocol move window (local, 2s).
const DefaultSweepInterval = time.Second

// ExpireFunc receives each pending move whose window closed without a
// matching create. The engine routes these to the dispatch queue as true
// deletes.
type ExpireFunc func(pending *PendingMove)

// Options configures a Tracker.
type Options struct {
	// SweepInterval overrides DefaultSweepInterval.
	SweepInterval time.Duration

	// OnExpire is called for each expired pending move, outside all locks.
	OnExpire ExpireFunc

	// Metrics receives observations; nil disables collection.
	Metrics Metrics

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Tracker correlates deletes and creates into rename events.
type Tracker struct {
	store         eventstore.Store
	metrics       Metrics
	onExpire      ExpireFunc
	sweepInterval time.Duration
	clock         func() time.Time

	mu    sync.RWMutex
	roots map[string]*arena
	seq   atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// arena holds the pending moves of one storage root, keyed by old path.
type arena struct {
	mu      sync.Mutex
	proto   protocol.Protocol
	pending map[string]*PendingMove
}

// New builds a Tracker persisting matches to the given store.
func New(store eventstore.Store, opts Options) *Tracker {
	t := &Tracker{
		store:         store,
		metrics:       opts.Metrics,
		onExpire:      opts.OnExpire,
		sweepInterval: opts.SweepInterval,
		clock:         opts.Clock,
		roots:         make(map[string]*arena),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	if t.metrics == nil {
		t.metrics = noopMetrics{}
	}
	if t.sweepInterval <= 0 {
		t.sweepInterval = DefaultSweepInterval
	}
	if t.clock == nil {
		t.clock = time.Now
	}
	if t.onExpire == nil {
		t.onExpire = func(*PendingMove) {}
	}
	return t
}

// Start launches the background expiry sweep.
func (t *Tracker) Start(ctx context.Context) {
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				t.Sweep()
			}
		}
	}()
}

// Stop halts the sweep and waits for it to exit. Pending moves are dropped,
// not persisted: a half-formed rename must never reach the event store.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
		<-t.done
	})
}

// TrackDelete records a delete as a pending move. For directories, children
// snapshots the entries known under the deleted directory so a later
// directory match can remap the whole subtree at once.
//
// Re-tracking the same old path replaces the previous entry, keeping replay
// idempotent.
func (t *Tracker) TrackDelete(ctx context.Context, id *protocol.FileIdentifier, oldPath string, detectedAt time.Time, children []*protocol.FileIdentifier) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == nil {
		return fmt.Errorf("track delete %s: nil identifier", oldPath)
	}

	window := protocol.CapabilitiesFor(id.Protocol).MoveWindow
	p := &PendingMove{
		Identifier:  id,
		OldPath:     oldPath,
		DetectedAt:  detectedAt,
		ExpiresAt:   detectedAt.Add(window),
		IsDirectory: id.IsDirectory,
		seq:         t.seq.Add(1),
		fallbackKey: id.FallbackKey(),
	}
	for _, child := range children {
		p.Children = append(p.Children, &PendingMove{
			Identifier:  child,
			OldPath:     child.Path,
			DetectedAt:  detectedAt,
			ExpiresAt:   p.ExpiresAt,
			IsDirectory: child.IsDirectory,
			fallbackKey: child.FallbackKey(),
		})
	}

	a := t.arena(id.StorageRootID, id.Protocol)
	a.mu.Lock()
	a.pending[oldPath] = p
	count := len(a.pending)
	a.mu.Unlock()

	t.metrics.PendingChanged(id.Protocol, count)
	logger.Debug("Tracking delete %s on root %s (window %s, %d children)",
		oldPath, id.StorageRootID, window, len(children))
	return nil
}

// DetectCreate checks a create event against pending moves on the same
// storage root. On a match the pending move is consumed, a RenameEvent with
// status pending is persisted, and (move, true) is returned. Without a match
// the create is a genuine new file and (nil, false) is returned.
//
// Tie-break when several pending moves match: the entry whose DetectedAt is
// closest to the create's detectedAt wins; at equal distance the earliest
// pending entry wins.
func (t *Tracker) DetectCreate(ctx context.Context, id *protocol.FileIdentifier, newPath string, detectedAt time.Time) (*PendingMove, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if id == nil {
		return nil, false, fmt.Errorf("detect create %s: nil identifier", newPath)
	}

	a := t.arena(id.StorageRootID, id.Protocol)
	a.mu.Lock()
	matched, fromDir := t.selectMatch(a, id, newPath, detectedAt)
	if matched == nil {
		a.mu.Unlock()
		return nil, false, nil
	}
	if fromDir == nil {
		delete(a.pending, matched.OldPath)
	} else {
		fromDir.Children = removeChild(fromDir.Children, matched)
	}
	count := len(a.pending)
	a.mu.Unlock()

	ev := &eventstore.RenameEvent{
		StorageRootID: id.StorageRootID,
		Protocol:      id.Protocol,
		OldPath:       matched.OldPath,
		NewPath:       newPath,
		IsDirectory:   matched.IsDirectory,
		Size:          matched.Identifier.Size,
		FileHash:      matched.Identifier.ContentHash,
		DetectedAt:    detectedAt,
		Status:        eventstore.StatusPending,
	}
	if err := t.store.Save(ctx, ev); err != nil {
		return nil, false, fmt.Errorf("persist rename %s -> %s: %w", matched.OldPath, newPath, err)
	}
	matched.EventID = ev.ID

	t.metrics.MatchDetected(id.Protocol)
	t.metrics.PendingChanged(id.Protocol, count)
	logger.Info("Detected rename %s -> %s on root %s (event %d)",
		matched.OldPath, newPath, id.StorageRootID, ev.ID)
	return matched, true, nil
}

// selectMatch scans the arena for candidates and applies the tie-break.
// Called with the arena lock held. The second return is the parent pending
// directory when the match is a snapshotted child, nil otherwise.
func (t *Tracker) selectMatch(a *arena, id *protocol.FileIdentifier, newPath string, detectedAt time.Time) (*PendingMove, *PendingMove) {
	var (
		best       *PendingMove
		bestParent *PendingMove
		bestStrong bool
	)
	consider := func(p, parent *PendingMove, strong bool) {
		if p.Expired(detectedAt) {
			return
		}
		if best == nil || (strong && !bestStrong) {
			best, bestParent, bestStrong = p, parent, strong
			return
		}
		if bestStrong && !strong {
			return
		}
		if closerMatch(p, best, detectedAt) {
			best, bestParent = p, parent
		}
	}

	weakID := id.ContentHash == "" && len(id.Metadata) == 0

	for _, p := range a.pending {
		switch {
		case id.IsDirectory && p.IsDirectory:
			// Directories rarely carry identity of their own. A metadata
			// match is decisive when present; otherwise every in-window
			// pending directory is a weak candidate and the tie-break
			// decides.
			consider(p, nil, p.Identifier.SameFile(id))
		case !id.IsDirectory && !p.IsDirectory && p.Identifier.SameFile(id):
			consider(p, nil, true)
		case !id.IsDirectory && !p.IsDirectory && weakID && p.fallbackKey == id.FallbackKey():
			// Weak identity on both sides: fall back to the composite key
			// rather than dropping the event.
			consider(p, nil, false)
		case p.IsDirectory && !id.IsDirectory:
			// A file created while its parent directory move is still
			// pending: match a snapshotted child by size and base name.
			for _, child := range p.Children {
				if child.IsDirectory {
					continue
				}
				if child.Identifier.Size == id.Size && path.Base(child.OldPath) == path.Base(newPath) {
					consider(child, p, false)
				}
			}
		}
	}
	return best, bestParent
}

// closerMatch reports whether candidate beats current under the tie-break
// rule: smallest distance to the create time, then earliest detection, then
// earliest insertion.
func closerMatch(candidate, current *PendingMove, detectedAt time.Time) bool {
	cd := absDuration(detectedAt.Sub(candidate.DetectedAt))
	bd := absDuration(detectedAt.Sub(current.DetectedAt))
	if cd != bd {
		return cd < bd
	}
	if !candidate.DetectedAt.Equal(current.DetectedAt) {
		return candidate.DetectedAt.Before(current.DetectedAt)
	}
	return candidate.seq < current.seq
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func removeChild(children []*PendingMove, target *PendingMove) []*PendingMove {
	out := children[:0]
	for _, c := range children {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// Sweep removes every pending move whose window closed and routes it to the
// expiry callback as a true delete.
func (t *Tracker) Sweep() {
	now := t.clock()

	t.mu.RLock()
	arenas := make([]*arena, 0, len(t.roots))
	for _, a := range t.roots {
		arenas = append(arenas, a)
	}
	t.mu.RUnlock()

	var expired []*PendingMove
	for _, a := range arenas {
		a.mu.Lock()
		removed := 0
		for oldPath, p := range a.pending {
			if p.Expired(now) {
				delete(a.pending, oldPath)
				expired = append(expired, p)
				removed++
			}
		}
		count := len(a.pending)
		proto := a.proto
		a.mu.Unlock()
		if removed > 0 {
			t.metrics.PendingChanged(proto, count)
		}
	}

	for _, p := range expired {
		t.metrics.MoveExpired(p.Identifier.Protocol)
		logger.Debug("Move window expired for %s, treating as delete", p.OldPath)
		t.onExpire(p)
	}
}

// DropRoot discards all pending state for a storage root. Used when a root
// is torn down; nothing is persisted.
func (t *Tracker) DropRoot(storageRootID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.roots, storageRootID)
}

// Statistics reports pending counts and persisted event totals.
func (t *Tracker) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		PendingByProtocol: make(map[protocol.Protocol]int),
	}

	t.mu.RLock()
	for _, a := range t.roots {
		a.mu.Lock()
		stats.TotalPendingMoves += len(a.pending)
		stats.PendingByProtocol[a.proto] += len(a.pending)
		a.mu.Unlock()
	}
	t.mu.RUnlock()

	total, processed, err := t.store.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("event counts: %w", err)
	}
	stats.TotalEvents = total
	stats.ProcessedEvents = processed
	if total > 0 {
		stats.SuccessRate = float64(processed) / float64(total)
	}
	return stats, nil
}

func (t *Tracker) arena(storageRootID string, proto protocol.Protocol) *arena {
	t.mu.RLock()
	a, ok := t.roots[storageRootID]
	t.mu.RUnlock()
	if ok {
		return a
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.roots[storageRootID]; ok {
		return a
	}
	a = &arena{proto: proto, pending: make(map[string]*PendingMove)}
	t.roots[storageRootID] = a
	return a
}
