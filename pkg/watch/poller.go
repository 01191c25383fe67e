package watch

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/gmicheli/driftwatch/internal/logger"
	"github.com/gmicheli/driftwatch/internal/ratelimiter"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Poller observes a storage root by diffing full listings against the last
// known snapshot.
//
// Each PollOnce walks the tree, builds the current snapshot and emits
// synthetic events for every difference, deletes before creates so the
// delete-then-create ordering of a physical rename is preserved for the
// tracker. The very first poll only establishes the baseline and emits
// nothing.
//
// Listings are paced through a rate limiter in capability-table-sized
// batches so scanning a large share does not hammer the server.
type Poller struct {
	fs       protocol.FS
	proto    protocol.Protocol
	rootPath string
	batch    int
	limiter  *ratelimiter.RateLimiter
	metrics  Metrics
	clock    func() time.Time

	mu   sync.Mutex
	prev map[string]*protocol.FileInfo
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	// RateLimit is directory listings per second. Zero means unlimited.
	RateLimit uint

	// Metrics receives observations; nil disables collection.
	Metrics Metrics

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// NewPoller builds a poller over the given backend for one storage root.
func NewPoller(fs protocol.FS, proto protocol.Protocol, rootPath string, opts PollerOptions) *Poller {
	p := &Poller{
		fs:       fs,
		proto:    proto,
		rootPath: rootPath,
		batch:    protocol.CapabilitiesFor(proto).BatchSize,
		limiter:  ratelimiter.New(opts.RateLimit, opts.RateLimit*2),
		metrics:  opts.Metrics,
		clock:    opts.Clock,
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.batch <= 0 {
		p.batch = 100
	}
	return p
}

// PollOnce scans the tree and returns the events observed since the last
// successful poll. On error the previous snapshot is kept, so a transient
// failure does not turn every entry into a spurious delete.
func (p *Poller) PollOnce(ctx context.Context) ([]Event, error) {
	start := p.clock()
	current, err := p.scan(ctx)
	if err != nil {
		return nil, err
	}
	p.metrics.PollCompleted(p.proto, p.clock().Sub(start).Seconds())

	p.mu.Lock()
	prev := p.prev
	p.prev = current
	p.mu.Unlock()

	if prev == nil {
		logger.Debug("Baseline snapshot for %s: %d entries", p.rootPath, len(current))
		return nil, nil
	}

	events := p.diff(prev, current, p.clock())
	for _, ev := range events {
		p.metrics.EventEmitted(p.proto, ev.Op)
	}
	return events, nil
}

// Snapshot returns a copy of the last known entries, keyed by path. The
// resilience controller serves these while the source is offline.
func (p *Poller) Snapshot() map[string]*protocol.FileInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*protocol.FileInfo, len(p.prev))
	for k, v := range p.prev {
		out[k] = v
	}
	return out
}

func (p *Poller) scan(ctx context.Context) (map[string]*protocol.FileInfo, error) {
	snapshot := make(map[string]*protocol.FileInfo)
	listed := 0

	var walk func(dir string) error
	walk = func(dir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if listed >= p.batch {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
			listed = 0
		}
		entries, err := p.fs.List(ctx, dir)
		if err != nil {
			return fmt.Errorf("list %s: %w", dir, err)
		}
		listed += len(entries)
		for _, entry := range entries {
			snapshot[entry.Path] = entry
			if entry.IsDir {
				if err := walk(entry.Path); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(p.rootPath); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// diff emits deletes first, then creates, then modifies, each group in
// stable path order.
func (p *Poller) diff(prev, current map[string]*protocol.FileInfo, at time.Time) []Event {
	var deleted, created, modified []string

	for pth := range prev {
		if _, ok := current[pth]; !ok {
			deleted = append(deleted, pth)
		}
	}
	for pth, info := range current {
		old, ok := prev[pth]
		if !ok {
			created = append(created, pth)
			continue
		}
		if changed(old, info) {
			modified = append(modified, pth)
		}
	}
	sort.Strings(deleted)
	sort.Strings(created)
	sort.Strings(modified)

	// Children of a deleted directory are folded into the directory event;
	// emitting them individually would race the directory-level remap.
	deletedDirs := make(map[string]bool)
	for _, pth := range deleted {
		if prev[pth].IsDir {
			deletedDirs[pth] = true
		}
	}

	events := make([]Event, 0, len(deleted)+len(created)+len(modified))
	for _, pth := range deleted {
		if underAny(pth, deletedDirs) {
			continue
		}
		ev := Event{Op: OpDelete, Path: pth, Info: prev[pth], At: at}
		if prev[pth].IsDir {
			for childPath, child := range prev {
				if childPath != pth && within(childPath, pth) {
					ev.Children = append(ev.Children, child)
				}
			}
			sort.Slice(ev.Children, func(i, j int) bool { return ev.Children[i].Path < ev.Children[j].Path })
		}
		events = append(events, ev)
	}
	for _, pth := range created {
		events = append(events, Event{Op: OpCreate, Path: pth, Info: current[pth], At: at})
	}
	for _, pth := range modified {
		events = append(events, Event{Op: OpModify, Path: pth, Info: current[pth], At: at})
	}
	return events
}

func changed(old, cur *protocol.FileInfo) bool {
	if old.IsDir || cur.IsDir {
		return false
	}
	if old.Size != cur.Size || !old.ModTime.Equal(cur.ModTime) {
		return true
	}
	for _, key := range []string{"etag", "inode"} {
		a, aok := old.Metadata[key]
		b, bok := cur.Metadata[key]
		if aok && bok && a != b {
			return true
		}
	}
	return false
}

func within(p, dir string) bool {
	return len(p) > len(dir) && p[:len(dir)] == dir && p[len(dir)] == '/'
}

func underAny(p string, dirs map[string]bool) bool {
	for d := path.Dir(p); ; d = path.Dir(d) {
		if dirs[d] {
			return true
		}
		if d == "/" || d == "." {
			return false
		}
	}
}
