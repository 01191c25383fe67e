package watch

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gmicheli/driftwatch/internal/logger"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// NotifySource observes a local storage root through OS change
// notifications.
//
// fsnotify only signals paths; entry details come from the backend. The
// source keeps its own snapshot of known entries so a delete can still
// report the vanished entry's last known identity and, for directories, the
// children that lived under it. Watches are added recursively as
// directories appear.
//
// The backend speaks rooted slash paths while fsnotify reports OS paths
// under the watched base directory; the source translates between the two.
type NotifySource struct {
	fs      protocol.FS
	osBase  string
	emit    func(Event)
	metrics Metrics

	mu    sync.Mutex
	known map[string]*protocol.FileInfo
}

// NewNotifySource builds a real-time source for one local storage root.
// osBase is the OS directory the backend is rooted at.
func NewNotifySource(fs protocol.FS, osBase string, emit func(Event), metrics Metrics) *NotifySource {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &NotifySource{
		fs:      fs,
		osBase:  filepath.Clean(osBase),
		emit:    emit,
		metrics: metrics,
		known:   make(map[string]*protocol.FileInfo),
	}
}

// osPath maps a rooted backend path to the OS path fsnotify watches.
func (s *NotifySource) osPath(p string) string {
	return filepath.Join(s.osBase, filepath.FromSlash(p))
}

// fsPath maps an OS path reported by fsnotify back to a rooted backend path.
func (s *NotifySource) fsPath(osName string) string {
	rel, err := filepath.Rel(s.osBase, osName)
	if err != nil || rel == "." {
		return "/"
	}
	return path.Clean("/" + filepath.ToSlash(rel))
}

// Run watches until the context is cancelled. It returns nil on cancellation
// and the watcher error otherwise.
func (s *NotifySource) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := s.watchTree(ctx, watcher, "/"); err != nil {
		return fmt.Errorf("watch %s: %w", s.osBase, err)
	}
	logger.Info("Watching %s (%d known entries)", s.osBase, len(s.known))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handle(ctx, watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error on %s: %v", s.osBase, err)
		}
	}
}

// Snapshot returns a copy of the known entries, keyed by path.
func (s *NotifySource) Snapshot() map[string]*protocol.FileInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*protocol.FileInfo, len(s.known))
	for k, v := range s.known {
		out[k] = v
	}
	return out
}

// watchTree registers watches for dir and every directory below it, and
// records all entries in the known snapshot. dir is a rooted backend path.
func (s *NotifySource) watchTree(ctx context.Context, watcher *fsnotify.Watcher, dir string) error {
	if err := watcher.Add(s.osPath(dir)); err != nil {
		return err
	}
	entries, err := s.fs.List(ctx, dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, entry := range entries {
		s.known[entry.Path] = entry
	}
	s.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir {
			if err := s.watchTree(ctx, watcher, entry.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *NotifySource) handle(ctx context.Context, watcher *fsnotify.Watcher, raw fsnotify.Event) {
	if !strings.HasPrefix(raw.Name, s.osBase) {
		return
	}
	p := s.fsPath(raw.Name)
	now := time.Now()
	switch {
	case raw.Op.Has(fsnotify.Create):
		info, err := s.fs.Stat(ctx, p)
		if err != nil {
			if !errors.Is(err, protocol.ErrNotFound) {
				logger.Warn("Stat created path %s: %v", p, err)
			}
			return
		}
		s.mu.Lock()
		s.known[p] = info
		s.mu.Unlock()
		if info.IsDir {
			if err := s.watchTree(ctx, watcher, p); err != nil {
				logger.Warn("Watch new directory %s: %v", p, err)
			}
		}
		s.metrics.EventEmitted(protocol.Local, OpCreate)
		s.emit(Event{Op: OpCreate, Path: p, Info: info, At: now})

	case raw.Op.Has(fsnotify.Remove) || raw.Op.Has(fsnotify.Rename):
		// A rename reports the old path; the new path arrives as a
		// separate create event, which is exactly the delete/create pair
		// the tracker correlates.
		s.mu.Lock()
		info := s.known[p]
		var children []*protocol.FileInfo
		if info != nil && info.IsDir {
			for kp, child := range s.known {
				if within(kp, p) {
					children = append(children, child)
					delete(s.known, kp)
				}
			}
			sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })
		}
		delete(s.known, p)
		s.mu.Unlock()

		s.metrics.EventEmitted(protocol.Local, OpDelete)
		s.emit(Event{Op: OpDelete, Path: p, Info: info, Children: children, At: now})

	case raw.Op.Has(fsnotify.Write):
		info, err := s.fs.Stat(ctx, p)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.known[p] = info
		s.mu.Unlock()
		s.metrics.EventEmitted(protocol.Local, OpModify)
		s.emit(Event{Op: OpModify, Path: p, Info: info, At: now})
	}
}
