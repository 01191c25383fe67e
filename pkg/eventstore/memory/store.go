// Package memory implements eventstore.Store in memory, for tests and for
// running the engine without persistence.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gmicheli/driftwatch/pkg/eventstore"
)

// Store is an in-memory eventstore.Store.
type Store struct {
	mu     sync.RWMutex
	events map[uint64]*eventstore.RenameEvent
	nextID uint64
	closed bool
}

var _ eventstore.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		events: make(map[uint64]*eventstore.RenameEvent),
		nextID: 1,
	}
}

func (s *Store) Save(ctx context.Context, ev *eventstore.RenameEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ev.Status.Valid() {
		return &eventstore.StoreError{Code: eventstore.CodeInvalid, Message: fmt.Sprintf("invalid status %q", ev.Status)}
	}
	if ev.OldPath == "" || ev.NewPath == "" {
		return &eventstore.StoreError{Code: eventstore.CodeInvalid, Message: "old and new paths are required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &eventstore.StoreError{Code: eventstore.CodeIO, Message: "store closed"}
	}
	ev.ID = s.nextID
	s.nextID++
	clone := *ev
	s.events[ev.ID] = &clone
	return nil
}

func (s *Store) Get(ctx context.Context, id uint64) (*eventstore.RenameEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, &eventstore.StoreError{Code: eventstore.CodeNotFound, Message: "event not found", ID: id}
	}
	clone := *ev
	return &clone, nil
}

func (s *Store) SetStatus(ctx context.Context, id uint64, status eventstore.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Valid() {
		return &eventstore.StoreError{Code: eventstore.CodeInvalid, Message: fmt.Sprintf("invalid status %q", status), ID: id}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return &eventstore.StoreError{Code: eventstore.CodeNotFound, Message: "event not found", ID: id}
	}
	if ev.Status == eventstore.StatusProcessed {
		return &eventstore.StoreError{Code: eventstore.CodeImmutable, Message: "event already processed", ID: id}
	}
	ev.Status = status
	if status == eventstore.StatusProcessed || status == eventstore.StatusFailed {
		now := time.Now().UTC()
		ev.ProcessedAt = &now
	}
	return nil
}

func (s *Store) ListByRoot(ctx context.Context, storageRootID string, limit int) ([]*eventstore.RenameEvent, error) {
	return s.list(ctx, limit, func(ev *eventstore.RenameEvent) bool {
		return ev.StorageRootID == storageRootID
	})
}

func (s *Store) ListByStatus(ctx context.Context, status eventstore.Status, limit int) ([]*eventstore.RenameEvent, error) {
	return s.list(ctx, limit, func(ev *eventstore.RenameEvent) bool {
		return ev.Status == status
	})
}

func (s *Store) list(ctx context.Context, limit int, match func(*eventstore.RenameEvent) bool) ([]*eventstore.RenameEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*eventstore.RenameEvent
	for _, ev := range s.events {
		if match(ev) {
			clone := *ev
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Counts(ctx context.Context) (total, processed uint64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		total++
		if ev.Status == eventstore.StatusProcessed {
			processed++
		}
	}
	return total, processed, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
