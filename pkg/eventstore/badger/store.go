// Package badger implements eventstore.Store on BadgerDB.
//
// Key layout, all keys namespaced by prefix:
//
//	ev:<id>                 event record, JSON encoded
//	ix:root:<rootID>:<id>   index by storage root
//	ix:status:<status>:<id> index by status, rewritten on settle
//	seq:events              id sequence bookkeeping (managed by badger)
//
// Ids are encoded big-endian fixed-width so lexicographic key order equals
// numeric order and reverse iteration yields newest first.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/gmicheli/driftwatch/pkg/eventstore"
)

const (
	eventPrefix  = "ev:"
	rootPrefix   = "ix:root:"
	statusPrefix = "ix:status:"
	seqKey       = "seq:events"

	// sequence ids reserved per lease; a small band keeps id gaps after a
	// crash small while avoiding a disk write per event
	seqBandwidth = 64
)

// Config configures the badger-backed event store.
type Config struct {
	// DBPath is the directory holding the database files.
	DBPath string

	// InMemory runs badger without disk persistence, for tests.
	InMemory bool

	// BadgerOptions overrides all options when non-nil.
	BadgerOptions *badger.Options
}

// Store is a badger-backed eventstore.Store.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ eventstore.Store = (*Store)(nil)

// New opens or creates the event store at the configured path.
func New(ctx context.Context, config Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		opts = badger.DefaultOptions(config.DBPath)
		if config.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		}
		// Rename events are small and written rarely; compression and big
		// caches buy nothing here.
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store at %s: %w", config.DBPath, err)
	}

	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	return &Store{db: db, seq: seq}, nil
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

	id, err := s.seq.Next()
	if err != nil {
		return &eventstore.StoreError{Code: eventstore.CodeIO, Message: fmt.Sprintf("next id: %v", err)}
	}
	// Sequence starts at 0; persisted ids start at 1 so the zero value
	// never denotes a stored event.
	ev.ID = id + 1

	value, err := json.Marshal(ev)
	if err != nil {
		return &eventstore.StoreError{Code: eventstore.CodeInvalid, Message: fmt.Sprintf("encode event: %v", err)}
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(eventKey(ev.ID), value); err != nil {
			return err
		}
		if err := txn.Set(rootKey(ev.StorageRootID, ev.ID), nil); err != nil {
			return err
		}
		return txn.Set(statusKey(ev.Status, ev.ID), nil)
	})
	if err != nil {
		return &eventstore.StoreError{Code: eventstore.CodeIO, Message: fmt.Sprintf("save event: %v", err), ID: ev.ID}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uint64) (*eventstore.RenameEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ev *eventstore.RenameEvent
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ev, err = getEvent(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *Store) SetStatus(ctx context.Context, id uint64, status eventstore.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Valid() {
		return &eventstore.StoreError{Code: eventstore.CodeInvalid, Message: fmt.Sprintf("invalid status %q", status), ID: id}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		ev, err := getEvent(txn, id)
		if err != nil {
			return err
		}
		if ev.Status == eventstore.StatusProcessed {
			return &eventstore.StoreError{Code: eventstore.CodeImmutable, Message: "event already processed", ID: id}
		}
		if ev.Status == status {
			return nil
		}

		if err := txn.Delete(statusKey(ev.Status, id)); err != nil {
			return err
		}
		ev.Status = status
		if status == eventstore.StatusProcessed || status == eventstore.StatusFailed {
			now := time.Now().UTC()
			ev.ProcessedAt = &now
		}

		value, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := txn.Set(eventKey(id), value); err != nil {
			return err
		}
		return txn.Set(statusKey(status, id), nil)
	})
	if err != nil {
		if _, ok := err.(*eventstore.StoreError); ok {
			return err
		}
		return &eventstore.StoreError{Code: eventstore.CodeIO, Message: fmt.Sprintf("set status: %v", err), ID: id}
	}
	return nil
}

func (s *Store) ListByRoot(ctx context.Context, storageRootID string, limit int) ([]*eventstore.RenameEvent, error) {
	return s.listIndex(ctx, []byte(rootPrefix+storageRootID+":"), limit)
}

func (s *Store) ListByStatus(ctx context.Context, status eventstore.Status, limit int) ([]*eventstore.RenameEvent, error) {
	return s.listIndex(ctx, []byte(statusPrefix+string(status)+":"), limit)
}

// listIndex walks one index prefix in reverse key order, newest event first.
func (s *Store) listIndex(ctx context.Context, prefix []byte, limit int) ([]*eventstore.RenameEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var events []*eventstore.RenameEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the last prefixed key.
		seek := append(append([]byte(nil), prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(events) >= limit {
				break
			}
			key := it.Item().Key()
			id := binary.BigEndian.Uint64(key[len(key)-8:])
			ev, err := getEvent(txn, id)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		if se, ok := err.(*eventstore.StoreError); ok {
			return nil, se
		}
		return nil, &eventstore.StoreError{Code: eventstore.CodeIO, Message: fmt.Sprintf("list events: %v", err)}
	}
	return events, nil
}

func (s *Store) Counts(ctx context.Context) (total, processed uint64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	err = s.db.View(func(txn *badger.Txn) error {
		total = countPrefix(txn, []byte(eventPrefix))
		processed = countPrefix(txn, []byte(statusPrefix+string(eventstore.StatusProcessed)+":"))
		return nil
	})
	if err != nil {
		return 0, 0, &eventstore.StoreError{Code: eventstore.CodeIO, Message: fmt.Sprintf("count events: %v", err)}
	}
	return total, processed, nil
}

func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("release id sequence: %w", err)
	}
	return s.db.Close()
}

func getEvent(txn *badger.Txn, id uint64) (*eventstore.RenameEvent, error) {
	item, err := txn.Get(eventKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, &eventstore.StoreError{Code: eventstore.CodeNotFound, Message: "event not found", ID: id}
	}
	if err != nil {
		return nil, &eventstore.StoreError{Code: eventstore.CodeIO, Message: fmt.Sprintf("get event: %v", err), ID: id}
	}
	var ev eventstore.RenameEvent
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ev)
	})
	if err != nil {
		return nil, &eventstore.StoreError{Code: eventstore.CodeIO, Message: fmt.Sprintf("decode event: %v", err), ID: id}
	}
	return &ev, nil
}

func countPrefix(txn *badger.Txn, prefix []byte) uint64 {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var n uint64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n
}

func eventKey(id uint64) []byte {
	key := make([]byte, len(eventPrefix)+8)
	copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[len(eventPrefix):], id)
	return key
}

func rootKey(rootID string, id uint64) []byte {
	prefix := rootPrefix + rootID + ":"
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

func statusKey(status eventstore.Status, id uint64) []byte {
	prefix := statusPrefix + string(status) + ":"
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}
