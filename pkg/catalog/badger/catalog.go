// Package badger implements catalog.Catalog on BadgerDB.
//
// Key layout:
//
//	ct:<rootID>:<path>  entry record, JSON encoded
//
// Paths are rooted slash paths and never contain the byte 0x00, so the
// plain string concatenation is collision free. Iteration in key order
// yields entries sorted by path within a root.
package badger

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/gmicheli/driftwatch/pkg/catalog"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

const entryPrefix = "ct:"

// Config configures the badger-backed catalog.
type Config struct {
	// DBPath is the directory holding the database files.
	DBPath string

	// InMemory runs badger without disk persistence, for tests.
	InMemory bool
}

// Catalog is a badger-backed catalog.Catalog.
type Catalog struct {
	db *badger.DB
}

var _ catalog.Catalog = (*Catalog)(nil)

// New opens or creates the catalog at the configured path.
func New(ctx context.Context, config Config) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.DBPath)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog at %s: %w", config.DBPath, err)
	}
	return &Catalog{db: db}, nil
}

// UpdatePath moves the entry at oldPath to newPath. Replaying an already
// applied move is a no-op; an update for an unknown entry registers it at
// the new path from the identifier.
func (c *Catalog) UpdatePath(ctx context.Context, id *protocol.FileIdentifier, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rootID := rootOf(id)
	return c.db.Update(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, rootID, oldPath)
		if err == catalog.ErrNotFound {
			entry = catalog.EntryFromIdentifier(id, newPath)
		} else if err != nil {
			return err
		}
		entry.Path = newPath
		if err := setEntry(txn, rootID, entry); err != nil {
			return err
		}
		if err := txn.Delete(entryKey(rootID, oldPath)); err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("delete old path %s: %w", oldPath, err)
		}
		return nil
	})
}

// RemoveEntry deletes the entry at path. Removing a missing entry is a
// no-op.
func (c *Catalog) RemoveEntry(ctx context.Context, id *protocol.FileIdentifier, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rootID := rootOf(id)
	return c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(entryKey(rootID, path)); err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("remove entry %s: %w", path, err)
		}
		return nil
	})
}

// CreateEntry registers or replaces the entry at path.
func (c *Catalog) CreateEntry(ctx context.Context, id *protocol.FileIdentifier, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rootID := rootOf(id)
	entry := catalog.EntryFromIdentifier(id, path)
	return c.db.Update(func(txn *badger.Txn) error {
		return setEntry(txn, rootID, entry)
	})
}

func (c *Catalog) Lookup(ctx context.Context, storageRootID, path string) (*catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entry *catalog.Entry
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = getEntry(txn, storageRootID, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (c *Catalog) ListRoot(ctx context.Context, storageRootID string, limit int) ([]*catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(entryPrefix + storageRootID + ":")
	var entries []*catalog.Entry
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry catalog.Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode entry %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func getEntry(txn *badger.Txn, rootID, path string) (*catalog.Entry, error) {
	item, err := txn.Get(entryKey(rootID, path))
	if err == badger.ErrKeyNotFound {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", path, err)
	}
	var entry catalog.Entry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", path, err)
	}
	return &entry, nil
}

func setEntry(txn *badger.Txn, rootID string, entry *catalog.Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", entry.Path, err)
	}
	return txn.Set(entryKey(rootID, entry.Path), value)
}

func rootOf(id *protocol.FileIdentifier) string {
	if id == nil {
		return ""
	}
	return id.StorageRootID
}

func entryKey(rootID, path string) []byte {
	return []byte(entryPrefix + rootID + ":" + path)
}
