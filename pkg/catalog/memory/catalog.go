// Package memory implements catalog.Catalog in process memory, for tests
// and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gmicheli/driftwatch/pkg/catalog"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Catalog is an in-memory catalog.Catalog. Entries are keyed by storage
// root, then by path.
type Catalog struct {
	mu    sync.RWMutex
	roots map[string]map[string]*catalog.Entry
}

var _ catalog.Catalog = (*Catalog)(nil)

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{roots: make(map[string]map[string]*catalog.Entry)}
}

func (c *Catalog) UpdatePath(ctx context.Context, id *protocol.FileIdentifier, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.rootLocked(rootOf(id))
	entry, ok := entries[oldPath]
	if !ok {
		entry = catalog.EntryFromIdentifier(id, newPath)
	}
	entry.Path = newPath
	entries[newPath] = entry
	delete(entries, oldPath)
	return nil
}

func (c *Catalog) RemoveEntry(ctx context.Context, id *protocol.FileIdentifier, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rootLocked(rootOf(id)), path)
	return nil
}

func (c *Catalog) CreateEntry(ctx context.Context, id *protocol.FileIdentifier, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rootLocked(rootOf(id))[path] = catalog.EntryFromIdentifier(id, path)
	return nil
}

func (c *Catalog) Lookup(ctx context.Context, storageRootID, path string) (*catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.roots[storageRootID][path]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (c *Catalog) ListRoot(ctx context.Context, storageRootID string, limit int) ([]*catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]*catalog.Entry, 0, len(c.roots[storageRootID]))
	for _, entry := range c.roots[storageRootID] {
		copied := *entry
		entries = append(entries, &copied)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (c *Catalog) Close() error {
	return nil
}

func (c *Catalog) rootLocked(rootID string) map[string]*catalog.Entry {
	entries, ok := c.roots[rootID]
	if !ok {
		entries = make(map[string]*catalog.Entry)
		c.roots[rootID] = entries
	}
	return entries
}

func rootOf(id *protocol.FileIdentifier) string {
	if id == nil {
		return ""
	}
	return id.StorageRootID
}
