package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmicheli/driftwatch/pkg/catalog"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(context.Background(), Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newID(root, path string) *protocol.FileIdentifier {
	return &protocol.FileIdentifier{
		StorageRootID: root,
		Protocol:      protocol.SMB,
		Path:          path,
		Size:          512,
		ContentHash:   "abc123",
	}
}

func TestCreateAndLookup(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id := newID("root1", "/share/a.bin")
	require.NoError(t, c.CreateEntry(ctx, id, "/share/a.bin"))

	entry, err := c.Lookup(ctx, "root1", "/share/a.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(512), entry.Size)
	assert.Equal(t, "abc123", entry.ContentHash)
	assert.False(t, entry.UpdatedAt.IsZero())

	_, err = c.Lookup(ctx, "root1", "/share/missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCreateIsAnUpsert(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id := newID("root1", "/share/a.bin")
	require.NoError(t, c.CreateEntry(ctx, id, "/share/a.bin"))

	id.Size = 2048
	require.NoError(t, c.CreateEntry(ctx, id, "/share/a.bin"))

	entry, err := c.Lookup(ctx, "root1", "/share/a.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), entry.Size)

	entries, err := c.ListRoot(ctx, "root1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUpdatePathMovesEntry(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id := newID("root1", "/share/a.bin")
	require.NoError(t, c.CreateEntry(ctx, id, "/share/a.bin"))
	require.NoError(t, c.UpdatePath(ctx, id, "/share/a.bin", "/share/b.bin"))

	_, err := c.Lookup(ctx, "root1", "/share/a.bin")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	entry, err := c.Lookup(ctx, "root1", "/share/b.bin")
	require.NoError(t, err)
	assert.Equal(t, "/share/b.bin", entry.Path)
	assert.Equal(t, "abc123", entry.ContentHash)
}

func TestUpdatePathReplayIsIdempotent(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id := newID("root1", "/share/a.bin")
	require.NoError(t, c.CreateEntry(ctx, id, "/share/a.bin"))
	require.NoError(t, c.UpdatePath(ctx, id, "/share/a.bin", "/share/b.bin"))

	// A retried job replays the same move; the entry stays at the new path.
	require.NoError(t, c.UpdatePath(ctx, id, "/share/a.bin", "/share/b.bin"))

	entry, err := c.Lookup(ctx, "root1", "/share/b.bin")
	require.NoError(t, err)
	assert.Equal(t, "/share/b.bin", entry.Path)

	entries, err := c.ListRoot(ctx, "root1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUpdatePathForUnknownEntryRegistersIt(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id := newID("root1", "/share/a.bin")
	require.NoError(t, c.UpdatePath(ctx, id, "/share/a.bin", "/share/b.bin"))

	entry, err := c.Lookup(ctx, "root1", "/share/b.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(512), entry.Size)
}

func TestRemoveEntryIsIdempotent(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	id := newID("root1", "/share/a.bin")
	require.NoError(t, c.CreateEntry(ctx, id, "/share/a.bin"))
	require.NoError(t, c.RemoveEntry(ctx, id, "/share/a.bin"))
	require.NoError(t, c.RemoveEntry(ctx, id, "/share/a.bin"))

	_, err := c.Lookup(ctx, "root1", "/share/a.bin")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestListRootIsSortedAndScoped(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.CreateEntry(ctx, newID("root1", "/b"), "/b"))
	require.NoError(t, c.CreateEntry(ctx, newID("root1", "/a"), "/a"))
	require.NoError(t, c.CreateEntry(ctx, newID("root2", "/c"), "/c"))

	entries, err := c.ListRoot(ctx, "root1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/a", entries[0].Path)
	assert.Equal(t, "/b", entries[1].Path)

	limited, err := c.ListRoot(ctx, "root1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
