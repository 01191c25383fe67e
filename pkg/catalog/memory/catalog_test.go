package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmicheli/driftwatch/pkg/catalog"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

func newID(root, path string) *protocol.FileIdentifier {
	return &protocol.FileIdentifier{
		StorageRootID: root,
		Protocol:      protocol.FTP,
		Path:          path,
		Size:          64,
	}
}

func TestCreateLookupRemove(t *testing.T) {
	c := New()
	ctx := context.Background()

	id := newID("root1", "/a.mp3")
	require.NoError(t, c.CreateEntry(ctx, id, "/a.mp3"))

	entry, err := c.Lookup(ctx, "root1", "/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(64), entry.Size)

	require.NoError(t, c.RemoveEntry(ctx, id, "/a.mp3"))
	_, err = c.Lookup(ctx, "root1", "/a.mp3")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestUpdatePathMovesAndReplays(t *testing.T) {
	c := New()
	ctx := context.Background()

	id := newID("root1", "/a.mp3")
	require.NoError(t, c.CreateEntry(ctx, id, "/a.mp3"))
	require.NoError(t, c.UpdatePath(ctx, id, "/a.mp3", "/b.mp3"))
	require.NoError(t, c.UpdatePath(ctx, id, "/a.mp3", "/b.mp3"))

	entries, err := c.ListRoot(ctx, "root1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/b.mp3", entries[0].Path)
}

func TestLookupReturnsCopies(t *testing.T) {
	c := New()
	ctx := context.Background()

	id := newID("root1", "/a.mp3")
	require.NoError(t, c.CreateEntry(ctx, id, "/a.mp3"))

	entry, err := c.Lookup(ctx, "root1", "/a.mp3")
	require.NoError(t, err)
	entry.Size = 9999

	again, err := c.Lookup(ctx, "root1", "/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(64), again.Size)
}
