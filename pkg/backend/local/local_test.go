package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

func TestConnectMissingBase(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "nope"))
	err := c.Connect(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, protocol.ErrUnavailable)
}

func TestStatListAndMetadata(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "docs", "a.txt"), []byte("hello"), 0o644))

	c := New(base)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	info, err := c.Stat(ctx, "/docs/a.txt")
	require.NoError(t, err)
	require.Equal(t, "/docs/a.txt", info.Path)
	require.Equal(t, int64(5), info.Size)
	require.False(t, info.IsDir)
	require.NotEmpty(t, info.Metadata["mtime"])
	require.NotEmpty(t, info.Metadata["inode"])

	entries, err := c.List(ctx, "/docs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.txt", entries[0].Name)
}

func TestNotFoundMapping(t *testing.T) {
	c := New(t.TempDir())
	ctx := context.Background()

	_, err := c.Stat(ctx, "/ghost")
	require.ErrorIs(t, err, protocol.ErrNotFound)

	ok, err := c.Exists(ctx, "/ghost")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateOpenRoundTrip(t *testing.T) {
	c := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "/sub/dir/file.bin", strings.NewReader("payload")))

	r, err := c.Open(ctx, "/sub/dir/file.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "payload", string(data))
}

func TestRenameKeepsInode(t *testing.T) {
	c := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "/old.txt", strings.NewReader("x")))
	before, err := c.Stat(ctx, "/old.txt")
	require.NoError(t, err)

	require.NoError(t, c.Rename(ctx, "/old.txt", "/new.txt"))

	after, err := c.Stat(ctx, "/new.txt")
	require.NoError(t, err)
	require.Equal(t, before.Metadata["inode"], after.Metadata["inode"])

	_, err = c.Stat(ctx, "/old.txt")
	require.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestRemoveAll(t *testing.T) {
	c := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "/tree/a", strings.NewReader("a")))
	require.NoError(t, c.Create(ctx, "/tree/sub/b", strings.NewReader("b")))
	require.NoError(t, c.RemoveAll(ctx, "/tree"))

	ok, err := c.Exists(ctx, "/tree")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPathEscapeIsContained(t *testing.T) {
	base := t.TempDir()
	c := New(base)
	ctx := context.Background()

	// A path trying to climb out resolves inside the base.
	require.NoError(t, c.Create(ctx, "/../../escape.txt", strings.NewReader("x")))
	_, err := os.Stat(filepath.Join(base, "escape.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(base), "escape.txt"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}
