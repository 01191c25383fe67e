package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmicheli/driftwatch/pkg/eventstore"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newEvent(root, old, new string) *eventstore.RenameEvent {
	return &eventstore.RenameEvent{
		StorageRootID: root,
		Protocol:      protocol.SMB,
		OldPath:       old,
		NewPath:       new,
		Size:          1024,
		DetectedAt:    time.Now().UTC(),
		Status:        eventstore.StatusPending,
	}
}

func TestSaveAssignsSequentialIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newEvent("root1", "/a", "/b")
	second := newEvent("root1", "/c", "/d")
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))

	assert.NotZero(t, first.ID)
	assert.Greater(t, second.ID, first.ID)

	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "/a", got.OldPath)
	assert.Equal(t, eventstore.StatusPending, got.Status)
}

func TestSaveRejectsInvalidEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bad := newEvent("root1", "", "/b")
	err := store.Save(ctx, bad)
	require.Error(t, err)

	bad = newEvent("root1", "/a", "/b")
	bad.Status = "bogus"
	err = store.Save(ctx, bad)
	require.Error(t, err)
}

func TestSetStatusSettlesAndFreezes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := newEvent("root1", "/a", "/b")
	require.NoError(t, store.Save(ctx, ev))

	require.NoError(t, store.SetStatus(ctx, ev.ID, eventstore.StatusProcessed))

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, eventstore.StatusProcessed, got.Status)
	require.NotNil(t, got.ProcessedAt)

	// Processed events are immutable.
	err = store.SetStatus(ctx, ev.ID, eventstore.StatusFailed)
	require.Error(t, err)
	assert.True(t, eventstore.IsImmutable(err))
}

func TestSetStatusUnknownEvent(t *testing.T) {
	store := newTestStore(t)
	err := store.SetStatus(context.Background(), 9999, eventstore.StatusFailed)
	require.Error(t, err)
	assert.True(t, eventstore.IsNotFound(err))
}

func TestListByRootNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, newEvent("root1", "/a", "/b")))
	}
	require.NoError(t, store.Save(ctx, newEvent("root2", "/x", "/y")))

	events, err := store.ListByRoot(ctx, "root1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Greater(t, events[0].ID, events[1].ID)
	assert.Greater(t, events[1].ID, events[2].ID)

	limited, err := store.ListByRoot(ctx, "root1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListByStatusTracksSettlement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := newEvent("root1", "/a", "/b")
	require.NoError(t, store.Save(ctx, ev))

	pending, err := store.ListByStatus(ctx, eventstore.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.SetStatus(ctx, ev.ID, eventstore.StatusProcessed))

	pending, err = store.ListByStatus(ctx, eventstore.StatusPending, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	processed, err := store.ListByStatus(ctx, eventstore.StatusProcessed, 0)
	require.NoError(t, err)
	assert.Len(t, processed, 1)
}

func TestCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Save(ctx, newEvent("root1", "/a", "/b")))
	}
	require.NoError(t, store.SetStatus(ctx, 1, eventstore.StatusProcessed))
	require.NoError(t, store.SetStatus(ctx, 2, eventstore.StatusProcessed))
	require.NoError(t, store.SetStatus(ctx, 3, eventstore.StatusFailed))

	total, processed, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), total)
	assert.Equal(t, uint64(2), processed)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := New(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	ev := newEvent("root1", "/a", "/b")
	require.NoError(t, store.Save(ctx, ev))
	require.NoError(t, store.Close())

	reopened, err := New(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "/b", got.NewPath)

	// Ids keep advancing after reopen.
	next := newEvent("root1", "/c", "/d")
	require.NoError(t, reopened.Save(ctx, next))
	assert.Greater(t, next.ID, ev.ID)
}
