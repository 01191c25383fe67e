package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmicheli/driftwatch/pkg/backend/memory"
	"github.com/gmicheli/driftwatch/pkg/eventstore"
	storememory "github.com/gmicheli/driftwatch/pkg/eventstore/memory"
	"github.com/gmicheli/driftwatch/pkg/protocol"
	"github.com/gmicheli/driftwatch/pkg/registry"
	"github.com/gmicheli/driftwatch/pkg/resilience"
	"github.com/gmicheli/driftwatch/pkg/tracker"
	"github.com/gmicheli/driftwatch/pkg/watch"
)

type catalogCall struct {
	op      string
	oldPath string
	newPath string
	path    string
}

type fakeCatalog struct {
	mu    sync.Mutex
	calls []catalogCall
}

func (c *fakeCatalog) UpdatePath(ctx context.Context, id *protocol.FileIdentifier, oldPath, newPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, catalogCall{op: "update", oldPath: oldPath, newPath: newPath})
	return nil
}

func (c *fakeCatalog) RemoveEntry(ctx context.Context, id *protocol.FileIdentifier, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, catalogCall{op: "remove", path: path})
	return nil
}

func (c *fakeCatalog) CreateEntry(ctx context.Context, id *protocol.FileIdentifier, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, catalogCall{op: "create", path: path})
	return nil
}

func (c *fakeCatalog) snapshot() []catalogCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]catalogCall(nil), c.calls...)
}

func (c *fakeCatalog) find(op string) (catalogCall, bool) {
	for _, call := range c.snapshot() {
		if call.op == op {
			return call, true
		}
	}
	return catalogCall{}, false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// testEngine wires one polled memory root with fast intervals.
func testEngine(t *testing.T, client *memory.Client, rootName string) (*Engine, *fakeCatalog, eventstore.Store) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.AddRoot(&registry.RootConfig{
		Name:         rootName,
		Protocol:     client.Protocol(),
		Client:       client,
		Handler:      protocol.ForProtocol(client.Protocol()),
		PollInterval: 15 * time.Millisecond,
	}))

	store := storememory.New()
	catalog := &fakeCatalog{}
	e := New(catalog, store, reg, Options{
		Workers:        2,
		DebounceWindow: 10 * time.Millisecond,
		RetryBase:      5 * time.Millisecond,
		Resilience: ResilienceOptions{
			MaxFailures:  2,
			BaseBackoff:  10 * time.Millisecond,
			MaxBackoff:   50 * time.Millisecond,
			ProbeTimeout: time.Second,
		},
	})
	return e, catalog, store
}

func startEngine(t *testing.T, e *Engine) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop in time")
		}
	})
	return cancel
}

func TestServeRequiresRoots(t *testing.T) {
	e := New(&fakeCatalog{}, storememory.New(), registry.New(), Options{})
	err := e.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no storage roots")
}

func TestNewFileDispatchesCreate(t *testing.T) {
	client := memory.New(protocol.FTP)
	e, catalog, _ := testEngine(t, client, "ftp1")
	startEngine(t, e)

	// Let the baseline snapshot land before the file appears.
	time.Sleep(50 * time.Millisecond)
	client.WriteFile("/incoming/song.mp3", []byte("audio"), time.Now())

	waitFor(t, func() bool {
		call, ok := catalog.find("create")
		return ok && call.path == "/incoming/song.mp3"
	})
}

func TestRenameIsCorrelatedAndSettled(t *testing.T) {
	client := memory.New(protocol.FTP)
	client.WriteFile("/media/track.flac", []byte("flac-bytes"), time.Now())
	e, catalog, store := testEngine(t, client, "ftp1")
	startEngine(t, e)

	// Wait for the baseline scan to know the file, then rename it between
	// polls the way an external client would.
	time.Sleep(50 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, client.Rename(ctx, "/media/track.flac", "/media/archive/track.flac"))

	waitFor(t, func() bool {
		call, ok := catalog.find("update")
		return ok && call.oldPath == "/media/track.flac" && call.newPath == "/media/archive/track.flac"
	})

	waitFor(t, func() bool {
		events, err := store.ListByRoot(ctx, "ftp1", 10)
		if err != nil || len(events) != 1 {
			return false
		}
		ev := events[0]
		return ev.Status == eventstore.StatusProcessed &&
			ev.OldPath == "/media/track.flac" &&
			ev.NewPath == "/media/archive/track.flac"
	})

	// The create was consumed by the match, never dispatched on its own.
	if call, ok := catalog.find("create"); ok {
		t.Fatalf("unexpected create dispatched for %s", call.path)
	}
}

func TestDirectoryRenameRemapsChildren(t *testing.T) {
	client := memory.New(protocol.SMB)
	client.WriteFile("/share/albums/one.mp3", []byte("one"), time.Now())
	client.WriteFile("/share/albums/two.mp3", []byte("two"), time.Now())
	e, catalog, _ := testEngine(t, client, "smb1")
	startEngine(t, e)

	time.Sleep(50 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, client.Rename(ctx, "/share/albums", "/share/music"))

	waitFor(t, func() bool {
		updates := 0
		for _, call := range catalog.snapshot() {
			if call.op == "update" {
				updates++
			}
		}
		return updates >= 3
	})

	got := make(map[string]string)
	for _, call := range catalog.snapshot() {
		if call.op == "update" {
			got[call.oldPath] = call.newPath
		}
	}
	assert.Equal(t, "/share/music", got["/share/albums"])
	assert.Equal(t, "/share/music/one.mp3", got["/share/albums/one.mp3"])
	assert.Equal(t, "/share/music/two.mp3", got["/share/albums/two.mp3"])
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	client := memory.New(protocol.WebDAV)
	client.WriteFile("/dav/doc.pdf", []byte("pdf"), time.Now())
	e, _, _ := testEngine(t, client, "dav1")
	startEngine(t, e)

	time.Sleep(50 * time.Millisecond)
	client.SetOffline(true)

	waitFor(t, func() bool {
		status, err := e.RootStatus("dav1")
		return err == nil && status.Breaker.State == resilience.StateOpen
	})

	client.SetOffline(false)
	waitFor(t, func() bool {
		status, err := e.RootStatus("dav1")
		return err == nil && status.Breaker.State == resilience.StateClosed
	})

	// The cached snapshot survives and keeps serving entry metadata.
	status, err := e.RootStatus("dav1")
	require.NoError(t, err)
	assert.Equal(t, "dav1", status.Source)
}

func TestChangesDuringOutageAreReconciled(t *testing.T) {
	client := memory.New(protocol.FTP)
	client.WriteFile("/media/a.mp3", []byte("a"), time.Now())
	e, catalog, _ := testEngine(t, client, "ftp1")
	startEngine(t, e)

	time.Sleep(50 * time.Millisecond)
	client.SetOffline(true)
	waitFor(t, func() bool {
		status, err := e.RootStatus("ftp1")
		return err == nil && status.Breaker.State == resilience.StateOpen
	})

	// Change storage while unreachable. SetOffline only gates the client
	// API, the backing map is still writable from the test.
	client.WriteFile("/media/b.mp3", []byte("b"), time.Now())

	client.SetOffline(false)
	waitFor(t, func() bool {
		call, ok := catalog.find("create")
		return ok && call.path == "/media/b.mp3"
	})
}

func TestExpiredPendingMoveDispatchesDeletes(t *testing.T) {
	client := memory.New(protocol.NFS)
	e, catalog, _ := testEngine(t, client, "nfs1")

	e.pool.Start(context.Background())
	defer e.pool.Close(context.Background())

	id := &protocol.FileIdentifier{StorageRootID: "nfs1", Protocol: protocol.NFS, Path: "/exports/dir", IsDirectory: true}
	childID := &protocol.FileIdentifier{StorageRootID: "nfs1", Protocol: protocol.NFS, Path: "/exports/dir/f.bin"}
	e.expire(&tracker.PendingMove{
		Identifier:  id,
		OldPath:     "/exports/dir",
		IsDirectory: true,
		Children: []*tracker.PendingMove{
			{Identifier: childID, OldPath: "/exports/dir/f.bin"},
		},
	})

	waitFor(t, func() bool {
		removed := make(map[string]bool)
		for _, call := range catalog.snapshot() {
			if call.op == "remove" {
				removed[call.path] = true
			}
		}
		return removed["/exports/dir"] && removed["/exports/dir/f.bin"]
	})
}

func TestRequestMovePerformsPhysicalMove(t *testing.T) {
	client := memory.New(protocol.SMB)
	client.WriteFile("/share/old.bin", []byte("payload"), time.Now())
	e, catalog, store := testEngine(t, client, "smb1")
	startEngine(t, e)

	ctx := context.Background()
	ev, err := e.RequestMove(ctx, "smb1", "/share/old.bin", "/share/new.bin")
	require.NoError(t, err)
	require.NotZero(t, ev.ID)
	assert.Equal(t, eventstore.StatusPending, ev.Status)

	waitFor(t, func() bool {
		got, err := store.Get(ctx, ev.ID)
		return err == nil && got.Status == eventstore.StatusProcessed
	})

	exists, _ := client.Exists(ctx, "/share/new.bin")
	assert.True(t, exists, "destination should exist after the move")
	exists, _ = client.Exists(ctx, "/share/old.bin")
	assert.False(t, exists, "source should be gone after the move")

	call, ok := catalog.find("update")
	require.True(t, ok)
	assert.Equal(t, "/share/new.bin", call.newPath)
}

func TestRequestMoveUnknownRoot(t *testing.T) {
	client := memory.New(protocol.SMB)
	e, _, _ := testEngine(t, client, "smb1")

	_, err := e.RequestMove(context.Background(), "nope", "/a", "/b")
	require.Error(t, err)
}

func TestRootStatusesCoversAllRoots(t *testing.T) {
	client := memory.New(protocol.FTP)
	e, _, _ := testEngine(t, client, "ftp1")
	startEngine(t, e)

	waitFor(t, func() bool {
		statuses := e.RootStatuses()
		return len(statuses) == 1 && statuses[0].Source == "ftp1"
	})
}

func TestForceReconnect(t *testing.T) {
	client := memory.New(protocol.FTP)
	e, _, _ := testEngine(t, client, "ftp1")
	startEngine(t, e)

	waitFor(t, func() bool {
		_, err := e.RootStatus("ftp1")
		return err == nil
	})
	require.Error(t, e.ForceReconnect("nope"))

	client.SetOffline(true)
	waitFor(t, func() bool {
		status, _ := e.RootStatus("ftp1")
		return status.Breaker.State == resilience.StateOpen
	})
	client.SetOffline(false)
	require.NoError(t, e.ForceReconnect("ftp1"))

	waitFor(t, func() bool {
		status, _ := e.RootStatus("ftp1")
		return status.Breaker.State == resilience.StateClosed
	})
}

func TestDeleteWithoutRecordedInfoIsTracked(t *testing.T) {
	client := memory.New(protocol.FTP)
	e, _, _ := testEngine(t, client, "churn")
	startEngine(t, e)

	var r *runner
	waitFor(t, func() bool {
		e.mu.RLock()
		defer e.mu.RUnlock()
		r = e.runners["churn"]
		return r != nil
	})

	// A temp file created and removed between scans leaves only a path
	// behind; the delete must still be tracked instead of crashing the
	// event goroutine.
	r.handleEvent(context.Background(), watch.Event{
		Op:   watch.OpDelete,
		Path: "/upload.part",
		At:   time.Now(),
	})

	stats, err := e.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPendingMoves)
}

func TestRootEntriesServedFromCacheDuringOutage(t *testing.T) {
	client := memory.New(protocol.WebDAV)
	client.WriteFile("/dav/a.mp3", []byte("a"), time.Now())
	e, _, _ := testEngine(t, client, "dav2")
	startEngine(t, e)

	waitFor(t, func() bool {
		entries, err := e.RootEntries("dav2")
		return err == nil && len(entries) > 0
	})

	client.SetOffline(true)
	waitFor(t, func() bool {
		status, err := e.RootStatus("dav2")
		return err == nil && status.Breaker.State == resilience.StateOpen
	})

	// Written during the outage, never scanned; the last known view must
	// not include it.
	client.WriteFile("/dav/b.mp3", []byte("b"), time.Now())

	entries, err := e.RootEntries("dav2")
	require.NoError(t, err)
	assert.Contains(t, entries, "/dav/a.mp3")
	assert.NotContains(t, entries, "/dav/b.mp3")
}

func TestStopRootFlushesStateAndExpiresPending(t *testing.T) {
	client := memory.New(protocol.SMB)
	client.WriteFile("/share/a.bin", []byte("a"), time.Now())
	e, _, store := testEngine(t, client, "nas")
	startEngine(t, e)

	ctx := context.Background()
	waitFor(t, func() bool {
		entries, err := e.RootEntries("nas")
		return err == nil && len(entries) > 0
	})

	// A delete observed just before the stop leaves arena state behind.
	id, err := protocol.ForProtocol(protocol.SMB).Identify(ctx, client, "nas", "/share/a.bin")
	require.NoError(t, err)
	require.NoError(t, e.TrackDelete(ctx, id, "/share/a.bin", time.Now(), nil))

	// A rename event the stopped root will never confirm.
	ev := &eventstore.RenameEvent{
		StorageRootID: "nas",
		Protocol:      protocol.SMB,
		OldPath:       "/share/x.bin",
		NewPath:       "/share/y.bin",
		DetectedAt:    time.Now(),
		Status:        eventstore.StatusPending,
	}
	require.NoError(t, store.Save(ctx, ev))

	require.NoError(t, e.StopRoot(ctx, "nas"))

	stats, err := e.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalPendingMoves)

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, eventstore.StatusExpired, got.Status)

	_, err = e.RootEntries("nas")
	assert.Error(t, err)
	_, err = e.RootStatus("nas")
	assert.Error(t, err)
	assert.Error(t, e.StopRoot(ctx, "nas"))
}
