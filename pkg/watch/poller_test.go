package watch

import (
	"context"
	"testing"
	"time"

	"github.com/gmicheli/driftwatch/pkg/backend/memory"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

func TestFirstPollIsBaseline(t *testing.T) {
	client := memory.New(protocol.SMB)
	client.WriteFile("/share/a.bin", []byte("a"), time.Now())

	poller := NewPoller(client, protocol.SMB, "/share", PollerOptions{})
	events, err := poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("baseline poll must emit nothing, got %d events", len(events))
	}
	if len(poller.Snapshot()) == 0 {
		t.Fatal("baseline poll should populate the snapshot")
	}
}

func TestPollDiffEmitsDeleteBeforeCreate(t *testing.T) {
	client := memory.New(protocol.SMB)
	mtime := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	client.WriteFile("/share/a.bin", []byte("data"), mtime)

	poller := NewPoller(client, protocol.SMB, "/share", PollerOptions{})
	ctx := context.Background()
	if _, err := poller.PollOnce(ctx); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	// Rename between polls: observed as a disappearance plus an appearance.
	if err := client.Rename(ctx, "/share/a.bin", "/share/b.bin"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	events, err := poller.PollOnce(ctx)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want delete+create, got %+v", events)
	}
	if events[0].Op != OpDelete || events[0].Path != "/share/a.bin" {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[0].Info == nil || events[0].Info.Size != 4 {
		t.Fatal("delete must carry the last known entry info")
	}
	if events[1].Op != OpCreate || events[1].Path != "/share/b.bin" {
		t.Fatalf("second event = %+v", events[1])
	}
}

func TestPollDiffDetectsModify(t *testing.T) {
	client := memory.New(protocol.WebDAV)
	mtime := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	client.WriteFile("/dav/doc.txt", []byte("v1"), mtime)

	poller := NewPoller(client, protocol.WebDAV, "/dav", PollerOptions{})
	ctx := context.Background()
	if _, err := poller.PollOnce(ctx); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	client.WriteFile("/dav/doc.txt", []byte("version two"), mtime.Add(time.Minute))

	events, err := poller.PollOnce(ctx)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(events) != 1 || events[0].Op != OpModify {
		t.Fatalf("events = %+v", events)
	}
}

func TestPollDiffFoldsDeletedDirectoryChildren(t *testing.T) {
	client := memory.New(protocol.NFS)
	now := time.Now()
	client.WriteFile("/export/Old/one.mkv", []byte("1"), now)
	client.WriteFile("/export/Old/two.mkv", []byte("2"), now)
	client.WriteFile("/export/Old/sub/three.mkv", []byte("3"), now)

	poller := NewPoller(client, protocol.NFS, "/export", PollerOptions{})
	ctx := context.Background()
	if _, err := poller.PollOnce(ctx); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	if err := client.Rename(ctx, "/export/Old", "/export/New"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	events, err := poller.PollOnce(ctx)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	var dirDelete *Event
	for i := range events {
		ev := &events[i]
		if ev.Op == OpDelete {
			if ev.Path != "/export/Old" {
				t.Fatalf("children of a deleted directory must be folded, got delete for %s", ev.Path)
			}
			dirDelete = ev
		}
	}
	if dirDelete == nil {
		t.Fatal("missing directory delete event")
	}
	// one.mkv, two.mkv, sub, sub/three.mkv
	if len(dirDelete.Children) != 4 {
		t.Fatalf("children = %d, want 4", len(dirDelete.Children))
	}
}

func TestPollErrorKeepsSnapshot(t *testing.T) {
	client := memory.New(protocol.FTP)
	client.WriteFile("/srv/a.bin", []byte("a"), time.Now())

	poller := NewPoller(client, protocol.FTP, "/srv", PollerOptions{})
	ctx := context.Background()
	if _, err := poller.PollOnce(ctx); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	client.SetOffline(true)
	if _, err := poller.PollOnce(ctx); err == nil {
		t.Fatal("poll against an offline backend must fail")
	}

	// Recovery must not surface the outage as churn.
	client.SetOffline(false)
	events, err := poller.PollOnce(ctx)
	if err != nil {
		t.Fatalf("PollOnce after recovery: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("unchanged tree after outage produced %+v", events)
	}
}
