package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gmicheli/driftwatch/pkg/backend/local"
)

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) add(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// find returns the first recorded event matching op and path.
func (s *eventSink) find(op Op, path string) *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].Op == op && s.events[i].Path == path {
			return &s.events[i]
		}
	}
	return nil
}

func waitForEvent(t *testing.T, sink *eventSink, op Op, path string) *Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ev := sink.find(op, path); ev != nil {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s event for %s", op, path)
	return nil
}

// startNotify runs a NotifySource over base and blocks until its initial
// tree walk has seen wantKnown entries, so file operations made by the test
// happen after the watches are in place.
func startNotify(t *testing.T, base string, sink *eventSink, wantKnown int) *NotifySource {
	t.Helper()
	client := local.New(base)
	source := NewNotifySource(client, base, sink.add, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("notify source did not stop")
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for len(source.Snapshot()) < wantKnown {
		if time.Now().After(deadline) {
			t.Fatalf("snapshot has %d entries, want %d", len(source.Snapshot()), wantKnown)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return source
}

func TestNotifyEmitsCreateModifyAndDelete(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "seed.bin"), []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}
	sink := &eventSink{}
	source := startNotify(t, base, sink, 1)

	name := filepath.Join(base, "song.mp3")
	if err := os.WriteFile(name, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	created := waitForEvent(t, sink, OpCreate, "/song.mp3")
	if created.Info == nil || created.Info.Size != 5 {
		t.Fatalf("create info = %+v", created.Info)
	}

	if err := os.WriteFile(name, []byte("more audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, sink, OpModify, "/song.mp3")

	if err := os.Remove(name); err != nil {
		t.Fatal(err)
	}
	deleted := waitForEvent(t, sink, OpDelete, "/song.mp3")
	if deleted.Info == nil {
		t.Fatal("delete must carry the last known entry info")
	}
	if _, ok := source.Snapshot()["/song.mp3"]; ok {
		t.Fatal("deleted entry still in snapshot")
	}
}

func TestNotifyDirectoryRenameCarriesChildren(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "albums"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"one.flac", "two.flac"} {
		if err := os.WriteFile(filepath.Join(base, "albums", name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	sink := &eventSink{}
	startNotify(t, base, sink, 3)

	if err := os.Rename(filepath.Join(base, "albums"), filepath.Join(base, "music")); err != nil {
		t.Fatal(err)
	}

	// A rename surfaces as a delete of the old path and a create of the
	// new one. The delete must fold in the directory's children.
	deleted := waitForEvent(t, sink, OpDelete, "/albums")
	if deleted.Info == nil || !deleted.Info.IsDir {
		t.Fatalf("delete info = %+v", deleted.Info)
	}
	if len(deleted.Children) != 2 {
		t.Fatalf("children = %+v", deleted.Children)
	}
	if deleted.Children[0].Path != "/albums/one.flac" || deleted.Children[1].Path != "/albums/two.flac" {
		t.Fatalf("children paths = %q, %q", deleted.Children[0].Path, deleted.Children[1].Path)
	}
	if sink.find(OpDelete, "/albums/one.flac") != nil {
		t.Fatal("children must not be emitted as standalone deletes")
	}

	created := waitForEvent(t, sink, OpCreate, "/music")
	if created.Info == nil || !created.Info.IsDir {
		t.Fatalf("create info = %+v", created.Info)
	}
}

func TestNotifyWatchesNewDirectories(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "seed.bin"), []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}
	sink := &eventSink{}
	startNotify(t, base, sink, 1)

	if err := os.Mkdir(filepath.Join(base, "incoming"), 0o755); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, sink, OpCreate, "/incoming")

	if err := os.WriteFile(filepath.Join(base, "incoming", "fresh.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, sink, OpCreate, "/incoming/fresh.bin")
}
