package protocol_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/gmicheli/driftwatch/pkg/backend/memory"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

func TestIdentifyHashesSmallFiles(t *testing.T) {
	client := memory.New(protocol.SMB)
	client.WriteFile("/media/a.mkv", []byte("movie bytes"), time.Now())

	handler := protocol.ForProtocol(protocol.SMB)
	id, err := handler.Identify(context.Background(), client, "root1", "/media/a.mkv")
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if id.ContentHash == "" {
		t.Fatal("small file should get a content hash")
	}
	if id.Size != int64(len("movie bytes")) {
		t.Fatalf("size = %d", id.Size)
	}
	if id.Protocol != protocol.SMB || id.StorageRootID != "root1" {
		t.Fatalf("identifier mislabeled: %+v", id)
	}
}

func TestIdentifySkipsHashAboveThreshold(t *testing.T) {
	client := memory.New(protocol.SMB)
	mtime := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	client.WriteSparse("/media/big.mkv", 1_400_000_000, mtime)

	handler := protocol.ForProtocol(protocol.SMB)
	id, err := handler.Identify(context.Background(), client, "root1", "/media/big.mkv")
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if id.ContentHash != "" {
		t.Fatal("file above threshold must not be hashed")
	}
	if id.Metadata["mtime"] == "" {
		t.Fatal("identity should fall back to mtime metadata")
	}
}

func TestIdentifyNotFound(t *testing.T) {
	client := memory.New(protocol.Local)
	handler := protocol.ForProtocol(protocol.Local)

	_, err := handler.Identify(context.Background(), client, "root1", "/missing")
	if !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestIdentifyOfflineIsUnavailable(t *testing.T) {
	client := memory.New(protocol.FTP)
	client.SetOffline(true)
	handler := protocol.ForProtocol(protocol.FTP)

	_, err := handler.Identify(context.Background(), client, "root1", "/anything")
	if !errors.Is(err, protocol.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestCopyMovePreservesContent(t *testing.T) {
	client := memory.New(protocol.SMB)
	client.WriteFile("/share/a.bin", []byte("payload"), time.Now())

	handler := protocol.ForProtocol(protocol.SMB)
	ctx := context.Background()

	if err := handler.PerformMove(ctx, client, "/share/a.bin", "/share/sub/a.bin", false); err != nil {
		t.Fatalf("PerformMove: %v", err)
	}

	if exists, _ := client.Exists(ctx, "/share/a.bin"); exists {
		t.Fatal("source should be deleted after copy move")
	}
	r, err := client.Open(ctx, "/share/sub/a.bin")
	if err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "payload" {
		t.Fatalf("content = %q", data)
	}

	if err := handler.ValidateMove(ctx, client, "/share/a.bin", "/share/sub/a.bin"); err != nil {
		t.Fatalf("ValidateMove: %v", err)
	}
}

func TestCopyMoveDirectory(t *testing.T) {
	client := memory.New(protocol.WebDAV)
	client.WriteFile("/movies/Old/one.mkv", []byte("1"), time.Now())
	client.WriteFile("/movies/Old/two.mkv", []byte("2"), time.Now())
	client.WriteFile("/movies/Old/sub/three.mkv", []byte("3"), time.Now())

	handler := protocol.ForProtocol(protocol.WebDAV)
	ctx := context.Background()

	if err := handler.PerformMove(ctx, client, "/movies/Old", "/movies/New", true); err != nil {
		t.Fatalf("PerformMove: %v", err)
	}

	for _, p := range []string{"/movies/New/one.mkv", "/movies/New/two.mkv", "/movies/New/sub/three.mkv"} {
		if exists, _ := client.Exists(ctx, p); !exists {
			t.Fatalf("%s missing after directory move", p)
		}
	}
	if exists, _ := client.Exists(ctx, "/movies/Old"); exists {
		t.Fatal("old directory should be removed")
	}
}

// failCreateFS wedges every write, simulating a destination going read-only
// mid-copy.
type failCreateFS struct {
	*memory.Client
}

func (f *failCreateFS) Create(ctx context.Context, path string, r io.Reader) error {
	return fmt.Errorf("disk full: %w", protocol.ErrUnavailable)
}

func TestCopyMoveFailureLeavesNoPartialCopy(t *testing.T) {
	inner := memory.New(protocol.SMB)
	inner.WriteFile("/share/a.bin", []byte("payload"), time.Now())
	client := &failCreateFS{Client: inner}

	handler := protocol.ForProtocol(protocol.SMB)
	ctx := context.Background()

	err := handler.PerformMove(ctx, client, "/share/a.bin", "/share/b.bin", false)
	if err == nil {
		t.Fatal("PerformMove should fail when writes fail")
	}

	if exists, _ := inner.Exists(ctx, "/share/a.bin"); !exists {
		t.Fatal("source must survive a failed move")
	}
	if exists, _ := inner.Exists(ctx, "/share/b.bin"); exists {
		t.Fatal("partial destination must be cleaned up")
	}
}

func TestLocalMoveRenames(t *testing.T) {
	client := memory.New(protocol.Local)
	client.WriteFile("/tmp/x.jpg", []byte("img"), time.Now())

	handler := protocol.ForProtocol(protocol.Local)
	ctx := context.Background()

	before, _ := client.Stat(ctx, "/tmp/x.jpg")
	if err := handler.PerformMove(ctx, client, "/tmp/x.jpg", "/tmp/y.jpg", false); err != nil {
		t.Fatalf("PerformMove: %v", err)
	}
	after, err := client.Stat(ctx, "/tmp/y.jpg")
	if err != nil {
		t.Fatalf("stat destination: %v", err)
	}
	// A rename keeps the inode; a copy would allocate a new one.
	if before.Metadata["inode"] != after.Metadata["inode"] {
		t.Fatal("local move should rename in place, not copy")
	}
}

// noRenameFS simulates an NFS mount boundary.
type noRenameFS struct {
	*memory.Client
}

func (f *noRenameFS) Rename(ctx context.Context, oldPath, newPath string) error {
	return fmt.Errorf("cross-mount rename: %w", protocol.ErrNotSupported)
}

func TestNFSMoveFallsBackToCopy(t *testing.T) {
	inner := memory.New(protocol.NFS)
	inner.WriteFile("/export/a.bin", []byte("data"), time.Now())
	client := &noRenameFS{Client: inner}

	handler := protocol.ForProtocol(protocol.NFS)
	ctx := context.Background()

	if err := handler.PerformMove(ctx, client, "/export/a.bin", "/export/far/a.bin", false); err != nil {
		t.Fatalf("PerformMove: %v", err)
	}
	if exists, _ := inner.Exists(ctx, "/export/far/a.bin"); !exists {
		t.Fatal("copy fallback should have produced the destination")
	}
	if exists, _ := inner.Exists(ctx, "/export/a.bin"); exists {
		t.Fatal("source should be deleted after fallback copy")
	}
}

func TestValidateMoveFailures(t *testing.T) {
	client := memory.New(protocol.SMB)
	client.WriteFile("/share/src.bin", []byte("x"), time.Now())
	handler := protocol.ForProtocol(protocol.SMB)
	ctx := context.Background()

	// Destination never created.
	err := handler.ValidateMove(ctx, client, "/share/src.bin", "/share/dst.bin")
	if !errors.Is(err, protocol.ErrMoveValidationFailed) {
		t.Fatalf("missing destination: want ErrMoveValidationFailed, got %v", err)
	}

	// Both present: source was not removed.
	client.WriteFile("/share/dst.bin", []byte("x"), time.Now())
	err = handler.ValidateMove(ctx, client, "/share/src.bin", "/share/dst.bin")
	if !errors.Is(err, protocol.ErrMoveValidationFailed) {
		t.Fatalf("lingering source: want ErrMoveValidationFailed, got %v", err)
	}
}
