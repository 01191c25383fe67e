package protocol

import (
	"context"
	"io"
	"time"
)

// FileInfo is the normalized view of one directory entry as returned by a
// storage backend.
//
// Metadata carries the protocol-specific identity hints used when no content
// hash is available: "inode" for NFS, "etag" for WebDAV, "mtime" for SMB and
// FTP. Keys absent for a protocol are simply omitted.
type FileInfo struct {
	Name     string
	Path     string
	Size     int64
	ModTime  time.Time
	IsDir    bool
	Metadata map[string]string
}

// FS is the minimal filesystem surface a Handler needs from a storage
// backend.
//
// Implementations live in pkg/backend; handlers accept the interface so the
// same move and identify logic runs against a production SMB mount and the
// in-memory backend used in tests.
//
// Error Mapping:
// Implementations must map their native not-found condition to ErrNotFound
// and connectivity failures to ErrUnavailable (wrapped, so errors.Is works).
//
// Thread Safety:
// Implementations must be safe for concurrent use. Handlers may stat and
// list from the event source goroutine while a dispatch worker copies.
type FS interface {
	// Stat returns the FileInfo for a single path.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// List returns the immediate entries of a directory.
	List(ctx context.Context, path string) ([]*FileInfo, error)

	// Exists reports whether the path exists. A clean "no" is (false, nil);
	// an unreachable backend is an error.
	Exists(ctx context.Context, path string) (bool, error)

	// Open returns a reader over file content. The caller closes it.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Create writes the full content of a file from the reader, replacing
	// any existing file at the path.
	Create(ctx context.Context, path string, r io.Reader) error

	// Mkdir creates a directory, including missing parents.
	Mkdir(ctx context.Context, path string) error

	// Remove deletes a single file.
	Remove(ctx context.Context, path string) error

	// RemoveAll deletes a directory and everything under it.
	RemoveAll(ctx context.Context, path string) error

	// Rename atomically renames a path where the backend supports it.
	// Backends without server-side rename return ErrNotSupported; NFS
	// backends return ErrNotSupported for cross-mount renames.
	Rename(ctx context.Context, oldPath, newPath string) error
}
