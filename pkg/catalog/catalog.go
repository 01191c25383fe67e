// Package catalog defines the media catalog the engine reports settled
// changes into: one entry per tracked file or directory, keyed by storage
// root and path.
//
// The dispatch pool only needs the write side (UpdatePath, RemoveEntry,
// CreateEntry); the read side serves status queries and tooling. All write
// operations are idempotent so dispatch retries can replay a partially
// applied job.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/gmicheli/driftwatch/pkg/dispatch"
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// ErrNotFound is returned by Lookup when no entry exists at the path.
var ErrNotFound = errors.New("catalog entry not found")

// Entry is one catalog record.
type Entry struct {
	StorageRootID string            `json:"storage_root_id"`
	Protocol      protocol.Protocol `json:"protocol"`
	Path          string            `json:"path"`
	Size          int64             `json:"size"`
	IsDirectory   bool              `json:"is_directory"`
	ContentHash   string            `json:"content_hash,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Catalog is a persistent dispatch.Catalog with a read side.
type Catalog interface {
	dispatch.Catalog

	// Lookup returns the entry at path within a storage root, or
	// ErrNotFound.
	Lookup(ctx context.Context, storageRootID, path string) (*Entry, error)

	// ListRoot returns up to limit entries of one storage root ordered by
	// path. Zero limit means no limit.
	ListRoot(ctx context.Context, storageRootID string, limit int) ([]*Entry, error)

	// Close releases the underlying storage.
	Close() error
}

// EntryFromIdentifier builds the catalog record for an identified file at
// the given path.
func EntryFromIdentifier(id *protocol.FileIdentifier, path string) *Entry {
	e := &Entry{
		Path:      path,
		UpdatedAt: time.Now().UTC(),
	}
	if id != nil {
		e.StorageRootID = id.StorageRootID
		e.Protocol = id.Protocol
		e.Size = id.Size
		e.IsDirectory = id.IsDirectory
		e.ContentHash = id.ContentHash
		e.Metadata = id.Metadata
	}
	return e
}
