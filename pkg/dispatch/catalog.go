// Package dispatch applies confirmed change decisions through a bounded
// queue and a fixed worker pool.
//
// Producers never block forever: enqueueing waits up to a timeout, then the
// job is dropped and counted. Workers perform the physical move where one is
// still needed, validate it, forward the outcome to the catalog collaborator
// and settle the persisted rename event.
package dispatch

import (
	"context"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Catalog is the collaborator that owns the media catalog. The engine only
// tells it about settled outcomes; it never reads catalog state.
//
// Implementations must tolerate repeats: an UpdatePath for an already
// updated entry or a CreateEntry for a known path must be idempotent,
// because retries can replay a partially applied job.
type Catalog interface {
	// UpdatePath moves a catalog entry from oldPath to newPath.
	UpdatePath(ctx context.Context, id *protocol.FileIdentifier, oldPath, newPath string) error

	// RemoveEntry removes the catalog entry at path.
	RemoveEntry(ctx context.Context, id *protocol.FileIdentifier, path string) error

	// CreateEntry registers a new entry at path.
	CreateEntry(ctx context.Context, id *protocol.FileIdentifier, path string) error
}
