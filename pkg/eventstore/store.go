package eventstore

import "context"

// ============================================================================
// Store Interface
// ============================================================================

// Store persists rename events.
//
// Writes come from two places only: the rename tracker saves new pending
// events, and dispatch workers settle them to processed or failed. Reads
// serve statistics and the status surface of the wrapping service.
//
// Immutability:
// Once an event reaches StatusProcessed it cannot change again; attempts
// return a StoreError with CodeImmutable.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple dispatch
// workers settle distinct events in parallel.
type Store interface {
	// Save persists a new event and assigns its ID. The event must have a
	// valid status; new events are normally StatusPending.
	Save(ctx context.Context, ev *RenameEvent) error

	// Get returns the event with the given id, or CodeNotFound.
	Get(ctx context.Context, id uint64) (*RenameEvent, error)

	// SetStatus settles an event. processedAt is recorded when the new
	// status is StatusProcessed or StatusFailed. Returns CodeImmutable if
	// the event is already processed.
	SetStatus(ctx context.Context, id uint64, status Status) error

	// ListByRoot returns up to limit events for one storage root, newest
	// first. limit <= 0 means no limit.
	ListByRoot(ctx context.Context, storageRootID string, limit int) ([]*RenameEvent, error)

	// ListByStatus returns up to limit events in the given status, newest
	// first. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*RenameEvent, error)

	// Counts returns the total number of events and the number processed
	// successfully, for success rate statistics.
	Counts(ctx context.Context) (total, processed uint64, err error)

	// Close releases the store. Further calls fail.
	Close() error
}
