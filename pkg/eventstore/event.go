// Package eventstore defines the persisted RenameEvent model and the Store
// contract for recording confirmed renames.
//
// Events are written once by the rename tracker with status pending, moved
// to processed or failed by dispatch workers, and retained for audit and
// statistics. They are never deleted automatically.
package eventstore

import (
	"time"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Status is the lifecycle state of a persisted rename event.
type Status string

const (
	// StatusPending means the rename was detected but the catalog update
	// has not completed yet.
	StatusPending Status = "pending"

	// StatusProcessed means the move and catalog update succeeded. A
	// processed event is immutable.
	StatusProcessed Status = "processed"

	// StatusFailed means the move failed terminally after retries.
	StatusFailed Status = "failed"

	// StatusExpired means the event was superseded while pending, for
	// example by a storage root being torn down mid-flight.
	StatusExpired Status = "expired"
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// RenameEvent is one detected rename or move, persisted at detection time.
//
// FileHash is empty for files above the hash threshold. ProcessedAt is nil
// until a dispatch worker settles the event.
type RenameEvent struct {
	ID            uint64            `json:"id"`
	StorageRootID string            `json:"storage_root_id"`
	Protocol      protocol.Protocol `json:"protocol"`
	OldPath       string            `json:"old_path"`
	NewPath       string            `json:"new_path"`
	IsDirectory   bool              `json:"is_directory"`
	Size          int64             `json:"size"`
	FileHash      string            `json:"file_hash,omitempty"`
	DetectedAt    time.Time         `json:"detected_at"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
	Status        Status            `json:"status"`
}
