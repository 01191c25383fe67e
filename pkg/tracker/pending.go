package tracker

import (
	"time"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// PendingMove is a delete waiting for its matching create.
//
// Created when a delete event arrives, it either gets consumed by a create
// with the same identity inside the protocol's move window (the pair becomes
// one rename) or expires and is treated as a true delete.
//
// For directories, Children snapshots the entries known to live under the
// deleted directory at delete time. A single directory match remaps every
// child by path prefix substitution; children are never re-identified one by
// one.
type PendingMove struct {
	Identifier  *protocol.FileIdentifier
	OldPath     string
	DetectedAt  time.Time
	ExpiresAt   time.Time
	IsDirectory bool
	Children    []*PendingMove

	// EventID is the persisted RenameEvent id, set when the pending move
	// is consumed by a matching create.
	EventID uint64

	// seq orders entries inserted at the same timestamp so tie-breaking
	// stays deterministic.
	seq uint64

	// fallbackKey is the weak identity used when the handler could not
	// compute hash or metadata for the deleted file.
	fallbackKey string
}

// Expired reports whether the move window has closed as of now.
func (p *PendingMove) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// RemapChildren returns each child's old path paired with its new path under
// the directory's new location. Pure prefix substitution, no I/O.
func (p *PendingMove) RemapChildren(newDirPath string) []PathPair {
	pairs := make([]PathPair, 0, len(p.Children))
	for _, child := range p.Children {
		pairs = append(pairs, PathPair{
			OldPath: child.OldPath,
			NewPath: newDirPath + child.OldPath[len(p.OldPath):],
		})
	}
	return pairs
}

// PathPair is one old-to-new path mapping from a directory remap.
type PathPair struct {
	OldPath string
	NewPath string
}

// Statistics is the tracker's observable state plus persisted event totals.
type Statistics struct {
	TotalPendingMoves int                       `json:"total_pending_moves"`
	PendingByProtocol map[protocol.Protocol]int `json:"pending_by_protocol"`
	TotalEvents       uint64                    `json:"total_events"`
	ProcessedEvents   uint64                    `json:"processed_events"`
	SuccessRate       float64                   `json:"success_rate"`
}
