package dispatch

import (
	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Kind is the job type flowing through the queue.
type Kind int

const (
	// KindMove applies a confirmed rename: physical move where needed,
	// catalog path update, event settlement.
	KindMove Kind = iota

	// KindCreate registers a genuine new entry with the catalog.
	KindCreate

	// KindDelete removes a catalog entry after a move window expired.
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindCreate:
		return "create"
	case KindDelete:
		return "delete"
	}
	return "unknown"
}

// PathMapping is one old-to-new pair from a directory subtree remap.
type PathMapping struct {
	OldPath string
	NewPath string
}

// Job is one unit of catalog-visible work.
//
// For moves, FS and Handler perform and validate the physical operation.
// SkipPhysical is set for observed renames, which already happened on
// storage before they were detected; only validation and the catalog
// update remain. Requested moves leave it unset and get the full physical
// move. Children carries the subtree remap of a directory move so
// the handler runs once per subtree while the catalog learns every child's
// new path.
type Job struct {
	Kind       Kind
	Identifier *protocol.FileIdentifier

	// Path is the target of creates and deletes.
	Path string

	// Move fields.
	OldPath      string
	NewPath      string
	IsDirectory  bool
	EventID      uint64
	SkipPhysical bool
	Children     []PathMapping
	FS           protocol.FS
	Handler      protocol.Handler

	attempt int
}
