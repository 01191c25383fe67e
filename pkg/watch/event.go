// Package watch produces normalized change events for a storage root.
//
// Real-time-capable protocols get an fsnotify subscription; the rest are
// observed by periodic listing diffs against the last known snapshot. Both
// paths feed the same debounce stage, so downstream code sees one event
// model regardless of protocol.
package watch

import (
	"time"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Op is the kind of change observed.
type Op int

const (
	OpCreate Op = iota
	OpDelete
	OpModify
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpModify:
		return "modify"
	}
	return "unknown"
}

// Event is one observed change on a storage root.
//
// Info carries the current entry for creates and modifies. For deletes it
// carries the last known entry from the previous snapshot, since the entry
// no longer exists to stat. Children holds the last known entries under a
// deleted directory so the tracker can snapshot them as pending children.
type Event struct {
	Op       Op
	Path     string
	Info     *protocol.FileInfo
	Children []*protocol.FileInfo
	At       time.Time
}
