// Package protocol defines the per-protocol capability table and the Handler
// contract for the five supported storage protocols: Local, SMB, FTP, NFS and
// WebDAV.
//
// Each protocol differs in two fundamental ways that the rest of the engine
// must not branch on directly:
//
//   - Notification model: local filesystems deliver real-time change events,
//     network protocols are observed by periodic listing diffs.
//   - Move atomicity: local renames are atomic, NFS renames are atomic only
//     within one mount, and SMB/FTP/WebDAV moves degrade to copy+delete.
//
// Everything protocol-specific is captured here, in the Capabilities table and
// the Handler implementations. The rename tracker, event sources and dispatch
// workers only ever call the polymorphic contract.
package protocol

import (
	"fmt"
	"time"
)

// Protocol identifies one of the supported storage protocols.
type Protocol string

const (
	Local  Protocol = "local"
	SMB    Protocol = "smb"
	FTP    Protocol = "ftp"
	NFS    Protocol = "nfs"
	WebDAV Protocol = "webdav"
)

// Parse converts a configuration string into a Protocol.
//
// Returns ErrUnknownProtocol for anything outside the supported set. The set
// is closed: adding a protocol means adding a Handler implementation and a
// Capabilities row, not relaxing this check.
func Parse(s string) (Protocol, error) {
	switch Protocol(s) {
	case Local, SMB, FTP, NFS, WebDAV:
		return Protocol(s), nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownProtocol)
	}
}

// String returns the protocol name as used in configuration and persisted
// rename events.
func (p Protocol) String() string {
	return string(p)
}

// Atomicity describes how a protocol performs moves.
type Atomicity int

const (
	// AtomicityNone means every move is copy-then-verify-then-delete.
	AtomicityNone Atomicity = iota

	// AtomicityPartial means renames are atomic within one filesystem or
	// mount but fall back to copy+delete across boundaries (NFS).
	AtomicityPartial

	// AtomicityFull means renames are always atomic (local).
	AtomicityFull
)

// Capabilities holds the static per-protocol parameters consulted throughout
// the engine.
//
// MoveWindow bounds how long a delete waits for a matching create before it
// is treated as a genuine removal. Real-time protocols get short windows
// because the delete and create of a rename arrive within milliseconds;
// poll-based protocols get windows sized to survive at least one missed poll
// cycle.
type Capabilities struct {
	// MoveWindow is the maximum elapsed time between a delete and a create
	// for the pair to be correlated into one rename.
	MoveWindow time.Duration

	// RealTimeEvents reports whether the protocol delivers change
	// notifications without polling. When true the physical rename has
	// already happened by the time it is observed, so dispatch skips the
	// Handler move and only updates the catalog.
	RealTimeEvents bool

	// Atomicity describes the move semantics of the protocol.
	Atomicity Atomicity

	// BatchSize is the number of directory entries a polling scan lists per
	// pacing token. Zero for real-time protocols, which do not poll.
	BatchSize int

	// OperationTimeout bounds every single Handler I/O call (stat, listing,
	// copy chunk). Identify never blocks longer than this.
	OperationTimeout time.Duration
}

// capabilityTable is the one authoritative row per protocol.
var capabilityTable = map[Protocol]Capabilities{
	Local: {
		MoveWindow:       2 * time.Second,
		RealTimeEvents:   true,
		Atomicity:        AtomicityFull,
		BatchSize:        0,
		OperationTimeout: 5 * time.Second,
	},
	SMB: {
		MoveWindow:       10 * time.Second,
		RealTimeEvents:   false,
		Atomicity:        AtomicityNone,
		BatchSize:        500,
		OperationTimeout: 30 * time.Second,
	},
	FTP: {
		MoveWindow:       30 * time.Second,
		RealTimeEvents:   false,
		Atomicity:        AtomicityNone,
		BatchSize:        100,
		OperationTimeout: 60 * time.Second,
	},
	NFS: {
		MoveWindow:       5 * time.Second,
		RealTimeEvents:   false,
		Atomicity:        AtomicityPartial,
		BatchSize:        800,
		OperationTimeout: 30 * time.Second,
	},
	WebDAV: {
		MoveWindow:       15 * time.Second,
		RealTimeEvents:   false,
		Atomicity:        AtomicityNone,
		BatchSize:        200,
		OperationTimeout: 30 * time.Second,
	},
}

// CapabilitiesFor returns the capability row for the given protocol.
//
// Panics on an unknown protocol: callers hold a Protocol value that already
// passed Parse, so an unknown value here is a programming error.
func CapabilitiesFor(p Protocol) Capabilities {
	caps, ok := capabilityTable[p]
	if !ok {
		panic(fmt.Sprintf("protocol: no capability row for %q", p))
	}
	return caps
}

// Protocols returns all supported protocols in a stable order.
func Protocols() []Protocol {
	return []Protocol{Local, SMB, FTP, NFS, WebDAV}
}
