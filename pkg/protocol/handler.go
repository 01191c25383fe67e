package protocol

import (
	"context"
	"time"
)

// ============================================================================
// Handler Interface
// ============================================================================

// Handler is the polymorphic per-protocol contract the engine calls for
// identity computation, physical moves and post-move validation.
//
// One implementation exists per protocol. The rename tracker, event sources
// and dispatch workers never branch on the protocol themselves; every
// protocol-specific decision (hash vs metadata identity, atomic rename vs
// copy+delete) is behind this interface.
//
// Error Semantics:
//   - I/O failures that indicate an unreachable backend are wrapped with
//     ErrUnavailable and feed the circuit breaker.
//   - A failed PerformMove leaves the backend in the pre-move state: no
//     partial destination copy remains for the catalog to reference.
//   - ValidateMove failures wrap ErrMoveValidationFailed.
//
// Thread Safety:
// Handlers are stateless aside from configuration and safe for concurrent
// use across goroutines and storage roots.
type Handler interface {
	// Protocol returns the protocol this handler implements.
	Protocol() Protocol

	// Capabilities returns the static capability row for the protocol.
	Capabilities() Capabilities

	// MoveWindow returns the delete-to-create correlation window.
	MoveWindow() time.Duration

	// SupportsRealTime reports whether change events arrive without polling.
	SupportsRealTime() bool

	// Identify stats the path and computes its stable identifier. Content
	// is hashed only for files at or below the configured threshold; larger
	// files fall back to size plus protocol metadata.
	//
	// Never blocks longer than the protocol's OperationTimeout per I/O
	// call. Returns ErrNotFound if the path does not exist and wraps
	// ErrUnavailable on connectivity failure.
	Identify(ctx context.Context, fs FS, storageRootID, path string) (*FileIdentifier, error)

	// IdentifyInfo computes the identifier from an already-listed FileInfo,
	// saving the extra stat that Identify performs. Polling sources use
	// this on every entry of a listing diff.
	IdentifyInfo(ctx context.Context, fs FS, storageRootID string, info *FileInfo) (*FileIdentifier, error)

	// PerformMove physically moves oldPath to newPath. Atomic protocols
	// rename; non-atomic protocols copy, verify and only then delete the
	// source, cleaning up the partial destination on failure.
	PerformMove(ctx context.Context, fs FS, oldPath, newPath string, isDirectory bool) error

	// ValidateMove checks the post-move state: destination present, source
	// absent. Wraps ErrMoveValidationFailed otherwise.
	ValidateMove(ctx context.Context, fs FS, oldPath, newPath string) error
}

// DefaultHashThreshold is the largest file size whose content is hashed for
// identity. Above it, hashing a file over a network mount costs more than
// the weaker metadata identity loses.
const DefaultHashThreshold int64 = 100 << 20

// Option configures a Handler.
type Option func(*base)

// WithHashThreshold overrides the content hash size threshold.
func WithHashThreshold(limit int64) Option {
	return func(b *base) {
		b.hashLimit = limit
	}
}

// ForProtocol returns the Handler implementation for the given protocol.
func ForProtocol(p Protocol, opts ...Option) Handler {
	b := base{
		proto:     p,
		caps:      CapabilitiesFor(p),
		hashLimit: DefaultHashThreshold,
	}
	for _, opt := range opts {
		opt(&b)
	}
	switch p {
	case Local:
		return &localHandler{base: b}
	case SMB:
		return &smbHandler{base: b}
	case FTP:
		return &ftpHandler{base: b}
	case NFS:
		return &nfsHandler{base: b}
	case WebDAV:
		return &webdavHandler{base: b}
	default:
		panic("protocol: no handler for " + string(p))
	}
}

// Handlers returns a handler per supported protocol, keyed by protocol.
func Handlers(opts ...Option) map[Protocol]Handler {
	out := make(map[Protocol]Handler, len(Protocols()))
	for _, p := range Protocols() {
		out[p] = ForProtocol(p, opts...)
	}
	return out
}
