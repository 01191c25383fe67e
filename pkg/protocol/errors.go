package protocol

import "errors"

// These errors provide a consistent way to indicate common failure conditions
// across all protocol handlers. The resilience controller and dispatch workers
// branch on them with errors.Is, so implementations must wrap rather than
// replace them.
//
// Usage Pattern:
//
//	id, err := handler.Identify(ctx, fs, rootID, path)
//	if err != nil {
//	    if errors.Is(err, protocol.ErrUnavailable) {
//	        breaker.RecordFailure(err)
//	        return
//	    }
//	    ...
//	}

var (
	// ErrUnavailable indicates the storage backend could not be reached or
	// refused the operation for a non-path reason (network failure, auth
	// failure, server down).
	//
	// This error feeds the circuit breaker for the storage source. It is
	// never surfaced per-event to the user; the resilience controller
	// retries the source as a whole instead.
	ErrUnavailable = errors.New("protocol unavailable")

	// ErrMoveValidationFailed indicates the post-move state does not match
	// expectations: the destination is missing, differs from the source
	// identifier, or the source still exists after an atomic rename.
	//
	// Dispatch workers retry the move with backoff; after the retry budget
	// is exhausted the rename event is marked failed.
	ErrMoveValidationFailed = errors.New("move validation failed")

	// ErrNotFound indicates the path does not exist on the backend.
	//
	// Backends map their native not-found conditions (os.ErrNotExist,
	// FTP 550, HTTP 404) to this sentinel so handlers can distinguish a
	// missing path from an unreachable server.
	ErrNotFound = errors.New("path not found")

	// ErrNotSupported indicates the backend cannot perform the requested
	// operation (for example server-side rename on a protocol without it).
	ErrNotSupported = errors.New("operation not supported")

	// ErrUnknownProtocol indicates a protocol name outside the supported
	// set was given in configuration.
	ErrUnknownProtocol = errors.New("unknown protocol")
)
