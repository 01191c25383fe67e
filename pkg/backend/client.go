// Package backend defines the storage backend Client interface and houses
// one implementation per supported protocol in its subpackages.
//
// A Client extends the filesystem surface handlers operate on with the
// connection lifecycle the resilience controller manages. Backends are the
// only code that speaks a wire protocol; everything above them works with
// normalized FileInfo entries and sentinel errors from pkg/protocol.
package backend

import (
	"context"

	"github.com/gmicheli/driftwatch/pkg/protocol"
)

// Client is a connected storage backend for one storage root.
//
// Error Mapping:
// Implementations map native not-found conditions to protocol.ErrNotFound
// and connectivity or auth failures to protocol.ErrUnavailable, wrapped so
// errors.Is works. The circuit breaker relies on this mapping.
//
// Thread Safety:
// All methods must be safe for concurrent use. Backends whose underlying
// library forbids concurrent calls (FTP) serialize internally.
type Client interface {
	protocol.FS

	// Connect establishes or re-establishes the connection. Called by the
	// resilience controller at startup and as the half-open probe.
	Connect(ctx context.Context) error

	// Disconnect releases the connection. Safe to call when not connected.
	Disconnect() error

	// Protocol returns the protocol this client speaks.
	Protocol() protocol.Protocol
}
