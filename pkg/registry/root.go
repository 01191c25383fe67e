package registry

import (
	"time"

	"github.com/gmicheli/driftwatch/pkg/backend"
	"github.com/gmicheli/driftwatch/pkg/protocol"
	"github.com/gmicheli/driftwatch/pkg/resilience"
)

// Root represents one configured storage root that binds together:
// - A name (the root id events and queries are keyed by)
// - A connected backend client for the root's protocol
// - The protocol handler carrying move semantics and identity rules
// - The resilience controller guarding the backend
//
// Multiple roots can speak the same protocol; each gets its own client and
// controller.
type Root struct {
	Name       string
	Protocol   protocol.Protocol
	Client     backend.Client
	Handler    protocol.Handler
	Controller *resilience.Controller

	// PollInterval is how often the polling source scans this root. Zero
	// selects the engine default. Ignored for real-time roots.
	PollInterval time.Duration

	// RateLimit overrides the protocol's default listing rate. Zero keeps
	// the capability table value.
	RateLimit int
}

// RootConfig contains all configuration needed to register a root.
type RootConfig struct {
	Name         string
	Protocol     protocol.Protocol
	Client       backend.Client
	Handler      protocol.Handler
	Controller   *resilience.Controller
	PollInterval time.Duration
	RateLimit    int
}
