package watch

import "github.com/gmicheli/driftwatch/pkg/protocol"

// Metrics receives event source observations. A Prometheus implementation
// lives in pkg/metrics; nil disables collection.
type Metrics interface {
	// EventEmitted counts one normalized event leaving a source.
	EventEmitted(proto protocol.Protocol, op Op)

	// EventDebounced counts one modify coalesced away by the debounce stage.
	EventDebounced(proto protocol.Protocol)

	// PollCompleted records the duration of one full polling scan.
	PollCompleted(proto protocol.Protocol, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) EventEmitted(protocol.Protocol, Op)       {}
func (noopMetrics) EventDebounced(protocol.Protocol)         {}
func (noopMetrics) PollCompleted(protocol.Protocol, float64) {}
