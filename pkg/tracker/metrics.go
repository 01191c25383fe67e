package tracker

import "github.com/gmicheli/driftwatch/pkg/protocol"

// Metrics receives tracker observations. A Prometheus implementation lives
// in pkg/metrics; passing nil disables collection.
type Metrics interface {
	// PendingChanged reports the new pending-move count for a protocol.
	PendingChanged(proto protocol.Protocol, count int)

	// MatchDetected counts one delete/create pair recognized as a rename.
	MatchDetected(proto protocol.Protocol)

	// MoveExpired counts one pending move that aged out into a true delete.
	MoveExpired(proto protocol.Protocol)
}

type noopMetrics struct{}

func (noopMetrics) PendingChanged(protocol.Protocol, int) {}
func (noopMetrics) MatchDetected(protocol.Protocol)       {}
func (noopMetrics) MoveExpired(protocol.Protocol)         {}
