package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gmicheli/driftwatch/pkg/protocol"
	"github.com/gmicheli/driftwatch/pkg/tracker"
)

// trackerMetrics is the Prometheus implementation of tracker.Metrics.
type trackerMetrics struct {
	pending *prometheus.GaugeVec
	matches *prometheus.CounterVec
	expired *prometheus.CounterVec
}

// NewTrackerMetrics creates Prometheus-backed tracker metrics.
//
// Returns nil if metrics are not enabled, which causes the tracker to use
// its built-in no-op implementation.
func NewTrackerMetrics() tracker.Metrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &trackerMetrics{
		pending: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "driftwatch_tracker_pending_moves",
				Help: "Current number of pending moves awaiting a matching create",
			},
			[]string{"protocol"},
		),
		matches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_tracker_matches_total",
				Help: "Total delete/create pairs recognized as renames",
			},
			[]string{"protocol"},
		),
		expired: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_tracker_expired_total",
				Help: "Total pending moves that aged out into true deletes",
			},
			[]string{"protocol"},
		),
	}
}

func (m *trackerMetrics) PendingChanged(proto protocol.Protocol, count int) {
	m.pending.WithLabelValues(string(proto)).Set(float64(count))
}

func (m *trackerMetrics) MatchDetected(proto protocol.Protocol) {
	m.matches.WithLabelValues(string(proto)).Inc()
}

func (m *trackerMetrics) MoveExpired(proto protocol.Protocol) {
	m.expired.WithLabelValues(string(proto)).Inc()
}
