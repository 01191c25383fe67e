package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gmicheli/driftwatch/pkg/protocol"
	"github.com/gmicheli/driftwatch/pkg/watch"
)

// watchMetrics is the Prometheus implementation of watch.Metrics.
type watchMetrics struct {
	events       *prometheus.CounterVec
	debounced    *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
}

// NewWatchMetrics creates Prometheus-backed event source metrics.
//
// Returns nil if metrics are not enabled, which causes sources to use the
// built-in no-op implementation.
func NewWatchMetrics() watch.Metrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &watchMetrics{
		events: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_watch_events_total",
				Help: "Total normalized change events emitted by sources",
			},
			[]string{"protocol", "op"},
		),
		debounced: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_watch_debounced_total",
				Help: "Total modify events coalesced by the debounce stage",
			},
			[]string{"protocol"},
		),
		pollDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "driftwatch_watch_poll_duration_seconds",
				Help:    "Duration of full polling scans",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"protocol"},
		),
	}
}

func (m *watchMetrics) EventEmitted(proto protocol.Protocol, op watch.Op) {
	m.events.WithLabelValues(string(proto), op.String()).Inc()
}

func (m *watchMetrics) EventDebounced(proto protocol.Protocol) {
	m.debounced.WithLabelValues(string(proto)).Inc()
}

func (m *watchMetrics) PollCompleted(proto protocol.Protocol, seconds float64) {
	m.pollDuration.WithLabelValues(string(proto)).Observe(seconds)
}
