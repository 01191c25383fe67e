package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gmicheli/driftwatch/pkg/dispatch"
)

// dispatchMetrics is the Prometheus implementation of dispatch.Metrics.
type dispatchMetrics struct {
	queueDepth prometheus.Gauge
	processed  *prometheus.CounterVec
	failed     *prometheus.CounterVec
	retried    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
}

// NewDispatchMetrics creates Prometheus-backed dispatch metrics.
//
// Returns nil if metrics are not enabled, which causes the pool to use its
// built-in no-op implementation.
func NewDispatchMetrics() dispatch.Metrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &dispatchMetrics{
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "driftwatch_dispatch_queue_depth",
				Help: "Current number of jobs waiting in the dispatch queue",
			},
		),
		processed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_dispatch_processed_total",
				Help: "Total jobs completed successfully",
			},
			[]string{"kind"},
		),
		failed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_dispatch_failed_total",
				Help: "Total jobs failed terminally after retries",
			},
			[]string{"kind"},
		),
		retried: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_dispatch_retried_total",
				Help: "Total retry attempts scheduled",
			},
			[]string{"kind"},
		),
		dropped: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_dispatch_dropped_total",
				Help: "Total jobs dropped because the queue stayed full past the enqueue timeout",
			},
			[]string{"kind"},
		),
	}
}

func (m *dispatchMetrics) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *dispatchMetrics) JobProcessed(kind dispatch.Kind) {
	m.processed.WithLabelValues(kind.String()).Inc()
}

func (m *dispatchMetrics) JobFailed(kind dispatch.Kind) {
	m.failed.WithLabelValues(kind.String()).Inc()
}

func (m *dispatchMetrics) JobRetried(kind dispatch.Kind) {
	m.retried.WithLabelValues(kind.String()).Inc()
}

func (m *dispatchMetrics) JobDropped(kind dispatch.Kind) {
	m.dropped.WithLabelValues(kind.String()).Inc()
}
