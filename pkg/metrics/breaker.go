package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gmicheli/driftwatch/pkg/resilience"
)

// breakerMetrics is the Prometheus implementation of resilience.Metrics.
type breakerMetrics struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

// NewBreakerMetrics creates Prometheus-backed circuit breaker metrics.
//
// Returns nil if metrics are not enabled, which causes the controller to use
// its built-in no-op implementation.
func NewBreakerMetrics() resilience.Metrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &breakerMetrics{
		state: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "driftwatch_breaker_state",
				Help: "Circuit breaker state per source (0=closed, 1=half_open, 2=open)",
			},
			[]string{"source"},
		),
		transitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_breaker_transitions_total",
				Help: "Total circuit breaker state transitions per source",
			},
			[]string{"source", "from", "to"},
		),
	}
}

func stateValue(s resilience.State) float64 {
	switch s {
	case resilience.StateOpen:
		return 2
	case resilience.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

func (m *breakerMetrics) StateChanged(source string, state resilience.State) {
	m.state.WithLabelValues(source).Set(stateValue(state))
}

func (m *breakerMetrics) Transition(source string, from, to resilience.State) {
	m.transitions.WithLabelValues(source, string(from), string(to)).Inc()
}
