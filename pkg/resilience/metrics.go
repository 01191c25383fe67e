package resilience

// Metrics receives breaker observations. A Prometheus implementation lives
// in pkg/metrics; nil disables collection.
type Metrics interface {
	// StateChanged reports a source's new breaker state.
	StateChanged(source string, state State)

	// Transition counts one state transition for a source.
	Transition(source string, from, to State)
}

type noopMetrics struct{}

func (noopMetrics) StateChanged(string, State)      {}
func (noopMetrics) Transition(string, State, State) {}
