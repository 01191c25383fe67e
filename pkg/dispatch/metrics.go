package dispatch

// Metrics receives dispatch observations. A Prometheus implementation lives
// in pkg/metrics; nil disables collection.
type Metrics interface {
	// QueueDepth reports the current number of queued jobs.
	QueueDepth(n int)

	// JobProcessed counts one job finished successfully.
	JobProcessed(kind Kind)

	// JobFailed counts one job failed terminally.
	JobFailed(kind Kind)

	// JobRetried counts one retry scheduled.
	JobRetried(kind Kind)

	// JobDropped counts one job dropped at enqueue because the queue stayed
	// full past the timeout.
	JobDropped(kind Kind)
}

type noopMetrics struct{}

func (noopMetrics) QueueDepth(int)    {}
func (noopMetrics) JobProcessed(Kind) {}
func (noopMetrics) JobFailed(Kind)    {}
func (noopMetrics) JobRetried(Kind)   {}
func (noopMetrics) JobDropped(Kind)   {}
