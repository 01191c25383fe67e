package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/gmicheli/driftwatch/internal/logger"
	"github.com/gmicheli/driftwatch/pkg/backend"
)

// DefaultProbeTimeout bounds one half-open probe connection attempt.
const DefaultProbeTimeout = 15 * time.Second

// RecoveredFunc runs after a successful probe closes the circuit. The
// engine wires it to a reconciliation pass: one bounded diff scan against
// the last known snapshot, routed through normal rename tracking.
type RecoveredFunc func(ctx context.Context)

// Controller owns the resilience state of one storage source: its breaker,
// its offline cache and the reconnection probe loop.
//
// The engine asks Allow before every poll and reports outcomes back;
// everything else happens inside the probe loop.
type Controller struct {
	source  string
	client  backend.Client
	breaker *Breaker
	cache   *OfflineCache
	metrics Metrics

	onRecovered  RecoveredFunc
	probeTimeout time.Duration

	mu              sync.Mutex
	lastConnectedAt time.Time

	kick chan struct{}
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Breaker      BreakerOptions
	CacheEntries int
	ProbeTimeout time.Duration
	OnRecovered  RecoveredFunc
	Metrics      Metrics
}

// NewController builds a controller for one named storage source.
func NewController(source string, client backend.Client, opts ControllerOptions) *Controller {
	c := &Controller{
		source:       source,
		client:       client,
		breaker:      NewBreaker(opts.Breaker),
		cache:        NewOfflineCache(opts.CacheEntries),
		metrics:      opts.Metrics,
		onRecovered:  opts.OnRecovered,
		probeTimeout: opts.ProbeTimeout,
		kick:         make(chan struct{}, 1),
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	if c.probeTimeout <= 0 {
		c.probeTimeout = DefaultProbeTimeout
	}
	if c.onRecovered == nil {
		c.onRecovered = func(context.Context) {}
	}
	return c
}

// Allow reports whether the source may be polled right now.
func (c *Controller) Allow() bool {
	return c.breaker.Allow()
}

// Cache returns the source's offline cache.
func (c *Controller) Cache() *OfflineCache {
	return c.cache
}

// ReportSuccess notes a successful poll.
func (c *Controller) ReportSuccess() {
	from := c.breaker.State()
	to := c.breaker.RecordSuccess()
	c.noteTransition(from, to)
	c.mu.Lock()
	c.lastConnectedAt = time.Now()
	c.mu.Unlock()
}

// ReportFailure notes a failed poll. When the failure opens the circuit the
// probe loop takes over.
func (c *Controller) ReportFailure(err error) {
	from := c.breaker.State()
	to := c.breaker.RecordFailure(err)
	c.noteTransition(from, to)
	if to == StateOpen {
		logger.Warn("Source %s marked offline, serving cached data (%d entries): %v",
			c.source, c.cache.Len(), err)
		c.wake()
	}
}

// ForceReconnect clears failure counters and schedules an immediate probe.
func (c *Controller) ForceReconnect() {
	from := c.breaker.State()
	c.breaker.Reset()
	c.breaker.TripForProbe()
	c.noteTransition(from, StateOpen)
	c.wake()
}

// Run drives the reconnection probe loop until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	for {
		state := c.breaker.State()
		if state == StateClosed {
			// Nothing to probe; sleep until a failure opens the circuit.
			select {
			case <-ctx.Done():
				return
			case <-c.kick:
			}
			continue
		}

		wait := time.Until(c.breaker.NextRetryAt())
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-c.kick:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		if !c.breaker.AllowProbe() {
			continue
		}
		c.probe(ctx)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// probe makes the single half-open connection attempt.
func (c *Controller) probe(ctx context.Context) {
	logger.Info("Probing source %s", c.source)
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	err := c.client.Connect(probeCtx)
	cancel()

	if err != nil {
		to := c.breaker.RecordFailure(err)
		c.noteTransition(StateHalfOpen, to)
		logger.Warn("Probe for %s failed, next retry at %s: %v",
			c.source, c.breaker.NextRetryAt().Format(time.RFC3339), err)
		return
	}

	to := c.breaker.RecordSuccess()
	c.noteTransition(StateHalfOpen, to)
	c.mu.Lock()
	c.lastConnectedAt = time.Now()
	c.mu.Unlock()
	logger.Info("Source %s recovered, starting reconciliation", c.source)
	c.onRecovered(ctx)
}

// Status returns the observable source state for the wrapping service.
func (c *Controller) Status() SourceStatus {
	snap := c.breaker.Snapshot()
	c.mu.Lock()
	lastConnected := c.lastConnectedAt
	c.mu.Unlock()

	status := SourceStatus{
		Source:          c.source,
		Breaker:         snap,
		LastConnectedAt: lastConnected,
		CachedEntries:   c.cache.Len(),
	}
	if snap.State != StateClosed {
		status.Message = "offline, serving cached data"
	}
	return status
}

func (c *Controller) noteTransition(from, to State) {
	if from == to {
		return
	}
	c.metrics.Transition(c.source, from, to)
	c.metrics.StateChanged(c.source, to)
	logger.Info("Source %s breaker %s -> %s", c.source, from, to)
}

func (c *Controller) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// SourceStatus is the per-source view exposed to the wrapping service.
type SourceStatus struct {
	Source          string        `json:"source"`
	Breaker         BreakerStatus `json:"breaker"`
	LastConnectedAt time.Time     `json:"last_connected_at,omitempty"`
	CachedEntries   int           `json:"cached_entries"`
	Message         string        `json:"message,omitempty"`
}
