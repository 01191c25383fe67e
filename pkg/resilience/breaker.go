// Package resilience keeps flaky storage sources from corrupting catalog
// state: a circuit breaker per source gates polling, an offline cache serves
// last-known entries while a source is down, and a probe loop drives
// recovery followed by a reconciliation pass.
package resilience

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	// StateClosed is normal operation; the change event source runs.
	StateClosed State = "closed"

	// StateOpen means the source is considered down. Polling is suspended
	// and reads are served from the offline cache.
	StateOpen State = "open"

	// StateHalfOpen allows a single probe connection attempt.
	StateHalfOpen State = "half_open"
)

const (
	// DefaultMaxFailures is how many consecutive failures open the circuit.
	DefaultMaxFailures = 3

	// DefaultBaseBackoff is the first open interval; it doubles on every
	// failed probe.
	DefaultBaseBackoff = 30 * time.Second

	// DefaultMaxBackoff caps the backoff growth.
	DefaultMaxBackoff = 5 * time.Minute
)

// Breaker is a circuit breaker for one storage source.
//
// Transitions: closed moves to open after maxFailures consecutive failures;
// open moves to half_open once the backoff interval elapses; half_open moves
// back to closed on a successful probe or to open, with a doubled interval,
// on a failed one. States are never skipped.
type Breaker struct {
	mu sync.Mutex

	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	lastError           error
	nextRetryAt         time.Time

	maxFailures int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	openCount   int

	clock func() time.Time
}

// BreakerOptions configures a Breaker. Zero values take the defaults.
type BreakerOptions struct {
	MaxFailures int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Clock       func() time.Time
}

// NewBreaker builds a closed breaker.
func NewBreaker(opts BreakerOptions) *Breaker {
	b := &Breaker{
		state:       StateClosed,
		maxFailures: opts.MaxFailures,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		clock:       opts.Clock,
	}
	if b.maxFailures <= 0 {
		b.maxFailures = DefaultMaxFailures
	}
	if b.baseBackoff <= 0 {
		b.baseBackoff = DefaultBaseBackoff
	}
	if b.maxBackoff <= 0 {
		b.maxBackoff = DefaultMaxBackoff
	}
	if b.clock == nil {
		b.clock = time.Now
	}
	return b
}

// State returns the current state, promoting open to half_open when the
// backoff interval has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promoteLocked()
	return b.state
}

// Allow reports whether normal operations may run right now.
func (b *Breaker) Allow() bool {
	return b.State() == StateClosed
}

// AllowProbe reports whether a single probe attempt may run, moving the
// breaker to half_open if the backoff has elapsed.
func (b *Breaker) AllowProbe() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promoteLocked()
	return b.state == StateHalfOpen
}

// promoteLocked moves open to half_open once nextRetryAt passes.
func (b *Breaker) promoteLocked() {
	if b.state == StateOpen && !b.clock().Before(b.nextRetryAt) {
		b.state = StateHalfOpen
	}
}

// RecordFailure notes one failed operation or probe. Returns the resulting
// state.
func (b *Breaker) RecordFailure(err error) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.consecutiveFailures++
	b.lastFailureAt = now
	b.lastError = err

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.maxFailures {
			b.openLocked(now)
		}
	case StateHalfOpen:
		// The probe failed; back to open with a longer interval.
		b.openLocked(now)
	}
	return b.state
}

func (b *Breaker) openLocked(now time.Time) {
	b.state = StateOpen
	delay := b.baseBackoff << b.openCount
	if delay > b.maxBackoff || delay <= 0 {
		delay = b.maxBackoff
	}
	b.openCount++
	b.nextRetryAt = now.Add(delay)
}

// RecordSuccess notes one successful operation or probe, closing the
// circuit and resetting failure counters.
func (b *Breaker) RecordSuccess() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.openCount = 0
	b.lastError = nil
	b.nextRetryAt = time.Time{}
	return b.state
}

// Reset forces the breaker closed with all counters cleared. Used by
// explicit reconnect requests.
func (b *Breaker) Reset() {
	b.RecordSuccess()
}

// TripForProbe opens the breaker with an immediate retry so the probe loop
// reconnects right away. Counters are left untouched; pair with Reset for
// an explicit reconnect request.
func (b *Breaker) TripForProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateOpen
	b.nextRetryAt = b.clock()
}

// NextRetryAt returns when the next probe is due. Zero when closed.
func (b *Breaker) NextRetryAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextRetryAt
}

// Snapshot returns the observable breaker state.
func (b *Breaker) Snapshot() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promoteLocked()
	status := BreakerStatus{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureAt:       b.lastFailureAt,
		NextRetryAt:         b.nextRetryAt,
	}
	if b.lastError != nil {
		status.LastError = b.lastError.Error()
	}
	return status
}

// BreakerStatus is a read-only view of a breaker.
type BreakerStatus struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	NextRetryAt         time.Time `json:"next_retry_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}
