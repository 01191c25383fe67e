// Package ratelimiter paces operations against remote storage backends.
//
// Polling change-event sources use a limiter per storage root so that diff
// scans over large SMB/FTP/WebDAV trees never exceed the listing rate the
// remote server can absorb. The limiter wraps golang.org/x/time/rate (token
// bucket): tokens are replenished at the sustained rate, and the burst
// capacity covers short spikes such as listing a directory fan-out.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing opsPerSecond sustained with the given
// burst capacity.
//
// Special cases:
//   - opsPerSecond = 0: no limiting (effectively unlimited)
//   - burst = 0: only the sustained rate, no burst headroom
func New(opsPerSecond, burst uint) *RateLimiter {
	if opsPerSecond == 0 {
		// Unlimited: rate.Inf has edge cases with Wait, so use a huge limit.
		opsPerSecond = 1_000_000_000
		burst = opsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(opsPerSecond), int(burst)),
	}
}

// Wait blocks until a token is available or the context is cancelled.
// Poll sources call this before each directory listing so a scan naturally
// stretches out instead of failing when the budget is exhausted.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
