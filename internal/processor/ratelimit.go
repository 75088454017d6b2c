package processor

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a minimum interval between outbound LLM requests.
// A single instance is shared across a processor run, so concurrent callers
// serialize on it rather than issuing bursts the provider would reject.
// Grounded on the pack's own rate.NewLimiter usage for outbound-request
// pacing (WessleyAI-wessley-mvp's scraper rate limiter).
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter that allows one request every minInterval,
// with no burst allowance beyond the first call.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the limiter admits the next request, or ctx is
// canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
