package processor

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// isRateLimitError reports whether err looks like a provider rate-limit
// response (HTTP 429 or a "rate_limit" substring) — the only error class
// retried by retryer.call (spec §4.5).
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429")
}

// backoffDelay computes the exponential backoff before retry attempt n
// (1-indexed), capped at maxBackoff, then applies jitter in [0.5, 1.5).
func backoffDelay(base, maxBackoff time.Duration, attempt int, rng *rand.Rand) time.Duration {
	delay := base * time.Duration(int64(1)<<uint(attempt-1))
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	jitter := 0.5 + rng.Float64()
	return time.Duration(float64(delay) * jitter)
}

var errMaxRetriesExceeded = errors.New("max retries exceeded for rate limit")

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryer retries a call under rate-limit discipline: limiter enforces the
// minimum interval between requests, and exponential backoff with jitter
// handles explicit 429/"rate_limit" responses from the provider.
type retryer struct {
	limiter    *RateLimiter
	baseDelay  time.Duration
	maxDelay   time.Duration
	maxRetries int
	rng        *rand.Rand
	sleep      func(context.Context, time.Duration) error
}

func newRetryer(limiter *RateLimiter, base, maxDelay time.Duration, maxRetries int) *retryer {
	return &retryer{
		limiter:    limiter,
		baseDelay:  base,
		maxDelay:   maxDelay,
		maxRetries: maxRetries,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:      sleepCtx,
	}
}

// call invokes fn, retrying on rate-limit errors with exponential backoff
// and jitter, up to maxRetries attempts. Any other error returns immediately.
func (r *retryer) call(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isRateLimitError(err) {
			return err
		}
		attempt++
		if attempt > r.maxRetries {
			return errMaxRetriesExceeded
		}
		delay := backoffDelay(r.baseDelay, r.maxDelay, attempt, r.rng)
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}
