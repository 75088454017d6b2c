package processor

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, isRateLimitError(errors.New("429 Too Many Requests")))
	assert.True(t, isRateLimitError(errors.New("Rate_Limit exceeded, slow down")))
	assert.False(t, isRateLimitError(errors.New("invalid api key")))
	assert.False(t, isRateLimitError(nil))
}

func TestBackoffDelay_ExponentialAndCapped(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := 2 * time.Second
	maxDelay := 60 * time.Second

	d1 := backoffDelay(base, maxDelay, 1, rng)
	assert.GreaterOrEqual(t, d1, time.Second)
	assert.LessOrEqual(t, d1, 3*time.Second)

	d5 := backoffDelay(base, maxDelay, 10, rng)
	assert.LessOrEqual(t, d5, time.Duration(float64(maxDelay)*1.5))
}

func TestRetryer_RetriesRateLimitThenSucceeds(t *testing.T) {
	limiter := NewRateLimiter(0)
	r := newRetryer(limiter, time.Millisecond, 10*time.Millisecond, 3)
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	attempts := 0
	err := r.call(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("429 rate_limit")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, slept, 2)
}

func TestRetryer_NonRateLimitErrorReturnsImmediately(t *testing.T) {
	limiter := NewRateLimiter(0)
	r := newRetryer(limiter, time.Millisecond, 10*time.Millisecond, 3)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	attempts := 0
	err := r.call(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("invalid request")
	})

	assert.EqualError(t, err, "invalid request")
	assert.Equal(t, 1, attempts)
}

func TestRetryer_ExhaustsRetries(t *testing.T) {
	limiter := NewRateLimiter(0)
	r := newRetryer(limiter, time.Millisecond, 10*time.Millisecond, 2)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	attempts := 0
	err := r.call(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("429")
	})

	assert.ErrorIs(t, err, errMaxRetriesExceeded)
	assert.Equal(t, 3, attempts)
}
