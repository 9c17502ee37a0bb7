package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiterFirstWaitIsImmediate(t *testing.T) {
	limiter := NewSimpleRateLimiter(time.Hour, time.Hour)

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSimpleRateLimiterSpacesCalls(t *testing.T) {
	limiter := NewSimpleRateLimiter(30*time.Millisecond, 30*time.Millisecond)

	require.NoError(t, limiter.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestSimpleRateLimiterCancellation(t *testing.T) {
	limiter := NewSimpleRateLimiter(time.Hour, time.Hour)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.DeadlineExceeded)
}

func TestCalculateDelayStaysInRange(t *testing.T) {
	limiter := NewSimpleRateLimiter(5*time.Second, 40*time.Second)
	for i := 0; i < 100; i++ {
		delay := limiter.calculateDelay()
		assert.GreaterOrEqual(t, delay, 5*time.Second)
		assert.Less(t, delay, 40*time.Second)
	}
}

func TestSetDelayClampsInvertedRange(t *testing.T) {
	limiter := NewSimpleRateLimiter(0, 0)
	limiter.SetDelay(2*time.Second, time.Second)

	min, max := limiter.Delays()
	assert.Equal(t, 2*time.Second, min)
	assert.Equal(t, 2*time.Second, max)
}

func TestAdaptiveRateLimiter(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)

	for i := 0; i < 3; i++ {
		limiter.RecordError()
	}
	min, max := limiter.Delays()
	assert.Equal(t, 3*time.Second, min)
	assert.Equal(t, 6*time.Second, max)

	for i := 0; i < 6; i++ {
		limiter.RecordSuccess()
	}
	min, _ = limiter.Delays()
	assert.InDelta(t, float64(2700*time.Millisecond), float64(min), float64(time.Microsecond))

	for i := 0; i < 60; i++ {
		limiter.RecordSuccess()
	}
	min, _ = limiter.Delays()
	assert.Equal(t, 2*time.Second, min)
}
