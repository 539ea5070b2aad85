package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalLimiter_SpacesEvents(t *testing.T) {
	rl := NewIntervalLimiter(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
	// The first token is available immediately; the next two wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestIntervalLimiter_ZeroIntervalDoesNotBlock(t *testing.T) {
	rl := NewIntervalLimiter(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimiter_WaitHonorsCancellation(t *testing.T) {
	rl := NewIntervalLimiter(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, rl.Wait(ctx))
	cancel()
	assert.Error(t, rl.Wait(ctx))
}
