package common

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides thread-safe rate limiting with dynamically adjustable limits.
// The collector uses it as its inter-page courtesy delay toward the remote API.
type RateLimiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex // Protects concurrent access to the limiter
}

// NewRateLimiter creates a RateLimiter with the specified requests per second (rps)
// and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// NewIntervalLimiter creates a RateLimiter that admits one event per interval
// with no burst. A non-positive interval disables limiting.
func NewIntervalLimiter(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the rate limiter allows an event or the context is canceled.
// It returns an error if the context is canceled while waiting.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Wait(ctx)
}

// UpdateLimits dynamically adjusts the rate limiter's requests per second and burst size.
func (rl *RateLimiter) UpdateLimits(rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter.SetLimit(rate.Limit(rps))
	rl.limiter.SetBurst(burst)
}
