package k8s

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles Kubernetes API calls to one cluster
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a token bucket of rps tokens per second with a burst of 2*rps.
// A non-positive rps disables limiting.
func NewRateLimiter(rps int) *RateLimiter {
	if rps <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), rps*2),
	}
}

// Wait blocks until the rate limiter allows an action
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow checks if an action is allowed without blocking
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}
