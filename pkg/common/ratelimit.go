// Package common holds small utilities shared across the worker.
package common

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls to a downstream collaborator, such as the inference
// service, so a large manifest cannot flood it.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a RateLimiter allowing rps requests per second with
// the given burst size for short spikes.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the limiter admits one event or the context is canceled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}
