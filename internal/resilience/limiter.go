// Package resilience provides admission control for provider calls.
// A limited request fails fast with a rate_limit error, so it participates
// in the normal retry and fallback paths.
package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter decides whether a request against a provider may proceed.
type Limiter interface {
	// Allow reports whether a request for the given provider is admitted.
	// An error means the limiter backend failed, not that the request was
	// rejected.
	Allow(ctx context.Context, provider string) (bool, error)
}

// LocalLimiter is a per-provider token bucket for single-instance
// deployments.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewLocalLimiter creates a limiter allowing rpm requests per minute per
// provider with the given burst.
func NewLocalLimiter(rpm int, burst int) *LocalLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(rpm) / 60.0),
		burst:    burst,
	}
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(_ context.Context, provider string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.limiters[provider]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[provider] = lim
	}
	l.mu.Unlock()

	return lim.Allow(), nil
}
