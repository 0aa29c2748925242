package llmrelay

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/llmrelay/llmrelay/pkg/errors"
	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/pkg/types"
)

// backoffDelay returns the sleep after failed attempt number attempt
// (1-based): BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func backoffDelay(p RetryPolicy, attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// executeWithRetry calls the provider up to Retry.MaxAttempts times,
// sleeping between attempts. It stops early on success, on a non-retryable
// error, or when the context is done. The last error is returned classified.
func (r *Router) executeWithRetry(ctx context.Context, logger *slog.Logger, prov provider.Provider, req *types.ChatRequest) (*types.ChatResponse, error) {
	maxAttempts := r.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			r.collector.RecordRetry(prov.Name())
		}

		resp, err := r.attempt(ctx, prov, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) || attempt == maxAttempts {
			break
		}

		delay := backoffDelay(r.cfg.Retry, attempt)
		logger.Debug("attempt failed, backing off",
			"provider", prov.Name(),
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, errors.Classify(prov.Name(), ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
