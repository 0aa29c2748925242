package llmrelay

import (
	"context"
	"log/slog"

	"github.com/llmrelay/llmrelay/pkg/errors"
	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/pkg/types"
)

// executeFallback tries the configured fallback providers in order after the
// primary provider's final error was retryable. Each candidate gets exactly
// one attempt; the excluded (already failed) provider and candidates with an
// open circuit are skipped.
func (r *Router) executeFallback(ctx context.Context, logger *slog.Logger, req *types.ChatRequest, excluded string) (*types.ChatResponse, error) {
	if !r.cfg.Fallback.Enabled {
		return nil, errors.NewRouterError(errors.CodeFallbackDisabled, "fallback is disabled")
	}

	for _, name := range r.cfg.Fallback.Providers {
		// A dead caller context aborts the chain before any candidate is
		// attempted, so no circuit records a failure the provider never
		// caused.
		if ctx.Err() != nil {
			return nil, errors.Classify("", ctx.Err())
		}

		prov := r.fallbackCandidate(logger, name, excluded)
		if prov == nil {
			continue
		}

		r.collector.RecordFallback(excluded, name)
		logger.Info("attempting fallback provider", "from", excluded, "to", name)

		fbReq := req.Clone()
		fbReq.Provider = name
		resp, err := r.attempt(ctx, prov, fbReq)
		if err == nil {
			return resp, nil
		}
		logger.Warn("fallback provider failed", "provider", name, "error", err)
	}

	return nil, errors.NewRouterError(errors.CodeAllFallbacksFailed,
		"all fallback providers failed or were unavailable")
}

// fallbackStream is the streaming variant: one stream-open attempt per
// candidate, same skip rules as executeFallback.
func (r *Router) fallbackStream(ctx context.Context, logger *slog.Logger, req *types.ChatRequest, excluded string) (*StreamReader, error) {
	if !r.cfg.Fallback.Enabled {
		return nil, errors.NewRouterError(errors.CodeFallbackDisabled, "fallback is disabled")
	}

	for _, name := range r.cfg.Fallback.Providers {
		if ctx.Err() != nil {
			return nil, errors.Classify("", ctx.Err())
		}

		prov := r.fallbackCandidate(logger, name, excluded)
		if prov == nil {
			continue
		}

		r.collector.RecordFallback(excluded, name)
		logger.Info("attempting fallback provider for stream", "from", excluded, "to", name)

		fbReq := req.Clone()
		fbReq.Provider = name
		reader, err := r.openStream(ctx, prov, fbReq)
		if err == nil {
			return reader, nil
		}
		logger.Warn("fallback provider stream failed", "provider", name, "error", err)
	}

	return nil, errors.NewRouterError(errors.CodeAllFallbacksFailed,
		"all fallback providers failed or were unavailable")
}

func (r *Router) fallbackCandidate(logger *slog.Logger, name, excluded string) provider.Provider {
	if name == excluded {
		return nil
	}
	prov, ok := r.provider(name)
	if !ok {
		logger.Debug("fallback candidate not registered", "provider", name)
		return nil
	}
	if !r.breakers.Allow(name) {
		logger.Debug("fallback candidate circuit open", "provider", name)
		return nil
	}
	return prov
}
