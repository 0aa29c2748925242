package llmrelay

import (
	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/pkg/types"
)

// selectProvider picks the provider for a request. Precedence, first match
// wins, where a match means registered with a closed circuit:
//
//  1. the provider named by the request
//  2. the provider mapped from the request's model
//  3. the configured default provider
//  4. any registered provider, in registration order
//
// Returns nil when no candidate qualifies. The decision is side-effect free
// apart from the lazy circuit auto-close inside Allow.
func (r *Router) selectProvider(req *types.ChatRequest) provider.Provider {
	if p := r.candidate(req.Provider); p != nil {
		return p
	}
	if p := r.candidate(r.cfg.ModelProviders[req.Model]); p != nil {
		return p
	}
	if p := r.candidate(r.cfg.DefaultProvider); p != nil {
		return p
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if r.breakers.Allow(name) {
			return r.handles[name]
		}
	}
	return nil
}

// candidate resolves a name to its handle if it is registered and its
// circuit is closed.
func (r *Router) candidate(name string) provider.Provider {
	if name == "" {
		return nil
	}
	p, ok := r.provider(name)
	if !ok || !r.breakers.Allow(name) {
		return nil
	}
	return p
}
