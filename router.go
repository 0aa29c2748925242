package llmrelay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmrelay/llmrelay/internal/breaker"
	"github.com/llmrelay/llmrelay/internal/metrics"
	"github.com/llmrelay/llmrelay/internal/observability"
	"github.com/llmrelay/llmrelay/pkg/errors"
	"github.com/llmrelay/llmrelay/pkg/provider"
	"github.com/llmrelay/llmrelay/pkg/types"
	"github.com/llmrelay/llmrelay/providers"
)

// Router routes chat completion requests to one of several interchangeable
// providers, shielding callers from backend failure and overload. It owns
// provider selection, per-provider circuit state, bounded retry with
// backoff, and fallback to alternate providers.
//
// Router is safe for concurrent use by multiple goroutines.
type Router struct {
	cfg       *RouterConfig
	breakers  *breaker.Store
	collector *metrics.Collector
	cache     *responseCache

	mu          sync.RWMutex
	handles     map[string]provider.Provider
	order       []string // registration order, for last-resort selection
	initialized bool
}

// New creates a Router with the given options. Providers are not contacted
// until Initialize.
func New(opts ...Option) (*Router, error) {
	cfg := defaultRouterConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Providers) == 0 && len(cfg.ProviderInstances) == 0 {
		return nil, errors.NewRouterError(errors.CodeNoProvidersAvailable, "no providers configured")
	}

	reg := cfg.MetricsRegisterer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Router{
		cfg:       cfg,
		breakers:  breaker.NewStore(cfg.Breaker),
		collector: metrics.NewCollector(reg),
		handles:   make(map[string]provider.Provider),
	}
	if cfg.CacheEnabled {
		r.cache = newResponseCache(cfg.CacheTTL)
	}
	return r, nil
}

// Initialize builds the provider registry. Each configured provider is
// instantiated and health-checked; one that fails its probe is logged and
// skipped, not registered as failed. Initialize fails only when the
// resulting registry is empty.
func (r *Router) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}

	for _, cfg := range r.cfg.Providers {
		handle, err := providers.Create(cfg)
		if err != nil {
			r.cfg.Logger.Warn("provider init failed, skipping", "provider", cfg.Name, "error", err)
			continue
		}
		r.registerLocked(ctx, cfg.Name, handle)
	}
	for _, inst := range r.cfg.ProviderInstances {
		r.registerLocked(ctx, inst.Name, inst.Provider)
	}

	if len(r.handles) == 0 {
		return errors.NewRouterError(errors.CodeNoProvidersAvailable,
			"no providers passed their health check")
	}

	r.initialized = true
	r.cfg.Logger.Info("router initialized",
		"providers", r.order,
		"fallback_enabled", r.cfg.Fallback.Enabled,
		"max_attempts", r.cfg.Retry.MaxAttempts,
	)
	return nil
}

// registerLocked health-checks and registers one provider. Caller holds r.mu.
func (r *Router) registerLocked(ctx context.Context, name string, handle provider.Provider) {
	if _, dup := r.handles[name]; dup {
		r.cfg.Logger.Warn("duplicate provider name, skipping", "provider", name)
		return
	}

	health, err := handle.Health(ctx)
	if err != nil || !health.OK() {
		reason := "probe error"
		if err == nil {
			reason = health.Error
		}
		r.cfg.Logger.Warn("provider failed health check, skipping",
			"provider", name, "reason", reason, "error", err)
		return
	}

	r.handles[name] = handle
	r.order = append(r.order, name)
	r.breakers.Register(name)
	r.collector.SetBreakerOpen(name, false)
	r.cfg.Logger.Info("provider registered", "provider", name, "probe_latency", health.Latency)
}

// Chat routes a chat completion request: select a provider, execute with
// retry, and on retryable exhaustion run the fallback chain. Every terminal
// outcome updates the attempted providers' metrics.
func (r *Router) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if err := r.checkInitialized(); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	logger := r.cfg.Logger.With("request_id", requestID, "model", req.Model)

	ctx, span := observability.StartChatSpan(ctx, "llmrelay.chat", req.Provider, req.Model)
	var finalErr error
	defer func() { observability.EndSpan(span, finalErr) }()

	if r.cache != nil {
		if resp, ok := r.cache.get(req); ok {
			logger.Debug("cache hit")
			return resp, nil
		}
	}

	prov := r.selectProvider(req)
	if prov == nil {
		finalErr = errors.NewRouterError(errors.CodeNoProviderAvailable,
			"no provider with a closed circuit can serve the request")
		logger.Warn("no provider available")
		return nil, finalErr
	}

	resp, err := r.executeWithRetry(ctx, logger, prov, req)
	if err != nil && ctx.Err() == nil && r.cfg.Fallback.Enabled && errors.IsRetryable(err) {
		logger.Info("primary provider exhausted, trying fallback",
			"provider", prov.Name(), "error", err)
		resp, err = r.executeFallback(ctx, logger, req, prov.Name())
	}
	if err != nil {
		finalErr = err
		return nil, err
	}

	if r.cache != nil {
		r.cache.put(req, resp)
	}
	return resp, nil
}

// ChatStream routes a streaming chat completion request using the same
// selection and fallback logic as Chat. The initial call is made once per
// provider (no retry executor); once the stream is open, a failure is
// surfaced directly because retrying would duplicate delivered chunks.
func (r *Router) ChatStream(ctx context.Context, req *types.ChatRequest) (*StreamReader, error) {
	if err := r.checkInitialized(); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	logger := r.cfg.Logger.With("request_id", requestID, "model", req.Model)

	ctx, span := observability.StartChatSpan(ctx, "llmrelay.chat_stream", req.Provider, req.Model)
	var finalErr error
	defer func() { observability.EndSpan(span, finalErr) }()

	prov := r.selectProvider(req)
	if prov == nil {
		finalErr = errors.NewRouterError(errors.CodeNoProviderAvailable,
			"no provider with a closed circuit can serve the request")
		logger.Warn("no provider available")
		return nil, finalErr
	}

	reader, err := r.openStream(ctx, prov, req)
	if err != nil && ctx.Err() == nil && r.cfg.Fallback.Enabled && errors.IsRetryable(err) {
		logger.Info("primary provider stream failed, trying fallback",
			"provider", prov.Name(), "error", err)
		reader, err = r.fallbackStream(ctx, logger, req, prov.Name())
	}
	finalErr = err
	return reader, err
}

// AvailableProviders returns the registered providers whose circuit is
// closed, in registration order.
func (r *Router) AvailableProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	available := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if r.breakers.Allow(name) {
			available = append(available, name)
		}
	}
	return available
}

// IsProviderAvailable reports whether the named provider is registered with
// a closed circuit.
func (r *Router) IsProviderAvailable(name string) bool {
	r.mu.RLock()
	_, registered := r.handles[name]
	r.mu.RUnlock()
	return registered && r.breakers.Allow(name)
}

// ResetCircuitBreaker explicitly closes the provider's circuit and clears
// its failure count. Idempotent.
func (r *Router) ResetCircuitBreaker(name string) {
	r.breakers.Reset(name)
	r.collector.SetBreakerOpen(name, false)
	r.cfg.Logger.Info("circuit breaker reset", "provider", name)
}

// Metrics returns a snapshot of every registered provider's usage metrics
// and circuit state.
func (r *Router) Metrics() map[string]ProviderMetrics {
	return r.breakers.Snapshots()
}

// Models aggregates the models advertised by all registered providers,
// deduplicated by ID.
func (r *Router) Models(ctx context.Context) ([]types.Model, error) {
	if err := r.checkInitialized(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []types.Model
	seen := make(map[string]bool)
	for _, name := range r.order {
		list, err := r.handles[name].Models(ctx)
		if err != nil {
			r.cfg.Logger.Warn("model listing failed", "provider", name, "error", err)
			continue
		}
		for _, m := range list {
			if !seen[m.ID] {
				models = append(models, m)
				seen[m.ID] = true
			}
		}
	}
	return models, nil
}

// Health probes every registered provider and returns the results keyed by
// provider name. A probe transport error is reported as an error-status
// Health, not returned.
func (r *Router) Health(ctx context.Context) map[string]*types.Health {
	r.mu.RLock()
	handles := make(map[string]provider.Provider, len(r.handles))
	for name, h := range r.handles {
		handles[name] = h
	}
	r.mu.RUnlock()

	out := make(map[string]*types.Health, len(handles))
	for name, h := range handles {
		health, err := h.Health(ctx)
		if err != nil {
			health = &types.Health{Status: types.HealthError, Error: err.Error()}
		}
		out[name] = health
	}
	return out
}

// Shutdown releases all provider handles. Idempotent; the Router cannot be
// reused afterwards without a new Initialize.
func (r *Router) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized && len(r.handles) == 0 {
		return
	}
	r.handles = make(map[string]provider.Provider)
	r.order = nil
	r.initialized = false
	r.cfg.Logger.Info("router shut down")
}

func (r *Router) checkInitialized() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return errors.NewRouterError(errors.CodeNotInitialized, "router is not initialized")
	}
	return nil
}

func (r *Router) provider(name string) (provider.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.handles[name]
	return p, ok
}

func validateRequest(req *types.ChatRequest) error {
	switch {
	case req == nil:
		return errors.NewValidationError("", "request is nil")
	case req.Model == "":
		return errors.NewValidationError("", "model is required")
	case len(req.Messages) == 0:
		return errors.NewValidationError("", "messages is required")
	}
	return nil
}

// attempt performs a single provider call and records its outcome in the
// circuit state and metrics. All provider errors leave here classified.
func (r *Router) attempt(ctx context.Context, prov provider.Provider, req *types.ChatRequest) (*types.ChatResponse, error) {
	name := prov.Name()

	if err := r.admit(ctx, name); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := prov.Chat(ctx, req)
	latency := time.Since(start)

	if err != nil {
		ce := errors.Classify(name, err)
		r.recordFailure(name, ce)
		return nil, ce
	}

	r.recordSuccess(name, latency)
	resp.ServedBy = name
	return resp, nil
}

// admit applies the optional rate limiter. A rejected request is a
// retryable rate_limit error, so it flows through retry and fallback like
// an upstream 429, but it is not counted against the circuit breaker.
func (r *Router) admit(ctx context.Context, name string) error {
	if r.cfg.Limiter == nil {
		return nil
	}
	ok, err := r.cfg.Limiter.Allow(ctx, name)
	if err != nil {
		r.cfg.Logger.Warn("rate limiter backend error, admitting request",
			"provider", name, "error", err)
		return nil
	}
	if !ok {
		return errors.NewRateLimitError(name, "relay admission limit exceeded", 0)
	}
	return nil
}

func (r *Router) recordSuccess(name string, latency time.Duration) {
	r.breakers.RecordSuccess(name, latency)
	r.collector.RecordSuccess(name, latency)
	r.syncBreakerGauge(name)
}

func (r *Router) recordFailure(name string, ce *errors.ClassifiedError) {
	r.breakers.RecordFailure(name)
	r.collector.RecordFailure(name, string(ce.Kind))
	r.syncBreakerGauge(name)
}

func (r *Router) syncBreakerGauge(name string) {
	if st, ok := r.breakers.Snapshot(name); ok {
		r.collector.SetBreakerOpen(name, st.Open)
	}
}
