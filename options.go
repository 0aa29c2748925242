package llmrelay

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmrelay/llmrelay/internal/breaker"
	"github.com/llmrelay/llmrelay/internal/resilience"
	"github.com/llmrelay/llmrelay/pkg/provider"
)

// RetryPolicy bounds the retry executor for the primary provider call.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration
	// Multiplier grows the delay exponentially per attempt.
	Multiplier float64
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
}

// CircuitBreakerPolicy governs per-provider circuit state.
type CircuitBreakerPolicy = breaker.Policy

// FallbackPolicy lists alternate providers tried, in order, after the
// primary provider's final error is retryable.
type FallbackPolicy struct {
	Enabled   bool
	Providers []string
}

// RouterConfig holds all configuration for the Router.
type RouterConfig struct {
	// Providers are instantiated through the factory registry during
	// Initialize.
	Providers []provider.Config

	// ProviderInstances are pre-built providers registered as-is (still
	// health-gated at Initialize).
	ProviderInstances []providerInstance

	DefaultProvider string
	ModelProviders  map[string]string

	Retry    RetryPolicy
	Breaker  CircuitBreakerPolicy
	Fallback FallbackPolicy

	// Limiter, when set, gates every provider attempt.
	Limiter resilience.Limiter

	CacheEnabled bool
	CacheTTL     time.Duration

	Logger            *slog.Logger
	MetricsRegisterer prometheus.Registerer
}

type providerInstance struct {
	Name     string
	Provider provider.Provider
}

// Option is a function that configures the Router.
type Option func(*RouterConfig)

// defaultRouterConfig returns sensible defaults.
func defaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		ModelProviders: make(map[string]string),
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Multiplier:  2.0,
			MaxDelay:    10 * time.Second,
		},
		Breaker:  breaker.DefaultPolicy(),
		Fallback: FallbackPolicy{Enabled: true},
		CacheTTL: time.Hour,
		Logger:   slog.Default(),
	}
}

// WithProvider adds a provider configuration. The provider is created from
// the factory registry and health-checked during Initialize.
func WithProvider(cfg provider.Config) Option {
	return func(c *RouterConfig) {
		c.Providers = append(c.Providers, cfg)
	}
}

// WithProviderInstance registers a pre-built provider under the given name.
func WithProviderInstance(name string, prov provider.Provider) Option {
	return func(c *RouterConfig) {
		c.ProviderInstances = append(c.ProviderInstances, providerInstance{Name: name, Provider: prov})
	}
}

// WithDefaultProvider sets the provider used when a request names neither a
// provider nor a mapped model.
func WithDefaultProvider(name string) Option {
	return func(c *RouterConfig) {
		c.DefaultProvider = name
	}
}

// WithModelProvider maps a model name to a provider for selection.
func WithModelProvider(model, providerName string) Option {
	return func(c *RouterConfig) {
		c.ModelProviders[model] = providerName
	}
}

// WithModelProviders replaces the model-to-provider lookup table.
func WithModelProviders(table map[string]string) Option {
	return func(c *RouterConfig) {
		c.ModelProviders = make(map[string]string, len(table))
		for model, prov := range table {
			c.ModelProviders[model] = prov
		}
	}
}

// WithRetryPolicy sets the retry policy for primary provider calls.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *RouterConfig) {
		c.Retry = p
	}
}

// WithCircuitBreakerPolicy sets the circuit breaker policy.
func WithCircuitBreakerPolicy(p CircuitBreakerPolicy) Option {
	return func(c *RouterConfig) {
		c.Breaker = p
	}
}

// WithFallback enables fallback to the given providers, tried in order.
func WithFallback(providers ...string) Option {
	return func(c *RouterConfig) {
		c.Fallback = FallbackPolicy{Enabled: true, Providers: providers}
	}
}

// WithFallbackDisabled turns fallback off; the primary error is surfaced
// directly.
func WithFallbackDisabled() Option {
	return func(c *RouterConfig) {
		c.Fallback = FallbackPolicy{Enabled: false}
	}
}

// WithLimiter installs an admission limiter gating every provider attempt.
func WithLimiter(l resilience.Limiter) Option {
	return func(c *RouterConfig) {
		c.Limiter = l
	}
}

// WithResponseCache enables the in-memory response cache for non-streaming
// requests.
func WithResponseCache(ttl time.Duration) Option {
	return func(c *RouterConfig) {
		c.CacheEnabled = true
		if ttl > 0 {
			c.CacheTTL = ttl
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *RouterConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithMetricsRegisterer registers Prometheus metrics with reg instead of
// the default registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *RouterConfig) {
		c.MetricsRegisterer = reg
	}
}
