// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/llmrelay/llmrelay/pkg/provider"
)

// Config represents the complete relay configuration.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Providers []provider.Config `yaml:"providers"`
	Routing   RoutingConfig     `yaml:"routing"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Cache     CacheConfig       `yaml:"cache"`
	Logging   LoggingConfig     `yaml:"logging"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings for the daemon.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RoutingConfig contains provider selection and resilience settings.
type RoutingConfig struct {
	// DefaultProvider serves requests that name neither a provider nor a
	// mapped model.
	DefaultProvider string `yaml:"default_provider"`

	// ModelProviders maps model names to provider names for selection.
	ModelProviders map[string]string `yaml:"model_providers"`

	Retry    RetryConfig    `yaml:"retry"`
	Breaker  BreakerConfig  `yaml:"circuit_breaker"`
	Fallback FallbackConfig `yaml:"fallback"`
}

// RetryConfig bounds the retry executor.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// BreakerConfig governs per-provider circuit state.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint          `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// FallbackConfig lists alternate providers tried after a retryable failure.
type FallbackConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Providers []string `yaml:"providers"`
}

// RateLimitConfig defines per-provider admission limits.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`

	// RedisAddr enables the distributed limiter when set; empty means the
	// local token bucket is used.
	RedisAddr string `yaml:"redis_addr"`
}

// CacheConfig controls the optional response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Routing: RoutingConfig{
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
				Multiplier:  2.0,
				MaxDelay:    10 * time.Second,
			},
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				ResetTimeout:     60 * time.Second,
			},
			Fallback: FallbackConfig{
				Enabled: true,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Cache: CacheConfig{
			Enabled: false,
			TTL:     time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile reads and validates a YAML configuration file.
// Environment variable references (${VAR}) in API keys and base URLs are
// expanded before validation.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.ExpandEnv(cfg.Providers[i].APIKey)
		cfg.Providers[i].BaseURL = os.ExpandEnv(cfg.Providers[i].BaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	names := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if p.Type == "" {
			return fmt.Errorf("provider %s: type is required", p.Name)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		names[p.Name] = struct{}{}
	}

	if c.Routing.DefaultProvider != "" {
		if _, ok := names[c.Routing.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider %s is not a configured provider", c.Routing.DefaultProvider)
		}
	}
	for model, prov := range c.Routing.ModelProviders {
		if _, ok := names[prov]; !ok {
			return fmt.Errorf("model_providers[%s] references unknown provider %s", model, prov)
		}
	}
	for _, prov := range c.Routing.Fallback.Providers {
		if _, ok := names[prov]; !ok {
			return fmt.Errorf("fallback provider %s is not configured", prov)
		}
	}

	if c.Routing.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Routing.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	return nil
}
