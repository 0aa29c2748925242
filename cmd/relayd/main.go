// Package main is the entry point for the llmrelay daemon: an
// OpenAI-compatible HTTP front over the provider router.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/llmrelay/llmrelay"
	"github.com/llmrelay/llmrelay/internal/config"
	"github.com/llmrelay/llmrelay/internal/healthcheck"
	"github.com/llmrelay/llmrelay/internal/observability"
	"github.com/llmrelay/llmrelay/internal/resilience"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("relayd failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	manager, err := config.NewManager(configPath, bootLogger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := manager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.Format == "json",
		Output:     os.Stdout,
	})
	slog.SetDefault(logger)
	logger.Info("starting relayd", "version", llmrelay.Version, "config", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}
	manager.OnChange(func(*config.Config) {
		// Provider and routing changes require a restart; the reload is
		// surfaced so operators notice stale processes.
		logger.Info("configuration file reloaded; routing changes take effect on restart")
	})

	reg := prometheus.NewRegistry()
	router, err := llmrelay.New(routerOptions(cfg, logger, reg)...)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	if err := router.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize router: %w", err)
	}
	defer router.Shutdown()

	prober := healthcheck.NewProber(healthcheck.Config{
		Enabled:             true,
		RecoverOpenCircuits: true,
	}, router, logger)
	prober.Start(ctx)

	srv := NewServer(router, logger)
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Routes(metricsPath, reg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// routerOptions translates the daemon configuration into router options.
func routerOptions(cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) []llmrelay.Option {
	opts := []llmrelay.Option{
		WithConfigProviders(cfg),
		llmrelay.WithDefaultProvider(cfg.Routing.DefaultProvider),
		llmrelay.WithModelProviders(cfg.Routing.ModelProviders),
		llmrelay.WithRetryPolicy(llmrelay.RetryPolicy{
			MaxAttempts: cfg.Routing.Retry.MaxAttempts,
			BaseDelay:   cfg.Routing.Retry.BaseDelay,
			Multiplier:  cfg.Routing.Retry.Multiplier,
			MaxDelay:    cfg.Routing.Retry.MaxDelay,
		}),
		llmrelay.WithCircuitBreakerPolicy(llmrelay.CircuitBreakerPolicy{
			Enabled:          cfg.Routing.Breaker.Enabled,
			FailureThreshold: cfg.Routing.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Routing.Breaker.ResetTimeout,
		}),
		llmrelay.WithLogger(logger),
		llmrelay.WithMetricsRegisterer(reg),
	}

	if cfg.Routing.Fallback.Enabled {
		opts = append(opts, llmrelay.WithFallback(cfg.Routing.Fallback.Providers...))
	} else {
		opts = append(opts, llmrelay.WithFallbackDisabled())
	}

	if cfg.Cache.Enabled {
		opts = append(opts, llmrelay.WithResponseCache(cfg.Cache.TTL))
	}

	if cfg.RateLimit.Enabled {
		opts = append(opts, llmrelay.WithLimiter(buildLimiter(cfg.RateLimit, logger)))
	}
	return opts
}

// WithConfigProviders registers every configured provider.
func WithConfigProviders(cfg *config.Config) llmrelay.Option {
	return func(rc *llmrelay.RouterConfig) {
		for _, pc := range cfg.Providers {
			llmrelay.WithProvider(pc)(rc)
		}
	}
}

func buildLimiter(cfg config.RateLimitConfig, logger *slog.Logger) resilience.Limiter {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		logger.Info("using distributed rate limiter", "redis", cfg.RedisAddr)
		limiter := resilience.NewRedisLimiter(client, int64(cfg.RequestsPerMinute), time.Minute)
		limiter.FailOpen = true
		return limiter
	}
	logger.Info("using local rate limiter", "rpm", cfg.RequestsPerMinute, "burst", cfg.BurstSize)
	return resilience.NewLocalLimiter(cfg.RequestsPerMinute, cfg.BurstSize)
}
