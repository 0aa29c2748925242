// Package healthcheck provides proactive provider probing for the daemon.
// The router's circuit breaker reacts to real traffic; the prober notices
// recovery during quiet periods and closes open circuits early.
package healthcheck

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/llmrelay/llmrelay/internal/breaker"
	"github.com/llmrelay/llmrelay/pkg/types"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 10 * time.Second
)

// Config controls the prober behavior.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration

	// RecoverOpenCircuits closes a provider's open circuit when its probe
	// succeeds, instead of waiting for the reset timeout.
	RecoverOpenCircuits bool
}

// Target is the slice of the router the prober needs.
type Target interface {
	Health(ctx context.Context) map[string]*types.Health
	Metrics() map[string]breaker.State
	ResetCircuitBreaker(name string)
}

// Prober periodically probes all registered providers.
type Prober struct {
	cfg     Config
	target  Target
	logger  *slog.Logger
	started atomic.Bool

	// unhealthy tracks last known probe state per provider so transitions
	// are logged once, not every tick.
	unhealthy map[string]bool
}

// NewProber creates a prober over the given target.
func NewProber(cfg Config, target Target, logger *slog.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Prober{
		cfg:       cfg,
		target:    target,
		logger:    logger,
		unhealthy: make(map[string]bool),
	}
}

// Start begins the probe loop until the context is canceled.
func (p *Prober) Start(ctx context.Context) {
	if p == nil || !p.cfg.Enabled || p.target == nil {
		return
	}
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	go p.run(ctx)
}

func (p *Prober) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.runOnce(ctx)
		case <-ctx.Done():
			p.logger.Info("healthcheck prober stopped")
			return
		}
	}
}

// runOnce is single-goroutine (called only from run), so the unhealthy map
// needs no locking.
func (p *Prober) runOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	results := p.target.Health(probeCtx)
	if len(results) == 0 {
		return
	}
	states := p.target.Metrics()

	for name, health := range results {
		if health.OK() {
			p.handleSuccess(name, states[name])
			continue
		}
		p.handleFailure(name, health)
	}
}

func (p *Prober) handleSuccess(name string, state breaker.State) {
	if p.unhealthy[name] {
		delete(p.unhealthy, name)
		p.logger.Info("provider probe recovered", "provider", name)
	}
	if p.cfg.RecoverOpenCircuits && state.Open {
		p.target.ResetCircuitBreaker(name)
		p.logger.Info("closed circuit after healthy probe", "provider", name)
	}
}

func (p *Prober) handleFailure(name string, health *types.Health) {
	if p.unhealthy[name] {
		return
	}
	p.unhealthy[name] = true
	p.logger.Warn("provider probe failed", "provider", name, "error", health.Error)
}
