package types

import "time"

// HealthStatus is the coarse availability state reported by a provider.
type HealthStatus string

const (
	// HealthActive means the provider answered its health probe.
	HealthActive HealthStatus = "active"
	// HealthError means the probe failed.
	HealthError HealthStatus = "error"
)

// Health is the result of a provider health probe.
type Health struct {
	Status  HealthStatus  `json:"status"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

// OK reports whether the provider is usable.
func (h *Health) OK() bool {
	return h != nil && h.Status == HealthActive
}
