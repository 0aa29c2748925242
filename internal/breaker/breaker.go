// Package breaker tracks per-provider circuit state and usage metrics.
// The state machine is intentionally binary: a provider is either Closed
// (selectable) or Open (excluded), with a time-based auto-reset. No
// half-open probing is modeled.
package breaker

import (
	"sync"
	"time"
)

// Policy governs when a provider's circuit opens and auto-closes.
type Policy struct {
	// Enabled gates the Closed->Open transition. Metrics are recorded
	// either way.
	Enabled bool
	// FailureThreshold is the failure count at which the circuit opens.
	FailureThreshold uint
	// ResetTimeout is how long after the last failure the circuit
	// auto-closes on the next evaluation.
	ResetTimeout time.Duration
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:          true,
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// State is a point-in-time snapshot of a provider's circuit record.
type State struct {
	Requests         uint64    `json:"requests"`
	Failures         uint64    `json:"failures"`
	SuccessRate      float64   `json:"success_rate"`
	AverageLatencyMs float64   `json:"average_latency_ms"`
	LastFailureAt    time.Time `json:"last_failure_at,omitzero"`
	Open             bool      `json:"circuit_open"`
}

// record is the mutable per-provider state. All mutation happens under the
// record's own mutex so concurrent requests against the same provider
// cannot interleave counter updates.
type record struct {
	mu            sync.Mutex
	requests      uint64
	failures      uint64
	avgLatencyMs  float64
	lastFailureAt time.Time
	open          bool
}

func (r *record) snapshot() State {
	s := State{
		Requests:         r.requests,
		Failures:         r.failures,
		AverageLatencyMs: r.avgLatencyMs,
		LastFailureAt:    r.lastFailureAt,
		Open:             r.open,
	}
	if r.requests > 0 {
		s.SuccessRate = float64(r.requests-r.failures) / float64(r.requests)
	}
	return s
}

// resetElapsed reports whether the auto-reset window has passed.
// Caller holds r.mu.
func (r *record) resetElapsed(policy Policy, now time.Time) bool {
	return !r.lastFailureAt.IsZero() && now.Sub(r.lastFailureAt) > policy.ResetTimeout
}

// Store holds the circuit records for all registered providers.
// The provider set is fixed after registration; only record contents mutate.
type Store struct {
	mu      sync.RWMutex
	policy  Policy
	records map[string]*record

	// now is swappable in tests.
	now func() time.Time
}

// NewStore creates a store with the given policy.
func NewStore(policy Policy) *Store {
	return &Store{
		policy:  policy,
		records: make(map[string]*record),
		now:     time.Now,
	}
}

// Register creates a closed circuit record for the provider.
// Registering an existing provider is a no-op.
func (s *Store) Register(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[name]; !ok {
		s.records[name] = &record{}
	}
}

func (s *Store) get(name string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[name]
	return r, ok
}

// RecordSuccess records a successful attempt and its latency.
// If the circuit is open and the reset window has elapsed, the success
// closes it as a side effect.
func (s *Store) RecordSuccess(name string, latency time.Duration) {
	r, ok := s.get(name)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests++
	ms := float64(latency) / float64(time.Millisecond)
	r.avgLatencyMs = (r.avgLatencyMs*float64(r.requests-1) + ms) / float64(r.requests)

	if r.open && r.resetElapsed(s.policy, s.now()) {
		r.open = false
		r.failures = 0
	}
}

// RecordFailure records a failed attempt and evaluates the Closed->Open
// transition against the failure threshold.
func (s *Store) RecordFailure(name string) {
	r, ok := s.get(name)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests++
	r.failures++
	r.lastFailureAt = s.now()

	if s.policy.Enabled && r.failures >= uint64(s.policy.FailureThreshold) {
		r.open = true
	}
}

// Allow reports whether the provider is selectable. An open circuit whose
// reset window has elapsed is lazily closed here, so callers never see a
// stale Open state.
func (s *Store) Allow(name string) bool {
	r, ok := s.get(name)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open {
		return true
	}
	if r.resetElapsed(s.policy, s.now()) {
		r.open = false
		r.failures = 0
		return true
	}
	return false
}

// Reset explicitly closes the provider's circuit and clears its failure
// count. Idempotent.
func (s *Store) Reset(name string) {
	r, ok := s.get(name)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.failures = 0
	r.lastFailureAt = time.Time{}
}

// Snapshot returns the current state for one provider.
func (s *Store) Snapshot(name string) (State, bool) {
	r, ok := s.get(name)
	if !ok {
		return State{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), true
}

// Snapshots returns the current state of every registered provider.
func (s *Store) Snapshots() map[string]State {
	s.mu.RLock()
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	s.mu.RUnlock()

	out := make(map[string]State, len(names))
	for _, name := range names {
		if st, ok := s.Snapshot(name); ok {
			out[name] = st
		}
	}
	return out
}
