// Package resilience implements the per-component circuit breaker registry
// and sticky emergency-stop latch every other subsystem is constructed with
// (spec §4.1).
package resilience

import (
	"sync"
	"time"

	"tradecore/internal/common"
	"tradecore/internal/metrics"

	"github.com/rs/zerolog/log"
)

// BreakerState is one circuit breaker's lifecycle state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

type errorEntry struct {
	at       time.Time
	severity common.Severity
}

type breaker struct {
	state        BreakerState
	errors       []errorEntry
	openedAt     time.Time
	threshold    int
	window       time.Duration
	cooldown     time.Duration
	halfOpenTest bool
}

// Manager tracks one circuit breaker per component plus a sticky
// emergency-stop latch, guarded by a single mutex (spec §5: one manager
// instance, injected into every other subsystem).
type Manager struct {
	mu              sync.Mutex
	breakers        map[string]*breaker
	critical        []time.Time
	emergency       bool
	emergencyReason string
	metrics         *metrics.Registry
}

// NewManager constructs an empty registry; breakers are created lazily per
// component name on first RecordError/CanProceed call.
func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*breaker)}
}

// SetMetrics attaches a metrics Registry so breaker-state transitions are
// reported as they happen. Optional; a Manager with no Registry attached
// behaves identically, it just reports nothing.
func (m *Manager) SetMetrics(reg *metrics.Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = reg
}

func breakerStateValue(s BreakerState) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// reportState pushes component's current breaker state to metrics, if
// attached. Caller must hold m.mu.
func (m *Manager) reportState(component string, b *breaker) {
	if m.metrics != nil {
		m.metrics.BreakerState(component).Set(breakerStateValue(b.state))
	}
}

func (m *Manager) get(component string) *breaker {
	b, ok := m.breakers[component]
	if !ok {
		b = &breaker{
			state:     StateClosed,
			threshold: common.DefaultBreakerErrorThreshold,
			window:    common.DefaultBreakerWindowSeconds * time.Second,
			cooldown:  common.DefaultBreakerCooldown * time.Second,
		}
		m.breakers[component] = b
	}
	return b
}

// CanProceed reports whether component's breaker currently allows a call,
// and transitions OPEN -> HALF_OPEN once the cooldown has elapsed (spec
// §4.1 state machine). The emergency-stop latch overrides every breaker.
func (m *Manager) CanProceed(component string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emergency {
		return false
	}
	b := m.get(component)
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return !b.halfOpenTest
	case StateOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.halfOpenTest = false
			m.reportState(component, b)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordError registers a failure against component's breaker, trips it to
// OPEN once the error count inside the rolling window reaches the threshold,
// and feeds the sticky emergency-stop latch (3 CRITICAL errors across any
// components trips it permanently until ForceRecovery).
func (m *Manager) RecordError(component string, severity common.Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	b := m.get(component)

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = now
		b.errors = nil
	}

	b.errors = append(b.errors, errorEntry{at: now, severity: severity})
	if len(b.errors) > common.DefaultErrorHistoryCap {
		b.errors = b.errors[len(b.errors)-common.DefaultErrorHistoryCap:]
	}
	b.errors = pruneWindow(b.errors, now, b.window)

	if len(b.errors) >= b.threshold && b.state == StateClosed {
		b.state = StateOpen
		b.openedAt = now
		log.Warn().Str("component", component).Int("errors", len(b.errors)).Msg("circuit breaker tripped")
	}
	m.reportState(component, b)

	if severity == common.SeverityCritical {
		m.critical = append(m.critical, now)
		m.critical = pruneCritical(m.critical, now)
		if len(m.critical) >= common.EmergencyStopCriticalCount && !m.emergency {
			m.emergency = true
			m.emergencyReason = "3 critical errors within window, component=" + component
			log.Error().Str("component", component).Msg("emergency stop latched")
		}
	}
}

func pruneWindow(entries []errorEntry, now time.Time, window time.Duration) []errorEntry {
	out := entries[:0]
	for _, e := range entries {
		if now.Sub(e.at) <= window {
			out = append(out, e)
		}
	}
	return out
}

func pruneCritical(entries []time.Time, now time.Time) []time.Time {
	window := common.DefaultBreakerWindowSeconds * time.Second * 10
	out := entries[:0]
	for _, t := range entries {
		if now.Sub(t) <= window {
			out = append(out, t)
		}
	}
	return out
}

// RecordSuccess registers a success against component's breaker; in
// HALF_OPEN this closes the breaker, clearing its error history.
func (m *Manager) RecordSuccess(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.get(component)
	switch b.state {
	case StateClosed:
		if len(b.errors) > 0 {
			b.errors = b.errors[1:]
		}
	case StateHalfOpen:
		b.state = StateClosed
		b.errors = nil
		b.halfOpenTest = false
	case StateOpen:
		// a success while OPEN should not occur (CanProceed gates calls),
		// but treat it the same as a half-open recovery defensively.
		b.state = StateClosed
		b.errors = nil
	}
	m.reportState(component, b)
}

// MarkHalfOpenAttempt records that the single half-open trial call has been
// issued, so concurrent callers don't all race through the probe.
func (m *Manager) MarkHalfOpenAttempt(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.get(component)
	if b.state == StateHalfOpen {
		b.halfOpenTest = true
	}
}

// State reports a component's current breaker state for metrics/dashboards.
func (m *Manager) State(component string) BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(component).state
}

// IsEmergencyStopped reports whether the sticky latch has tripped.
func (m *Manager) IsEmergencyStopped() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergency, m.emergencyReason
}

// ForceRecovery clears the emergency-stop latch and resets every breaker to
// CLOSED; intended for operator-triggered manual recovery only.
func (m *Manager) ForceRecovery() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergency = false
	m.emergencyReason = ""
	for component, b := range m.breakers {
		b.state = StateClosed
		b.errors = nil
		b.halfOpenTest = false
		m.reportState(component, b)
	}
	m.critical = nil
	log.Info().Msg("resilience manager force-recovered")
}
