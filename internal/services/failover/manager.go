package failover

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veltapay/payment-orchestrator/internal/gateway"
	"github.com/veltapay/payment-orchestrator/internal/models"
)

const (
	// DefaultFailureThreshold is how many consecutive failures open a
	// gateway's circuit.
	DefaultFailureThreshold = 5
	// DefaultRecoveryTimeout is how long an open circuit rejects calls
	// before the half-open trial.
	DefaultRecoveryTimeout = 60 * time.Second
)

// ErrChainExhausted is the hard failure returned when every fallback in a
// chain was skipped or failed its live health check. Callers must reject or
// queue the transaction, never pick an arbitrary gateway.
var ErrChainExhausted = errors.New("all fallback gateways are unavailable")

// Registry is the minimal gateway lookup the failover manager needs; the
// gateway manager façade satisfies it.
type Registry interface {
	Get(id string) (gateway.Gateway, bool)
}

// HealthChecker performs a live, blocking health check and returns the
// resulting status.
type HealthChecker interface {
	CheckHealth(ctx context.Context, id string) models.HealthStatus
}

// Options tune the per-gateway breakers. Zero values take the defaults.
type Options struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	Now              func() time.Time
}

// Manager owns the per-gateway circuit breakers and the configured fallback
// chains. All breaker mutations go through here.
type Manager struct {
	registry Registry
	health   HealthChecker

	mu       sync.RWMutex
	breakers map[string]*breaker
	chains   map[string][]string
	enabled  map[string]bool
	timers   []*time.Timer

	threshold int
	recovery  time.Duration
	now       func() time.Time

	log zerolog.Logger
}

func NewManager(registry Registry, health HealthChecker, opts Options, log zerolog.Logger) *Manager {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		registry:  registry,
		health:    health,
		breakers:  make(map[string]*breaker),
		chains:    make(map[string][]string),
		enabled:   make(map[string]bool),
		threshold: opts.FailureThreshold,
		recovery:  opts.RecoveryTimeout,
		now:       opts.Now,
		log:       log.With().Str("component", "failover").Logger(),
	}
}

func (m *Manager) breakerFor(id string) *breaker {
	m.mu.RLock()
	b, ok := m.breakers[id]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[id]; ok {
		return b
	}
	b = newBreaker(m.threshold, m.recovery, m.now)
	m.breakers[id] = b
	return b
}

// SetFallbackChain configures the ordered fallback list for a primary
// gateway.
func (m *Manager) SetFallbackChain(primaryID string, chain []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[primaryID] = append([]string(nil), chain...)
}

func (m *Manager) FallbackChain(primaryID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.chains[primaryID]...)
}

// EnableFailover arms failover for a gateway; ExecuteFailover is a no-op
// until this is called.
func (m *Manager) EnableFailover(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[id] = true
}

func (m *Manager) DisableFailover(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[id] = false
}

func (m *Manager) failoverEnabled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled[id]
}

// NotifyFailure counts a failure against the gateway's breaker, opening the
// circuit at the threshold.
func (m *Manager) NotifyFailure(id string) {
	if m.breakerFor(id).onFailure() {
		m.log.Warn().Str("gateway", id).Msg("circuit opened")
	}
}

// NotifySuccess closes the gateway's circuit and resets its failure count.
func (m *Manager) NotifySuccess(id string) {
	m.breakerFor(id).onSuccess()
}

// IsCircuitOpen reports whether calls to the gateway should be rejected.
// Reading it past the recovery deadline claims the single half-open trial;
// this is an atomic read-modify-write serialized per gateway.
func (m *Manager) IsCircuitOpen(id string) bool {
	return m.breakerFor(id).isOpen()
}

func (m *Manager) OpenCircuit(id string) {
	m.breakerFor(id).forceOpen()
	m.log.Warn().Str("gateway", id).Msg("circuit forced open")
}

func (m *Manager) CloseCircuit(id string) {
	m.breakerFor(id).forceClose()
}

// CircuitState returns the externally visible breaker snapshot.
func (m *Manager) CircuitState(id string) models.CircuitBreakerState {
	return m.breakerFor(id).snapshot()
}

// ExecuteFailover reacts to a failure of the named gateway. Unless failover
// was explicitly enabled for it, this is a no-op returning nil. Otherwise the
// failure is recorded and the fallback chain walked in order, skipping
// candidates that are missing, inactive, or circuit-open. Candidates are
// health-checked one at a time, sequentially, to avoid fanning load out
// against already-struggling infrastructure; the first passing candidate
// wins. An exhausted chain returns ErrChainExhausted.
func (m *Manager) ExecuteFailover(ctx context.Context, failedID string, cause error) (gateway.Gateway, error) {
	if !m.failoverEnabled(failedID) {
		return nil, nil
	}

	m.NotifyFailure(failedID)
	m.log.Warn().Str("gateway", failedID).AnErr("cause", cause).Msg("executing failover")

	for _, candidateID := range m.FallbackChain(failedID) {
		gw, ok := m.registry.Get(candidateID)
		if !ok {
			m.log.Debug().Str("candidate", candidateID).Msg("fallback skipped: not registered")
			continue
		}
		if !gw.IsActive() {
			m.log.Debug().Str("candidate", candidateID).Msg("fallback skipped: inactive")
			continue
		}
		// Non-claiming read: inspecting a candidate must not burn its
		// single half-open trial permit.
		if m.breakerFor(candidateID).wouldReject() {
			m.log.Debug().Str("candidate", candidateID).Msg("fallback skipped: circuit open")
			continue
		}

		status := m.health.CheckHealth(ctx, candidateID)
		if status.Status != models.GatewayStatusActive {
			m.log.Debug().
				Str("candidate", candidateID).
				Str("status", string(status.Status)).
				Msg("fallback skipped: failed live health check")
			continue
		}

		// Claim the trial permit only for the winning candidate; another
		// caller may have taken it while the health check ran.
		if m.IsCircuitOpen(candidateID) {
			m.log.Debug().Str("candidate", candidateID).Msg("fallback skipped: trial permit taken")
			continue
		}

		m.log.Info().Str("gateway", failedID).Str("fallback", candidateID).Msg("failover succeeded")
		return gw, nil
	}

	return nil, ErrChainExhausted
}

// AttemptRecovery performs one live health check and closes the circuit on
// success.
func (m *Manager) AttemptRecovery(ctx context.Context, id string) bool {
	status := m.health.CheckHealth(ctx, id)
	if status.Status != models.GatewayStatusActive {
		return false
	}
	m.CloseCircuit(id)
	m.log.Info().Str("gateway", id).Msg("circuit closed after recovery check")
	return true
}

// ScheduleRecoveryCheck arranges exactly one deferred recovery attempt.
// Nothing awaits the result, so a failed attempt is logged and swallowed.
func (m *Manager) ScheduleRecoveryCheck(id string, delay time.Duration) {
	timer := time.AfterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error().Str("gateway", id).Any("panic", r).Msg("recovery check panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if !m.AttemptRecovery(ctx, id) {
			m.log.Debug().Str("gateway", id).Msg("scheduled recovery check failed")
		}
	})

	m.mu.Lock()
	m.timers = append(m.timers, timer)
	m.mu.Unlock()
}

// Shutdown stops any pending recovery timers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	timers := m.timers
	m.timers = nil
	m.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}
