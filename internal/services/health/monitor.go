package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veltapay/payment-orchestrator/internal/gateway"
	"github.com/veltapay/payment-orchestrator/internal/models"
)

const (
	// defaultInterval is used for gateways whose config carries no
	// health-check policy.
	defaultInterval = 30 * time.Second
	defaultTimeout  = 5 * time.Second
	probeBackoff    = 500 * time.Millisecond

	// liveFailureLimit is how many consecutive live-traffic failures flip a
	// gateway to error status. A scheduled probe failure is authoritative
	// and flips it immediately.
	liveFailureLimit = 3
)

// ChangeCallback is invoked when a gateway's health status value actually
// transitions. Repeated green checks do not fire it.
type ChangeCallback func(gatewayID string, status models.HealthStatus)

type entry struct {
	gw     gateway.Gateway
	status models.HealthStatus
	cancel context.CancelFunc
}

// Monitor polls every registered gateway on its own timer and keeps the
// authoritative HealthStatus per gateway. One slow gateway never stalls
// another: each check runs on its own goroutine bounded by the policy
// timeout.
type Monitor struct {
	mu        sync.RWMutex
	gateways  map[string]*entry
	callbacks []ChangeCallback
	running   bool

	client *http.Client
	log    zerolog.Logger
}

func NewMonitor(log zerolog.Logger) *Monitor {
	return &Monitor{
		gateways: make(map[string]*entry),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
			},
		},
		log: log.With().Str("component", "health").Logger(),
	}
}

// AddGateway registers a gateway with the monitor. It starts at inactive
// until the first check promotes it. If monitoring is already running its
// polling loop starts immediately.
func (m *Monitor) AddGateway(gw gateway.Gateway) {
	m.mu.Lock()
	if _, exists := m.gateways[gw.ID()]; exists {
		m.mu.Unlock()
		return
	}
	e := &entry{
		gw:     gw,
		status: models.HealthStatus{Status: models.GatewayStatusInactive},
	}
	m.gateways[gw.ID()] = e
	running := m.running
	m.mu.Unlock()

	if running {
		m.startLoop(gw.ID(), e)
	}
}

// RemoveGateway cancels the gateway's polling timer and drops its state.
func (m *Monitor) RemoveGateway(id string) {
	m.mu.Lock()
	e, ok := m.gateways[id]
	if ok {
		delete(m.gateways, id)
	}
	m.mu.Unlock()
	if ok && e.cancel != nil {
		e.cancel()
	}
}

// Subscribe registers a callback fired on status transitions. A panicking
// subscriber is isolated so it cannot block state updates or its peers.
func (m *Monitor) Subscribe(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Status returns the current health snapshot for a gateway.
func (m *Monitor) Status(id string) (models.HealthStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.gateways[id]
	if !ok {
		return models.HealthStatus{}, false
	}
	return e.status, true
}

// CheckHealth performs one probe against the gateway and updates its status.
// An unknown gateway yields an error-status snapshot, never a panic.
func (m *Monitor) CheckHealth(ctx context.Context, id string) models.HealthStatus {
	m.mu.RLock()
	e, ok := m.gateways[id]
	m.mu.RUnlock()
	if !ok {
		return models.HealthStatus{
			Status:       models.GatewayStatusError,
			LastCheck:    time.Now().UTC(),
			ErrorMessage: "unknown gateway: " + id,
		}
	}

	policy := e.gw.Config().HealthCheck
	start := time.Now()
	err := m.probe(ctx, e.gw, policy)
	elapsed := time.Since(start)

	return m.update(id, func(status *models.HealthStatus) {
		status.LastCheck = time.Now().UTC()
		status.ResponseTime = elapsed
		if err != nil {
			status.ConsecutiveFailures++
			status.ErrorMessage = err.Error()
			status.Status = models.GatewayStatusError
			return
		}
		status.ConsecutiveFailures = 0
		status.ErrorMessage = ""
		status.Status = models.GatewayStatusActive
	})
}

// probe runs up to policy.Retries+1 attempts, each bounded by the policy
// timeout, with a fixed backoff between attempts. No policy means the
// gateway is assumed healthy.
func (m *Monitor) probe(ctx context.Context, gw gateway.Gateway, policy *models.HealthCheckPolicy) error {
	if policy == nil {
		return nil
	}
	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := policy.Retries + 1

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(probeBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err = m.attempt(attemptCtx, gw, policy)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}

func (m *Monitor) attempt(ctx context.Context, gw gateway.Gateway, policy *models.HealthCheckPolicy) error {
	if policy.URL == "" {
		return gw.HealthCheck(ctx)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, policy.URL, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return gateway.ErrUnavailable
	}
	return nil
}

// RecordFailure lets transaction-processing code report a live failure
// outside the probe cycle. Status flips to error only after
// liveFailureLimit consecutive failures.
func (m *Monitor) RecordFailure(id string, cause error) {
	m.update(id, func(status *models.HealthStatus) {
		status.LastCheck = time.Now().UTC()
		status.ConsecutiveFailures++
		if cause != nil {
			status.ErrorMessage = cause.Error()
		}
		if status.ConsecutiveFailures >= liveFailureLimit {
			status.Status = models.GatewayStatusError
		}
	})
}

// RecordSuccess resets the consecutive-failure counter and marks the gateway
// active.
func (m *Monitor) RecordSuccess(id string, responseTime time.Duration) {
	m.update(id, func(status *models.HealthStatus) {
		status.LastCheck = time.Now().UTC()
		status.ResponseTime = responseTime
		status.ConsecutiveFailures = 0
		status.ErrorMessage = ""
		status.Status = models.GatewayStatusActive
	})
}

// update applies fn to the gateway's status under the lock and fans out to
// subscribers only when the status value changed.
func (m *Monitor) update(id string, fn func(*models.HealthStatus)) models.HealthStatus {
	m.mu.Lock()
	e, ok := m.gateways[id]
	if !ok {
		m.mu.Unlock()
		return models.HealthStatus{
			Status:       models.GatewayStatusError,
			LastCheck:    time.Now().UTC(),
			ErrorMessage: "unknown gateway: " + id,
		}
	}
	before := e.status.Status
	fn(&e.status)
	after := e.status
	var callbacks []ChangeCallback
	if before != after.Status {
		callbacks = append(callbacks, m.callbacks...)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		m.notify(cb, id, after)
	}
	if before != after.Status {
		m.log.Info().
			Str("gateway", id).
			Str("from", string(before)).
			Str("to", string(after.Status)).
			Int("consecutiveFailures", after.ConsecutiveFailures).
			Msg("gateway health status changed")
	}
	return after
}

func (m *Monitor) notify(cb ChangeCallback, id string, status models.HealthStatus) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("gateway", id).Any("panic", r).Msg("health change subscriber panicked")
		}
	}()
	cb(id, status)
}

// StartMonitoring starts one polling loop per registered gateway, each with
// an immediate first check. Calling it while running is a no-op.
func (m *Monitor) StartMonitoring() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	entries := make(map[string]*entry, len(m.gateways))
	for id, e := range m.gateways {
		entries[id] = e
	}
	m.mu.Unlock()

	m.log.Info().Int("gateways", len(entries)).Msg("starting health monitor")
	for id, e := range entries {
		m.startLoop(id, e)
	}
}

// StopMonitoring cancels every polling loop. Calling it while stopped is a
// no-op.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancels := make([]context.CancelFunc, 0, len(m.gateways))
	for _, e := range m.gateways {
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
			e.cancel = nil
		}
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.log.Info().Msg("health monitor stopped")
}

func (m *Monitor) startLoop(id string, e *entry) {
	interval := defaultInterval
	if policy := e.gw.Config().HealthCheck; policy != nil && policy.Interval > 0 {
		interval = policy.Interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	// StopMonitoring may have interleaved since the running flag was set;
	// spawning now would leave a loop no stop call can reach.
	if !m.running {
		m.mu.Unlock()
		cancel()
		return
	}
	e.cancel = cancel
	m.mu.Unlock()

	go func() {
		m.CheckHealth(ctx, id)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CheckHealth(ctx, id)
			case <-ctx.Done():
				return
			}
		}
	}()
}
