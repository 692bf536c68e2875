// Package manager is the orchestration façade: it owns the gateway registry
// and wires the health monitor, metrics collector, failover manager,
// selection service, load balancer and routing service together behind a
// single API.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/veltapay/payment-orchestrator/internal/gateway"
	"github.com/veltapay/payment-orchestrator/internal/models"
	"github.com/veltapay/payment-orchestrator/internal/services/balancer"
	"github.com/veltapay/payment-orchestrator/internal/services/failover"
	"github.com/veltapay/payment-orchestrator/internal/services/health"
	"github.com/veltapay/payment-orchestrator/internal/services/metrics"
	"github.com/veltapay/payment-orchestrator/internal/services/routing"
	"github.com/veltapay/payment-orchestrator/internal/services/selection"
)

var (
	ErrDuplicateGateway = errors.New("gateway already registered")
	ErrGatewayNotFound  = errors.New("gateway not registered")
)

// Options tunes the subsystems the manager constructs. Zero values take the
// subsystem defaults.
type Options struct {
	MetricsCapacity  int
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// Manager registers gateways and exposes selection, health, metrics,
// routing, balancing and failover over them. Registration and removal are
// atomic: a gateway is visible to every subsystem or to none.
type Manager struct {
	mu       sync.RWMutex
	gateways map[string]gateway.Gateway
	order    []string

	Health   *health.Monitor
	Metrics  *metrics.Collector
	Failover *failover.Manager
	Selector *selection.Service
	Balancer *balancer.Balancer
	Router   *routing.Service

	log zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Manager {
	m := &Manager{
		gateways: make(map[string]gateway.Gateway),
		log:      log.With().Str("component", "manager").Logger(),
	}

	m.Health = health.NewMonitor(log)
	m.Metrics = metrics.NewCollector(opts.MetricsCapacity, log)
	m.Failover = failover.NewManager(m, m.Health, failover.Options{
		FailureThreshold: opts.FailureThreshold,
		RecoveryTimeout:  opts.RecoveryTimeout,
	}, log)
	m.Selector = selection.NewService(m.Health, m.Metrics, m.Failover, log)
	m.Balancer = balancer.New(m.Health, m.Metrics, log)
	m.Router = routing.NewService(m, m.Selector, m.Metrics, log)
	return m
}

// Start brings up the background loops: periodic health checks and metrics
// aggregation.
func (m *Manager) Start() {
	m.Health.StartMonitoring()
	m.Metrics.Start()
}

// Shutdown stops background loops and pending recovery timers. Registered
// gateways stay queryable.
func (m *Manager) Shutdown() {
	m.Health.StopMonitoring()
	m.Metrics.Stop()
	m.Failover.Shutdown()
}

// RegisterGateway validates the adapter's configuration and makes it visible
// to every subsystem. Duplicate ids are rejected.
func (m *Manager) RegisterGateway(gw gateway.Gateway) error {
	cfg := gw.Config()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("gateway %s: %w", gw.ID(), err)
	}

	m.mu.Lock()
	if _, exists := m.gateways[gw.ID()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateGateway, gw.ID())
	}
	m.gateways[gw.ID()] = gw
	m.order = append(m.order, gw.ID())
	m.mu.Unlock()

	m.Health.AddGateway(gw)
	m.log.Info().Str("gateway", gw.ID()).Str("type", gw.Type()).Msg("gateway registered")
	return nil
}

// UnregisterGateway removes the gateway from the registry and the health
// monitor. Recorded metrics are kept for reporting.
func (m *Manager) UnregisterGateway(id string) error {
	m.mu.Lock()
	if _, exists := m.gateways[id]; !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrGatewayNotFound, id)
	}
	delete(m.gateways, id)
	for i, gid := range m.order {
		if gid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.Health.RemoveGateway(id)
	m.log.Info().Str("gateway", id).Msg("gateway unregistered")
	return nil
}

// Get satisfies the registry interfaces of the failover and routing
// services.
func (m *Manager) Get(id string) (gateway.Gateway, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gw, ok := m.gateways[id]
	return gw, ok
}

// All returns registered gateways in registration order.
func (m *Manager) All() []gateway.Gateway {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]gateway.Gateway, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.gateways[id])
	}
	return out
}

// GetActive returns registered gateways whose adapters report active.
func (m *Manager) GetActive() []gateway.Gateway {
	all := m.All()
	out := make([]gateway.Gateway, 0, len(all))
	for _, gw := range all {
		if gw.IsActive() {
			out = append(out, gw)
		}
	}
	return out
}

// SelectGateway narrows registered gateways by the hard constraints in the
// criteria and hands the survivors to the weighted selection service.
func (m *Manager) SelectGateway(criteria models.SelectionCriteria) (*models.GatewaySelection, error) {
	eligible := m.eligible(criteria)
	if len(eligible) == 0 {
		return nil, selection.ErrNoEligibleGateway
	}
	return m.Selector.SelectOptimalGateway(eligible, criteria)
}

// SelectBestGateway is the amount/currency shorthand over SelectGateway.
func (m *Manager) SelectBestGateway(amount decimal.Decimal, currency string) (gateway.Gateway, error) {
	sel, err := m.SelectGateway(models.SelectionCriteria{Amount: amount, Currency: currency})
	if err != nil {
		return nil, err
	}
	gw, ok := m.Get(sel.Primary)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, sel.Primary)
	}
	return gw, nil
}

func (m *Manager) eligible(criteria models.SelectionCriteria) []gateway.Gateway {
	out := make([]gateway.Gateway, 0)
	for _, gw := range m.All() {
		cfg := gw.Config()
		if containsString(criteria.ExcludeGateways, gw.ID()) {
			continue
		}
		if criteria.Currency != "" && !cfg.SupportsCurrency(criteria.Currency) {
			continue
		}
		if !criteria.Amount.IsZero() && !cfg.SupportsAmount(criteria.Amount) {
			continue
		}
		if criteria.PaymentMethodType != "" && !cfg.SupportsPaymentMethod(criteria.PaymentMethodType) {
			continue
		}
		if criteria.Country != "" && !cfg.SupportsCountry(criteria.Country) {
			continue
		}
		if !supportsAll(cfg, criteria.RequireFeatures) {
			continue
		}
		out = append(out, gw)
	}
	return out
}

// CheckGatewayHealth runs a live probe against one registered gateway.
func (m *Manager) CheckGatewayHealth(ctx context.Context, id string) (models.HealthStatus, error) {
	if _, ok := m.Get(id); !ok {
		return models.HealthStatus{}, fmt.Errorf("%w: %s", ErrGatewayNotFound, id)
	}
	return m.Health.CheckHealth(ctx, id), nil
}

// GetGatewayMetrics reports the trailing aggregate for one gateway.
func (m *Manager) GetGatewayMetrics(id string, period time.Duration) models.GatewayMetrics {
	return m.Metrics.GetMetrics(id, period)
}

// RecordMetrics applies an externally sourced partial metrics update.
func (m *Manager) RecordMetrics(id string, patch models.MetricsPatch) {
	m.Metrics.RecordMetrics(id, patch)
}

// RecordOutcome feeds a transaction result into health, metrics and the
// circuit breaker in one step.
func (m *Manager) RecordOutcome(id string, success bool, responseTime time.Duration, amount decimal.Decimal) {
	m.Metrics.RecordTransaction(id, success, responseTime, amount)
	if success {
		m.Health.RecordSuccess(id, responseTime)
		m.Failover.NotifySuccess(id)
	} else {
		m.Health.RecordFailure(id, nil)
		m.Failover.NotifyFailure(id)
	}
}

// HandleGatewayFailure records the failure everywhere it matters and asks
// the failover manager for an alternative. A nil gateway with a nil error
// means failover is disabled for this gateway.
func (m *Manager) HandleGatewayFailure(ctx context.Context, id string, cause error) (gateway.Gateway, error) {
	if _, ok := m.Get(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, id)
	}
	errType := "gateway_error"
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	m.Metrics.RecordError(id, errType, msg)
	m.Health.RecordFailure(id, cause)
	return m.Failover.ExecuteFailover(ctx, id, cause)
}

func (m *Manager) EnableFailover(id string)  { m.Failover.EnableFailover(id) }
func (m *Manager) DisableFailover(id string) { m.Failover.DisableFailover(id) }

func supportsAll(cfg *models.GatewayConfig, features []string) bool {
	for _, f := range features {
		if !cfg.SupportsFeature(f) {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
