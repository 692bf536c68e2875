package selection

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/veltapay/payment-orchestrator/internal/gateway"
	"github.com/veltapay/payment-orchestrator/internal/models"
)

// Factor weights. They sum to 1.0.
const (
	weightHealth        = 0.25
	weightPerformance   = 0.20
	weightCost          = 0.20
	weightPriority      = 0.15
	weightGeography     = 0.10
	weightCompatibility = 0.10

	// latencyCeiling caps the latency decay: anything at or beyond five
	// seconds scores zero on the latency component.
	latencyCeiling = 5 * time.Second

	// neutralScore is used when a factor has no data to judge by, so a
	// freshly registered gateway with no history stays selectable.
	neutralScore = 0.5

	maxFallbacks = 3
)

var ErrNoEligibleGateway = errors.New("no eligible gateway for selection criteria")

// HealthSource exposes the monitor's current per-gateway status.
type HealthSource interface {
	Status(id string) (models.HealthStatus, bool)
}

// MetricsSource exposes the collector's cached aggregates.
type MetricsSource interface {
	GetLatestMetrics(id string) *models.GatewayMetrics
}

// BreakerSource exposes circuit state without claiming a half-open trial.
type BreakerSource interface {
	CircuitState(id string) models.CircuitBreakerState
}

// Service scores eligible gateways on six weighted factors and produces a
// ranked selection. All scoring is a synchronous in-memory computation.
type Service struct {
	health   HealthSource
	metrics  MetricsSource
	breakers BreakerSource
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(health HealthSource, metrics MetricsSource, breakers BreakerSource, log zerolog.Logger) *Service {
	return &Service{
		health:   health,
		metrics:  metrics,
		breakers: breakers,
		now:      time.Now,
		log:      log.With().Str("component", "selection").Logger(),
	}
}

type scored struct {
	gw        gateway.Gateway
	breakdown models.ScoreBreakdown
}

// SelectOptimalGateway ranks the eligible gateways for the given criteria and
// returns the best as primary with up to three fallbacks. When preferred
// gateways are named and at least one is eligible, ranking is restricted to
// that subset.
func (s *Service) SelectOptimalGateway(eligible []gateway.Gateway, criteria models.SelectionCriteria) (*models.GatewaySelection, error) {
	if len(eligible) == 0 {
		return nil, ErrNoEligibleGateway
	}

	pool := eligible
	restricted := false
	if len(criteria.PreferredGateways) > 0 {
		preferred := make([]gateway.Gateway, 0, len(eligible))
		for _, gw := range eligible {
			if containsString(criteria.PreferredGateways, gw.ID()) {
				preferred = append(preferred, gw)
			}
		}
		if len(preferred) > 0 {
			pool = preferred
			restricted = true
		}
	}

	ranked := make([]scored, 0, len(pool))
	for _, gw := range pool {
		ranked = append(ranked, scored{gw: gw, breakdown: s.Score(gw, criteria)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].breakdown.Total > ranked[j].breakdown.Total
	})

	primary := ranked[0]
	fallbacks := make([]string, 0, maxFallbacks)
	breakdowns := make(map[string]models.ScoreBreakdown, len(ranked))
	for i, r := range ranked {
		breakdowns[r.gw.ID()] = r.breakdown
		if i > 0 && len(fallbacks) < maxFallbacks {
			fallbacks = append(fallbacks, r.gw.ID())
		}
	}

	reason := fmt.Sprintf("highest weighted score %.3f across %d candidates", primary.breakdown.Total, len(ranked))
	if restricted {
		reason += " (restricted to preferred gateways)"
	}

	return &models.GatewaySelection{
		Primary:   primary.gw.ID(),
		Fallbacks: fallbacks,
		Reason:    reason,
		Metadata:  map[string]any{"scores": breakdowns},
	}, nil
}

// Score computes the weighted breakdown for one gateway against the
// criteria.
func (s *Service) Score(gw gateway.Gateway, criteria models.SelectionCriteria) models.ScoreBreakdown {
	b := models.ScoreBreakdown{
		Health:        s.healthScore(gw),
		Performance:   s.performanceScore(gw.ID()),
		Cost:          s.costScore(gw, criteria.Amount),
		Priority:      priorityScore(gw.Config().Priority),
		Geography:     geographyScore(gw, criteria.Country),
		Compatibility: compatibilityScore(gw, criteria),
	}
	b.Total = b.Health*weightHealth +
		b.Performance*weightPerformance +
		b.Cost*weightCost +
		b.Priority*weightPriority +
		b.Geography*weightGeography +
		b.Compatibility*weightCompatibility
	return b
}

// healthScore maps breaker and health status into [0,1] with a capped penalty
// for consecutive failures. Missing health data degrades to neutral rather
// than disqualifying the gateway.
func (s *Service) healthScore(gw gateway.Gateway) float64 {
	if s.breakers != nil && s.breakers.CircuitState(gw.ID()).IsOpen {
		return 0
	}

	base := neutralScore
	var penalty float64
	if s.health != nil {
		if status, ok := s.health.Status(gw.ID()); ok {
			switch status.Status {
			case models.GatewayStatusActive:
				base = 1.0
			case models.GatewayStatusMaintenance:
				base = 0.4
			case models.GatewayStatusInactive:
				base = 0.15
			case models.GatewayStatusError:
				base = 0.0
			}
			penalty = 0.1 * float64(status.ConsecutiveFailures)
			if penalty > 0.5 {
				penalty = 0.5
			}
		}
	}
	return clamp01(base - penalty)
}

// performanceScore blends success rate (70%) with a latency decay capped at
// the five second ceiling (30%). No metrics yet means neutral.
func (s *Service) performanceScore(id string) float64 {
	if s.metrics == nil {
		return neutralScore
	}
	m := s.metrics.GetLatestMetrics(id)
	if m == nil || m.TransactionCount == 0 {
		return neutralScore
	}
	latency := m.ResponseTime
	if latency > latencyCeiling {
		latency = latencyCeiling
	}
	latencyScore := 1.0 - float64(latency)/float64(latencyCeiling)
	return clamp01(m.SuccessRate*0.7 + latencyScore*0.3)
}

// costScore compares the gateway fee to five percent of the amount: a free
// gateway scores 1.0 and anything at or above the 5% mark scores zero.
func (s *Service) costScore(gw gateway.Gateway, amount decimal.Decimal) float64 {
	if amount.LessThanOrEqual(decimal.Zero) {
		return neutralScore
	}
	fee := gw.Config().FeeFor(amount)
	ceiling := amount.Mul(decimal.NewFromFloat(0.05))
	score := 1.0 - fee.Div(ceiling).InexactFloat64()
	return clamp01(score)
}

func priorityScore(priority int) float64 {
	return clamp01(float64(priority) / 100.0)
}

// geographyScore is binary when a country is given and neutral otherwise.
func geographyScore(gw gateway.Gateway, country string) float64 {
	if country == "" {
		return neutralScore
	}
	if gw.Config().SupportsCountry(country) {
		return 1.0
	}
	return 0.0
}

// compatibilityScore starts at 1.0 and is penalized for each mismatch
// between the criteria and the gateway settings, floored at zero.
func compatibilityScore(gw gateway.Gateway, criteria models.SelectionCriteria) float64 {
	score := 1.0
	cfg := gw.Config()
	if criteria.Currency != "" && !cfg.SupportsCurrency(criteria.Currency) {
		score -= 0.5
	}
	if criteria.PaymentMethodType != "" && !cfg.SupportsPaymentMethod(criteria.PaymentMethodType) {
		score -= 0.5
	}
	if !cfg.SupportsAmount(criteria.Amount) {
		score -= 0.3
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
