package selection

import (
	"github.com/shopspring/decimal"

	"github.com/veltapay/payment-orchestrator/internal/gateway"
	"github.com/veltapay/payment-orchestrator/internal/models"
)

// Narrow single-factor strategies. Each is independently usable by the
// routing service when a rule asks for a named strategy instead of the full
// weighted scoring.

// SelectRoundRobin picks a gateway by a time-based index over the healthy
// candidates.
func (s *Service) SelectRoundRobin(candidates []gateway.Gateway) (gateway.Gateway, error) {
	healthy := s.healthyOnly(candidates)
	if len(healthy) == 0 {
		return nil, ErrNoEligibleGateway
	}
	idx := int(s.now().Unix()) % len(healthy)
	return healthy[idx], nil
}

// SelectLowestCost picks the gateway charging the smallest fee for the
// amount.
func (s *Service) SelectLowestCost(candidates []gateway.Gateway, amount decimal.Decimal) (gateway.Gateway, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligibleGateway
	}
	best := candidates[0]
	bestFee := best.Config().FeeFor(amount)
	for _, gw := range candidates[1:] {
		if fee := gw.Config().FeeFor(amount); fee.LessThan(bestFee) {
			best = gw
			bestFee = fee
		}
	}
	return best, nil
}

// SelectHighestSuccessRate picks the gateway with the best recorded success
// rate; gateways without metrics score neutral.
func (s *Service) SelectHighestSuccessRate(candidates []gateway.Gateway) (gateway.Gateway, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligibleGateway
	}
	best := candidates[0]
	bestRate := s.successRate(best.ID())
	for _, gw := range candidates[1:] {
		if rate := s.successRate(gw.ID()); rate > bestRate {
			best = gw
			bestRate = rate
		}
	}
	return best, nil
}

func (s *Service) successRate(id string) float64 {
	if s.metrics == nil {
		return neutralScore
	}
	m := s.metrics.GetLatestMetrics(id)
	if m == nil || m.TransactionCount == 0 {
		return neutralScore
	}
	return m.SuccessRate
}

func (s *Service) healthyOnly(candidates []gateway.Gateway) []gateway.Gateway {
	healthy := make([]gateway.Gateway, 0, len(candidates))
	for _, gw := range candidates {
		if !gw.IsActive() {
			continue
		}
		if s.health != nil {
			if status, ok := s.health.Status(gw.ID()); ok && status.Status != models.GatewayStatusActive {
				continue
			}
		}
		healthy = append(healthy, gw)
	}
	return healthy
}
