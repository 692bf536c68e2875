package routing

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/veltapay/payment-orchestrator/internal/gateway"
	"github.com/veltapay/payment-orchestrator/internal/models"
)

var (
	// ErrPaymentRejected is the hard stop produced by a matching reject
	// rule. It is not a soft routing signal.
	ErrPaymentRejected = errors.New("payment rejected by routing rule")

	ErrNoRoutableGateway = errors.New("no gateway satisfies routing eligibility")
	ErrUnknownStrategy   = errors.New("unknown routing strategy")
)

// Registry is the gateway lookup the routing service works against; the
// gateway manager façade satisfies it.
type Registry interface {
	Get(id string) (gateway.Gateway, bool)
	All() []gateway.Gateway
}

// Strategist provides the single-factor selection strategies rules can name.
type Strategist interface {
	SelectRoundRobin(candidates []gateway.Gateway) (gateway.Gateway, error)
	SelectLowestCost(candidates []gateway.Gateway, amount decimal.Decimal) (gateway.Gateway, error)
	SelectHighestSuccessRate(candidates []gateway.Gateway) (gateway.Gateway, error)
}

// StatsSource reports recorded per-gateway metrics for reliability ordering.
// The metrics collector satisfies it.
type StatsSource interface {
	GetLatestMetrics(id string) *models.GatewayMetrics
}

// Decision is the routing outcome: the gateways a payment may be sent to, in
// order, plus enough context to log why.
type Decision struct {
	GatewayIDs []string       `json:"gatewayIds"`
	Reason     string         `json:"reason"`
	RuleID     string         `json:"ruleId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Service holds the ordered rule set and routes payments through it, falling
// back to plain currency/amount eligibility when no rule matches.
type Service struct {
	registry   Registry
	strategies Strategist
	stats      StatsSource

	mu    sync.RWMutex
	rules []models.RoutingRule

	log zerolog.Logger
}

func NewService(registry Registry, strategies Strategist, stats StatsSource, log zerolog.Logger) *Service {
	return &Service{
		registry:   registry,
		strategies: strategies,
		stats:      stats,
		log:        log.With().Str("component", "routing").Logger(),
	}
}

// AddRule inserts a rule, assigning an id when none is given, and keeps the
// set ordered by descending priority.
func (s *Service) AddRule(rule models.RoutingRule) models.RoutingRule {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
	sort.SliceStable(s.rules, func(i, j int) bool {
		return s.rules[i].Priority > s.rules[j].Priority
	})
	return rule
}

func (s *Service) RemoveRule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) Rules() []models.RoutingRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RoutingRule(nil), s.rules...)
}

// RoutePayment evaluates active rules in priority order and executes the
// first fully matching rule's action. A reject action short-circuits with
// ErrPaymentRejected. When nothing matches, default routing returns every
// gateway eligible on currency and amount range, unranked.
func (s *Service) RoutePayment(req *models.PaymentRequest) (*Decision, error) {
	for _, rule := range s.Rules() {
		if !rule.IsActive {
			continue
		}
		if !s.ruleMatches(rule, req) {
			continue
		}
		s.log.Debug().Str("rule", rule.Name).Str("correlationId", req.CorrelationID).Msg("routing rule matched")
		return s.execute(rule, req)
	}
	return s.defaultRouting(req)
}

func (s *Service) ruleMatches(rule models.RoutingRule, req *models.PaymentRequest) bool {
	for _, cond := range rule.Conditions {
		if !matches(cond, req) {
			return false
		}
	}
	return len(rule.Conditions) > 0
}

func (s *Service) execute(rule models.RoutingRule, req *models.PaymentRequest) (*Decision, error) {
	switch rule.Action.Type {
	case models.ActionReject:
		reason := rule.Action.Reason
		if reason == "" {
			reason = "rejected by rule " + rule.Name
		}
		return nil, fmt.Errorf("%w: %s", ErrPaymentRejected, reason)

	case models.ActionRouteToGateway:
		if _, ok := s.registry.Get(rule.Action.GatewayID); !ok {
			return nil, fmt.Errorf("rule %s routes to unknown gateway %s", rule.Name, rule.Action.GatewayID)
		}
		return &Decision{
			GatewayIDs: []string{rule.Action.GatewayID},
			Reason:     fmt.Sprintf("rule %q routed to gateway %s", rule.Name, rule.Action.GatewayID),
			RuleID:     rule.ID,
		}, nil

	case models.ActionRouteToGateways:
		ids := make([]string, 0, len(rule.Action.GatewayIDs))
		for _, id := range rule.Action.GatewayIDs {
			if _, ok := s.registry.Get(id); ok {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("rule %s: %w", rule.Name, ErrNoRoutableGateway)
		}
		return &Decision{
			GatewayIDs: ids,
			Reason:     fmt.Sprintf("rule %q routed to %d gateways", rule.Name, len(ids)),
			RuleID:     rule.ID,
		}, nil

	case models.ActionApplyStrategy:
		decision, err := s.applyStrategy(rule.Action.Strategy, req)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		decision.RuleID = rule.ID
		decision.Reason = fmt.Sprintf("rule %q applied strategy %s: %s", rule.Name, rule.Action.Strategy, decision.Reason)
		return decision, nil
	}
	return nil, fmt.Errorf("rule %s has unknown action type %q", rule.Name, rule.Action.Type)
}

func (s *Service) applyStrategy(name string, req *models.PaymentRequest) (*Decision, error) {
	eligible := s.eligibleGateways(req)
	if len(eligible) == 0 {
		return nil, ErrNoRoutableGateway
	}

	switch name {
	case "geography":
		return s.RouteByGeography(req)
	case "amount":
		return s.RouteByAmount(req)
	case "payment_method":
		return s.RouteByPaymentMethod(req)
	case "round_robin":
		gw, err := s.strategies.SelectRoundRobin(eligible)
		if err != nil {
			return nil, err
		}
		return &Decision{GatewayIDs: []string{gw.ID()}, Reason: "round robin over eligible gateways"}, nil
	case "lowest_cost":
		gw, err := s.strategies.SelectLowestCost(eligible, req.Amount)
		if err != nil {
			return nil, err
		}
		return &Decision{GatewayIDs: []string{gw.ID()}, Reason: "lowest processing fee"}, nil
	case "highest_success_rate":
		gw, err := s.strategies.SelectHighestSuccessRate(eligible)
		if err != nil {
			return nil, err
		}
		return &Decision{GatewayIDs: []string{gw.ID()}, Reason: "highest recorded success rate"}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
}

// defaultRouting returns every gateway eligible on currency and amount,
// unranked.
func (s *Service) defaultRouting(req *models.PaymentRequest) (*Decision, error) {
	eligible := s.eligibleGateways(req)
	if len(eligible) == 0 {
		return nil, ErrNoRoutableGateway
	}
	ids := gatewayIDs(eligible)
	return &Decision{
		GatewayIDs: ids,
		Reason:     fmt.Sprintf("default routing: %d gateways eligible for %s %s", len(ids), req.Amount, req.Currency),
	}, nil
}

// eligibleGateways filters on currency support and amount range only.
func (s *Service) eligibleGateways(req *models.PaymentRequest) []gateway.Gateway {
	all := s.registry.All()
	eligible := make([]gateway.Gateway, 0, len(all))
	for _, gw := range all {
		if !gw.SupportsCurrency(req.Currency) {
			continue
		}
		if !gw.SupportsAmount(req.Amount) {
			continue
		}
		eligible = append(eligible, gw)
	}
	return eligible
}

func gatewayIDs(gws []gateway.Gateway) []string {
	ids := make([]string, len(gws))
	for i, gw := range gws {
		ids[i] = gw.ID()
	}
	return ids
}
