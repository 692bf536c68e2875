package routing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/veltapay/payment-orchestrator/internal/gateway"
	"github.com/veltapay/payment-orchestrator/internal/models"
)

// regionProviders is the static geography affinity table: provider types
// known to perform well per country.
var regionProviders = map[string][]string{
	"US": {"stripe", "square"},
	"CA": {"stripe", "square"},
	"GB": {"stripe", "paypal"},
	"DE": {"stripe", "paypal"},
	"FR": {"stripe", "paypal"},
	"NG": {"paystack", "flutterwave"},
	"GH": {"paystack", "flutterwave"},
	"KE": {"flutterwave", "paystack"},
	"ZA": {"paystack", "flutterwave"},
}

// methodProviders is the static payment-method affinity table.
var methodProviders = map[string][]string{
	"card":          {"stripe", "square", "paystack"},
	"wallet":        {"paypal"},
	"bank_transfer": {"paystack", "flutterwave"},
	"mobile_money":  {"flutterwave", "paystack"},
}

// Amount tiers: below smallAmountLimit cost wins, above largeAmountLimit
// reliability wins, in between the two are blended.
var (
	smallAmountLimit = decimal.NewFromInt(100)
	largeAmountLimit = decimal.NewFromInt(1000)
)

// RouteByGeography prefers gateways whose provider type matches the static
// region table, falling back to every country-eligible gateway.
func (s *Service) RouteByGeography(req *models.PaymentRequest) (*Decision, error) {
	eligible := s.eligibleGateways(req)
	countryEligible := make([]gateway.Gateway, 0, len(eligible))
	for _, gw := range eligible {
		if req.Country == "" || gw.Config().SupportsCountry(req.Country) {
			countryEligible = append(countryEligible, gw)
		}
	}
	if len(countryEligible) == 0 {
		return nil, ErrNoRoutableGateway
	}

	preferred := make([]gateway.Gateway, 0, len(countryEligible))
	if providers, ok := regionProviders[req.Country]; ok {
		for _, gw := range countryEligible {
			if containsString(providers, gw.Type()) {
				preferred = append(preferred, gw)
			}
		}
	}

	if len(preferred) > 0 {
		return &Decision{
			GatewayIDs: gatewayIDs(preferred),
			Reason:     fmt.Sprintf("geography: %d preferred providers for %s", len(preferred), req.Country),
			Metadata:   map[string]any{"country": req.Country, "preferredProviders": regionProviders[req.Country]},
		}, nil
	}
	return &Decision{
		GatewayIDs: gatewayIDs(countryEligible),
		Reason:     fmt.Sprintf("geography: no provider preference for %s, using all country-eligible gateways", req.Country),
		Metadata:   map[string]any{"country": req.Country},
	}, nil
}

// RouteByAmount orders eligible gateways by cost for small amounts, by
// reliability for large amounts, and by a blended score in between.
func (s *Service) RouteByAmount(req *models.PaymentRequest) (*Decision, error) {
	eligible := s.eligibleGateways(req)
	if len(eligible) == 0 {
		return nil, ErrNoRoutableGateway
	}

	var tier string
	switch {
	case req.Amount.LessThan(smallAmountLimit):
		tier = "small"
		sort.SliceStable(eligible, func(i, j int) bool {
			return eligible[i].Config().FeeFor(req.Amount).LessThan(eligible[j].Config().FeeFor(req.Amount))
		})
	case req.Amount.GreaterThan(largeAmountLimit):
		tier = "large"
		sort.SliceStable(eligible, func(i, j int) bool {
			return s.reliability(eligible[i].ID()) > s.reliability(eligible[j].ID())
		})
	default:
		tier = "mid"
		sort.SliceStable(eligible, func(i, j int) bool {
			return s.blendedScore(eligible[i], req.Amount) > s.blendedScore(eligible[j], req.Amount)
		})
	}

	return &Decision{
		GatewayIDs: gatewayIDs(eligible),
		Reason:     fmt.Sprintf("amount tier %s for %s %s", tier, req.Amount, req.Currency),
		Metadata:   map[string]any{"tier": tier},
	}, nil
}

// reliability is the recorded success rate, with a neutral 0.5 when no
// metrics exist yet.
func (s *Service) reliability(id string) float64 {
	if s.stats == nil {
		return 0.5
	}
	m := s.stats.GetLatestMetrics(id)
	if m == nil {
		return 0.5
	}
	return m.SuccessRate
}

// blendedScore mixes cost and reliability evenly for mid-tier amounts.
func (s *Service) blendedScore(gw gateway.Gateway, amount decimal.Decimal) float64 {
	fee := gw.Config().FeeFor(amount)
	costScore := 1.0
	if amount.GreaterThan(decimal.Zero) {
		ratio := fee.Div(amount.Mul(decimal.NewFromFloat(0.05))).InexactFloat64()
		costScore = 1.0 - ratio
		if costScore < 0 {
			costScore = 0
		}
	}
	return costScore*0.5 + s.reliability(gw.ID())*0.5
}

// RouteByPaymentMethod restricts to providers with a static affinity for the
// request's payment method, falling back to everything method-capable.
func (s *Service) RouteByPaymentMethod(req *models.PaymentRequest) (*Decision, error) {
	eligible := s.eligibleGateways(req)
	capable := make([]gateway.Gateway, 0, len(eligible))
	for _, gw := range eligible {
		if req.PaymentMethodType == "" || gw.Config().SupportsPaymentMethod(req.PaymentMethodType) {
			capable = append(capable, gw)
		}
	}
	if len(capable) == 0 {
		return nil, ErrNoRoutableGateway
	}

	preferred := make([]gateway.Gateway, 0, len(capable))
	if providers, ok := methodProviders[req.PaymentMethodType]; ok {
		for _, gw := range capable {
			if containsString(providers, gw.Type()) {
				preferred = append(preferred, gw)
			}
		}
	}

	if len(preferred) > 0 {
		return &Decision{
			GatewayIDs: gatewayIDs(preferred),
			Reason:     fmt.Sprintf("payment method %s: %d providers with affinity", req.PaymentMethodType, len(preferred)),
			Metadata:   map[string]any{"paymentMethodType": req.PaymentMethodType},
		}, nil
	}
	return &Decision{
		GatewayIDs: gatewayIDs(capable),
		Reason:     fmt.Sprintf("payment method %s: no provider affinity, using all capable gateways", req.PaymentMethodType),
		Metadata:   map[string]any{"paymentMethodType": req.PaymentMethodType},
	}, nil
}

// RouteByUserPreference restricts routing to an allow-list and then applies
// an exclude-list.
func (s *Service) RouteByUserPreference(req *models.PaymentRequest, allow, exclude []string) (*Decision, error) {
	eligible := s.eligibleGateways(req)
	out := make([]gateway.Gateway, 0, len(eligible))
	for _, gw := range eligible {
		if len(allow) > 0 && !containsString(allow, gw.ID()) {
			continue
		}
		if containsString(exclude, gw.ID()) {
			continue
		}
		out = append(out, gw)
	}
	if len(out) == 0 {
		return nil, ErrNoRoutableGateway
	}
	return &Decision{
		GatewayIDs: gatewayIDs(out),
		Reason:     fmt.Sprintf("user preference: %d gateways after allow/exclude filters", len(out)),
		Metadata:   map[string]any{"allowed": allow, "excluded": exclude},
	}, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
