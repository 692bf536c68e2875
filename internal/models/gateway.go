package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type GatewayStatus string

const (
	GatewayStatusActive      GatewayStatus = "active"
	GatewayStatusInactive    GatewayStatus = "inactive"
	GatewayStatusMaintenance GatewayStatus = "maintenance"
	GatewayStatusError       GatewayStatus = "error"
)

type FeeType string

const (
	FeeTypeFixed      FeeType = "fixed"
	FeeTypePercentage FeeType = "percentage"
)

// ProcessingFee is the per-transaction cost a gateway charges, either a fixed
// amount or a percentage of the transaction amount.
type ProcessingFee struct {
	Type  FeeType         `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// Cost returns the fee charged for a transaction of the given amount.
func (f ProcessingFee) Cost(amount decimal.Decimal) decimal.Decimal {
	if f.Type == FeeTypePercentage {
		return amount.Mul(f.Value).Div(decimal.NewFromInt(100))
	}
	return f.Value
}

type GatewaySettings struct {
	SupportedCurrencies     []string        `json:"supportedCurrencies"`
	SupportedCountries      []string        `json:"supportedCountries"`
	SupportedPaymentMethods []string        `json:"supportedPaymentMethods"`
	MinAmount               decimal.Decimal `json:"minAmount"`
	MaxAmount               decimal.Decimal `json:"maxAmount"`
	Features                []string        `json:"features,omitempty"`
	ProcessingFee           *ProcessingFee  `json:"processingFee,omitempty"`
}

// HealthCheckPolicy configures the scheduled probe for one gateway. An empty
// URL means the adapter's own health check is used instead of an HTTP probe.
type HealthCheckPolicy struct {
	URL      string        `json:"url,omitempty"`
	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"`
	Retries  int           `json:"retries"`
}

type RateLimit struct {
	RequestsPerSecond int `json:"requestsPerSecond"`
	Burst             int `json:"burst"`
}

// GatewayConfig is the static configuration of one payment gateway. It is
// immutable at runtime except through an explicit update on the registry.
// Credentials are opaque and must never be logged.
type GatewayConfig struct {
	ID          string             `json:"id"`
	Provider    string             `json:"provider"`
	Name        string             `json:"name"`
	Status      GatewayStatus      `json:"status"`
	Priority    int                `json:"priority"`
	Credentials map[string]string  `json:"-"`
	Settings    GatewaySettings    `json:"settings"`
	HealthCheck *HealthCheckPolicy `json:"healthCheck,omitempty"`
	RateLimit   *RateLimit         `json:"rateLimit,omitempty"`
}

var (
	ErrMissingGatewayID    = errors.New("gateway id is required")
	ErrMissingCredentials  = errors.New("gateway credentials are required")
	ErrNoCurrencies        = errors.New("gateway must support at least one currency")
	ErrInvalidAmountBounds = errors.New("gateway min amount exceeds max amount")
)

// Validate enforces the configuration invariants at registration time so a
// bad config fails fast instead of degrading silently.
func (c *GatewayConfig) Validate() error {
	if c.ID == "" {
		return ErrMissingGatewayID
	}
	if c.Provider == "" {
		return fmt.Errorf("gateway %s: provider is required", c.ID)
	}
	if len(c.Credentials) == 0 {
		return fmt.Errorf("gateway %s: %w", c.ID, ErrMissingCredentials)
	}
	if len(c.Settings.SupportedCurrencies) == 0 {
		return fmt.Errorf("gateway %s: %w", c.ID, ErrNoCurrencies)
	}
	if !c.Settings.MaxAmount.IsZero() && c.Settings.MinAmount.GreaterThan(c.Settings.MaxAmount) {
		return fmt.Errorf("gateway %s: %w", c.ID, ErrInvalidAmountBounds)
	}
	return nil
}

// SupportsCurrency reports whether the gateway accepts the given currency.
func (c *GatewayConfig) SupportsCurrency(currency string) bool {
	for _, cur := range c.Settings.SupportedCurrencies {
		if cur == currency {
			return true
		}
	}
	return false
}

func (c *GatewayConfig) SupportsCountry(country string) bool {
	for _, cc := range c.Settings.SupportedCountries {
		if cc == country {
			return true
		}
	}
	return false
}

func (c *GatewayConfig) SupportsPaymentMethod(method string) bool {
	for _, m := range c.Settings.SupportedPaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

func (c *GatewayConfig) SupportsFeature(feature string) bool {
	for _, f := range c.Settings.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// SupportsAmount reports whether amount falls inside the configured bounds.
// A zero max means unbounded above.
func (c *GatewayConfig) SupportsAmount(amount decimal.Decimal) bool {
	if amount.LessThan(c.Settings.MinAmount) {
		return false
	}
	if !c.Settings.MaxAmount.IsZero() && amount.GreaterThan(c.Settings.MaxAmount) {
		return false
	}
	return true
}

// FeeFor returns the processing fee a gateway would charge for the amount,
// zero when no fee is configured.
func (c *GatewayConfig) FeeFor(amount decimal.Decimal) decimal.Decimal {
	if c.Settings.ProcessingFee == nil {
		return decimal.Zero
	}
	return c.Settings.ProcessingFee.Cost(amount)
}
