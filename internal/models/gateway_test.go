package models

import (
	"errors"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func validGatewayConfig() GatewayConfig {
	return GatewayConfig{
		ID:          "gw1",
		Provider:    "stripe",
		Name:        "Test Gateway",
		Status:      GatewayStatusActive,
		Priority:    50,
		Credentials: map[string]string{"apiKey": "secret"},
		Settings: GatewaySettings{
			SupportedCurrencies: []string{"USD"},
		},
	}
}

func TestGatewayConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GatewayConfig)
		wantErr error
	}{
		{"valid", func(c *GatewayConfig) {}, nil},
		{"missing id", func(c *GatewayConfig) { c.ID = "" }, ErrMissingGatewayID},
		{"missing credentials", func(c *GatewayConfig) { c.Credentials = nil }, ErrMissingCredentials},
		{"no currencies", func(c *GatewayConfig) { c.Settings.SupportedCurrencies = nil }, ErrNoCurrencies},
		{"min above max", func(c *GatewayConfig) {
			c.Settings.MinAmount = decimal.NewFromInt(100)
			c.Settings.MaxAmount = decimal.NewFromInt(10)
		}, ErrInvalidAmountBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validGatewayConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSupportsAmountZeroMaxIsUnbounded(t *testing.T) {
	cfg := validGatewayConfig()
	cfg.Settings.MinAmount = decimal.NewFromInt(5)

	if cfg.SupportsAmount(decimal.NewFromInt(1)) {
		t.Error("amount below minimum accepted")
	}
	if !cfg.SupportsAmount(decimal.NewFromInt(1_000_000_000)) {
		t.Error("zero max must mean unbounded above")
	}

	cfg.Settings.MaxAmount = decimal.NewFromInt(100)
	if cfg.SupportsAmount(decimal.NewFromInt(101)) {
		t.Error("amount above maximum accepted")
	}
	if !cfg.SupportsAmount(decimal.NewFromInt(100)) {
		t.Error("amount equal to maximum rejected")
	}
}

func TestProcessingFeeCost(t *testing.T) {
	fixed := ProcessingFee{Type: FeeTypeFixed, Value: decimal.NewFromFloat(0.30)}
	if got := fixed.Cost(decimal.NewFromInt(500)); !got.Equal(decimal.NewFromFloat(0.30)) {
		t.Errorf("fixed fee = %s, want 0.30 regardless of amount", got)
	}

	pct := ProcessingFee{Type: FeeTypePercentage, Value: decimal.NewFromFloat(2.9)}
	if got := pct.Cost(decimal.NewFromInt(100)); !got.Equal(decimal.NewFromFloat(2.9)) {
		t.Errorf("percentage fee on 100 = %s, want 2.9", got)
	}
}

func TestFeeForWithoutConfiguredFee(t *testing.T) {
	cfg := validGatewayConfig()
	if got := cfg.FeeFor(decimal.NewFromInt(100)); !got.Equal(decimal.Zero) {
		t.Errorf("fee = %s, want zero when none is configured", got)
	}
}

func TestSupportsFeature(t *testing.T) {
	cfg := validGatewayConfig()
	cfg.Settings.Features = []string{"refunds"}

	if !cfg.SupportsFeature("refunds") {
		t.Error("configured feature not reported")
	}
	if cfg.SupportsFeature("webhooks") {
		t.Error("unconfigured feature reported as supported")
	}
}

func TestCredentialsNeverSerialized(t *testing.T) {
	// The json tag on Credentials is "-"; this guards against it being
	// loosened accidentally.
	cfg := validGatewayConfig()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Error("credential value leaked into serialized config")
	}
}
