package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/veltapay/payment-orchestrator/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Base carries the behavior shared by every adapter: config accessors,
// bounded retry, and default webhook handling. Concrete adapters embed it and
// override only what differs for their provider.
type Base struct {
	cfg *models.GatewayConfig
}

// NewBase validates the config up front; a misconfigured gateway must fail at
// construction, not at first traffic.
func NewBase(cfg *models.GatewayConfig) (*Base, error) {
	if cfg == nil {
		return nil, models.ErrMissingGatewayID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Base{cfg: cfg}, nil
}

func (b *Base) ID() string                    { return b.cfg.ID }
func (b *Base) Type() string                  { return b.cfg.Provider }
func (b *Base) Config() *models.GatewayConfig { return b.cfg }
func (b *Base) Status() models.GatewayStatus  { return b.cfg.Status }

func (b *Base) IsActive() bool {
	return b.cfg.Status == models.GatewayStatusActive
}

func (b *Base) SupportsCurrency(currency string) bool {
	return b.cfg.SupportsCurrency(currency)
}

func (b *Base) SupportsAmount(amount decimal.Decimal) bool {
	return b.cfg.SupportsAmount(amount)
}

// VerifyWebhook is the default: providers without webhook signing reject
// everything until their adapter overrides this.
func (b *Base) VerifyWebhook(payload []byte, signature string) bool {
	return false
}

// ParseWebhook is the default parser: the raw payload is decoded into a stub
// event so callers always get a well-formed envelope.
func (b *Base) ParseWebhook(payload []byte) (*models.WebhookEvent, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, ErrWebhookUnsupported
	}
	return &models.WebhookEvent{
		ID:         uuid.NewString(),
		GatewayID:  b.cfg.ID,
		Type:       "unknown",
		Payload:    body,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// ValidateRequest checks a payment request against the gateway settings
// before any provider call is made.
func (b *Base) ValidateRequest(req *models.PaymentRequest) error {
	if !b.cfg.SupportsCurrency(req.Currency) {
		return ErrUnsupportedTransaction
	}
	if !b.cfg.SupportsAmount(req.Amount) {
		return ErrUnsupportedTransaction
	}
	return nil
}

// Retry runs fn up to attempts times with a fixed delay between attempts.
// Definitive errors and context cancellation stop the loop immediately.
func (b *Base) Retry(ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrDefinitive) {
			return err
		}
	}
	return err
}

// NewResult shapes a provider outcome into the uniform result record.
func (b *Base) NewResult(req *models.PaymentRequest, success bool, start time.Time) *models.PaymentResult {
	return &models.PaymentResult{
		CorrelationID: req.CorrelationID,
		GatewayID:     b.cfg.ID,
		Success:       success,
		Amount:        req.Amount,
		ResponseTime:  time.Since(start),
		ProcessedAt:   time.Now().UTC(),
	}
}
