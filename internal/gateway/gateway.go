package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/veltapay/payment-orchestrator/internal/models"
)

var (
	// ErrUnavailable marks transient provider failures (network, timeout,
	// 5xx). Callers report these as ordinary failures and may retry.
	ErrUnavailable = errors.New("payment gateway is unavailable")
	// ErrDefinitive marks failures that retrying cannot fix (declined,
	// validation, 4xx). They must never be retried against a fallback.
	ErrDefinitive = errors.New("definitive payment processing error")

	ErrWebhookUnsupported     = errors.New("webhook parsing not supported by this gateway")
	ErrPaymentMethodNotFound  = errors.New("payment method not found")
	ErrUnsupportedTransaction = errors.New("transaction not supported by gateway settings")
)

// Gateway is the uniform contract every provider adapter implements. The
// orchestration core depends only on this interface and never constructs
// provider HTTP requests itself.
type Gateway interface {
	ProcessPayment(ctx context.Context, req *models.PaymentRequest) (*models.PaymentResult, error)
	CapturePayment(ctx context.Context, providerRef string, amount decimal.Decimal) (*models.PaymentResult, error)
	CancelPayment(ctx context.Context, providerRef string) error
	RefundPayment(ctx context.Context, providerRef string, amount decimal.Decimal) (*models.PaymentResult, error)

	CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) (*models.PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, method *models.PaymentMethod) (*models.PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, id string) error
	GetPaymentMethod(ctx context.Context, id string) (*models.PaymentMethod, error)

	VerifyWebhook(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*models.WebhookEvent, error)

	HealthCheck(ctx context.Context) error
	Status() models.GatewayStatus

	ID() string
	Type() string
	Config() *models.GatewayConfig
	IsActive() bool
	SupportsCurrency(currency string) bool
	SupportsAmount(amount decimal.Decimal) bool
}
