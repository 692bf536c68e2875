package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest is the transaction the orchestration layer routes. The
// transaction-processing code owns its lifecycle; this core only decides
// which gateway should handle it.
type PaymentRequest struct {
	CorrelationID     string            `json:"correlationId"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	PaymentMethodType string            `json:"paymentMethodType,omitempty"`
	Country           string            `json:"country,omitempty"`
	CustomerID        string            `json:"customerId,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	RequestedAt       time.Time         `json:"requestedAt"`
}

func NewPaymentRequest(correlationID string, amount decimal.Decimal, currency string) *PaymentRequest {
	return &PaymentRequest{
		CorrelationID: correlationID,
		Amount:        amount,
		Currency:      currency,
		RequestedAt:   time.Now().UTC(),
	}
}

// PaymentResult is the outcome reported back after an adapter attempt.
type PaymentResult struct {
	CorrelationID     string          `json:"correlationId"`
	GatewayID         string          `json:"gatewayId"`
	Success           bool            `json:"success"`
	Amount            decimal.Decimal `json:"amount"`
	ProviderReference string          `json:"providerReference,omitempty"`
	ResponseTime      time.Duration   `json:"responseTime"`
	ProcessedAt       time.Time       `json:"processedAt"`
	ErrorType         string          `json:"errorType,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
}

// SelectionCriteria is the stable contract between callers and gateway
// selection. Only Amount and Currency are mandatory.
type SelectionCriteria struct {
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	PaymentMethodType string          `json:"paymentMethodType,omitempty"`
	Country           string          `json:"country,omitempty"`
	PreferredGateways []string        `json:"preferredGateways,omitempty"`
	ExcludeGateways   []string        `json:"excludeGateways,omitempty"`
	RequireFeatures   []string        `json:"requireFeatures,omitempty"`
}

// GatewaySelection is the ranked outcome of a selection pass: one primary
// gateway id, the next candidates in score order, and enough metadata for a
// caller to log why the decision went the way it did.
type GatewaySelection struct {
	Primary   string         `json:"primary"`
	Fallbacks []string       `json:"fallbacks"`
	Reason    string         `json:"reason"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ScoreBreakdown is the per-factor decomposition of one gateway's selection
// score, surfaced in GatewaySelection metadata.
type ScoreBreakdown struct {
	Health        float64 `json:"health"`
	Performance   float64 `json:"performance"`
	Cost          float64 `json:"cost"`
	Priority      float64 `json:"priority"`
	Geography     float64 `json:"geography"`
	Compatibility float64 `json:"compatibility"`
	Total         float64 `json:"total"`
}

// WebhookEvent is the provider-agnostic shape adapters parse webhooks into.
type WebhookEvent struct {
	ID                string         `json:"id"`
	GatewayID         string         `json:"gatewayId"`
	Type              string         `json:"type"`
	ProviderReference string         `json:"providerReference,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
	ReceivedAt        time.Time      `json:"receivedAt"`
}

// PaymentMethod is a stored instrument managed through the adapter CRUD.
type PaymentMethod struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	Type       string    `json:"type"`
	Brand      string    `json:"brand,omitempty"`
	Last4      string    `json:"last4,omitempty"`
	ExpMonth   int       `json:"expMonth,omitempty"`
	ExpYear    int       `json:"expYear,omitempty"`
	Token      string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}
