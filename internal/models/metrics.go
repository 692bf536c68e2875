package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetricsData is one raw transaction or error record as captured on the hot
// path. Records live in a bounded per-gateway ring buffer.
type MetricsData struct {
	GatewayID    string          `json:"gatewayId"`
	Timestamp    time.Time       `json:"timestamp"`
	ResponseTime time.Duration   `json:"responseTime"`
	Success      bool            `json:"success"`
	Amount       decimal.Decimal `json:"amount"`
	ErrorType    string          `json:"errorType,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// GatewayMetrics is a point-in-time aggregate computed over a window of raw
// records. ResponseTime is the mean over successful transactions only;
// TransactionVolume sums amounts from every attempt, failures included.
type GatewayMetrics struct {
	ResponseTime      time.Duration   `json:"responseTime"`
	SuccessRate       float64         `json:"successRate"`
	ErrorRate         float64         `json:"errorRate"`
	TransactionCount  int             `json:"transactionCount"`
	TransactionVolume decimal.Decimal `json:"transactionVolume"`
	StatusCounts      map[string]int  `json:"statusCounts"`
	ErrorTypes        map[string]int  `json:"errorTypes"`
}

// EmptyGatewayMetrics is the all-zero snapshot returned for a gateway with no
// recorded data in the requested window.
func EmptyGatewayMetrics() GatewayMetrics {
	return GatewayMetrics{
		TransactionVolume: decimal.Zero,
		StatusCounts:      map[string]int{},
		ErrorTypes:        map[string]int{},
	}
}

// MetricsPatch carries partial manual overrides for a cached aggregate.
// Nil fields keep their prior values.
type MetricsPatch struct {
	ResponseTime      *time.Duration   `json:"responseTime,omitempty"`
	SuccessRate       *float64         `json:"successRate,omitempty"`
	ErrorRate         *float64         `json:"errorRate,omitempty"`
	TransactionCount  *int             `json:"transactionCount,omitempty"`
	TransactionVolume *decimal.Decimal `json:"transactionVolume,omitempty"`
}
