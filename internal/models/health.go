package models

import "time"

// HealthStatus is the monitor's view of one gateway. It is mutated only by
// the health monitor itself, either from scheduled probes or from explicit
// RecordFailure/RecordSuccess reports off live traffic.
type HealthStatus struct {
	Status              GatewayStatus `json:"status"`
	LastCheck           time.Time     `json:"lastCheck"`
	ResponseTime        time.Duration `json:"responseTime,omitempty"`
	ErrorMessage        string        `json:"errorMessage,omitempty"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
}

// CircuitBreakerState is the externally visible snapshot of one gateway's
// breaker. IsOpen implies NextRetryTime is set; once the retry deadline
// passes the breaker reports closed again (half-open trial).
type CircuitBreakerState struct {
	IsOpen          bool       `json:"isOpen"`
	FailureCount    int        `json:"failureCount"`
	LastFailureTime *time.Time `json:"lastFailureTime,omitempty"`
	NextRetryTime   *time.Time `json:"nextRetryTime,omitempty"`
}
