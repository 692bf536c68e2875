package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/veltapay/payment-orchestrator/internal/models"
)

// Simulated is an in-memory adapter used by tests and the demo binary. Real
// provider adapters live outside this module; Simulated gives the
// orchestration core something concrete to route against, with controllable
// failure behavior.
type Simulated struct {
	*Base

	mu          sync.RWMutex
	failing     bool
	failureRate float64
	latency     time.Duration
	methods     map[string]*models.PaymentMethod
}

func NewSimulated(cfg *models.GatewayConfig) (*Simulated, error) {
	base, err := NewBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Simulated{
		Base:    base,
		methods: make(map[string]*models.PaymentMethod),
	}, nil
}

// SetFailing forces every call to fail, simulating a full outage.
func (s *Simulated) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// SetFailureRate makes a fraction of payments fail transiently.
func (s *Simulated) SetFailureRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureRate = rate
}

func (s *Simulated) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

func (s *Simulated) simulate(ctx context.Context) error {
	s.mu.RLock()
	failing := s.failing
	rate := s.failureRate
	latency := s.latency
	s.mu.RUnlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failing {
		return fmt.Errorf("%w: simulated outage on %s", ErrUnavailable, s.ID())
	}
	// Top-level rand is safe for concurrent use; a per-adapter rand.Rand
	// would race across worker goroutines.
	if rate > 0 && rand.Float64() < rate {
		return fmt.Errorf("%w: simulated transient failure on %s", ErrUnavailable, s.ID())
	}
	return nil
}

func (s *Simulated) ProcessPayment(ctx context.Context, req *models.PaymentRequest) (*models.PaymentResult, error) {
	start := time.Now()
	if err := s.ValidateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDefinitive, err)
	}
	if err := s.simulate(ctx); err != nil {
		return nil, err
	}
	res := s.NewResult(req, true, start)
	res.ProviderReference = fmt.Sprintf("%s-%s", s.Type(), uuid.NewString())
	return res, nil
}

func (s *Simulated) CapturePayment(ctx context.Context, providerRef string, amount decimal.Decimal) (*models.PaymentResult, error) {
	if err := s.simulate(ctx); err != nil {
		return nil, err
	}
	return &models.PaymentResult{
		GatewayID:         s.ID(),
		Success:           true,
		Amount:            amount,
		ProviderReference: providerRef,
		ProcessedAt:       time.Now().UTC(),
	}, nil
}

func (s *Simulated) CancelPayment(ctx context.Context, providerRef string) error {
	return s.simulate(ctx)
}

func (s *Simulated) RefundPayment(ctx context.Context, providerRef string, amount decimal.Decimal) (*models.PaymentResult, error) {
	return s.CapturePayment(ctx, providerRef, amount)
}

func (s *Simulated) CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) (*models.PaymentMethod, error) {
	if err := s.simulate(ctx); err != nil {
		return nil, err
	}
	stored := *method
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.methods[stored.ID] = &stored
	s.mu.Unlock()
	return &stored, nil
}

func (s *Simulated) UpdatePaymentMethod(ctx context.Context, method *models.PaymentMethod) (*models.PaymentMethod, error) {
	if err := s.simulate(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[method.ID]; !ok {
		return nil, ErrPaymentMethodNotFound
	}
	stored := *method
	s.methods[method.ID] = &stored
	return &stored, nil
}

func (s *Simulated) DeletePaymentMethod(ctx context.Context, id string) error {
	if err := s.simulate(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[id]; !ok {
		return ErrPaymentMethodNotFound
	}
	delete(s.methods, id)
	return nil
}

func (s *Simulated) GetPaymentMethod(ctx context.Context, id string) (*models.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	method, ok := s.methods[id]
	if !ok {
		return nil, ErrPaymentMethodNotFound
	}
	copied := *method
	return &copied, nil
}

func (s *Simulated) HealthCheck(ctx context.Context) error {
	return s.simulate(ctx)
}
