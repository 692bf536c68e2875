package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/veltapay/payment-orchestrator/internal/gateway"
	"github.com/veltapay/payment-orchestrator/internal/models"
)

func makeSimulated(t *testing.T, id string, policy *models.HealthCheckPolicy) *gateway.Simulated {
	t.Helper()
	gw, err := gateway.NewSimulated(&models.GatewayConfig{
		ID:          id,
		Provider:    "simulated",
		Name:        id,
		Status:      models.GatewayStatusActive,
		Priority:    50,
		Credentials: map[string]string{"apiKey": "test"},
		Settings: models.GatewaySettings{
			SupportedCurrencies: []string{"USD"},
		},
		HealthCheck: policy,
	})
	if err != nil {
		t.Fatalf("building gateway %s: %v", id, err)
	}
	return gw
}

func TestAddGatewayStartsInactive(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.AddGateway(makeSimulated(t, "gw1", nil))

	status, ok := m.Status("gw1")
	if !ok {
		t.Fatal("registered gateway has no status")
	}
	if status.Status != models.GatewayStatusInactive {
		t.Errorf("initial status = %s, want inactive until first check", status.Status)
	}
}

func TestStatusUnknownGateway(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	if _, ok := m.Status("ghost"); ok {
		t.Error("Status reported ok for unknown gateway")
	}
}

func TestCheckHealthPromotesToActive(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.AddGateway(makeSimulated(t, "gw1", nil))

	status := m.CheckHealth(context.Background(), "gw1")
	if status.Status != models.GatewayStatusActive {
		t.Errorf("status = %s, want active after passing check", status.Status)
	}
	if status.LastCheck.IsZero() {
		t.Error("last check time not recorded")
	}
}

func TestCheckHealthAdapterFailure(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	gw := makeSimulated(t, "gw1", &models.HealthCheckPolicy{Timeout: time.Second})
	gw.SetFailing(true)
	m.AddGateway(gw)

	status := m.CheckHealth(context.Background(), "gw1")
	if status.Status != models.GatewayStatusError {
		t.Errorf("status = %s, want error after failed probe", status.Status)
	}
	if status.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d, want 1", status.ConsecutiveFailures)
	}
	if status.ErrorMessage == "" {
		t.Error("error message not recorded")
	}
}

func TestCheckHealthHTTPProbe(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(zerolog.Nop())
	m.AddGateway(makeSimulated(t, "gw1", &models.HealthCheckPolicy{
		URL:     srv.URL,
		Timeout: time.Second,
		Retries: 1,
	}))

	// First attempt gets a 503, the retry passes.
	status := m.CheckHealth(context.Background(), "gw1")
	if status.Status != models.GatewayStatusActive {
		t.Errorf("status = %s, want active after retry succeeded", status.Status)
	}
}

func TestCheckHealthUnknownGateway(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	status := m.CheckHealth(context.Background(), "ghost")
	if status.Status != models.GatewayStatusError {
		t.Errorf("status = %s, want error for unknown gateway", status.Status)
	}
	if status.ErrorMessage == "" {
		t.Error("unknown gateway check carries no error message")
	}
}

func TestRecordFailureFlipsAfterLimit(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.AddGateway(makeSimulated(t, "gw1", nil))
	m.RecordSuccess("gw1", 10*time.Millisecond)

	cause := errors.New("connection reset")
	for i := 1; i < liveFailureLimit; i++ {
		m.RecordFailure("gw1", cause)
		status, _ := m.Status("gw1")
		if status.Status != models.GatewayStatusActive {
			t.Fatalf("status flipped to %s after %d failures, limit is %d", status.Status, i, liveFailureLimit)
		}
	}

	m.RecordFailure("gw1", cause)
	status, _ := m.Status("gw1")
	if status.Status != models.GatewayStatusError {
		t.Errorf("status = %s after %d consecutive failures, want error", status.Status, liveFailureLimit)
	}
}

func TestRecordSuccessResetsFailures(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.AddGateway(makeSimulated(t, "gw1", nil))

	for i := 0; i < liveFailureLimit; i++ {
		m.RecordFailure("gw1", errors.New("boom"))
	}
	m.RecordSuccess("gw1", 25*time.Millisecond)

	status, _ := m.Status("gw1")
	if status.Status != models.GatewayStatusActive {
		t.Errorf("status = %s, want active after success", status.Status)
	}
	if status.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0", status.ConsecutiveFailures)
	}
	if status.ErrorMessage != "" {
		t.Errorf("error message = %q, want cleared", status.ErrorMessage)
	}
	if status.ResponseTime != 25*time.Millisecond {
		t.Errorf("response time = %v, want 25ms", status.ResponseTime)
	}
}

func TestSubscribeFiresOnlyOnTransition(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.AddGateway(makeSimulated(t, "gw1", nil))

	var mu sync.Mutex
	var transitions []models.GatewayStatus
	m.Subscribe(func(id string, status models.HealthStatus) {
		mu.Lock()
		transitions = append(transitions, status.Status)
		mu.Unlock()
	})

	// inactive -> active fires once; repeated green checks stay silent.
	m.CheckHealth(context.Background(), "gw1")
	m.CheckHealth(context.Background(), "gw1")
	m.CheckHealth(context.Background(), "gw1")

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(transitions))
	}
	if transitions[0] != models.GatewayStatusActive {
		t.Errorf("transition to %s, want active", transitions[0])
	}
}

func TestSubscriberPanicIsIsolated(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.AddGateway(makeSimulated(t, "gw1", nil))

	m.Subscribe(func(id string, status models.HealthStatus) {
		panic("bad subscriber")
	})
	var fired bool
	var mu sync.Mutex
	m.Subscribe(func(id string, status models.HealthStatus) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	m.CheckHealth(context.Background(), "gw1")

	mu.Lock()
	defer mu.Unlock()
	if !fired {
		t.Error("second subscriber starved by panicking peer")
	}
}

func TestRemoveGateway(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.AddGateway(makeSimulated(t, "gw1", nil))
	m.RemoveGateway("gw1")

	if _, ok := m.Status("gw1"); ok {
		t.Error("removed gateway still has status")
	}
}

func TestStartStopMonitoring(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.AddGateway(makeSimulated(t, "gw1", &models.HealthCheckPolicy{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	}))

	m.StartMonitoring()
	m.StartMonitoring() // idempotent

	deadline := time.After(2 * time.Second)
	for {
		status, _ := m.Status("gw1")
		if status.Status == models.GatewayStatusActive {
			break
		}
		select {
		case <-deadline:
			t.Fatal("gateway never promoted to active by the polling loop")
		case <-time.After(5 * time.Millisecond):
		}
	}

	m.StopMonitoring()
	m.StopMonitoring() // idempotent
}

func TestStartLoopAfterStopSpawnsNothing(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.AddGateway(makeSimulated(t, "gw1", &models.HealthCheckPolicy{
		Interval: 5 * time.Millisecond,
		Timeout:  time.Second,
	}))

	// Simulates StopMonitoring interleaving between StartMonitoring
	// releasing its lock and the loop starting: with running unset,
	// startLoop must bail out instead of leaving an orphaned goroutine.
	m.mu.Lock()
	e := m.gateways["gw1"]
	m.mu.Unlock()
	m.startLoop("gw1", e)

	time.Sleep(50 * time.Millisecond)
	status, _ := m.Status("gw1")
	if status.Status != models.GatewayStatusInactive {
		t.Errorf("status = %s, an orphaned polling loop ran checks", status.Status)
	}
	m.mu.Lock()
	cancel := e.cancel
	m.mu.Unlock()
	if cancel != nil {
		t.Error("cancel recorded for a loop that must not have started")
	}
}
