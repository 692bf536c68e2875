package failover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/veltapay/payment-orchestrator/internal/gateway"
	"github.com/veltapay/payment-orchestrator/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeRegistry struct {
	gateways map[string]gateway.Gateway
}

func (r *fakeRegistry) Get(id string) (gateway.Gateway, bool) {
	gw, ok := r.gateways[id]
	return gw, ok
}

type fakeHealth struct {
	mu      sync.Mutex
	status  map[string]models.GatewayStatus
	checked []string
}

func (h *fakeHealth) CheckHealth(ctx context.Context, id string) models.HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checked = append(h.checked, id)
	st, ok := h.status[id]
	if !ok {
		st = models.GatewayStatusActive
	}
	return models.HealthStatus{Status: st, LastCheck: time.Now()}
}

func (h *fakeHealth) checkedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.checked...)
}

func testGateway(t *testing.T, id string, status models.GatewayStatus) gateway.Gateway {
	t.Helper()
	gw, err := gateway.NewSimulated(&models.GatewayConfig{
		ID:          id,
		Provider:    "simulated",
		Name:        id,
		Status:      status,
		Priority:    50,
		Credentials: map[string]string{"apiKey": "test"},
		Settings: models.GatewaySettings{
			SupportedCurrencies: []string{"USD"},
		},
	})
	if err != nil {
		t.Fatalf("building gateway %s: %v", id, err)
	}
	return gw
}

func newTestManager(clock *fakeClock, registry Registry, health HealthChecker) *Manager {
	return NewManager(registry, health, Options{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		Now:              clock.now,
	}, zerolog.Nop())
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock, &fakeRegistry{}, &fakeHealth{})

	for i := 0; i < 4; i++ {
		m.NotifyFailure("gw1")
		if m.IsCircuitOpen("gw1") {
			t.Fatalf("circuit open after %d failures, want threshold 5", i+1)
		}
	}

	m.NotifyFailure("gw1")
	if !m.IsCircuitOpen("gw1") {
		t.Fatal("circuit not open after 5 consecutive failures")
	}

	state := m.CircuitState("gw1")
	if !state.IsOpen {
		t.Error("snapshot reports closed circuit")
	}
	if state.FailureCount != 5 {
		t.Errorf("failure count = %d, want 5", state.FailureCount)
	}
	if state.LastFailureTime == nil {
		t.Error("last failure time not recorded")
	}
	if state.NextRetryTime == nil {
		t.Fatal("next retry time not set on open circuit")
	}
	wantRetry := state.LastFailureTime.Add(60 * time.Second)
	if !state.NextRetryTime.Equal(wantRetry) {
		t.Errorf("next retry = %v, want last failure + recovery = %v", state.NextRetryTime, wantRetry)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock, &fakeRegistry{}, &fakeHealth{})

	for i := 0; i < 4; i++ {
		m.NotifyFailure("gw1")
	}
	m.NotifySuccess("gw1")

	if got := m.CircuitState("gw1").FailureCount; got != 0 {
		t.Errorf("failure count after success = %d, want 0", got)
	}

	// The counter starts over, so four more failures still do not open it.
	for i := 0; i < 4; i++ {
		m.NotifyFailure("gw1")
	}
	if m.IsCircuitOpen("gw1") {
		t.Error("circuit open after 4 failures following a reset")
	}
}

func TestHalfOpenSingleTrial(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock, &fakeRegistry{}, &fakeHealth{})

	for i := 0; i < 5; i++ {
		m.NotifyFailure("gw1")
	}
	if !m.IsCircuitOpen("gw1") {
		t.Fatal("circuit should be open")
	}

	clock.advance(61 * time.Second)

	// The first read past the deadline claims the single trial permit.
	if m.IsCircuitOpen("gw1") {
		t.Fatal("first read past recovery deadline should allow a trial")
	}
	if !m.IsCircuitOpen("gw1") {
		t.Fatal("second read should be rejected while the trial is in flight")
	}

	m.NotifySuccess("gw1")
	if m.IsCircuitOpen("gw1") {
		t.Error("circuit should close after a successful trial")
	}
	if got := m.CircuitState("gw1").FailureCount; got != 0 {
		t.Errorf("failure count after recovery = %d, want 0", got)
	}
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock, &fakeRegistry{}, &fakeHealth{})

	for i := 0; i < 5; i++ {
		m.NotifyFailure("gw1")
	}
	clock.advance(61 * time.Second)
	if m.IsCircuitOpen("gw1") {
		t.Fatal("trial should have been allowed")
	}

	m.NotifyFailure("gw1")
	if !m.IsCircuitOpen("gw1") {
		t.Fatal("failed trial must reopen the circuit immediately")
	}

	// A fresh recovery window starts from the trial failure.
	state := m.CircuitState("gw1")
	if state.NextRetryTime == nil {
		t.Fatal("reopened circuit has no retry deadline")
	}
	if !state.NextRetryTime.Equal(clock.now().Add(60 * time.Second)) {
		t.Errorf("retry deadline = %v, want 60s after trial failure", state.NextRetryTime)
	}
}

func TestForceOpenAndClose(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock, &fakeRegistry{}, &fakeHealth{})

	m.OpenCircuit("gw1")
	if !m.IsCircuitOpen("gw1") {
		t.Fatal("forced-open circuit reports closed")
	}
	m.CloseCircuit("gw1")
	if m.IsCircuitOpen("gw1") {
		t.Fatal("forced-closed circuit reports open")
	}
}

func TestExecuteFailoverDisabledIsNoop(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock, &fakeRegistry{}, &fakeHealth{})

	gw, err := m.ExecuteFailover(context.Background(), "gw1", errors.New("boom"))
	if gw != nil || err != nil {
		t.Fatalf("disabled failover returned (%v, %v), want (nil, nil)", gw, err)
	}
	if got := m.CircuitState("gw1").FailureCount; got != 0 {
		t.Errorf("disabled failover recorded a failure, count = %d", got)
	}
}

func TestExecuteFailoverSkipsUnavailableCandidates(t *testing.T) {
	clock := newFakeClock()
	registry := &fakeRegistry{gateways: map[string]gateway.Gateway{
		"primary":  testGateway(t, "primary", models.GatewayStatusActive),
		"gateway1": testGateway(t, "gateway1", models.GatewayStatusActive),
		"gateway2": testGateway(t, "gateway2", models.GatewayStatusInactive),
		"gateway3": testGateway(t, "gateway3", models.GatewayStatusActive),
	}}
	health := &fakeHealth{status: map[string]models.GatewayStatus{
		"gateway1": models.GatewayStatusError,
		"gateway3": models.GatewayStatusActive,
	}}
	m := newTestManager(clock, registry, health)

	m.EnableFailover("primary")
	m.SetFallbackChain("primary", []string{"gateway1", "gateway2", "gateway3"})

	gw, err := m.ExecuteFailover(context.Background(), "primary", errors.New("timeout"))
	if err != nil {
		t.Fatalf("ExecuteFailover: %v", err)
	}
	if gw.ID() != "gateway3" {
		t.Errorf("failover picked %s, want gateway3", gw.ID())
	}

	// gateway2 is inactive, so its health check must never run.
	for _, id := range health.checkedIDs() {
		if id == "gateway2" {
			t.Error("health check invoked for inactive gateway2")
		}
	}
}

func TestExecuteFailoverSkipsOpenCircuits(t *testing.T) {
	clock := newFakeClock()
	registry := &fakeRegistry{gateways: map[string]gateway.Gateway{
		"primary": testGateway(t, "primary", models.GatewayStatusActive),
		"backup1": testGateway(t, "backup1", models.GatewayStatusActive),
		"backup2": testGateway(t, "backup2", models.GatewayStatusActive),
	}}
	health := &fakeHealth{}
	m := newTestManager(clock, registry, health)

	m.EnableFailover("primary")
	m.SetFallbackChain("primary", []string{"backup1", "backup2"})
	m.OpenCircuit("backup1")

	gw, err := m.ExecuteFailover(context.Background(), "primary", nil)
	if err != nil {
		t.Fatalf("ExecuteFailover: %v", err)
	}
	if gw.ID() != "backup2" {
		t.Errorf("failover picked %s, want backup2", gw.ID())
	}
	for _, id := range health.checkedIDs() {
		if id == "backup1" {
			t.Error("health check invoked for circuit-open backup1")
		}
	}
}

func TestExecuteFailoverChainExhausted(t *testing.T) {
	clock := newFakeClock()
	registry := &fakeRegistry{gateways: map[string]gateway.Gateway{
		"primary": testGateway(t, "primary", models.GatewayStatusActive),
		"backup":  testGateway(t, "backup", models.GatewayStatusActive),
	}}
	health := &fakeHealth{status: map[string]models.GatewayStatus{
		"backup": models.GatewayStatusError,
	}}
	m := newTestManager(clock, registry, health)

	m.EnableFailover("primary")
	m.SetFallbackChain("primary", []string{"missing", "backup"})

	_, err := m.ExecuteFailover(context.Background(), "primary", nil)
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("err = %v, want ErrChainExhausted", err)
	}
}

func TestFailoverScanPreservesTrialPermit(t *testing.T) {
	clock := newFakeClock()
	registry := &fakeRegistry{gateways: map[string]gateway.Gateway{
		"primary": testGateway(t, "primary", models.GatewayStatusActive),
		"backup":  testGateway(t, "backup", models.GatewayStatusActive),
	}}
	health := &fakeHealth{status: map[string]models.GatewayStatus{
		"backup": models.GatewayStatusError,
	}}
	m := newTestManager(clock, registry, health)

	m.EnableFailover("primary")
	m.SetFallbackChain("primary", []string{"backup"})

	for i := 0; i < 5; i++ {
		m.NotifyFailure("backup")
	}
	clock.advance(61 * time.Second)

	// backup is past its recovery deadline but fails the live check; the
	// chain walk must not burn its half-open trial permit.
	if _, err := m.ExecuteFailover(context.Background(), "primary", nil); !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("err = %v, want ErrChainExhausted", err)
	}
	if m.IsCircuitOpen("backup") {
		t.Error("trial permit consumed by a candidate that was never dispatched")
	}
}

func TestFailoverClaimsTrialForChosenCandidate(t *testing.T) {
	clock := newFakeClock()
	registry := &fakeRegistry{gateways: map[string]gateway.Gateway{
		"primary": testGateway(t, "primary", models.GatewayStatusActive),
		"backup":  testGateway(t, "backup", models.GatewayStatusActive),
	}}
	m := newTestManager(clock, registry, &fakeHealth{})

	m.EnableFailover("primary")
	m.SetFallbackChain("primary", []string{"backup"})

	for i := 0; i < 5; i++ {
		m.NotifyFailure("backup")
	}
	clock.advance(61 * time.Second)

	gw, err := m.ExecuteFailover(context.Background(), "primary", nil)
	if err != nil {
		t.Fatalf("ExecuteFailover: %v", err)
	}
	if gw.ID() != "backup" {
		t.Fatalf("failover picked %s, want backup", gw.ID())
	}
	if !m.IsCircuitOpen("backup") {
		t.Error("winning half-open candidate should hold the single trial permit")
	}
}

func TestAttemptRecoveryClosesCircuit(t *testing.T) {
	clock := newFakeClock()
	health := &fakeHealth{status: map[string]models.GatewayStatus{
		"gw1": models.GatewayStatusActive,
	}}
	m := newTestManager(clock, &fakeRegistry{}, health)

	m.OpenCircuit("gw1")
	if !m.AttemptRecovery(context.Background(), "gw1") {
		t.Fatal("recovery attempt against healthy gateway failed")
	}
	if m.IsCircuitOpen("gw1") {
		t.Error("circuit still open after successful recovery")
	}
}

func TestAttemptRecoveryKeepsCircuitOpenWhenUnhealthy(t *testing.T) {
	clock := newFakeClock()
	health := &fakeHealth{status: map[string]models.GatewayStatus{
		"gw1": models.GatewayStatusError,
	}}
	m := newTestManager(clock, &fakeRegistry{}, health)

	m.OpenCircuit("gw1")
	if m.AttemptRecovery(context.Background(), "gw1") {
		t.Fatal("recovery attempt against unhealthy gateway reported success")
	}
	if !m.IsCircuitOpen("gw1") {
		t.Error("circuit closed despite failed recovery check")
	}
}

func TestScheduleRecoveryCheckClosesHealthyCircuit(t *testing.T) {
	clock := newFakeClock()
	health := &fakeHealth{status: map[string]models.GatewayStatus{
		"gw1": models.GatewayStatusActive,
	}}
	m := newTestManager(clock, &fakeRegistry{}, health)

	m.OpenCircuit("gw1")
	m.ScheduleRecoveryCheck("gw1", 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for m.CircuitState("gw1").IsOpen {
		if time.Now().After(deadline) {
			t.Fatal("circuit still open after scheduled recovery check")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduleRecoveryCheckSwallowsFailedAttempt(t *testing.T) {
	clock := newFakeClock()
	health := &fakeHealth{status: map[string]models.GatewayStatus{
		"gw1": models.GatewayStatusError,
	}}
	m := newTestManager(clock, &fakeRegistry{}, health)

	m.OpenCircuit("gw1")
	m.ScheduleRecoveryCheck("gw1", 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for len(health.checkedIDs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled recovery check never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !m.CircuitState("gw1").IsOpen {
		t.Error("circuit closed despite failed scheduled recovery check")
	}
}

func TestShutdownCancelsPendingRecoveryChecks(t *testing.T) {
	clock := newFakeClock()
	health := &fakeHealth{status: map[string]models.GatewayStatus{
		"gw1": models.GatewayStatusActive,
	}}
	m := newTestManager(clock, &fakeRegistry{}, health)

	m.OpenCircuit("gw1")
	m.ScheduleRecoveryCheck("gw1", 50*time.Millisecond)
	m.Shutdown()

	time.Sleep(150 * time.Millisecond)
	if got := health.checkedIDs(); len(got) != 0 {
		t.Errorf("cancelled recovery check still ran health checks: %v", got)
	}
	if !m.CircuitState("gw1").IsOpen {
		t.Error("circuit closed after shutdown cancelled the recovery check")
	}
}
