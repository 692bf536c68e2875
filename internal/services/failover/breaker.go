package failover

import (
	"sync"
	"time"

	"github.com/veltapay/payment-orchestrator/internal/models"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// breaker is the per-gateway circuit breaker. The open-to-half-open
// transition happens lazily on read once the recovery deadline passes; the
// per-breaker mutex guarantees only one caller wins the half-open trial
// permit, so trial traffic is never double-dispatched.
type breaker struct {
	mu            sync.Mutex
	state         breakerState
	failureCount  int
	lastFailure   time.Time
	nextRetry     time.Time
	trialInFlight bool

	threshold int
	recovery  time.Duration
	now       func() time.Time
}

func newBreaker(threshold int, recovery time.Duration, now func() time.Time) *breaker {
	return &breaker{
		threshold: threshold,
		recovery:  recovery,
		now:       now,
	}
}

// isOpen reports whether calls should be rejected. This is a read-modify-
// write, not a pure query: the first read past the recovery deadline claims
// the single half-open trial and reports closed.
func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return false
	case stateOpen:
		if !b.now().Before(b.nextRetry) {
			b.state = stateHalfOpen
			b.trialInFlight = true
			return false
		}
		return true
	default: // half-open: trial already claimed
		if b.trialInFlight {
			return true
		}
		b.trialInFlight = true
		return false
	}
}

// wouldReject is isOpen without the side effect: it reports whether a call
// would be rejected right now, never claiming the half-open trial permit.
// Scans over many breakers use this so a gateway that is merely inspected
// does not lose its single trial.
func (b *breaker) wouldReject() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return false
	case stateOpen:
		return b.now().Before(b.nextRetry)
	default:
		return b.trialInFlight
	}
}

// onFailure counts a failure and reports whether the circuit opened as a
// result. A failure during the half-open trial reopens immediately.
func (b *breaker) onFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.now()

	if b.state == stateHalfOpen {
		b.open()
		return true
	}
	if b.state == stateClosed && b.failureCount >= b.threshold {
		b.open()
		return true
	}
	return false
}

// onSuccess closes the circuit and resets the failure count.
func (b *breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *breaker) forceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	b.open()
}

func (b *breaker) forceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// open must be called with the mutex held. Invariant: an open breaker always
// has nextRetry = lastFailure + recovery.
func (b *breaker) open() {
	b.state = stateOpen
	b.nextRetry = b.lastFailure.Add(b.recovery)
	b.trialInFlight = false
}

func (b *breaker) reset() {
	b.state = stateClosed
	b.failureCount = 0
	b.lastFailure = time.Time{}
	b.nextRetry = time.Time{}
	b.trialInFlight = false
}

func (b *breaker) snapshot() models.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := models.CircuitBreakerState{
		IsOpen:       b.state == stateOpen,
		FailureCount: b.failureCount,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailureTime = &t
	}
	if b.state == stateOpen {
		t := b.nextRetry
		s.NextRetryTime = &t
	}
	return s
}
