package balancer

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veltapay/payment-orchestrator/internal/gateway"
	"github.com/veltapay/payment-orchestrator/internal/models"
)

type Algorithm string

const (
	RoundRobin         Algorithm = "round_robin"
	WeightedRoundRobin Algorithm = "weighted_round_robin"
	LeastConnections   Algorithm = "least_connections"
	LeastResponseTime  Algorithm = "least_response_time"
	ResourceBased      Algorithm = "resource_based"
	Adaptive           Algorithm = "adaptive"
)

var (
	ErrNoHealthyGateway = errors.New("no healthy gateway available for load balancing")
	ErrUnknownAlgorithm = errors.New("unknown load balancing algorithm")
)

const (
	latencyCeiling = 5 * time.Second

	// Adaptive thresholds.
	highLoadPerGateway   = 5
	highLatencySpread    = 500 * time.Millisecond
	successRateSpreadMin = 0.10
)

// HealthSource reports current per-gateway health, used to narrow candidates
// to the healthy subset.
type HealthSource interface {
	Status(id string) (models.HealthStatus, bool)
}

// MetricsSource supplies the cached aggregates the weighted and
// latency-driven algorithms feed on.
type MetricsSource interface {
	GetLatestMetrics(id string) *models.GatewayMetrics
}

// usage is the shared per-gateway traffic bookkeeping. It feeds the
// least-connections algorithm and distribution reporting.
type usage struct {
	requests    int64
	lastUsed    time.Time
	activeConns int
}

// UsageStats is the externally visible snapshot of one gateway's traffic.
type UsageStats struct {
	Requests          int64     `json:"requests"`
	LastUsed          time.Time `json:"lastUsed"`
	ActiveConnections int       `json:"activeConnections"`
}

// Balancer spreads traffic across equally eligible gateways using one of six
// interchangeable algorithms. All algorithms operate over the currently
// healthy subset only.
type Balancer struct {
	mu      sync.Mutex
	rrIndex int
	stats   map[string]*usage
	rng     *rand.Rand

	health  HealthSource
	metrics MetricsSource
	log     zerolog.Logger
}

func New(health HealthSource, metrics MetricsSource, log zerolog.Logger) *Balancer {
	return &Balancer{
		stats:   make(map[string]*usage),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		health:  health,
		metrics: metrics,
		log:     log.With().Str("component", "balancer").Logger(),
	}
}

// Select picks one gateway from the candidates using the given algorithm and
// records the selection in the shared usage stats. The caller must signal
// completion with Release for connection counting to stay accurate.
func (b *Balancer) Select(algorithm Algorithm, candidates []gateway.Gateway) (gateway.Gateway, error) {
	healthy := b.healthyOnly(candidates)
	if len(healthy) == 0 {
		return nil, ErrNoHealthyGateway
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var chosen gateway.Gateway
	switch algorithm {
	case RoundRobin:
		chosen = b.roundRobin(healthy)
	case WeightedRoundRobin:
		chosen = b.weighted(healthy)
	case LeastConnections:
		chosen = b.leastConnections(healthy)
	case LeastResponseTime:
		chosen = b.leastResponseTime(healthy)
	case ResourceBased:
		chosen = b.resourceBased(healthy)
	case Adaptive:
		chosen = b.adaptive(healthy)
	default:
		return nil, ErrUnknownAlgorithm
	}

	u := b.usageFor(chosen.ID())
	u.requests++
	u.lastUsed = time.Now().UTC()
	u.activeConns++
	return chosen, nil
}

// Release signals that a request dispatched to the gateway completed,
// decrementing its active-connection count.
func (b *Balancer) Release(gatewayID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.stats[gatewayID]; ok && u.activeConns > 0 {
		u.activeConns--
	}
}

// Stats returns the usage snapshot for one gateway.
func (b *Balancer) Stats(gatewayID string) UsageStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.stats[gatewayID]
	if !ok {
		return UsageStats{}
	}
	return UsageStats{Requests: u.requests, LastUsed: u.lastUsed, ActiveConnections: u.activeConns}
}

// Distribution reports each gateway's share of total selections as a
// percentage.
func (b *Balancer) Distribution() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total int64
	for _, u := range b.stats {
		total += u.requests
	}
	out := make(map[string]float64, len(b.stats))
	if total == 0 {
		return out
	}
	for id, u := range b.stats {
		out[id] = float64(u.requests) / float64(total) * 100
	}
	return out
}

func (b *Balancer) usageFor(id string) *usage {
	u, ok := b.stats[id]
	if !ok {
		u = &usage{}
		b.stats[id] = u
	}
	return u
}

// healthyOnly keeps gateways that are configured active and whose monitor
// status, when known, reports active. A gateway the monitor has not judged
// yet stays in.
func (b *Balancer) healthyOnly(candidates []gateway.Gateway) []gateway.Gateway {
	healthy := make([]gateway.Gateway, 0, len(candidates))
	for _, gw := range candidates {
		if !gw.IsActive() {
			continue
		}
		if b.health != nil {
			if status, ok := b.health.Status(gw.ID()); ok && status.Status != models.GatewayStatusActive {
				continue
			}
		}
		healthy = append(healthy, gw)
	}
	return healthy
}

// roundRobin cycles an index over the healthy set; the modulo keeps it valid
// when the set grows or shrinks between calls.
func (b *Balancer) roundRobin(healthy []gateway.Gateway) gateway.Gateway {
	gw := healthy[b.rrIndex%len(healthy)]
	b.rrIndex++
	return gw
}

// weighted draws from cumulative weights of priority, success rate, latency
// and current load. If every weight is zero it degrades to round robin.
func (b *Balancer) weighted(healthy []gateway.Gateway) gateway.Gateway {
	weights := make([]float64, len(healthy))
	var total float64
	for i, gw := range healthy {
		w := b.weightOf(gw)
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return b.roundRobin(healthy)
	}

	draw := b.rng.Float64() * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if draw < cumulative {
			return healthy[i]
		}
	}
	return healthy[len(healthy)-1]
}

func (b *Balancer) weightOf(gw gateway.Gateway) float64 {
	priority := float64(gw.Config().Priority) / 100.0
	if priority <= 0 {
		priority = 0.01
	}

	successRate := 0.5
	rtFactor := 0.5
	if b.metrics != nil {
		if m := b.metrics.GetLatestMetrics(gw.ID()); m != nil && m.TransactionCount > 0 {
			successRate = m.SuccessRate
			latency := m.ResponseTime
			if latency > latencyCeiling {
				latency = latencyCeiling
			}
			rtFactor = 1.0 - float64(latency)/float64(latencyCeiling)
		}
	}

	loadFactor := 1.0
	if u, ok := b.stats[gw.ID()]; ok {
		loadFactor = 1.0 / (1.0 + float64(u.activeConns))
	}

	return priority * successRate * rtFactor * loadFactor
}

func (b *Balancer) leastConnections(healthy []gateway.Gateway) gateway.Gateway {
	best := healthy[0]
	bestConns := b.activeConns(best.ID())
	for _, gw := range healthy[1:] {
		if conns := b.activeConns(gw.ID()); conns < bestConns {
			best = gw
			bestConns = conns
		}
	}
	return best
}

func (b *Balancer) activeConns(id string) int {
	if u, ok := b.stats[id]; ok {
		return u.activeConns
	}
	return 0
}

// leastResponseTime prefers the lowest cached mean latency; a gateway with
// no data is treated as worst.
func (b *Balancer) leastResponseTime(healthy []gateway.Gateway) gateway.Gateway {
	best := healthy[0]
	bestLatency := b.meanLatency(best.ID())
	for _, gw := range healthy[1:] {
		if latency := b.meanLatency(gw.ID()); latency < bestLatency {
			best = gw
			bestLatency = latency
		}
	}
	return best
}

func (b *Balancer) meanLatency(id string) time.Duration {
	if b.metrics == nil {
		return time.Duration(1<<63 - 1)
	}
	m := b.metrics.GetLatestMetrics(id)
	if m == nil || m.TransactionCount == 0 {
		return time.Duration(1<<63 - 1)
	}
	return m.ResponseTime
}

// resourceBased composes latency, connection load and error rate into one
// score; the lowest score wins.
func (b *Balancer) resourceBased(healthy []gateway.Gateway) gateway.Gateway {
	best := healthy[0]
	bestScore := b.resourceScore(best)
	for _, gw := range healthy[1:] {
		if score := b.resourceScore(gw); score < bestScore {
			best = gw
			bestScore = score
		}
	}
	return best
}

func (b *Balancer) resourceScore(gw gateway.Gateway) float64 {
	latencyMs := 0.0
	errorRate := 0.0
	if b.metrics != nil {
		if m := b.metrics.GetLatestMetrics(gw.ID()); m != nil && m.TransactionCount > 0 {
			latencyMs = float64(m.ResponseTime.Milliseconds())
			errorRate = m.ErrorRate
		}
	}
	return latencyMs/1000.0 + float64(b.activeConns(gw.ID()))*0.1 + errorRate*10.0
}

// adaptive inspects current load and the metric spread across candidates to
// pick the algorithm that fits the moment.
func (b *Balancer) adaptive(healthy []gateway.Gateway) gateway.Gateway {
	var totalConns int
	minLatency, maxLatency := time.Duration(1<<63-1), time.Duration(0)
	minRate, maxRate := 1.0, 0.0
	sampled := 0

	for _, gw := range healthy {
		totalConns += b.activeConns(gw.ID())
		if b.metrics == nil {
			continue
		}
		m := b.metrics.GetLatestMetrics(gw.ID())
		if m == nil || m.TransactionCount == 0 {
			continue
		}
		sampled++
		if m.ResponseTime < minLatency {
			minLatency = m.ResponseTime
		}
		if m.ResponseTime > maxLatency {
			maxLatency = m.ResponseTime
		}
		if m.SuccessRate < minRate {
			minRate = m.SuccessRate
		}
		if m.SuccessRate > maxRate {
			maxRate = m.SuccessRate
		}
	}

	if totalConns > highLoadPerGateway*len(healthy) {
		return b.leastConnections(healthy)
	}
	if sampled > 1 && maxLatency-minLatency > highLatencySpread {
		return b.leastResponseTime(healthy)
	}
	if sampled > 1 && maxRate-minRate > successRateSpreadMin {
		return b.weighted(healthy)
	}
	return b.roundRobin(healthy)
}
