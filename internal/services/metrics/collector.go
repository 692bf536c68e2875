package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/veltapay/payment-orchestrator/internal/models"
)

const (
	// DefaultCapacity bounds the per-gateway raw record buffer.
	DefaultCapacity = 1000

	defaultAggregationInterval = time.Minute
	// trailingWindow is the window the background aggregation covers.
	trailingWindow = 5 * time.Minute
	// latestSlice is how many recent records an on-demand latest-metrics
	// computation looks at when no cached aggregate exists yet.
	latestSlice = 100

	StatusSuccess = "success"
	StatusFailure = "failure"
)

type series struct {
	mu     sync.Mutex
	ring   *ring
	cached *models.GatewayMetrics
}

// Collector records every transaction outcome per gateway into a bounded ring
// buffer and keeps a periodically refreshed aggregate per gateway. Appends
// sit on the hot transaction path and take only the one per-gateway mutex.
type Collector struct {
	mu       sync.RWMutex
	series   map[string]*series
	capacity int

	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	started  bool

	log zerolog.Logger
}

func NewCollector(capacity int, log zerolog.Logger) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Collector{
		series:   make(map[string]*series),
		capacity: capacity,
		interval: defaultAggregationInterval,
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "metrics").Logger(),
	}
}

func (c *Collector) gatewaySeries(gatewayID string) *series {
	c.mu.RLock()
	s, ok := c.series[gatewayID]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.series[gatewayID]; ok {
		return s
	}
	s = &series{ring: newRing(c.capacity)}
	c.series[gatewayID] = s
	return s
}

// RecordTransaction appends one transaction outcome to the gateway's buffer.
func (c *Collector) RecordTransaction(gatewayID string, success bool, responseTime time.Duration, amount decimal.Decimal) {
	s := c.gatewaySeries(gatewayID)
	s.mu.Lock()
	s.ring.append(models.MetricsData{
		GatewayID:    gatewayID,
		Timestamp:    time.Now().UTC(),
		ResponseTime: responseTime,
		Success:      success,
		Amount:       amount,
	})
	s.mu.Unlock()
}

// RecordError appends one error event. Error events count as failures in the
// aggregate rates.
func (c *Collector) RecordError(gatewayID, errorType, errorMessage string) {
	s := c.gatewaySeries(gatewayID)
	s.mu.Lock()
	s.ring.append(models.MetricsData{
		GatewayID:    gatewayID,
		Timestamp:    time.Now().UTC(),
		Success:      false,
		Amount:       decimal.Zero,
		ErrorType:    errorType,
		ErrorMessage: errorMessage,
	})
	s.mu.Unlock()
}

// GetMetrics computes an aggregate over the records whose timestamp falls in
// the trailing period. A zero period means the whole buffer. An empty window
// or unknown gateway yields the all-zero snapshot, never an error.
func (c *Collector) GetMetrics(gatewayID string, period time.Duration) models.GatewayMetrics {
	c.mu.RLock()
	s, ok := c.series[gatewayID]
	c.mu.RUnlock()
	if !ok {
		return models.EmptyGatewayMetrics()
	}

	s.mu.Lock()
	records := s.ring.snapshot()
	s.mu.Unlock()

	if period > 0 {
		cutoff := time.Now().UTC().Add(-period)
		filtered := records[:0]
		for _, r := range records {
			if !r.Timestamp.Before(cutoff) {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	return aggregate(records)
}

// GetLatestMetrics returns the cached aggregate if one exists, otherwise
// computes one from the most recent slice of the buffer. A gateway with no
// data at all yields nil.
func (c *Collector) GetLatestMetrics(gatewayID string) *models.GatewayMetrics {
	c.mu.RLock()
	s, ok := c.series[gatewayID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		snapshot := *s.cached
		return &snapshot
	}
	if s.ring.len() == 0 {
		return nil
	}
	m := aggregate(s.ring.tail(latestSlice))
	s.cached = &m
	snapshot := m
	return &snapshot
}

// RecordMetrics merges partial manual overrides onto the cached aggregate.
// Fields left nil in the patch keep their prior values.
func (c *Collector) RecordMetrics(gatewayID string, patch models.MetricsPatch) {
	s := c.gatewaySeries(gatewayID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached == nil {
		m := models.EmptyGatewayMetrics()
		s.cached = &m
	}
	if patch.ResponseTime != nil {
		s.cached.ResponseTime = *patch.ResponseTime
	}
	if patch.SuccessRate != nil {
		s.cached.SuccessRate = *patch.SuccessRate
	}
	if patch.ErrorRate != nil {
		s.cached.ErrorRate = *patch.ErrorRate
	}
	if patch.TransactionCount != nil {
		s.cached.TransactionCount = *patch.TransactionCount
	}
	if patch.TransactionVolume != nil {
		s.cached.TransactionVolume = *patch.TransactionVolume
	}
}

// Start launches the background ticker that re-aggregates every gateway over
// the trailing window and refreshes the caches. Idempotent.
func (c *Collector) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.refreshAll()
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *Collector) refreshAll() {
	c.mu.RLock()
	ids := make([]string, 0, len(c.series))
	for id := range c.series {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-trailingWindow)
	for _, id := range ids {
		c.mu.RLock()
		s := c.series[id]
		c.mu.RUnlock()
		if s == nil {
			continue
		}
		s.mu.Lock()
		records := s.ring.snapshot()
		windowed := records[:0]
		for _, r := range records {
			if !r.Timestamp.Before(cutoff) {
				windowed = append(windowed, r)
			}
		}
		m := aggregate(windowed)
		s.cached = &m
		s.mu.Unlock()
	}
	c.log.Debug().Int("gateways", len(ids)).Msg("metrics aggregates refreshed")
}

// aggregate derives the summary for a window of raw records. Mean latency
// covers successful transactions only; a fast failure is not fast.
// Transaction volume sums every attempted amount, failures included.
func aggregate(records []models.MetricsData) models.GatewayMetrics {
	m := models.EmptyGatewayMetrics()
	if len(records) == 0 {
		return m
	}

	var successes, failures int
	var latencySum time.Duration
	volume := decimal.Zero
	for _, r := range records {
		volume = volume.Add(r.Amount)
		if r.Success {
			successes++
			latencySum += r.ResponseTime
		} else {
			failures++
			if r.ErrorType != "" {
				m.ErrorTypes[r.ErrorType]++
			}
		}
	}

	total := successes + failures
	m.TransactionCount = total
	m.TransactionVolume = volume
	m.SuccessRate = float64(successes) / float64(total)
	m.ErrorRate = float64(failures) / float64(total)
	m.StatusCounts[StatusSuccess] = successes
	m.StatusCounts[StatusFailure] = failures
	if successes > 0 {
		m.ResponseTime = latencySum / time.Duration(successes)
	}
	return m
}
