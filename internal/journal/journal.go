// Package journal persists processed payment outcomes to Redis as
// per-gateway time series, so totals survive restarts and can be audited
// over arbitrary windows.
package journal

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	seriesKeyPrefix = "payments:journal:"
	gatewaySetKey   = "payments:journal:gateways"
)

// Entry is one processed payment outcome.
type Entry struct {
	CorrelationID string          `json:"correlationId"`
	GatewayID     string          `json:"gatewayId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Success       bool            `json:"success"`
	ProcessedAt   time.Time       `json:"processedAt"`
}

// GatewayTotals aggregates one gateway's journal over a window.
type GatewayTotals struct {
	Requests    int64           `json:"totalRequests"`
	Succeeded   int64           `json:"succeeded"`
	Failed      int64           `json:"failed"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// Summary maps gateway id to its totals for the requested window.
type Summary map[string]GatewayTotals

type Journal struct {
	client *redis.Client
	log    zerolog.Logger
}

func New(client *redis.Client, log zerolog.Logger) *Journal {
	return &Journal{
		client: client,
		log:    log.With().Str("component", "journal").Logger(),
	}
}

// NewClient builds a Redis client with the pool settings the orchestrator
// uses everywhere.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})
}

// Record appends the outcome to the gateway's series, scored by processing
// time so range queries stay cheap.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}

	pipe := j.client.Pipeline()
	pipe.ZAdd(ctx, seriesKeyPrefix+e.GatewayID, redis.Z{
		Score:  float64(e.ProcessedAt.UnixMilli()),
		Member: string(data),
	})
	pipe.SAdd(ctx, gatewaySetKey, e.GatewayID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording journal entry: %w", err)
	}
	return nil
}

// Summary aggregates every known gateway's series between from and to,
// inclusive.
func (j *Journal) Summary(ctx context.Context, from, to time.Time) (Summary, error) {
	ids, err := j.client.SMembers(ctx, gatewaySetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing journaled gateways: %w", err)
	}

	out := make(Summary, len(ids))
	for _, id := range ids {
		totals, err := j.gatewayTotals(ctx, id, from, to)
		if err != nil {
			return nil, fmt.Errorf("summarizing gateway %s: %w", id, err)
		}
		out[id] = totals
	}
	return out, nil
}

func (j *Journal) gatewayTotals(ctx context.Context, id string, from, to time.Time) (GatewayTotals, error) {
	members, err := j.client.ZRangeByScore(ctx, seriesKeyPrefix+id, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.UnixMilli()),
		Max: fmt.Sprintf("%d", to.UnixMilli()),
	}).Result()
	if err != nil {
		return GatewayTotals{}, err
	}

	totals := GatewayTotals{TotalAmount: decimal.Zero}
	for _, member := range members {
		var e Entry
		if err := json.Unmarshal([]byte(member), &e); err != nil {
			j.log.Warn().Str("gateway", id).Err(err).Msg("skipping unreadable journal entry")
			continue
		}
		totals.Requests++
		if e.Success {
			totals.Succeeded++
		} else {
			totals.Failed++
		}
		totals.TotalAmount = totals.TotalAmount.Add(e.Amount)
	}
	return totals, nil
}
