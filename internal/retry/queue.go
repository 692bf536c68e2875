// Package retry queues failed payments for reprocessing. Tasks live in a
// Redis list consumed by a worker pool; tasks that must wait sit in a
// delayed sorted set until a requeuer moves them back onto the list.
package retry

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
	delayedQueueKey = "payments:queue:delayed"

	requeueInterval = 5 * time.Second
	requeueBatch    = 100
)

// Task is one payment awaiting another processing attempt.
type Task struct {
	CorrelationID string          `json:"correlationId"`
	GatewayID     string          `json:"gatewayId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Attempt       int             `json:"attempt"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
}

type Queue struct {
	client   *redis.Client
	name     string
	stopChan chan struct{}
	log      zerolog.Logger
}

func NewQueue(client *redis.Client, name string, log zerolog.Logger) *Queue {
	return &Queue{
		client:   client,
		name:     name,
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "retry").Str("queue", name).Logger(),
	}
}

// Enqueue makes the task immediately available to workers.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshaling retry task: %w", err)
	}
	if _, err := q.client.LPush(ctx, q.name, data).Result(); err != nil {
		return fmt.Errorf("enqueueing retry task: %w", err)
	}
	return nil
}

// EnqueueDelayed parks the task until delay has elapsed; the requeuer moves
// it onto the main queue afterwards.
func (q *Queue) EnqueueDelayed(ctx context.Context, task Task, delay time.Duration) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshaling retry task: %w", err)
	}
	readyAt := time.Now().Add(delay).Unix()
	_, err = q.client.ZAdd(ctx, delayedQueueKey, redis.Z{
		Score:  float64(readyAt),
		Member: string(data),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueueing delayed retry task: %w", err)
	}
	return nil
}

// Dequeue blocks until a task is available or the context is canceled.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	result, err := q.client.BRPop(ctx, 0, q.name).Result()
	if err != nil {
		return nil, fmt.Errorf("popping retry task: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected BRPop result: %v", result)
	}

	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("unmarshaling retry task: %w", err)
	}
	return &task, nil
}

// StartRequeuer periodically promotes due delayed tasks onto the main
// queue.
func (q *Queue) StartRequeuer() {
	q.log.Info().Msg("starting delayed-task requeuer")
	ticker := time.NewTicker(requeueInterval)

	go func() {
		for {
			select {
			case <-ticker.C:
				q.promoteDue()
			case <-q.stopChan:
				ticker.Stop()
				q.log.Info().Msg("requeuer stopped")
				return
			}
		}
	}()
}

func (q *Queue) StopRequeuer() {
	close(q.stopChan)
}

func (q *Queue) promoteDue() {
	ctx := context.Background()
	maxScore := fmt.Sprintf("%d", time.Now().Unix())

	items, err := q.client.ZRangeByScore(ctx, delayedQueueKey, &redis.ZRangeBy{
		Min:   "0",
		Max:   maxScore,
		Count: requeueBatch,
	}).Result()
	if err != nil || len(items) == 0 {
		return
	}

	q.log.Debug().Int("count", len(items)).Msg("promoting due retry tasks")
	pipe := q.client.Pipeline()
	for _, item := range items {
		pipe.LPush(ctx, q.name, item)
		// Remove only what was pushed; a range removal would also delete
		// due tasks beyond the batch limit that were never promoted.
		pipe.ZRem(ctx, delayedQueueKey, item)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error().Err(err).Msg("requeue pipeline failed")
	}
}
