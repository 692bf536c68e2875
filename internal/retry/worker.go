package retry

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JobFunc processes one dequeued retry task.
type JobFunc func(ctx context.Context, task Task) error

// Workers drain the retry queue concurrently. Stop cancels the shared
// context and waits for every worker to exit.
type Workers struct {
	count   int
	queue   *Queue
	jobFunc JobFunc

	waitGroup  sync.WaitGroup
	cancelFunc context.CancelFunc
	log        zerolog.Logger
}

func NewWorkers(count int, queue *Queue, jobFunc JobFunc, log zerolog.Logger) *Workers {
	return &Workers{
		count:   count,
		queue:   queue,
		jobFunc: jobFunc,
		log:     log.With().Str("component", "retry-workers").Logger(),
	}
}

func (w *Workers) Start() {
	w.log.Info().Int("workers", w.count).Msg("starting retry workers")

	var ctx context.Context
	ctx, w.cancelFunc = context.WithCancel(context.Background())

	for i := 1; i <= w.count; i++ {
		w.waitGroup.Add(1)
		go w.run(ctx, i)
	}
}

func (w *Workers) run(ctx context.Context, id int) {
	defer w.waitGroup.Done()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug().Int("worker", id).Msg("worker exiting")
			return
		default:
			task, err := w.queue.Dequeue(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
					continue
				}
				w.log.Error().Int("worker", id).Err(err).Msg("dequeue failed")
				continue
			}
			if err := w.jobFunc(ctx, *task); err != nil {
				w.log.Error().
					Int("worker", id).
					Str("correlationId", task.CorrelationID).
					Err(err).
					Msg("retry task failed")
			}
		}
	}
}

func (w *Workers) Stop() {
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.waitGroup.Wait()
	w.log.Info().Msg("retry workers stopped")
}
