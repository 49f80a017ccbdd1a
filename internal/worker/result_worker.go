package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/events"
)

const (
	ResultBatchSize    = 50
	ResultBatchTimeout = 2 * time.Second
	ResultPollTimeout  = 1 * time.Second
	resultMaxAttempts  = 5
)

// ResultWorker drains the result queue into the downstream sink.
type ResultWorker struct {
	rdb   *redis.Client
	sink  events.Publisher
	queue string
	log   zerolog.Logger
}

// NewResultWorker creates a new ResultWorker.
func NewResultWorker(rdb *redis.Client, sink events.Publisher, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		rdb:   rdb,
		sink:  sink,
		queue: config.WorkerKey.PublishResultsQueue,
		log:   log.With().Str("component", "result_worker").Logger(),
	}
}

type queuedResult struct {
	events.ResultEvent
	Attempts int `json:"attempts,omitempty"`
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")

	batch := make([]*queuedResult, 0, ResultBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ResultBatchSize || time.Since(lastFlush) >= ResultBatchTimeout) {

			w.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flush(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ResultPollTimeout, w.queue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var r queuedResult
			if err := json.Unmarshal([]byte(item[1]), &r); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &r)
		}
	}
}

// flush publishes each result; failures go back to the tail of the queue
// until resultMaxAttempts is reached.
func (w *ResultWorker) flush(ctx context.Context, batch []*queuedResult) {
	if len(batch) == 0 {
		return
	}

	failed := 0
	for _, r := range batch {
		if err := w.sink.Publish(ctx, &r.Result); err != nil {
			failed++
			w.requeue(ctx, r, err)
		}
	}

	w.log.Debug().Int("published", len(batch)-failed).Int("failed", failed).Msg("Result batch flushed")
}

func (w *ResultWorker) requeue(ctx context.Context, r *queuedResult, cause error) {
	r.Attempts++
	l := w.log.With().Err(cause).Str("session_id", r.Result.SessionID.String()).Int("attempts", r.Attempts).Logger()

	if r.Attempts >= resultMaxAttempts {
		l.Error().Msg("Dropping result after repeated publish failures")
		return
	}

	raw, err := json.Marshal(r)
	if err != nil {
		l.Error().Err(err).Msg("Marshal for requeue failed")
		return
	}
	if err := w.rdb.RPush(ctx, w.queue, raw).Err(); err != nil {
		l.Error().Err(err).Msg("Requeue failed")
		return
	}
	l.Warn().Msg("Publish failed, requeued")
}
