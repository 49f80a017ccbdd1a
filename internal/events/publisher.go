// Package events carries finalized exam results out of the session engine.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// EventSessionFinalized is the event name attached to every published result.
const EventSessionFinalized = "session.finalized"

// ResultEvent is the envelope delivered to downstream consumers.
type ResultEvent struct {
	Event  string           `json:"event"`
	Result model.ExamResult `json:"result"`
}

// NewResultEvent wraps r in a ResultEvent.
func NewResultEvent(r *model.ExamResult) ResultEvent {
	return ResultEvent{Event: EventSessionFinalized, Result: *r}
}

// Publisher receives each finalized result once per winning finalization.
type Publisher interface {
	Publish(ctx context.Context, r *model.ExamResult) error
}

// LogPublisher writes results to the application log.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "result_log").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, r *model.ExamResult) error {
	p.log.Info().
		Str("session_id", r.SessionID.String()).
		Str("exam_id", r.ExamID.String()).
		Int("user_id", r.UserID).
		Int("attempt", r.AttemptNumber).
		Int("score", r.TotalScore).
		Int("total", r.TotalQuestions).
		Int("percentage", r.Percentage).
		Bool("passed", r.Passed).
		Bool("auto_submitted", r.AutoSubmitted).
		Msg("Exam result published")
	return nil
}

// RedisQueuePublisher hands results to the result worker through a Redis list
// so the request path never waits on the downstream sink.
type RedisQueuePublisher struct {
	rdb   *redis.Client
	queue string
}

func NewRedisQueuePublisher(rdb *redis.Client) *RedisQueuePublisher {
	return &RedisQueuePublisher{rdb: rdb, queue: config.WorkerKey.PublishResultsQueue}
}

func (p *RedisQueuePublisher) Publish(ctx context.Context, r *model.ExamResult) error {
	raw, err := json.Marshal(NewResultEvent(r))
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return p.rdb.RPush(ctx, p.queue, raw).Err()
}

// RedisChannelPublisher broadcasts results on the per-exam PubSub channel.
type RedisChannelPublisher struct {
	rdb *redis.Client
}

func NewRedisChannelPublisher(rdb *redis.Client) *RedisChannelPublisher {
	return &RedisChannelPublisher{rdb: rdb}
}

func (p *RedisChannelPublisher) Publish(ctx context.Context, r *model.ExamResult) error {
	raw, err := json.Marshal(NewResultEvent(r))
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return p.rdb.Publish(ctx, config.CacheKey.ExamResultsChannel(r.ExamID.String()), raw).Err()
}

// BodyPublisher is a transport that ships raw bodies, such as an AMQP exchange.
type BodyPublisher interface {
	Publish(body []byte) error
}

// BrokerPublisher encodes results and hands them to a BodyPublisher.
type BrokerPublisher struct {
	broker BodyPublisher
}

func NewBrokerPublisher(broker BodyPublisher) *BrokerPublisher {
	return &BrokerPublisher{broker: broker}
}

func (p *BrokerPublisher) Publish(_ context.Context, r *model.ExamResult) error {
	raw, err := json.Marshal(NewResultEvent(r))
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return p.broker.Publish(raw)
}
