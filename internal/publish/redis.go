package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/juny6654/longplan/internal/circuitbreaker"
	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/metrics"
)

// RedisPublisher appends each plan as one JSON entry on a Redis stream,
// approximately trimmed to a bounded length. A circuit breaker wraps the
// stream: when Redis is down plans are shed immediately instead of costing
// a network timeout on every cycle.
type RedisPublisher struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

func NewRedisPublisher(url, stream string, logger *slog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger = logger.With("component", "publish", "transport", transportRedis)
	logger.Info("plan stream publisher ready", "stream", stream)

	return &RedisPublisher{
		client: client,
		stream: stream,
		maxLen: defaultStreamMaxLen,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			OnStateChange: func(from, to circuitbreaker.State) {
				metrics.PublishBreakerTransitions.WithLabelValues(to.String()).Inc()
				logger.Warn("plan stream breaker state changed",
					"from", from.String(),
					"to", to.String(),
				)
			},
		}),
		logger: logger,
	}, nil
}

func (p *RedisPublisher) Accept(ctx context.Context, plan model.Plan) error {
	if err := p.breaker.Allow(); err != nil {
		metrics.PublishSkippedTotal.WithLabelValues(transportRedis).Inc()
		return nil
	}

	start := time.Now()

	payload, err := json.Marshal(plan)
	if err != nil {
		metrics.PublishErrors.WithLabelValues(transportRedis).Inc()
		return fmt.Errorf("marshal plan: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{"plan": payload},
	}).Err()
	if err != nil {
		p.breaker.RecordFailure()
		metrics.PublishErrors.WithLabelValues(transportRedis).Inc()
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}

	p.breaker.RecordSuccess()
	metrics.PublishedPlansTotal.WithLabelValues(transportRedis).Inc()
	metrics.PublishLatency.WithLabelValues(transportRedis).Observe(time.Since(start).Seconds())
	return nil
}

func (p *RedisPublisher) Name() string {
	return transportRedis
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
