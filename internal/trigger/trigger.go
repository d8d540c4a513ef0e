// Package trigger delivers object-created events from the ingress side
// to the compute worker over a redis list. Delivery is at least once:
// the worker must tolerate duplicate and stale events.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/pokefantasia/pkg/variant"
)

// Event describes one object written to a source bucket.
type Event struct {
	Class    variant.BackendClass `json:"backend_class"`
	Key      string               `json:"key"`
	Metadata map[string]string    `json:"metadata,omitempty"`
}

// Handler consumes one delivered event. Returning an error only causes
// the consumer to log it; the event is not redelivered by the consumer
// itself.
type Handler interface {
	HandleObjectCreated(ctx context.Context, class variant.BackendClass, key string, metadata map[string]string) error
}

// Publisher pushes events onto the delivery queue.
type Publisher struct {
	client *redis.Client
	queue  string
}

func NewPublisher(client *redis.Client, queue string) *Publisher {
	return &Publisher{client: client, queue: queue}
}

// Publish enqueues one event. The queue preserves arrival order but the
// consumer side makes no ordering promises beyond that.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode trigger event: %w", err)
	}
	if err := p.client.LPush(ctx, p.queue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue trigger event: %w", err)
	}
	return nil
}

// Consumer pops events off the delivery queue and hands them to a
// Handler, paced by a rate limiter.
type Consumer struct {
	client      *redis.Client
	queue       string
	handler     Handler
	limiter     *rate.Limiter
	pollTimeout time.Duration
	logger      *zap.Logger
}

// ConsumerConfig holds the consumer knobs. MaxPerSecond <= 0 disables
// pacing.
type ConsumerConfig struct {
	Queue        string
	PollTimeout  time.Duration
	MaxPerSecond float64
}

func NewConsumer(client *redis.Client, cfg ConsumerConfig, handler Handler, logger *zap.Logger) *Consumer {
	limit := rate.Inf
	if cfg.MaxPerSecond > 0 {
		limit = rate.Limit(cfg.MaxPerSecond)
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Consumer{
		client:      client,
		queue:       cfg.Queue,
		handler:     handler,
		limiter:     rate.NewLimiter(limit, 1),
		pollTimeout: poll,
		logger:      logger,
	}
}

// Run blocks consuming events until ctx is cancelled. Redis outages are
// logged and retried; handler errors are logged and the loop continues.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("trigger consumer started", zap.String("queue", c.queue))
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		res, err := c.client.BRPop(ctx, c.pollTimeout, c.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("trigger queue poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
			c.logger.Error("discarding malformed trigger event", zap.Error(err))
			continue
		}

		if err := c.handler.HandleObjectCreated(ctx, ev.Class, ev.Key, ev.Metadata); err != nil {
			c.logger.Error("trigger event handling failed",
				zap.String("class", string(ev.Class)),
				zap.String("key", ev.Key),
				zap.Error(err))
		}
	}
}
