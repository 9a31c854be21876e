package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker relays envelopes over a single Redis pub/sub channel.
type RedisBroker struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisBroker connects to redisURL and pings it.
func NewRedisBroker(ctx context.Context, redisURL, channel string, logger *zap.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedisBroker(ctx, redis.NewClient(opt), channel, logger)
}

func newRedisBroker(ctx context.Context, client *redis.Client, channel string, logger *zap.Logger) (*RedisBroker, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisBroker{
		client:  client,
		channel: channel,
		logger:  logger.Named("redis_broker"),
	}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to redis channel: %w", err)
	}
	b.logger.Info("subscribed", zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis pubsub channel closed")
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("failed to decode envelope", zap.Error(err))
				continue
			}
			deliver(env)
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
