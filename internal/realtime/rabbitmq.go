package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitBroker relays envelopes through a fanout exchange. Each instance
// consumes from its own exclusive, auto-deleted queue bound to the exchange.
type RabbitBroker struct {
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger

	mu  sync.Mutex
	pub *amqp.Channel
}

func NewRabbitBroker(url, exchange string, logger *zap.Logger) (*RabbitBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("exchange declare: %w", err)
	}
	return &RabbitBroker{
		conn:     conn,
		exchange: exchange,
		pub:      ch,
		logger:   logger.Named("rabbit_broker"),
	}, nil
}

func (b *RabbitBroker) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.pub.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("rabbit publish: %w", err)
	}
	return nil
}

func (b *RabbitBroker) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbit channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	b.logger.Info("consuming", zap.String("exchange", b.exchange), zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			var env Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				b.logger.Warn("bad envelope", zap.Error(err))
				continue
			}
			deliver(env)
		}
	}
}

func (b *RabbitBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.pub.Close()
	return b.conn.Close()
}
