package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"wavepick/internal/infrastructure/storage/postgres"
	"wavepick/pkg/logger"
)

const (
	defaultExchange   = "wavepick.transfers"
	defaultRoutingKey = "transfer.instruction"
)

// RabbitConfig configures the broker publisher.
type RabbitConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

func (c RabbitConfig) withDefaults() RabbitConfig {
	if c.Exchange == "" {
		c.Exchange = defaultExchange
	}
	if c.RoutingKey == "" {
		c.RoutingKey = defaultRoutingKey
	}
	return c
}

// RabbitPublisher publishes outbox messages to RabbitMQ. It implements
// postgres.OutboxHandler, so the outbox relay drives it.
type RabbitPublisher struct {
	cfg RabbitConfig

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitPublisher creates a publisher. The connection is established lazily
// on the first publish and re-established after broker restarts.
func NewRabbitPublisher(cfg RabbitConfig) *RabbitPublisher {
	return &RabbitPublisher{cfg: cfg.withDefaults()}
}

// Handle publishes one outbox message. An error leaves the message pending so
// the relay retries it with backoff.
func (p *RabbitPublisher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	ch, err := p.getChannel()
	if err != nil {
		return fmt.Errorf("rabbit channel: %w", err)
	}

	err = ch.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Type:         msg.EventType,
		Timestamp:    time.Now().UTC(),
		Body:         msg.Payload,
	})
	if err != nil {
		p.dropChannel()
		return fmt.Errorf("publish transfer instruction: %w", err)
	}

	logger.Debug(ctx, "transfer instruction published",
		"message_id", msg.ID,
		"event_type", msg.EventType,
	)
	return nil
}

// getChannel returns the open channel, dialing if needed. The exchange is
// declared once per connection.
func (p *RabbitPublisher) getChannel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}

	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p.channel = ch
	return ch, nil
}

func (p *RabbitPublisher) dropChannel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
}

// Close shuts the broker connection down.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
