package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
	"github.com/davicafu/bookflow/internal/shared/infra/utils"
)

// ErrPublishNacked indica que el broker rechazó el mensaje (publisher confirm negativo).
var ErrPublishNacked = errors.New("rabbitmq nacked publish")

// DialRabbitMQ abre la conexión reintentando mientras el broker arranca.
func DialRabbitMQ(ctx context.Context, url string, log *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	err := utils.Retry(ctx, 10, 2*time.Second, func() error {
		var err error
		conn, err = amqp.Dial(url)
		if err != nil {
			log.Warn("Failed to connect to RabbitMQ, retrying...", zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
}

// RabbitMQPublisher publica en un exchange de tipo topic usando el topic del
// bus como routing key. Publish solo devuelve nil tras el confirm del broker.
type RabbitMQPublisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	log      *zap.Logger
}

func NewRabbitMQPublisher(conn *amqp.Connection, exchange string, log *zap.Logger) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return &RabbitMQPublisher{channel: ch, exchange: exchange, log: log}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, topic string, event sharedEvents.IntegrationEvent) error {
	body, err := sharedEvents.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		p.exchange, // exchange
		topic,      // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			MessageId:     event.ID,
			Type:          event.Type,
			CorrelationId: event.CorrelationID,
			Timestamp:     event.Timestamp,
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Persistent,
		})
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrPublishNacked, event.ID)
	}

	p.log.Debug("[RabbitMQ] Published message", zap.String("event_id", event.ID), zap.String("topic", topic))
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	return p.channel.Close()
}

// RabbitMQConsumer declara una cola durable por (topic, grupo) enlazada al
// exchange y confirma manualmente cada mensaje.
type RabbitMQConsumer struct {
	conn     *amqp.Connection
	exchange string
	prefetch int
	policy   sharedBus.DeliveryPolicy
	log      *zap.Logger
}

func NewRabbitMQConsumer(conn *amqp.Connection, exchange string, prefetch int, policy sharedBus.DeliveryPolicy, log *zap.Logger) *RabbitMQConsumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &RabbitMQConsumer{conn: conn, exchange: exchange, prefetch: prefetch, policy: policy, log: log}
}

func (c *RabbitMQConsumer) Subscribe(ctx context.Context, topic, group string, handler sharedBus.Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	queue := topic + "." + group
	dlqKey := topic + ".dlq"
	if err := c.declare(ch, queue, topic, dlqKey); err != nil {
		return err
	}

	deliveries, err := ch.Consume(
		queue, // queue
		group, // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.log.Info("🎧 Iniciando consumidor de RabbitMQ...", zap.String("queue", queue))

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Consumidor de RabbitMQ detenido.", zap.String("queue", queue))
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed for %s", queue)
			}
			if err := c.process(ctx, ch, topic, group, dlqKey, d, handler); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) declare(ch *amqp.Channel, queue, topic, dlqKey string) error {
	if err := declareExchange(ch, c.exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	for _, q := range []struct{ name, key string }{{queue, topic}, {dlqKey, dlqKey}} {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
		if err := ch.QueueBind(q.name, q.key, c.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", q.name, err)
		}
	}
	return ch.Qos(c.prefetch, 0, false)
}

func (c *RabbitMQConsumer) process(ctx context.Context, ch *amqp.Channel, topic, group, dlqKey string, d amqp.Delivery, handler sharedBus.Handler) error {
	env, err := sharedEvents.Unmarshal(d.Body)
	attempts := 0
	if err == nil {
		attempts, err = sharedBus.Deliver(ctx, c.policy, env, handler)
		if err == nil {
			return d.Ack(false)
		}
		if ctx.Err() != nil {
			// devolvemos el mensaje a la cola para otro consumidor
			_ = d.Nack(false, true)
			return ctx.Err()
		}
	}

	c.log.Error("☠️ Mensaje enviado a dead-letter",
		zap.String("topic", topic),
		zap.String("group", group),
		zap.String("message_id", d.MessageId),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	pubErr := ch.PublishWithContext(ctx, c.exchange, dlqKey, false, false, amqp.Publishing{
		MessageId:    d.MessageId,
		Type:         d.Type,
		ContentType:  d.ContentType,
		Body:         d.Body,
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			"x-dlq-group":  group,
			"x-dlq-reason": err.Error(),
		},
	})
	if pubErr != nil {
		_ = d.Nack(false, true)
		return fmt.Errorf("failed to dead-letter message: %w", pubErr)
	}
	return d.Ack(false)
}

var (
	_ sharedBus.EventBus   = (*RabbitMQPublisher)(nil)
	_ sharedBus.Subscriber = (*RabbitMQConsumer)(nil)
)
