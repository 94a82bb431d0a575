package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	stan "github.com/nats-io/stan.go"
	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
)

// ErrStanConnectionLost se devuelve cuando NATS Streaming cierra la conexión.
var ErrStanConnectionLost = errors.New("nats streaming connection lost")

// StanConnection envuelve stan.Conn y avisa cuando la conexión se pierde,
// para que las suscripciones devuelvan error y el supervisor las reinicie.
type StanConnection struct {
	conn stan.Conn
	lost chan struct{}
	log  *zap.Logger
}

// ConnectStan abre una conexión a un cluster de NATS Streaming.
func ConnectStan(clusterID, clientID, url string, log *zap.Logger) (*StanConnection, error) {
	if clientID == "" {
		clientID = fmt.Sprintf("bookflow-%d", time.Now().UnixNano())
	}
	sc := &StanConnection{lost: make(chan struct{}), log: log}
	conn, err := stan.Connect(clusterID, clientID,
		stan.NatsURL(url),
		stan.SetConnectionLostHandler(func(_ stan.Conn, reason error) {
			log.Error("NATS Streaming connection lost", zap.Error(reason))
			close(sc.lost)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS Streaming: %w", err)
	}
	sc.conn = conn
	return sc, nil
}

func (c *StanConnection) Close() error {
	return c.conn.Close()
}

// StanPublisher publica de forma síncrona: Publish espera el ack del servidor.
type StanPublisher struct {
	sc *StanConnection
}

func NewStanPublisher(sc *StanConnection) *StanPublisher {
	return &StanPublisher{sc: sc}
}

func (p *StanPublisher) Publish(ctx context.Context, topic string, event sharedEvents.IntegrationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := sharedEvents.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.sc.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// StanConsumer usa un queue group durable con ack manual. Un mensaje cuyo
// handler agota la política se reenvía a <topic>.dlq y se confirma.
type StanConsumer struct {
	sc      *StanConnection
	ackWait time.Duration
	policy  sharedBus.DeliveryPolicy
	log     *zap.Logger
}

func NewStanConsumer(sc *StanConnection, ackWait time.Duration, policy sharedBus.DeliveryPolicy, log *zap.Logger) *StanConsumer {
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	return &StanConsumer{sc: sc, ackWait: ackWait, policy: policy, log: log}
}

func (c *StanConsumer) Subscribe(ctx context.Context, topic, group string, handler sharedBus.Handler) error {
	sub, err := c.sc.conn.QueueSubscribe(topic, group, func(m *stan.Msg) {
		c.process(ctx, topic, group, m, handler)
	},
		stan.DurableName(group),
		stan.SetManualAckMode(),
		stan.AckWait(c.ackWait),
		stan.MaxInflight(1),
		stan.DeliverAllAvailable(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	c.log.Info("🎧 Iniciando consumidor de NATS Streaming...", zap.String("subject", topic), zap.String("group", group))

	select {
	case <-ctx.Done():
		// Close conserva el durable; Unsubscribe lo borraría.
		if err := sub.Close(); err != nil {
			c.log.Warn("Error closing NATS Streaming subscription", zap.Error(err))
		}
		return nil
	case <-c.sc.lost:
		return ErrStanConnectionLost
	}
}

func (c *StanConsumer) process(ctx context.Context, topic, group string, m *stan.Msg, handler sharedBus.Handler) {
	env, err := sharedEvents.Unmarshal(m.Data)
	attempts := 0
	if err == nil {
		attempts, err = sharedBus.Deliver(ctx, c.policy, env, handler)
		if err == nil {
			c.ack(m)
			return
		}
		if ctx.Err() != nil {
			// sin ack: el servidor lo reenviará tras AckWait
			return
		}
	}

	c.log.Error("☠️ Mensaje enviado a dead-letter",
		zap.String("subject", topic),
		zap.String("group", group),
		zap.Uint64("sequence", m.Sequence),
		zap.Uint32("redeliveries", m.RedeliveryCount),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	if pubErr := c.sc.conn.Publish(topic+".dlq", m.Data); pubErr != nil {
		c.log.Error("No se pudo publicar el dead-letter", zap.Error(pubErr))
		return
	}
	c.ack(m)
}

func (c *StanConsumer) ack(m *stan.Msg) {
	if err := m.Ack(); err != nil {
		c.log.Warn("ack failed", zap.Uint64("sequence", m.Sequence), zap.Error(err))
	}
}

var (
	_ sharedBus.EventBus   = (*StanPublisher)(nil)
	_ sharedBus.Subscriber = (*StanConsumer)(nil)
)
