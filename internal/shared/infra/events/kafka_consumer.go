package events

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
)

// KafkaConsumer es el "oído" que escucha en Kafka. Confirma el offset solo
// cuando el handler terminó bien o el mensaje se mandó a <topic>.dlq.
type KafkaConsumer struct {
	brokers []string
	dlq     *kafka.Writer
	policy  sharedBus.DeliveryPolicy
	log     *zap.Logger
}

func NewKafkaConsumer(brokers []string, dlq *kafka.Writer, policy sharedBus.DeliveryPolicy, log *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{brokers: brokers, dlq: dlq, policy: policy, log: log}
}

// Subscribe bloquea consumiendo topic hasta que se cancela ctx.
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic, group string, handler sharedBus.Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	c.log.Info("🎧 Iniciando consumidor de Kafka...",
		zap.String("topic", topic),
		zap.String("group", group),
		zap.Strings("brokers", c.brokers),
	)

	for {
		// FetchMessage no confirma el offset: lo hacemos tras procesar.
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			// Si el contexto se cancela, el error es normal y salimos limpiamente.
			if ctx.Err() != nil {
				c.log.Info("Consumidor de Kafka detenido.", zap.String("topic", topic))
				return nil
			}
			return err
		}

		if err := c.process(ctx, topic, group, msg, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Sin commit: el mensaje se volverá a leer tras el reinicio.
			return err
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *KafkaConsumer) process(ctx context.Context, topic, group string, msg kafka.Message, handler sharedBus.Handler) error {
	env, err := sharedEvents.Unmarshal(msg.Value)
	if err != nil {
		return c.deadLetter(ctx, topic, group, msg, err, 0)
	}

	attempts, err := sharedBus.Deliver(ctx, c.policy, env, handler)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.deadLetter(ctx, topic, group, msg, err, attempts)
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, topic, group string, msg kafka.Message, cause error, attempts int) error {
	c.log.Error("☠️ Mensaje enviado a dead-letter",
		zap.String("topic", topic),
		zap.String("group", group),
		zap.Int("attempts", attempts),
		zap.Int64("offset", msg.Offset),
		zap.ByteString("payload", msg.Value),
		zap.Error(cause),
	)
	if c.dlq == nil {
		return errors.New("kafka dead-letter writer not configured")
	}
	return c.dlq.WriteMessages(ctx, deadLetterMessage(topic, group, msg, cause))
}

// deadLetterMessage copia las cabeceras: msg.Headers pertenece al reader.
func deadLetterMessage(topic, group string, msg kafka.Message, cause error) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+2)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq-group", Value: []byte(group)},
		kafka.Header{Key: "dlq-reason", Value: []byte(cause.Error())},
	)
	return kafka.Message{
		Topic:   topic + ".dlq",
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

var _ sharedBus.Subscriber = (*KafkaConsumer)(nil)
