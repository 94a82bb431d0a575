package events

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
)

// KafkaPublisher escribe sobres en Kafka. El writer es genérico: el topic
// viaja en cada mensaje y la clave es el id de correlación.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewKafkaPublisher(writer *kafka.Writer, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: log}
}

// NewKafkaWriter crea un writer sin topic fijo, con reparto por clave y
// confirmación de todas las réplicas.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, event sharedEvents.IntegrationEvent) error {
	data, err := sharedEvents.Marshal(event)
	if err != nil {
		return err
	}

	var key []byte
	if k := event.PartitionKey(); k != "" {
		key = []byte(k)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: data,
		Headers: []kafka.Header{
			{Key: "message-id", Value: []byte(event.ID)},
			{Key: "type", Value: []byte(event.Type)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("Error publishing to Kafka", zap.String("topic", topic), zap.Error(err))
		return err
	}

	p.log.Debug("Event published successfully",
		zap.String("topic", topic),
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
	)
	return nil
}

// Verificación estática
var _ sharedBus.EventBus = (*KafkaPublisher)(nil)
