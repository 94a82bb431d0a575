package events

import (
	"context"

	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
)

// ConsumerGroup es el grupo con el que finance consume los eventos de los demás servicios.
const ConsumerGroup = "finance"

// Topics son los topics de los que se alimenta la saga.
var Topics = []string{sharedEvents.OrderingEventsTopic, sharedEvents.BasketEventsTopic}

// SagaConsumer conecta el bus con el runtime de la saga.
type SagaConsumer struct {
	handler sharedBus.Handler
	log     *zap.Logger
}

func NewSagaConsumer(handler sharedBus.Handler, logger *zap.Logger) *SagaConsumer {
	return &SagaConsumer{handler: handler, log: logger}
}

// Run suscribe el consumidor a topic hasta que se cancela ctx. Se lanza una
// tarea supervisada por cada topic de Topics.
func (c *SagaConsumer) Run(ctx context.Context, sub sharedBus.Subscriber, topic string) error {
	c.log.Info("📥 Saga consumer subscribed", zap.String("topic", topic), zap.String("group", ConsumerGroup))
	return sub.Subscribe(ctx, topic, ConsumerGroup, c.handler)
}
