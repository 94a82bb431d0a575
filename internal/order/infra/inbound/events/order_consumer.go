package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
	sharedUtils "github.com/davicafu/bookflow/internal/shared/infra/utils"
)

// ConsumerGroup es el grupo con el que ordering consume sus comandos.
const ConsumerGroup = "ordering"

// ErrUnexpectedCommand se devuelve para tipos que ordering no atiende.
var ErrUnexpectedCommand = errors.New("unexpected command type")

// OrderCommands es lo que el consumidor necesita del servicio de pedidos.
type OrderCommands interface {
	HandleSettle(ctx context.Context, env sharedEvents.IntegrationEvent, cmd sharedEvents.SettleOrderCommand) error
	HandleCancel(ctx context.Context, env sharedEvents.IntegrationEvent, cmd sharedEvents.CancelOrderCommand) error
}

// OrderConsumer atiende los comandos que la saga envía a ordering.
type OrderConsumer struct {
	service OrderCommands
	log     *zap.Logger
}

func NewOrderConsumer(service OrderCommands, logger *zap.Logger) *OrderConsumer {
	return &OrderConsumer{service: service, log: logger}
}

// Handle cumple bus.Handler.
func (c *OrderConsumer) Handle(ctx context.Context, env sharedEvents.IntegrationEvent) error {
	var err error
	switch env.Type {
	case sharedEvents.SettleOrderCommandType:
		err = sharedUtils.DecodeAndHandle(c.log, env, func(cmd sharedEvents.SettleOrderCommand) error {
			return c.service.HandleSettle(ctx, env, cmd)
		})
	case sharedEvents.CancelOrderCommandType:
		err = sharedUtils.DecodeAndHandle(c.log, env, func(cmd sharedEvents.CancelOrderCommand) error {
			return c.service.HandleCancel(ctx, env, cmd)
		})
	default:
		c.log.Warn("Unknown command type", zap.String("type", env.Type), zap.String("event_id", env.ID))
		return sharedBus.Permanent(fmt.Errorf("%w: %s", ErrUnexpectedCommand, env.Type))
	}

	if errors.Is(err, sharedEvents.ErrMalformedEvent) {
		return sharedBus.Permanent(err)
	}
	if err != nil {
		c.log.Warn("Failed to process order command",
			zap.String("event_id", env.ID),
			zap.String("type", env.Type),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err),
		)
		return err
	}
	c.log.Info("📦 Comando de pedido procesado",
		zap.String("type", env.Type),
		zap.String("correlation_id", env.CorrelationID),
	)
	return nil
}

// Run suscribe el consumidor al topic de comandos hasta que se cancela ctx.
func (c *OrderConsumer) Run(ctx context.Context, sub sharedBus.Subscriber) error {
	return sub.Subscribe(ctx, sharedEvents.OrderingCommandsTopic, ConsumerGroup, c.Handle)
}
