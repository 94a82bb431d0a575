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

// ConsumerGroup es el grupo con el que basket consume sus comandos.
const ConsumerGroup = "basket"

var ErrUnexpectedCommand = errors.New("unexpected command type")

// BasketCommands es lo que el consumidor necesita del servicio de cestas.
type BasketCommands interface {
	ClearForOrder(ctx context.Context, env sharedEvents.IntegrationEvent, cmd sharedEvents.ClearBasketCommand) error
}

type BasketConsumer struct {
	service BasketCommands
	log     *zap.Logger
}

func NewBasketConsumer(service BasketCommands, logger *zap.Logger) *BasketConsumer {
	return &BasketConsumer{service: service, log: logger}
}

// Handle cumple bus.Handler.
func (c *BasketConsumer) Handle(ctx context.Context, env sharedEvents.IntegrationEvent) error {
	if env.Type != sharedEvents.ClearBasketCommandType {
		c.log.Warn("Unknown command type", zap.String("type", env.Type), zap.String("event_id", env.ID))
		return sharedBus.Permanent(fmt.Errorf("%w: %s", ErrUnexpectedCommand, env.Type))
	}

	err := sharedUtils.DecodeAndHandle(c.log, env, func(cmd sharedEvents.ClearBasketCommand) error {
		return c.service.ClearForOrder(ctx, env, cmd)
	})
	if errors.Is(err, sharedEvents.ErrMalformedEvent) {
		return sharedBus.Permanent(err)
	}
	if err != nil {
		c.log.Warn("Failed to clear basket",
			zap.String("event_id", env.ID),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err),
		)
	}
	return err
}

// Run suscribe el consumidor al topic de comandos hasta que se cancela ctx.
func (c *BasketConsumer) Run(ctx context.Context, sub sharedBus.Subscriber) error {
	return sub.Subscribe(ctx, sharedEvents.BasketCommandsTopic, ConsumerGroup, c.Handle)
}
