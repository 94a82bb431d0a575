package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
)

// --- fakeOrderCommands para pruebas ---
type fakeOrderCommands struct {
	settled   []sharedEvents.SettleOrderCommand
	cancelled []sharedEvents.CancelOrderCommand
	err       error
}

func (f *fakeOrderCommands) HandleSettle(_ context.Context, _ sharedEvents.IntegrationEvent, cmd sharedEvents.SettleOrderCommand) error {
	f.settled = append(f.settled, cmd)
	return f.err
}

func (f *fakeOrderCommands) HandleCancel(_ context.Context, _ sharedEvents.IntegrationEvent, cmd sharedEvents.CancelOrderCommand) error {
	f.cancelled = append(f.cancelled, cmd)
	return f.err
}

func TestOrderConsumer_RoutesCommands(t *testing.T) {
	svc := &fakeOrderCommands{}
	c := NewOrderConsumer(svc, zap.NewNop())
	orderID := uuid.New()

	settle, err := sharedEvents.NewIntegrationEvent(sharedEvents.SettleOrderCommandType, orderID.String(),
		sharedEvents.SettleOrderCommand{OrderID: orderID, TotalAmount: decimal.RequireFromString("5.00")})
	require.NoError(t, err)
	cancel, err := sharedEvents.NewIntegrationEvent(sharedEvents.CancelOrderCommandType, orderID.String(),
		sharedEvents.CancelOrderCommand{OrderID: orderID, Reason: "timeout"})
	require.NoError(t, err)

	require.NoError(t, c.Handle(context.Background(), settle))
	require.NoError(t, c.Handle(context.Background(), cancel))

	require.Len(t, svc.settled, 1)
	assert.Equal(t, orderID, svc.settled[0].OrderID)
	require.Len(t, svc.cancelled, 1)
	assert.Equal(t, "timeout", svc.cancelled[0].Reason)
}

func TestOrderConsumer_UnknownTypeIsPermanent(t *testing.T) {
	c := NewOrderConsumer(&fakeOrderCommands{}, zap.NewNop())
	env, err := sharedEvents.NewIntegrationEvent("ordering.unknown", "x", map[string]string{})
	require.NoError(t, err)

	err = c.Handle(context.Background(), env)
	assert.True(t, sharedBus.IsPermanent(err))
	assert.ErrorIs(t, err, ErrUnexpectedCommand)
}

func TestOrderConsumer_MalformedPayloadIsPermanent(t *testing.T) {
	c := NewOrderConsumer(&fakeOrderCommands{}, zap.NewNop())
	env, err := sharedEvents.NewIntegrationEvent(sharedEvents.SettleOrderCommandType, "x", "not an object")
	require.NoError(t, err)

	err = c.Handle(context.Background(), env)
	assert.True(t, sharedBus.IsPermanent(err))
}

func TestOrderConsumer_ServiceErrorIsRetryable(t *testing.T) {
	svc := &fakeOrderCommands{err: errors.New("db down")}
	c := NewOrderConsumer(svc, zap.NewNop())
	orderID := uuid.New()
	env, err := sharedEvents.NewIntegrationEvent(sharedEvents.SettleOrderCommandType, orderID.String(),
		sharedEvents.SettleOrderCommand{OrderID: orderID})
	require.NoError(t, err)

	err = c.Handle(context.Background(), env)
	assert.Error(t, err)
	assert.False(t, sharedBus.IsPermanent(err))
}
