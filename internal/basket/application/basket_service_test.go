package application

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/basket/domain"
	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	"github.com/davicafu/bookflow/tests/mocks"
)

func newService(t *testing.T) (*BasketService, *mocks.InMemoryBasketRepo, *mocks.DummyCache) {
	t.Helper()
	repo := mocks.NewInMemoryBasketRepo()
	c := mocks.NewDummyCache()
	return NewBasketService(repo, c, sharedEvents.NewFulfillmentRegistry(), 0, zap.NewNop()), repo, c
}

func upsertRequest() UpsertRequest {
	return UpsertRequest{
		BuyerID: uuid.New(),
		Items:   []UpsertItem{{BookID: uuid.New(), Quantity: 3, UnitPrice: decimal.RequireFromString("33.33")}},
	}
}

func clearEnvelope(t *testing.T, cmd sharedEvents.ClearBasketCommand) sharedEvents.IntegrationEvent {
	t.Helper()
	env, err := sharedEvents.NewIntegrationEvent(sharedEvents.ClearBasketCommandType, cmd.OrderID.String(), cmd)
	require.NoError(t, err)
	return env.WithConversation("conv-1")
}

func replyAt(t *testing.T, repo *mocks.InMemoryBasketRepo, i int) sharedEvents.IntegrationEvent {
	t.Helper()
	require.Greater(t, len(repo.Outbox), i)
	env, err := sharedEvents.Unmarshal(repo.Outbox[i].Payload)
	require.NoError(t, err)
	return env
}

func TestUpsertAndGet(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()
	id := uuid.New()

	b, err := svc.Upsert(ctx, id, upsertRequest())
	require.NoError(t, err)
	assert.Equal(t, "99.99", b.Total().StringFixed(2))

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, b.BuyerID, got.BuyerID)
	assert.Eventually(t, func() bool { return c.Has(domain.CacheKeyByID(id)) }, time.Second, 10*time.Millisecond)

	// la actualización invalida la caché
	_, err = svc.Upsert(ctx, id, upsertRequest())
	require.NoError(t, err)
	assert.False(t, c.Has(domain.CacheKeyByID(id)))
}

func TestUpsert_Invalid(t *testing.T) {
	svc, _, _ := newService(t)
	req := upsertRequest()
	req.Items[0].UnitPrice = decimal.NewFromInt(-5)
	_, err := svc.Upsert(context.Background(), uuid.New(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidBasket)
}

func TestDelete(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := uuid.New()
	_, err := svc.Upsert(ctx, id, upsertRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, id))
	_, err = svc.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrBasketNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, id), domain.ErrBasketNotFound)
}

func TestClearForOrder_ClearsAndIsIdempotent(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()
	basketID := uuid.New()
	_, err := svc.Upsert(ctx, basketID, upsertRequest())
	require.NoError(t, err)

	cmd := sharedEvents.ClearBasketCommand{OrderID: uuid.New(), BasketID: basketID}
	require.NoError(t, svc.ClearForOrder(ctx, clearEnvelope(t, cmd), cmd))

	_, err = svc.Get(ctx, basketID)
	assert.ErrorIs(t, err, domain.ErrBasketNotFound)

	reply := replyAt(t, repo, 0)
	assert.Equal(t, sharedEvents.BasketClearCompleteType, reply.Type)
	assert.Equal(t, "conv-1", reply.ConversationID)
	assert.Equal(t, cmd.OrderID.String(), reply.CorrelationID)
	assert.Equal(t, sharedEvents.BasketEventsTopic, repo.Outbox[0].Destination)
	done, err := sharedEvents.Decode[sharedEvents.BasketClearComplete](reply)
	require.NoError(t, err)
	assert.Equal(t, "99.99", done.TotalAmount.StringFixed(2))

	// reintento de la saga: vuelve a contestar Complete con el mismo total
	require.NoError(t, svc.ClearForOrder(ctx, clearEnvelope(t, cmd), cmd))
	assert.Equal(t, []string{sharedEvents.BasketClearCompleteType, sharedEvents.BasketClearCompleteType}, repo.OutboxTypes())
	again, err := sharedEvents.Decode[sharedEvents.BasketClearComplete](replyAt(t, repo, 1))
	require.NoError(t, err)
	assert.True(t, done.TotalAmount.Equal(again.TotalAmount))
}

func TestClearForOrder_MissingBasketFails(t *testing.T) {
	svc, repo, _ := newService(t)
	cmd := sharedEvents.ClearBasketCommand{OrderID: uuid.New(), BasketID: uuid.New()}

	require.NoError(t, svc.ClearForOrder(context.Background(), clearEnvelope(t, cmd), cmd))
	require.Equal(t, []string{sharedEvents.BasketClearFailedType}, repo.OutboxTypes())
	failed, err := sharedEvents.Decode[sharedEvents.BasketClearFailed](replyAt(t, repo, 0))
	require.NoError(t, err)
	assert.Equal(t, "basket not found", failed.Reason)
}
