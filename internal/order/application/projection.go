package application

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/order/domain"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/cache"
)

// OrderViewProjectionName es el nombre con el que se guarda el checkpoint.
const OrderViewProjectionName = "order_view"

// OrderViewProjection materializa OrderView e invalida la caché del pedido.
type OrderViewProjection struct {
	views domain.OrderViewStore
	cache cache.Cache
	log   *zap.Logger
}

func NewOrderViewProjection(views domain.OrderViewStore, c cache.Cache, log *zap.Logger) *OrderViewProjection {
	return &OrderViewProjection{views: views, cache: c, log: log}
}

func (p *OrderViewProjection) Name() string { return OrderViewProjectionName }

func (p *OrderViewProjection) Checkpoint(ctx context.Context) (int64, error) {
	return p.views.Checkpoint(ctx, OrderViewProjectionName)
}

func (p *OrderViewProjection) Project(ctx context.Context, e domain.RecordedEvent) error {
	evt, err := e.Decode()
	if err != nil {
		return err
	}
	id := evt.AggregateID()

	current, err := p.views.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		return err
	}
	if current == nil && evt.EventType() != domain.OrderCreatedType {
		return fmt.Errorf("%s #%d for order %s without a prior %s", e.Type, e.GlobalSeq, id, domain.OrderCreatedType)
	}

	next, err := domain.ApplyToView(current, e)
	if err != nil {
		return err
	}
	if err := p.views.Save(ctx, OrderViewProjectionName, e.GlobalSeq, next); err != nil {
		return err
	}
	cache.Invalidate(ctx, p.cache, domain.CacheKeyByID(id), p.log)
	return nil
}

func (p *OrderViewProjection) Reset(ctx context.Context) error {
	return p.views.Reset(ctx, OrderViewProjectionName)
}

var _ domain.Projection = (*OrderViewProjection)(nil)
