package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/basket/domain"
	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/cache"
)

const (
	aggregateType = "basket"
	serviceName   = "basket"
)

type UpsertItem struct {
	BookID    uuid.UUID       `json:"bookId" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// UpsertRequest es el contenido completo de una cesta.
type UpsertRequest struct {
	BuyerID uuid.UUID    `json:"buyerId" binding:"required"`
	Items   []UpsertItem `json:"items" binding:"dive"`
}

// BasketService define los casos de uso de la cesta.
type BasketService struct {
	repo     domain.BasketRepository
	cache    cache.Cache
	registry sharedEvents.Registry
	cacheTTL time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewBasketService constructor. cache puede ser nil.
func NewBasketService(repo domain.BasketRepository, c cache.Cache, registry sharedEvents.Registry, cacheTTL time.Duration, log *zap.Logger) *BasketService {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &BasketService{
		repo:     repo,
		cache:    c,
		registry: registry,
		cacheTTL: cacheTTL,
		log:      log,
		now:      time.Now,
	}
}

// Upsert reemplaza el contenido de la cesta id.
func (s *BasketService) Upsert(ctx context.Context, id uuid.UUID, req UpsertRequest) (*domain.Basket, error) {
	b := &domain.Basket{
		ID:        id,
		BuyerID:   req.BuyerID,
		Items:     make([]domain.BasketItem, 0, len(req.Items)),
		UpdatedAt: s.now().UTC(),
	}
	for _, it := range req.Items {
		b.Items = append(b.Items, domain.BasketItem{BookID: it.BookID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, b); err != nil {
		return nil, err
	}
	cache.Invalidate(ctx, s.cache, domain.CacheKeyByID(id), s.log)
	return b, nil
}

// Get devuelve la cesta, primero desde caché.
func (s *BasketService) Get(ctx context.Context, id uuid.UUID) (*domain.Basket, error) {
	key := domain.CacheKeyByID(id)
	if s.cache != nil {
		var cached domain.Basket
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		} else if found {
			return &cached, nil
		}
	}

	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cache.AsyncCacheSet(s.cache, key, b, s.cacheTTL, s.log)
	return b, nil
}

func (s *BasketService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	cache.Invalidate(ctx, s.cache, domain.CacheKeyByID(id), s.log)
	return nil
}

// ClearForOrder atiende un ClearBasket: vacía la cesta y contesta con
// BasketClearComplete, o con BasketClearFailed si no hay cesta que vaciar.
// Un comando repetido para un pedido ya atendido vuelve a contestar Complete.
func (s *BasketService) ClearForOrder(ctx context.Context, env sharedEvents.IntegrationEvent, cmd sharedEvents.ClearBasketCommand) error {
	decision, err := s.repo.Clear(ctx, cmd.OrderID, cmd.BasketID, func(prev *domain.Clearance, basket *domain.Basket) (domain.ClearDecision, []sharedDomain.OutboxEvent, error) {
		d := domain.DecideClear(cmd.OrderID, cmd.BasketID, prev, basket, s.now())
		row, err := s.reply(env, cmd, d)
		if err != nil {
			return d, nil, err
		}
		return d, []sharedDomain.OutboxEvent{row}, nil
	})
	if err != nil {
		return err
	}

	cache.Invalidate(ctx, s.cache, domain.CacheKeyByID(cmd.BasketID), s.log)
	if decision.Cleared {
		s.log.Info("🧺 Cesta vaciada",
			zap.String("order_id", cmd.OrderID.String()),
			zap.String("basket_id", cmd.BasketID.String()),
			zap.String("total", decision.Total.StringFixed(2)),
		)
	} else {
		s.log.Warn("Basket clear failed",
			zap.String("order_id", cmd.OrderID.String()),
			zap.String("basket_id", cmd.BasketID.String()),
			zap.String("reason", decision.Reason),
		)
	}
	return nil
}

func (s *BasketService) reply(env sharedEvents.IntegrationEvent, cmd sharedEvents.ClearBasketCommand, d domain.ClearDecision) (sharedDomain.OutboxEvent, error) {
	var (
		out sharedEvents.IntegrationEvent
		err error
	)
	if d.Cleared {
		out, err = sharedEvents.NewIntegrationEvent(sharedEvents.BasketClearCompleteType, cmd.OrderID.String(),
			sharedEvents.BasketClearComplete{OrderID: cmd.OrderID, BasketID: cmd.BasketID, TotalAmount: d.Total})
	} else {
		out, err = sharedEvents.NewIntegrationEvent(sharedEvents.BasketClearFailedType, cmd.OrderID.String(),
			sharedEvents.BasketClearFailed{OrderID: cmd.OrderID, BasketID: cmd.BasketID, TotalAmount: d.Total, Reason: d.Reason})
	}
	if err != nil {
		return sharedDomain.OutboxEvent{}, err
	}
	out = out.WithConversation(env.ConversationID).WithSource(serviceName)
	return sharedDomain.NewOutboxEvent(aggregateType, cmd.BasketID.String(), out, s.registry)
}
