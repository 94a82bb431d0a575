package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/order/domain"
	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/cache"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/lock"
	"github.com/davicafu/bookflow/internal/shared/infra/utils"
)

const (
	aggregateType = "order"
	serviceName   = "ordering"
)

// CheckoutItem es una línea pedida; el precio lo pone el catálogo.
type CheckoutItem struct {
	BookID   uuid.UUID `json:"bookId" binding:"required"`
	Quantity int       `json:"quantity" binding:"required,gt=0"`
}

// CheckoutRequest son los datos de un checkout.
type CheckoutRequest struct {
	BuyerID        uuid.UUID      `json:"buyerId" binding:"required"`
	BasketID       uuid.UUID      `json:"basketId" binding:"required"`
	BuyerName      string         `json:"buyerName" binding:"required"`
	BuyerEmail     string         `json:"buyerEmail" binding:"required,email"`
	Items          []CheckoutItem `json:"items" binding:"required,min=1,dive"`
	IdempotencyKey string         `json:"-"`
}

// Options agrupa los tiempos del servicio.
type Options struct {
	LockTTL  time.Duration
	CacheTTL time.Duration
}

// OrderService define los casos de uso del pedido.
type OrderService struct {
	store    domain.EventStore
	views    domain.OrderViewStore
	pricing  domain.PricingService
	locker   lock.Locker
	cache    cache.Cache
	registry sharedEvents.Registry
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

// NewOrderService constructor. cache puede ser nil.
func NewOrderService(
	store domain.EventStore,
	views domain.OrderViewStore,
	pricing domain.PricingService,
	locker lock.Locker,
	c cache.Cache,
	registry sharedEvents.Registry,
	opts Options,
	log *zap.Logger,
) *OrderService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	return &OrderService{
		store:    store,
		views:    views,
		pricing:  pricing,
		locker:   locker,
		cache:    c,
		registry: registry,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

func checkoutLockKey(buyerID uuid.UUID) string {
	return "checkout:" + buyerID.String()
}

// Checkout crea el pedido y deja CheckedOut en el outbox. Devuelve created=false
// si la clave de idempotencia ya había creado el pedido.
func (s *OrderService) Checkout(ctx context.Context, req CheckoutRequest) (*domain.Order, bool, error) {
	items, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return nil, false, err
	}

	var (
		order   *domain.Order
		created bool
	)
	err = lock.WithLock(ctx, s.locker, checkoutLockKey(req.BuyerID), s.opts.LockTTL, func(ctx context.Context) error {
		order, created, err = s.createOnce(ctx, req, items)
		return err
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrCheckoutInProgress, req.BuyerID)
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		s.log.Info("🛒 Pedido creado",
			zap.String("order_id", order.ID.String()),
			zap.String("buyer_id", order.BuyerID.String()),
			zap.String("total", order.Total().String()),
		)
	}
	return order, created, nil
}

func (s *OrderService) priceItems(ctx context.Context, reqItems []CheckoutItem) ([]domain.LineItem, error) {
	if len(reqItems) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", domain.ErrInvalidOrder)
	}
	items := make([]domain.LineItem, 0, len(reqItems))
	for _, it := range reqItems {
		price, err := s.pricing.PriceOf(ctx, it.BookID)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.LineItem{BookID: it.BookID, Quantity: it.Quantity, UnitPrice: price})
	}
	return items, nil
}

func (s *OrderService) createOnce(ctx context.Context, req CheckoutRequest, items []domain.LineItem) (*domain.Order, bool, error) {
	id := domain.OrderIDFor(req.BuyerID, req.BasketID, req.IdempotencyKey)
	streamID := domain.StreamID(id)

	existing, err := s.store.Load(ctx, streamID)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		o, err := domain.Rehydrate(existing)
		return o, false, err
	}

	order, err := domain.NewOrder(id, req.BuyerID, req.BasketID, req.BuyerName, req.BuyerEmail, items, s.now())
	if err != nil {
		return nil, false, err
	}

	env, err := sharedEvents.NewIntegrationEvent(sharedEvents.CheckedOutType, id.String(), sharedEvents.CheckedOut{
		OrderID:       id,
		BasketID:      req.BasketID,
		BuyerFullName: req.BuyerName,
		BuyerEmail:    req.BuyerEmail,
		TotalAmount:   order.Total(),
	})
	if err != nil {
		return nil, false, err
	}

	if err := s.persist(ctx, order, 0, env.WithSource(serviceName)); err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			// otra réplica lo creó entre Load y Append
			existing, loadErr := s.store.Load(ctx, streamID)
			if loadErr != nil {
				return nil, false, loadErr
			}
			o, rehydrateErr := domain.Rehydrate(existing)
			return o, false, rehydrateErr
		}
		return nil, false, err
	}
	return order, true, nil
}

// persist guarda los eventos pendientes y los sobres de integración en una
// sola transacción.
func (s *OrderService) persist(ctx context.Context, o *domain.Order, expectedVersion int64, envs ...sharedEvents.IntegrationEvent) error {
	pending := o.PendingEvents()
	newEvents := make([]domain.NewEvent, 0, len(pending))
	for _, e := range pending {
		ne, err := domain.EncodeEvent(e)
		if err != nil {
			return err
		}
		newEvents = append(newEvents, ne)
	}

	outbox := make([]sharedDomain.OutboxEvent, 0, len(envs))
	for _, env := range envs {
		evt, err := sharedDomain.NewOutboxEvent(aggregateType, o.ID.String(), env, s.registry)
		if err != nil {
			return err
		}
		outbox = append(outbox, evt)
	}

	if _, err := s.store.Append(ctx, domain.StreamID(o.ID), expectedVersion, newEvents, outbox...); err != nil {
		return err
	}
	o.ClearPending()
	return nil
}

func (s *OrderService) load(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	events, err := s.store.Load(ctx, domain.StreamID(id))
	if err != nil {
		return nil, err
	}
	return domain.Rehydrate(events)
}

// mutate carga el pedido, aplica fn y persiste; reintenta ante conflictos de versión.
func (s *OrderService) mutate(ctx context.Context, id uuid.UUID, fn func(o *domain.Order) ([]sharedEvents.IntegrationEvent, error)) (*domain.Order, error) {
	var order *domain.Order
	err := utils.RetryWithBackoff(ctx, 3, utils.FixedBackoff(50*time.Millisecond), func() error {
		o, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		envs, err := fn(o)
		if err != nil {
			return err
		}
		if len(o.PendingEvents()) == 0 && len(envs) == 0 {
			order = o
			return nil
		}
		if err := s.persist(ctx, o, o.Version, envs...); err != nil {
			return err
		}
		order = o
		return nil
	}, func(err error) bool { return !errors.Is(err, domain.ErrConcurrencyConflict) })
	if err != nil {
		return nil, err
	}
	cache.Invalidate(ctx, s.cache, domain.CacheKeyByID(id), s.log)
	return order, nil
}

// statusEvent construye el evento de integración que refleja el estado actual.
func statusEvent(o *domain.Order, conversationID string) (sharedEvents.IntegrationEvent, error) {
	var (
		env sharedEvents.IntegrationEvent
		err error
	)
	switch o.Status {
	case domain.StatusCompleted:
		env, err = sharedEvents.NewIntegrationEvent(sharedEvents.OrderStatusChangedToCompleteType, o.ID.String(), sharedEvents.OrderStatusChangedToComplete{
			OrderID:       o.ID,
			BasketID:      o.BasketID,
			BuyerFullName: o.BuyerName,
			BuyerEmail:    o.BuyerEmail,
			TotalAmount:   o.Total(),
		})
	case domain.StatusCancelled:
		env, err = sharedEvents.NewIntegrationEvent(sharedEvents.OrderStatusChangedToCancelType, o.ID.String(), sharedEvents.OrderStatusChangedToCancel{
			OrderID:       o.ID,
			BasketID:      o.BasketID,
			BuyerFullName: o.BuyerName,
			BuyerEmail:    o.BuyerEmail,
			TotalAmount:   o.Total(),
		})
	default:
		return env, fmt.Errorf("%w: no status event for %s", domain.ErrInvalidStatusTransition, o.Status)
	}
	if err != nil {
		return env, err
	}
	return env.WithConversation(conversationID).WithSource(serviceName), nil
}

// Complete pasa el pedido a Completed y publica OrderStatusChangedToComplete.
func (s *OrderService) Complete(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.complete(ctx, id, "")
}

// Cancel pasa el pedido a Cancelled y publica OrderStatusChangedToCancel.
func (s *OrderService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Order, error) {
	return s.cancel(ctx, id, reason, "")
}

func (s *OrderService) complete(ctx context.Context, id uuid.UUID, conversationID string) (*domain.Order, error) {
	return s.mutate(ctx, id, func(o *domain.Order) ([]sharedEvents.IntegrationEvent, error) {
		changed, err := o.Complete(s.now())
		if err != nil || !changed {
			return nil, err
		}
		env, err := statusEvent(o, conversationID)
		if err != nil {
			return nil, err
		}
		return []sharedEvents.IntegrationEvent{env}, nil
	})
}

func (s *OrderService) cancel(ctx context.Context, id uuid.UUID, reason, conversationID string) (*domain.Order, error) {
	return s.mutate(ctx, id, func(o *domain.Order) ([]sharedEvents.IntegrationEvent, error) {
		changed, err := o.Cancel(reason, s.now())
		if err != nil || !changed {
			return nil, err
		}
		env, err := statusEvent(o, conversationID)
		if err != nil {
			return nil, err
		}
		return []sharedEvents.IntegrationEvent{env}, nil
	})
}

// Delete hace un borrado lógico del pedido.
func (s *OrderService) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.mutate(ctx, id, func(o *domain.Order) ([]sharedEvents.IntegrationEvent, error) {
		o.Delete(s.now())
		return nil, nil
	})
	return err
}

// HandleSettle procesa el comando finalize-order de la saga. Si el pedido ya
// está en un estado final se vuelve a emitir ese estado para que la saga cierre.
func (s *OrderService) HandleSettle(ctx context.Context, env sharedEvents.IntegrationEvent, cmd sharedEvents.SettleOrderCommand) error {
	_, err := s.mutate(ctx, cmd.OrderID, func(o *domain.Order) ([]sharedEvents.IntegrationEvent, error) {
		if o.Status == domain.StatusNew {
			if !o.Total().Equal(cmd.TotalAmount) {
				s.log.Warn("⚠️ Importe del comando distinto al del pedido",
					zap.String("order_id", o.ID.String()),
					zap.String("order_total", o.Total().String()),
					zap.String("command_total", cmd.TotalAmount.String()),
				)
			}
			if _, err := o.Complete(s.now()); err != nil {
				return nil, err
			}
		}
		return s.reemit(o, env.ConversationID)
	})
	return err
}

// HandleCancel procesa la compensación enviada por la saga.
func (s *OrderService) HandleCancel(ctx context.Context, env sharedEvents.IntegrationEvent, cmd sharedEvents.CancelOrderCommand) error {
	_, err := s.mutate(ctx, cmd.OrderID, func(o *domain.Order) ([]sharedEvents.IntegrationEvent, error) {
		if o.Status == domain.StatusNew {
			if _, err := o.Cancel(cmd.Reason, s.now()); err != nil {
				return nil, err
			}
		}
		return s.reemit(o, env.ConversationID)
	})
	return err
}

func (s *OrderService) reemit(o *domain.Order, conversationID string) ([]sharedEvents.IntegrationEvent, error) {
	if len(o.PendingEvents()) == 0 {
		s.log.Info("🔁 Pedido ya en estado final, se reenvía el estado",
			zap.String("order_id", o.ID.String()),
			zap.String("status", string(o.Status)),
		)
	}
	env, err := statusEvent(o, conversationID)
	if err != nil {
		return nil, err
	}
	return []sharedEvents.IntegrationEvent{env}, nil
}

// GetOrder devuelve la vista del pedido (primero intenta desde cache). Si la
// proyección aún no la tiene se construye desde el event store. Los pedidos
// borrados se tratan como inexistentes.
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.OrderView, error) {
	key := domain.CacheKeyByID(id)

	// 1. Intentar cache
	if s.cache != nil {
		var v domain.OrderView
		if ok, _ := s.cache.Get(ctx, key, &v); ok {
			return &v, nil
		}
	}

	// 2. Modelo de lectura
	view, err := s.views.Get(ctx, id)
	if err == nil {
		if view.DeletedAt != nil {
			return nil, domain.ErrOrderNotFound
		}
		cache.AsyncCacheSet(s.cache, key, view, s.opts.CacheTTL, s.log)
		return view, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return nil, err
	}

	// 3. La proyección va por detrás: se lee el stream (sin cachear)
	events, err := s.store.Load(ctx, domain.StreamID(id))
	if err != nil {
		return nil, err
	}
	view, err = domain.BuildView(events)
	if err != nil {
		return nil, err
	}
	if view.DeletedAt != nil {
		return nil, domain.ErrOrderNotFound
	}
	return view, nil
}
