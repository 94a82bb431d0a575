package integration

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	// --- Basket ---
	basketApp "github.com/davicafu/bookflow/internal/basket/application"
	basketDomain "github.com/davicafu/bookflow/internal/basket/domain"
	basketEvents "github.com/davicafu/bookflow/internal/basket/infra/inbound/events"
	basketSqlstore "github.com/davicafu/bookflow/internal/basket/infra/outbound/db/sqlstore"

	// --- Finance ---
	sagaApp "github.com/davicafu/bookflow/internal/fulfillment/application"
	sagaDomain "github.com/davicafu/bookflow/internal/fulfillment/domain"
	sagaEvents "github.com/davicafu/bookflow/internal/fulfillment/infra/inbound/events"
	sagaSqlstore "github.com/davicafu/bookflow/internal/fulfillment/infra/outbound/db/sqlstore"

	// --- Ordering ---
	orderApp "github.com/davicafu/bookflow/internal/order/application"
	orderDomain "github.com/davicafu/bookflow/internal/order/domain"
	orderEvents "github.com/davicafu/bookflow/internal/order/infra/inbound/events"
	orderSqlstore "github.com/davicafu/bookflow/internal/order/infra/outbound/db/sqlstore"
	"github.com/davicafu/bookflow/internal/order/infra/outbound/pricing"

	// --- Compartido ---
	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	infraEvents "github.com/davicafu/bookflow/internal/shared/infra/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/db/sqldb"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/lock"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/workers"
	"github.com/davicafu/bookflow/internal/shared/infra/relayer"
	"github.com/davicafu/bookflow/internal/shared/infra/utils"
)

var bookID = uuid.MustParse("9b2f6a4e-3c1d-4e8f-a0b7-5d6c7e8f9a01")

// system levanta ordering, basket y finance sobre una base y un bus en memoria.
type system struct {
	orders  *orderApp.OrderService
	baskets *basketApp.BasketService
	sagas   *sagaApp.SagaRuntime
}

func startSystem(t *testing.T, db *sqldb.DB) *system {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	log := zap.NewNop()

	require.NoError(t, sqldb.InitSharedSchema(ctx, db))
	require.NoError(t, orderSqlstore.InitSchema(ctx, db))
	require.NoError(t, basketSqlstore.InitSchema(ctx, db))
	require.NoError(t, sagaSqlstore.InitSchema(ctx, db))

	registry := sharedEvents.NewFulfillmentRegistry()
	outbox := sqldb.NewOutboxRepo(db)
	inbox := sqldb.NewInbox(db)

	policy := sharedBus.DeliveryPolicy{
		MaxDeliveries:  20,
		Backoff:        utils.FixedBackoff(10 * time.Millisecond),
		HandlerTimeout: 5 * time.Second,
	}
	bus := infraEvents.NewInMemoryEventBus(4, policy, sqldb.NewDeadLetterStore(db), log)

	// Ordering
	store := orderSqlstore.NewEventStore(db, outbox)
	views := orderSqlstore.NewViewStore(db)
	prices, err := pricing.NewPriceList(map[string]string{bookID.String(): "12.50"})
	require.NoError(t, err)
	orders := orderApp.NewOrderService(store, views, prices, lock.NewMemoryLocker(), nil, registry, orderApp.Options{}, log)
	daemon := orderApp.NewProjectionDaemon(store, orderSqlstore.NewProjectionFaults(db),
		orderApp.DaemonOptions{Interval: 20 * time.Millisecond}, log,
		orderApp.NewOrderViewProjection(views, nil, log))

	// Basket
	baskets := basketApp.NewBasketService(basketSqlstore.NewBasketRepo(db, outbox), nil, registry, time.Minute, log)

	// Finance
	exec := workers.NewKeyedExecutor(4, 16)
	sagas := sagaApp.NewSagaRuntime(sagaSqlstore.NewSagaRepo(db, outbox, inbox), exec, registry, sagaApp.Options{
		Policy: sagaDomain.RetryPolicy{
			MaxAttempts:     3,
			MaxRetryTimeout: time.Minute,
			Backoff:         utils.FixedBackoff(time.Second),
		},
		SweepInterval: 50 * time.Millisecond,
	}, log)

	worker := relayer.NewOutboxWorker(outbox, bus, registry, relayer.Options{
		Interval:     20 * time.Millisecond,
		BatchSize:    50,
		DrainTimeout: time.Second,
	}, log)

	orderConsumer := orderEvents.NewOrderConsumer(orders, log)
	basketConsumer := basketEvents.NewBasketConsumer(baskets, log)
	sagaConsumer := sagaEvents.NewSagaConsumer(sagas.Handle, log)

	tasks := []func(ctx context.Context) error{
		worker.Run,
		daemon.Run,
		sagas.RunSweeper,
		func(ctx context.Context) error { return orderConsumer.Run(ctx, bus) },
		func(ctx context.Context) error { return basketConsumer.Run(ctx, bus) },
	}
	for _, topic := range sagaEvents.Topics {
		tasks = append(tasks, func(ctx context.Context) error { return sagaConsumer.Run(ctx, bus, topic) })
	}

	var wg sync.WaitGroup
	for _, run := range tasks {
		wg.Add(1)
		go func(run func(ctx context.Context) error) {
			defer wg.Done()
			_ = run(ctx)
		}(run)
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		exec.Close()
	})

	return &system{orders: orders, baskets: baskets, sagas: sagas}
}

func checkout(t *testing.T, s *system, basketID uuid.UUID) uuid.UUID {
	t.Helper()
	order, created, err := s.orders.Checkout(context.Background(), orderApp.CheckoutRequest{
		BuyerID:    uuid.New(),
		BasketID:   basketID,
		BuyerName:  "Ana Lector",
		BuyerEmail: "ana@example.com",
		Items:      []orderApp.CheckoutItem{{BookID: bookID, Quantity: 2}},
	})
	require.NoError(t, err)
	require.True(t, created)
	return order.ID
}

func waitArchived(t *testing.T, s *system, orderID uuid.UUID) *sagaDomain.ArchiveRecord {
	t.Helper()
	var rec *sagaDomain.ArchiveRecord
	require.Eventually(t, func() bool {
		status, err := s.sagas.Get(context.Background(), orderID)
		if err != nil || status.Archive == nil {
			return false
		}
		rec = status.Archive
		return true
	}, 10*time.Second, 20*time.Millisecond, "la saga debería terminar y archivarse")
	return rec
}

func waitOrderStatus(t *testing.T, s *system, orderID uuid.UUID, want orderDomain.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		view, err := s.orders.GetOrder(context.Background(), orderID)
		return err == nil && view.Status == want
	}, 10*time.Second, 20*time.Millisecond, "el pedido debería quedar en %s", want)
}

func runHappyPath(t *testing.T, db *sqldb.DB) {
	s := startSystem(t, db)
	ctx := context.Background()

	basketID := uuid.New()
	_, err := s.baskets.Upsert(ctx, basketID, basketApp.UpsertRequest{
		BuyerID: uuid.New(),
		Items:   []basketApp.UpsertItem{{BookID: bookID, Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")}},
	})
	require.NoError(t, err)

	orderID := checkout(t, s, basketID)

	rec := waitArchived(t, s, orderID)
	assert.Equal(t, sagaDomain.StateCompleted, rec.FinalState)
	waitOrderStatus(t, s, orderID, orderDomain.StatusCompleted)

	_, err = s.baskets.Get(ctx, basketID)
	assert.True(t, errors.Is(err, basketDomain.ErrBasketNotFound), "la cesta debería haberse vaciado")
}

func runMissingBasket(t *testing.T, db *sqldb.DB) {
	s := startSystem(t, db)

	orderID := checkout(t, s, uuid.New())

	rec := waitArchived(t, s, orderID)
	assert.Equal(t, sagaDomain.StateCancelled, rec.FinalState)
	waitOrderStatus(t, s, orderID, orderDomain.StatusCancelled)
}

func openSQLite(t *testing.T) *sqldb.DB {
	db, err := sqldb.Open(context.Background(), sqldb.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// openPostgres se conecta a DATABASE_URL o salta el test.
func openPostgres(t *testing.T) *sqldb.DB {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		t.Skip("DATABASE_URL no está configurada, saltando test de integración con Postgres")
	}
	db, err := sqldb.Open(context.Background(), sqldb.Postgres, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFulfillmentSQLite_CheckoutCompletesOrder(t *testing.T) {
	runHappyPath(t, openSQLite(t))
}

func TestFulfillmentSQLite_MissingBasketCancelsOrder(t *testing.T) {
	runMissingBasket(t, openSQLite(t))
}

func TestFulfillmentPostgres_CheckoutCompletesOrder(t *testing.T) {
	runHappyPath(t, openPostgres(t))
}

func TestFulfillmentPostgres_MissingBasketCancelsOrder(t *testing.T) {
	runMissingBasket(t, openPostgres(t))
}
