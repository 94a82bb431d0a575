package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	basketApp "github.com/davicafu/bookflow/internal/basket/application"
	basketEvents "github.com/davicafu/bookflow/internal/basket/infra/inbound/events"
	basketHttp "github.com/davicafu/bookflow/internal/basket/infra/inbound/http"
	basketSqlstore "github.com/davicafu/bookflow/internal/basket/infra/outbound/db/sqlstore"
	sagaApp "github.com/davicafu/bookflow/internal/fulfillment/application"
	sagaDomain "github.com/davicafu/bookflow/internal/fulfillment/domain"
	sagaEvents "github.com/davicafu/bookflow/internal/fulfillment/infra/inbound/events"
	sagaHttp "github.com/davicafu/bookflow/internal/fulfillment/infra/inbound/http"
	sagaSqlstore "github.com/davicafu/bookflow/internal/fulfillment/infra/outbound/db/sqlstore"
	orderApp "github.com/davicafu/bookflow/internal/order/application"
	orderDomain "github.com/davicafu/bookflow/internal/order/domain"
	orderEvents "github.com/davicafu/bookflow/internal/order/infra/inbound/events"
	orderHttp "github.com/davicafu/bookflow/internal/order/infra/inbound/http"
	"github.com/davicafu/bookflow/internal/order/infra/outbound/analytics/clickhouse"
	orderMongo "github.com/davicafu/bookflow/internal/order/infra/outbound/db/mongodb"
	orderSqlstore "github.com/davicafu/bookflow/internal/order/infra/outbound/db/sqlstore"
	"github.com/davicafu/bookflow/internal/order/infra/outbound/pricing"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/workers"
	"github.com/davicafu/bookflow/internal/shared/infra/supervisor"
)

// ordering reúne las piezas del servicio de pedidos.
type ordering struct {
	service *orderApp.OrderService
	daemon  *orderApp.ProjectionDaemon
}

// buildOrdering monta el event store, las vistas y el daemon de proyecciones.
// Lo usan tanto el servicio como el comando projection.
func buildOrdering(ctx context.Context, p *platform) (*ordering, error) {
	if err := orderSqlstore.InitSchema(ctx, p.db); err != nil {
		return nil, err
	}
	store := orderSqlstore.NewEventStore(p.db, p.outbox)

	views, err := p.orderViews(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := pricing.NewPriceList(p.cfg.PriceList)
	if err != nil {
		return nil, err
	}

	projections := []orderDomain.Projection{orderApp.NewOrderViewProjection(views, p.cache, p.log)}
	if p.cfg.ClickHouseAddr != "" {
		chDB, err := clickhouse.Open(p.cfg.ClickHouseAddr, p.cfg.ClickHouseDB)
		if err != nil {
			return nil, err
		}
		p.onClose(func() { chDB.Close() })
		eventLog, err := clickhouse.NewOrderEventLog(ctx, chDB)
		if err != nil {
			return nil, err
		}
		projections = append(projections, eventLog)
		p.log.Info("📊 Proyección analítica en ClickHouse activa", zap.String("addr", p.cfg.ClickHouseAddr))
	}

	daemon := orderApp.NewProjectionDaemon(store, orderSqlstore.NewProjectionFaults(p.db),
		orderApp.DaemonOptions{Interval: p.cfg.ProjectionInterval}, p.log, projections...)

	service := orderApp.NewOrderService(store, views, prices, p.locker, p.cache, p.registry,
		orderApp.Options{LockTTL: p.cfg.LockTTL, CacheTTL: p.cfg.CacheTTL}, p.log)

	return &ordering{service: service, daemon: daemon}, nil
}

// orderViews elige Mongo si MONGO_URI está definido; si no, la tabla SQL.
func (p *platform) orderViews(ctx context.Context) (orderDomain.OrderViewStore, error) {
	if p.cfg.MongoURI == "" {
		return orderSqlstore.NewViewStore(p.db), nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(p.cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	p.onClose(func() { _ = client.Disconnect(context.Background()) })
	views, err := orderMongo.NewViewStore(ctx, client, p.cfg.MongoDB)
	if err != nil {
		return nil, err
	}
	p.log.Info("🍃 Vistas de pedidos en MongoDB", zap.String("db", p.cfg.MongoDB))
	return views, nil
}

func wireOrdering(ctx context.Context, p *platform, sup *supervisor.Supervisor, router *gin.Engine) error {
	o, err := buildOrdering(ctx, p)
	if err != nil {
		return err
	}
	consumer := orderEvents.NewOrderConsumer(o.service, p.log)

	sup.Add("ordering.projections", o.daemon.Run)
	sup.Add("ordering.commands", func(ctx context.Context) error {
		return consumer.Run(ctx, p.sub)
	})
	orderHttp.RegisterOrderRoutes(router, orderHttp.NewOrderHandler(o.service))
	p.log.Info("📚 Servicio ordering listo", zap.Strings("projections", o.daemon.Projections()))
	return nil
}

func wireBasket(ctx context.Context, p *platform, sup *supervisor.Supervisor, router *gin.Engine) error {
	if err := basketSqlstore.InitSchema(ctx, p.db); err != nil {
		return err
	}
	repo := basketSqlstore.NewBasketRepo(p.db, p.outbox)
	service := basketApp.NewBasketService(repo, p.cache, p.registry, p.cfg.CacheTTL, p.log)
	consumer := basketEvents.NewBasketConsumer(service, p.log)

	sup.Add("basket.commands", func(ctx context.Context) error {
		return consumer.Run(ctx, p.sub)
	})
	basketHttp.RegisterBasketRoutes(router, basketHttp.NewBasketHandler(service))
	p.log.Info("🧺 Servicio basket listo")
	return nil
}

func wireFinance(ctx context.Context, p *platform, sup *supervisor.Supervisor, router *gin.Engine) error {
	if err := sagaSqlstore.InitSchema(ctx, p.db); err != nil {
		return err
	}
	repo := sagaSqlstore.NewSagaRepo(p.db, p.outbox, p.inbox)

	exec := workers.NewKeyedExecutor(8, 64)
	p.onClose(exec.Close)

	saga := p.cfg.Saga
	runtime := sagaApp.NewSagaRuntime(repo, exec, p.registry, sagaApp.Options{
		Policy: sagaDomain.RetryPolicy{
			MaxAttempts:     saga.MaxAttempts,
			MaxRetryTimeout: saga.MaxRetryTimeout,
			Backoff:         saga.Backoff.Backoff(),
		},
		SweepInterval: saga.SweepInterval,
	}, p.log)

	consumer := sagaEvents.NewSagaConsumer(runtime.Handle, p.log)
	for _, topic := range sagaEvents.Topics {
		sup.Add("finance.saga."+topic, func(ctx context.Context) error {
			return consumer.Run(ctx, p.sub, topic)
		})
	}
	sup.Add("finance.sweeper", runtime.RunSweeper)
	sagaHttp.RegisterSagaRoutes(router, sagaHttp.NewSagaHandler(runtime))
	p.log.Info("💶 Servicio finance listo",
		zap.Int("max_attempts", saga.MaxAttempts),
		zap.Duration("max_retry_timeout", saga.MaxRetryTimeout))
	return nil
}
