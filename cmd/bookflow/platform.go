package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/config"
	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	infraEvents "github.com/davicafu/bookflow/internal/shared/infra/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/cache"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/db/sqldb"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/lock"
	"github.com/davicafu/bookflow/internal/shared/infra/relayer"
)

// platform agrupa la infraestructura compartida de un proceso.
type platform struct {
	cfg      *config.Config
	log      *zap.Logger
	registry sharedEvents.Registry

	db     *sqldb.DB
	outbox *sqldb.OutboxRepo
	inbox  *sqldb.Inbox
	cache  cache.Cache
	locker lock.Locker

	bus sharedBus.EventBus
	sub sharedBus.Subscriber

	closers []func()
}

func openPlatform(ctx context.Context, cfg *config.Config, log *zap.Logger) (*platform, error) {
	p := &platform{cfg: cfg, log: log, registry: sharedEvents.NewFulfillmentRegistry()}

	// ---------------- DB ----------------
	dialect, dsn := sqldb.SQLite, cfg.SQLitePath
	if cfg.DBDialect == string(sqldb.Postgres) {
		dialect, dsn = sqldb.Postgres, cfg.DatabaseURL
	}
	db, err := sqldb.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	p.db = db
	p.onClose(func() { db.Close() })
	if err := sqldb.InitSharedSchema(ctx, db); err != nil {
		p.Close()
		return nil, err
	}
	p.outbox = sqldb.NewOutboxRepo(db)
	p.inbox = sqldb.NewInbox(db)
	log.Info("✅ Base de datos lista", zap.String("dialect", string(dialect)))

	// ---------------- Cache y lock ----------------
	p.cache, p.locker = p.openRedis(ctx)
	return p, nil
}

// openRedis usa Redis para caché y lock si está disponible; si no, ambos
// quedan en memoria (válido solo con un proceso).
func (p *platform) openRedis(ctx context.Context) (cache.Cache, lock.Locker) {
	memory := func() (cache.Cache, lock.Locker) {
		mc := cache.NewInMemoryCache(p.cfg.CacheTTL, 3*p.cfg.CacheTTL)
		p.onClose(mc.Stop)
		return mc, lock.NewMemoryLocker()
	}
	if p.cfg.RedisAddr == "" {
		p.log.Info("⚡️ Sin REDIS_ADDR: cache y lock en memoria")
		return memory()
	}

	rdb := redis.NewClient(&redis.Options{Addr: p.cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		p.log.Warn("⚠️ Redis no disponible, cache y lock en memoria", zap.Error(err))
		_ = rdb.Close()
		return memory()
	}
	p.onClose(func() { rdb.Close() })
	p.log.Info("✅ Redis conectado, cache y lock distribuidos")
	return cache.NewRedisCache(rdb, "bookflow:cache:", p.cfg.CacheTTL), lock.NewRedisLocker(rdb, "bookflow:lock:")
}

func (p *platform) deliveryPolicy() sharedBus.DeliveryPolicy {
	policy := sharedBus.DefaultDeliveryPolicy()
	policy.MaxDeliveries = p.cfg.MaxDeliveries
	policy.HandlerTimeout = p.cfg.HandlerTimeout
	return policy
}

// openBus conecta el transporte configurado.
func (p *platform) openBus(ctx context.Context) error {
	policy := p.deliveryPolicy()

	switch p.cfg.Transport {
	case config.TransportKafka:
		p.log.Info("🚀 Usando Kafka como bus de eventos", zap.Strings("brokers", p.cfg.KafkaBrokers))
		writer := infraEvents.NewKafkaWriter(p.cfg.KafkaBrokers)
		p.onClose(func() { writer.Close() })
		p.bus = infraEvents.NewKafkaPublisher(writer, p.log)
		p.sub = infraEvents.NewKafkaConsumer(p.cfg.KafkaBrokers, writer, policy, p.log)

	case config.TransportRabbitMQ:
		p.log.Info("🐇 Usando RabbitMQ como bus de eventos", zap.String("exchange", p.cfg.RabbitMQExchange))
		conn, err := infraEvents.DialRabbitMQ(ctx, p.cfg.RabbitMQURL, p.log)
		if err != nil {
			return err
		}
		p.onClose(func() { conn.Close() })
		pub, err := infraEvents.NewRabbitMQPublisher(conn, p.cfg.RabbitMQExchange, p.log)
		if err != nil {
			return err
		}
		p.onClose(func() { pub.Close() })
		p.bus = pub
		p.sub = infraEvents.NewRabbitMQConsumer(conn, p.cfg.RabbitMQExchange, 32, policy, p.log)

	case config.TransportStan:
		p.log.Info("📡 Usando NATS Streaming como bus de eventos", zap.String("cluster", p.cfg.StanClusterID))
		sc, err := infraEvents.ConnectStan(p.cfg.StanClusterID, p.cfg.StanClientID, p.cfg.StanURL, p.log)
		if err != nil {
			return err
		}
		p.onClose(func() { sc.Close() })
		p.bus = infraEvents.NewStanPublisher(sc)
		p.sub = infraEvents.NewStanConsumer(sc, 30*time.Second, policy, p.log)

	case config.TransportMemory:
		p.log.Info("⚡️ Usando bus de eventos en memoria")
		mem := infraEvents.NewInMemoryEventBus(8, policy, sqldb.NewDeadLetterStore(p.db), p.log)
		p.bus, p.sub = mem, mem

	default:
		return fmt.Errorf("unknown transport %q", p.cfg.Transport)
	}
	return nil
}

func (p *platform) relayer() *relayer.Worker {
	return relayer.NewOutboxWorker(p.outbox, p.bus, p.registry, relayer.Options{
		Interval:       p.cfg.OutboxPeriod,
		BatchSize:      p.cfg.OutboxLimit,
		PublishTimeout: 5 * time.Second,
		Retention:      p.cfg.OutboxRetention,
	}, p.log)
}

func (p *platform) onClose(fn func()) {
	p.closers = append(p.closers, fn)
}

// Close libera los recursos en orden inverso al de apertura.
func (p *platform) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}
