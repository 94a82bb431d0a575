package relayer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
	sharedDomainEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
)

// Options agrupa los parámetros del bucle de drenado.
type Options struct {
	Interval       time.Duration
	BatchSize      int
	PublishTimeout time.Duration
	Retention      time.Duration
	// DrainTimeout acota el drenado final al detenerse.
	DrainTimeout time.Duration
}

// Worker procesa eventos pendientes de la tabla outbox de forma genérica.
type Worker struct {
	repo          sharedDomain.OutboxRepository
	publisher     sharedBus.EventBus
	eventRegistry sharedDomainEvents.Registry
	opts          Options
	log           *zap.Logger
}

func NewOutboxWorker(
	repo sharedDomain.OutboxRepository,
	publisher sharedBus.EventBus,
	registry sharedDomainEvents.Registry,
	opts Options,
	log *zap.Logger,
) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	return &Worker{
		repo:          repo,
		publisher:     publisher,
		eventRegistry: registry,
		opts:          opts,
		log:           log,
	}
}

// Run inicia el bucle de polling del worker. Al cancelar ctx hace un último
// drenado con un plazo corto y devuelve nil.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.log.Info("🚀 Outbox worker iniciado", zap.Duration("interval", w.opts.Interval))

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), w.opts.DrainTimeout)
			n := w.ProcessBatch(drainCtx)
			cancel()
			w.log.Info("🛑 Outbox worker detenido.", zap.Int("drained", n))
			return nil
		case <-ticker.C:
			w.ProcessBatch(ctx)
			w.purge(ctx)
		}
	}
}

// ProcessBatch publica un lote de eventos pendientes y devuelve cuántos se
// marcaron como enviados. Si un evento falla, los siguientes del mismo
// agregado se quedan en la tabla para no romper su orden.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	events, err := w.repo.FetchPendingOutbox(ctx, w.opts.BatchSize)
	if err != nil {
		w.log.Warn("⚠️ Error al obtener eventos pendientes", zap.Error(err))
		return 0
	}
	if len(events) > 0 {
		w.log.Debug(fmt.Sprintf("📬 %d eventos encontrados para procesar", len(events)))
	}

	held := make(map[string]bool)
	sent := 0
	for _, evt := range events {
		key := evt.AggregateType + "/" + evt.AggregateID
		if held[key] {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if !w.publishAndMark(ctx, evt) {
			held[key] = true
			continue
		}
		sent++
	}
	return sent
}

func (w *Worker) publishAndMark(ctx context.Context, evt sharedDomain.OutboxEvent) bool {
	// 1. El tipo debe estar registrado; si no, la fila se queda pendiente
	if _, ok := w.eventRegistry.Lookup(evt.EventType); !ok {
		w.log.Error("Tipo de evento desconocido en registro",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.EventType),
		)
		return false
	}

	env, err := sharedDomainEvents.Unmarshal(evt.Payload)
	if err != nil {
		w.log.Error("Error al decodificar payload del evento", zap.String("event_id", evt.ID), zap.Error(err))
		return false
	}

	// 2. Publicar el sobre tal cual se guardó
	pubCtx := ctx
	if w.opts.PublishTimeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(ctx, w.opts.PublishTimeout)
		defer cancel()
	}
	if err := w.publisher.Publish(pubCtx, evt.Destination, env); err != nil {
		w.log.Warn("⚠️ No se pudo publicar evento",
			zap.String("event_id", evt.ID),
			zap.String("topic", evt.Destination),
			zap.Error(err),
		)
		return false // No lo marcamos como procesado para que se reintente
	}

	// 3. Marcar como enviado en la DB. Si falla, el evento se publicará otra
	// vez en el siguiente ciclo y los consumidores lo descartan por id.
	if err := w.repo.MarkOutboxProcessed(ctx, evt.ID); err != nil {
		w.log.Warn("⚠️ No se pudo marcar evento como procesado",
			zap.String("event_id", evt.ID),
			zap.Error(err),
		)
		return false
	}
	w.log.Debug("✅ Evento publicado y marcado", zap.String("event_id", evt.ID), zap.String("type", evt.EventType))
	return true
}

func (w *Worker) purge(ctx context.Context) {
	if w.opts.Retention <= 0 {
		return
	}
	n, err := w.repo.PurgeProcessed(ctx, time.Now().Add(-w.opts.Retention))
	if err != nil {
		w.log.Warn("⚠️ Error al purgar outbox", zap.Error(err))
		return
	}
	if n > 0 {
		w.log.Info("🧹 Eventos enviados purgados", zap.Int64("count", n))
	}
}
