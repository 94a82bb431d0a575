package events

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
)

// ErrGroupBusy se devuelve si ya hay un consumidor activo para el mismo topic y grupo.
var ErrGroupBusy = errors.New("consumer group already subscribed")

// DefaultBacklogLimit acota los mensajes retenidos por topic mientras no hay
// ningún grupo suscrito. Al superarlo se descartan los más antiguos.
const DefaultBacklogLimit = 1024

// InMemoryEventBus es un bus de un solo proceso con semántica de grupos de
// consumo: cada grupo recibe una copia de cada mensaje y los mensajes con la
// misma clave se entregan en orden por la misma partición.
type InMemoryEventBus struct {
	mu           sync.Mutex
	topics       map[string]*memTopic
	partitions   int
	backlogLimit int
	policy       sharedBus.DeliveryPolicy
	dlq          sharedBus.DeadLetterSink
	log          *zap.Logger
}

type memTopic struct {
	groups map[string]*memGroup
	// mensajes publicados antes de que existiera ningún grupo
	backlog []sharedEvents.IntegrationEvent
}

type memGroup struct {
	queues []*partitionQueue
	active bool
}

// Verifica en tiempo de compilación que cumple las interfaces
var (
	_ sharedBus.EventBus   = (*InMemoryEventBus)(nil)
	_ sharedBus.Subscriber = (*InMemoryEventBus)(nil)
)

// NewInMemoryEventBus crea un bus en memoria. dlq puede ser nil: los mensajes
// descartados solo se registran en el log.
func NewInMemoryEventBus(partitions int, policy sharedBus.DeliveryPolicy, dlq sharedBus.DeadLetterSink, log *zap.Logger) *InMemoryEventBus {
	if partitions <= 0 {
		partitions = 1
	}
	return &InMemoryEventBus{
		topics:       make(map[string]*memTopic),
		partitions:   partitions,
		backlogLimit: DefaultBacklogLimit,
		policy:       policy,
		dlq:          dlq,
		log:          log,
	}
}

// Publish encola el sobre para todos los grupos del topic. Nunca bloquea.
func (b *InMemoryEventBus) Publish(ctx context.Context, topic string, event sharedEvents.IntegrationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	t := b.topic(topic)
	if len(t.groups) == 0 {
		t.backlog = append(t.backlog, event)
		if over := len(t.backlog) - b.backlogLimit; over > 0 {
			dropped := t.backlog[0]
			t.backlog = append(t.backlog[:0:0], t.backlog[over:]...)
			b.mu.Unlock()
			b.log.Debug("Backlog lleno, mensaje sin consumidor descartado",
				zap.String("topic", topic),
				zap.String("event_id", dropped.ID),
				zap.String("type", dropped.Type))
			return nil
		}
		b.mu.Unlock()
		return nil
	}
	idx := b.partitionOf(event)
	targets := make([]*partitionQueue, 0, len(t.groups))
	for _, g := range t.groups {
		targets = append(targets, g.queues[idx])
	}
	b.mu.Unlock()

	for _, q := range targets {
		q.push(event)
	}
	return nil
}

// Subscribe consume topic con el grupo indicado hasta que se cancela ctx.
// Las colas del grupo sobreviven a la suscripción: un consumidor reiniciado
// retoma los mensajes pendientes.
func (b *InMemoryEventBus) Subscribe(ctx context.Context, topic, group string, handler sharedBus.Handler) error {
	b.mu.Lock()
	t := b.topic(topic)
	g, ok := t.groups[group]
	if !ok {
		g = &memGroup{queues: make([]*partitionQueue, b.partitions)}
		for i := range g.queues {
			g.queues[i] = newPartitionQueue()
		}
		t.groups[group] = g
		if len(t.groups) == 1 {
			for _, e := range t.backlog {
				g.queues[b.partitionOf(e)].push(e)
			}
			t.backlog = nil
		}
	}
	if g.active {
		b.mu.Unlock()
		return ErrGroupBusy
	}
	g.active = true
	queues := g.queues
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		g.active = false
		b.mu.Unlock()
	}()

	b.log.Info("🎧 Consumidor en memoria iniciado", zap.String("topic", topic), zap.String("group", group))

	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *partitionQueue) {
			defer wg.Done()
			b.consume(ctx, topic, group, q, handler)
		}(q)
	}
	wg.Wait()

	b.log.Info("🛑 Consumidor en memoria detenido", zap.String("topic", topic), zap.String("group", group))
	return nil
}

func (b *InMemoryEventBus) consume(ctx context.Context, topic, group string, q *partitionQueue, handler sharedBus.Handler) {
	for {
		event, err := q.peek(ctx)
		if err != nil {
			return
		}

		attempts, err := sharedBus.Deliver(ctx, b.policy, event, handler)
		if err != nil {
			if ctx.Err() != nil {
				// sin ack: el mensaje sigue en cabeza para el siguiente consumidor
				return
			}
			b.deadLetter(ctx, topic, group, event, err, attempts)
		}
		q.ack()
	}
}

func (b *InMemoryEventBus) deadLetter(ctx context.Context, topic, group string, event sharedEvents.IntegrationEvent, cause error, attempts int) {
	b.log.Error("☠️ Mensaje enviado a dead-letter",
		zap.String("topic", topic),
		zap.String("group", group),
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	if b.dlq == nil {
		return
	}
	payload, err := sharedEvents.Marshal(event)
	if err != nil {
		b.log.Error("No se pudo serializar el dead-letter", zap.Error(err))
		return
	}
	dl := sharedBus.DeadLetter{
		Topic:     topic,
		Group:     group,
		MessageID: event.ID,
		Payload:   payload,
		Reason:    cause.Error(),
		Attempts:  attempts,
		FailedAt:  time.Now().UTC(),
	}
	if err := b.dlq.DeadLetter(ctx, dl); err != nil {
		b.log.Error("No se pudo guardar el dead-letter", zap.String("event_id", event.ID), zap.Error(err))
	}
}

// topic requiere b.mu.
func (b *InMemoryEventBus) topic(name string) *memTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{groups: make(map[string]*memGroup)}
		b.topics[name] = t
	}
	return t
}

func (b *InMemoryEventBus) partitionOf(event sharedEvents.IntegrationEvent) int {
	key := event.PartitionKey()
	if key == "" {
		key = event.ID
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(b.partitions))
}

// partitionQueue es una cola FIFO sin límite. peek/ack separan la lectura de
// la confirmación para no perder el mensaje si el consumidor se detiene.
type partitionQueue struct {
	mu     sync.Mutex
	items  []sharedEvents.IntegrationEvent
	notify chan struct{}
}

func newPartitionQueue() *partitionQueue {
	return &partitionQueue{notify: make(chan struct{}, 1)}
}

func (q *partitionQueue) push(e sharedEvents.IntegrationEvent) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *partitionQueue) peek(ctx context.Context) (sharedEvents.IntegrationEvent, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.mu.Unlock()
			return e, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return sharedEvents.IntegrationEvent{}, ctx.Err()
		}
	}
}

func (q *partitionQueue) ack() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		q.items[0] = sharedEvents.IntegrationEvent{}
		q.items = q.items[1:]
	}
}
