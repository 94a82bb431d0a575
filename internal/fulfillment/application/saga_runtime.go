package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/fulfillment/domain"
	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/workers"
	"github.com/davicafu/bookflow/internal/shared/infra/supervisor"
	"github.com/davicafu/bookflow/internal/shared/infra/utils"
)

const (
	// Source identifica a finance como emisor de los comandos de la saga.
	Source = "finance"
	// ConsumerName es la clave de la saga en el inbox.
	ConsumerName = "finance.saga"

	sagaAggregateType = "saga"
	conflictAttempts  = 3
)

type decoder func(env sharedEvents.IntegrationEvent) (interface{}, error)

func decodeAs[T any](env sharedEvents.IntegrationEvent) (interface{}, error) {
	v, err := sharedEvents.Decode[T](env)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// decoders es el enrutado estático de los mensajes que la saga consume.
var decoders = map[string]decoder{
	sharedEvents.CheckedOutType:                   decodeAs[sharedEvents.CheckedOut],
	sharedEvents.BasketClearCompleteType:          decodeAs[sharedEvents.BasketClearComplete],
	sharedEvents.BasketClearFailedType:            decodeAs[sharedEvents.BasketClearFailed],
	sharedEvents.OrderStatusChangedToCompleteType: decodeAs[sharedEvents.OrderStatusChangedToComplete],
	sharedEvents.OrderStatusChangedToCancelType:   decodeAs[sharedEvents.OrderStatusChangedToCancel],
}

// Routable indica si la saga atiende el tipo de mensaje.
func Routable(eventType string) bool {
	_, ok := decoders[eventType]
	return ok
}

// Options configura el runtime de la saga.
type Options struct {
	Policy        domain.RetryPolicy
	SweepInterval time.Duration
	SweepBatch    int
}

func (o Options) withDefaults() Options {
	if o.Policy.MaxAttempts <= 0 {
		o.Policy.MaxAttempts = 3
	}
	if o.Policy.MaxRetryTimeout <= 0 {
		o.Policy.MaxRetryTimeout = 10 * time.Minute
	}
	if o.Policy.Backoff == nil {
		o.Policy.Backoff = utils.ExponentialBackoff(5*time.Second, time.Minute)
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Second
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = 500
	}
	return o
}

// inbound identifica el mensaje que originó una entrada. Vacío para los Tick.
type inbound struct {
	ID             string
	ConversationID string
}

// SagaRuntime aplica los mensajes del bus y los Tick a las instancias de saga.
// Todo el trabajo de una misma saga se serializa en un shard del executor.
type SagaRuntime struct {
	repo     domain.Repository
	exec     *workers.KeyedExecutor
	registry sharedEvents.Registry
	opts     Options
	log      *zap.Logger
	now      func() time.Time

	sweepMu sync.Mutex
	cursor  domain.ActiveCursor
}

func NewSagaRuntime(repo domain.Repository, exec *workers.KeyedExecutor, registry sharedEvents.Registry, opts Options, log *zap.Logger) *SagaRuntime {
	return &SagaRuntime{
		repo:     repo,
		exec:     exec,
		registry: registry,
		opts:     opts.withDefaults(),
		log:      log,
		now:      time.Now,
	}
}

// Handle cumple bus.Handler. Los mensajes que no se pueden enrutar o decodificar
// son permanentes y acaban en dead-letter.
func (r *SagaRuntime) Handle(ctx context.Context, env sharedEvents.IntegrationEvent) error {
	decode, ok := decoders[env.Type]
	if !ok {
		r.log.Warn("Unroutable saga message", zap.String("type", env.Type), zap.String("event_id", env.ID))
		return sharedBus.Permanent(fmt.Errorf("%w: %s", domain.ErrUnroutable, env.Type))
	}
	input, err := decode(env)
	if err != nil {
		return sharedBus.Permanent(err)
	}
	id, err := uuid.Parse(env.CorrelationID)
	if err != nil {
		return sharedBus.Permanent(fmt.Errorf("%w: correlation id %q", domain.ErrUnroutable, env.CorrelationID))
	}

	msg := inbound{ID: env.ID, ConversationID: env.ConversationID}
	return r.exec.Submit(ctx, id.String(), func(ctx context.Context) error {
		return r.apply(ctx, id, input, msg)
	})
}

func (r *SagaRuntime) apply(ctx context.Context, id uuid.UUID, input interface{}, msg inbound) error {
	if msg.ID != "" {
		seen, err := r.repo.Seen(ctx, ConsumerName, msg.ID)
		if err != nil {
			return err
		}
		if seen {
			r.log.Debug("Duplicate saga message ignored", zap.String("event_id", msg.ID), zap.String("correlation_id", id.String()))
			return nil
		}
	}

	// solo los conflictos de versión se reintentan aquí
	stop := func(err error) bool { return !errors.Is(err, domain.ErrSagaVersionConflict) }
	err := utils.RetryWithBackoff(ctx, conflictAttempts, utils.FixedBackoff(20*time.Millisecond), func() error {
		return r.step(ctx, id, input, msg)
	}, stop)

	if errors.Is(err, domain.ErrUnsupportedInput) {
		return sharedBus.Permanent(err)
	}
	return err
}

func (r *SagaRuntime) step(ctx context.Context, id uuid.UUID, input interface{}, msg inbound) error {
	inst, err := r.repo.Get(ctx, id)
	if errors.Is(err, domain.ErrSagaNotFound) {
		rec, aerr := r.repo.GetArchived(ctx, id)
		if aerr == nil {
			r.log.Info("🗄️ Saga ya finalizada, mensaje ignorado",
				zap.String("correlation_id", id.String()),
				zap.String("final_state", string(rec.FinalState)),
				zap.String("event_id", msg.ID),
			)
			return nil
		}
		if !errors.Is(aerr, domain.ErrSagaNotFound) {
			return aerr
		}
		inst = nil
	} else if err != nil {
		return err
	}

	res, err := domain.Transition(inst, input, r.opts.Policy, r.now())
	if err != nil {
		return err
	}
	if !res.Changed {
		if res.Note != "" && msg.ID != "" {
			r.log.Info("Saga message without effect",
				zap.String("correlation_id", id.String()),
				zap.String("event_id", msg.ID),
				zap.String("note", res.Note),
			)
		}
		return nil
	}

	next := res.Instance
	if next.ConversationID == "" {
		next.ConversationID = msg.ConversationID
	}
	if next.ConversationID == "" {
		next.ConversationID = id.String()
	}

	rows := make([]sharedDomain.OutboxEvent, 0, len(res.Effects))
	for _, e := range res.Effects {
		env, err := sharedEvents.NewIntegrationEvent(e.Type, id.String(), e.Payload)
		if err != nil {
			return err
		}
		env = env.WithConversation(next.ConversationID).WithSource(Source)
		row, err := sharedDomain.NewOutboxEvent(sagaAggregateType, id.String(), env, r.registry)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	var expected int64
	if inst != nil {
		expected = inst.Version
	}
	commit := domain.Commit{Instance: next, ExpectedVersion: expected, Outbox: rows}
	if msg.ID != "" {
		commit.Consumer = ConsumerName
		commit.MessageID = msg.ID
	}
	if err := r.repo.Commit(ctx, commit); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			return nil
		}
		return err
	}

	fields := []zap.Field{
		zap.String("correlation_id", id.String()),
		zap.String("state", string(next.State)),
		zap.String("step", string(next.Step)),
		zap.Int("effects", len(rows)),
	}
	switch next.State {
	case domain.StateFailed:
		r.log.Error("🚨 Saga fallida, requiere intervención", append(fields, zap.String("note", res.Note))...)
	case domain.StateCompleted, domain.StateCancelled:
		r.log.Info("🏁 Saga finalizada", fields...)
	default:
		r.log.Info("🧭 Saga avanzada", fields...)
	}
	return nil
}

// Sweep envía un Tick al siguiente lote de instancias activas. Cada barrido
// continúa donde terminó el anterior y vuelve al principio al llegar al final.
// Devuelve cuántas se revisaron.
func (r *SagaRuntime) Sweep(ctx context.Context) (int, error) {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	active, err := r.repo.ListActive(ctx, r.cursor, r.opts.SweepBatch)
	if err == nil && len(active) == 0 && !r.cursor.IsZero() {
		r.cursor = domain.ActiveCursor{}
		active, err = r.repo.ListActive(ctx, r.cursor, r.opts.SweepBatch)
	}
	if err != nil {
		return 0, err
	}
	if len(active) < r.opts.SweepBatch {
		r.cursor = domain.ActiveCursor{}
	} else {
		last := active[len(active)-1]
		r.cursor = domain.ActiveCursor{StartedAt: last.StartedAt, CorrelationID: last.CorrelationID}
	}
	for _, inst := range active {
		id := inst.CorrelationID
		tick := domain.Tick{Now: r.now()}
		err := r.exec.Submit(ctx, id.String(), func(ctx context.Context) error {
			return r.apply(ctx, id, tick, inbound{})
		})
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if err != nil {
			r.log.Warn("Saga tick failed", zap.String("correlation_id", id.String()), zap.Error(err))
		}
	}
	return len(active), nil
}

// RunSweeper ejecuta Sweep cada SweepInterval hasta que se cancela ctx. Un
// fallo del barrido termina la tarea para que el supervisor la reinicie.
func (r *SagaRuntime) RunSweeper(ctx context.Context) error {
	return supervisor.Periodic(r.opts.SweepInterval, func(ctx context.Context) error {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("Saga sweep failed", zap.Error(err))
			return err
		}
		return nil
	})(ctx)
}

// SagaStatus es la vista de una saga: activa (Instance) o archivada (Archive).
type SagaStatus struct {
	Instance *domain.Instance      `json:"instance,omitempty"`
	Archive  *domain.ArchiveRecord `json:"archive,omitempty"`
}

// Get devuelve la instancia activa o, si ya terminó, su registro de archivo.
func (r *SagaRuntime) Get(ctx context.Context, id uuid.UUID) (*SagaStatus, error) {
	inst, err := r.repo.Get(ctx, id)
	if err == nil {
		return &SagaStatus{Instance: inst}, nil
	}
	if !errors.Is(err, domain.ErrSagaNotFound) {
		return nil, err
	}
	rec, err := r.repo.GetArchived(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SagaStatus{Archive: rec}, nil
}
