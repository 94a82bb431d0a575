package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	orderDomain "github.com/davicafu/bookflow/internal/order/domain"
	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
)

// InMemoryEventStore simula el event store con outbox incluido.
type InMemoryEventStore struct {
	mu      sync.Mutex
	Events  []orderDomain.RecordedEvent
	Outbox  []sharedDomain.OutboxEvent
	Appends int
	// FailAppend, si no es nil, se devuelve en el próximo Append.
	FailAppend error
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{}
}

func (s *InMemoryEventStore) Append(ctx context.Context, streamID string, expectedVersion int64, events []orderDomain.NewEvent, outbox ...sharedDomain.OutboxEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailAppend; err != nil {
		s.FailAppend = nil
		return 0, err
	}

	var current int64
	for _, e := range s.Events {
		if e.StreamID == streamID {
			current = e.StreamSeq
		}
	}
	if current != expectedVersion {
		return 0, fmt.Errorf("%w: %s at %d, expected %d", orderDomain.ErrConcurrencyConflict, streamID, current, expectedVersion)
	}

	for _, e := range events {
		current++
		s.Events = append(s.Events, orderDomain.RecordedEvent{
			GlobalSeq:  int64(len(s.Events) + 1),
			StreamID:   streamID,
			StreamSeq:  current,
			Type:       e.Type,
			Payload:    e.Payload,
			RecordedAt: time.Now().UTC(),
		})
	}
	s.Outbox = append(s.Outbox, outbox...)
	s.Appends++
	return current, nil
}

func (s *InMemoryEventStore) Load(ctx context.Context, streamID string) ([]orderDomain.RecordedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orderDomain.RecordedEvent
	for _, e := range s.Events {
		if e.StreamID == streamID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryEventStore) ReadAll(ctx context.Context, after int64, limit int) ([]orderDomain.RecordedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orderDomain.RecordedEvent
	for _, e := range s.Events {
		if e.GlobalSeq > after {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// OutboxTypes devuelve los tipos de evento registrados en el outbox, en orden.
func (s *InMemoryEventStore) OutboxTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Outbox))
	for _, o := range s.Outbox {
		out = append(out, o.EventType)
	}
	return out
}

// InMemoryViewStore simula el modelo de lectura.
type InMemoryViewStore struct {
	mu          sync.Mutex
	Views       map[uuid.UUID]orderDomain.OrderView
	checkpoints map[string]int64
}

func NewInMemoryViewStore() *InMemoryViewStore {
	return &InMemoryViewStore{
		Views:       make(map[uuid.UUID]orderDomain.OrderView),
		checkpoints: make(map[string]int64),
	}
}

func (s *InMemoryViewStore) Get(ctx context.Context, id uuid.UUID) (*orderDomain.OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Views[id]
	if !ok {
		return nil, orderDomain.ErrOrderNotFound
	}
	return &v, nil
}

func (s *InMemoryViewStore) Checkpoint(ctx context.Context, projection string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[projection], nil
}

func (s *InMemoryViewStore) Save(ctx context.Context, projection string, globalSeq int64, v *orderDomain.OrderView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if globalSeq <= s.checkpoints[projection] {
		return nil
	}
	s.Views[v.ID] = *v
	s.checkpoints[projection] = globalSeq
	return nil
}

func (s *InMemoryViewStore) Reset(ctx context.Context, projection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Views = make(map[uuid.UUID]orderDomain.OrderView)
	delete(s.checkpoints, projection)
	return nil
}

// InMemoryProjectionFaults simula la tabla projection_dead_letters.
type InMemoryProjectionFaults struct {
	mu     sync.Mutex
	faults map[string]orderDomain.ProjectionFault
}

func NewInMemoryProjectionFaults() *InMemoryProjectionFaults {
	return &InMemoryProjectionFaults{faults: make(map[string]orderDomain.ProjectionFault)}
}

func (f *InMemoryProjectionFaults) Mark(ctx context.Context, fault orderDomain.ProjectionFault) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[fault.Projection] = fault
	return nil
}

func (f *InMemoryProjectionFaults) Get(ctx context.Context, projection string) (*orderDomain.ProjectionFault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fault, ok := f.faults[projection]
	if !ok {
		return nil, nil
	}
	return &fault, nil
}

func (f *InMemoryProjectionFaults) Clear(ctx context.Context, projection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.faults, projection)
	return nil
}

var (
	_ orderDomain.EventStore       = (*InMemoryEventStore)(nil)
	_ orderDomain.OrderViewStore   = (*InMemoryViewStore)(nil)
	_ orderDomain.ProjectionFaults = (*InMemoryProjectionFaults)(nil)
)

// StaticPricing es un catálogo fijo de precios.
type StaticPricing map[uuid.UUID]decimal.Decimal

func (p StaticPricing) PriceOf(ctx context.Context, bookID uuid.UUID) (decimal.Decimal, error) {
	price, ok := p[bookID]
	if !ok {
		return decimal.Zero, orderDomain.ErrBookNotFound
	}
	return price, nil
}

var _ orderDomain.PricingService = StaticPricing(nil)
