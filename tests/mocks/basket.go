package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	basketDomain "github.com/davicafu/bookflow/internal/basket/domain"
	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
)

// InMemoryBasketRepo simula el repositorio de cestas con outbox incluido.
type InMemoryBasketRepo struct {
	mu         sync.Mutex
	baskets    map[uuid.UUID]basketDomain.Basket
	clearances map[uuid.UUID]basketDomain.Clearance
	Outbox     []sharedDomain.OutboxEvent
}

var _ basketDomain.BasketRepository = (*InMemoryBasketRepo)(nil)

func NewInMemoryBasketRepo() *InMemoryBasketRepo {
	return &InMemoryBasketRepo{
		baskets:    make(map[uuid.UUID]basketDomain.Basket),
		clearances: make(map[uuid.UUID]basketDomain.Clearance),
	}
}

func (r *InMemoryBasketRepo) Get(ctx context.Context, id uuid.UUID) (*basketDomain.Basket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.baskets[id]
	if !ok {
		return nil, basketDomain.ErrBasketNotFound
	}
	return &b, nil
}

func (r *InMemoryBasketRepo) Save(ctx context.Context, b *basketDomain.Basket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baskets[b.ID] = *b
	return nil
}

func (r *InMemoryBasketRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.baskets[id]; !ok {
		return basketDomain.ErrBasketNotFound
	}
	delete(r.baskets, id)
	return nil
}

func (r *InMemoryBasketRepo) Clear(ctx context.Context, orderID, basketID uuid.UUID, decide basketDomain.ClearFunc) (basketDomain.ClearDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev *basketDomain.Clearance
	if c, ok := r.clearances[orderID]; ok {
		prev = &c
	}
	var basket *basketDomain.Basket
	if b, ok := r.baskets[basketID]; ok {
		basket = &b
	}

	d, rows, err := decide(prev, basket)
	if err != nil {
		return d, err
	}
	if d.DeleteBasket {
		delete(r.baskets, basketID)
	}
	if d.Clearance != nil {
		r.clearances[orderID] = *d.Clearance
	}
	r.Outbox = append(r.Outbox, rows...)
	return d, nil
}

// OutboxTypes devuelve los tipos de evento del outbox en orden.
func (r *InMemoryBasketRepo) OutboxTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Outbox))
	for _, e := range r.Outbox {
		out = append(out, e.EventType)
	}
	return out
}
