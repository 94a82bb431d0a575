package pricing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davicafu/bookflow/internal/order/domain"
)

// PriceList es un catálogo de precios en memoria cargado desde la configuración.
type PriceList struct {
	mu     sync.RWMutex
	prices map[uuid.UUID]decimal.Decimal
}

// NewPriceList parsea los pares id → precio ("12.50"). Un id o precio
// inválido o negativo es un error de configuración.
func NewPriceList(raw map[string]string) (*PriceList, error) {
	p := &PriceList{prices: make(map[uuid.UUID]decimal.Decimal, len(raw))}
	for k, v := range raw {
		id, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("invalid book id %q: %w", k, err)
		}
		price, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", k, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("negative price for %s", k)
		}
		p.prices[id] = price
	}
	return p, nil
}

func (p *PriceList) PriceOf(_ context.Context, bookID uuid.UUID) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[bookID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrBookNotFound, bookID)
	}
	return price, nil
}

// Set cambia o añade un precio en caliente.
func (p *PriceList) Set(bookID uuid.UUID, price decimal.Decimal) {
	p.mu.Lock()
	p.prices[bookID] = price
	p.mu.Unlock()
}

var _ domain.PricingService = (*PriceList)(nil)
