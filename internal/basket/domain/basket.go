package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BasketItem es una línea de la cesta.
type BasketItem struct {
	BookID    uuid.UUID       `json:"bookId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Basket es la cesta de un comprador antes del checkout.
type Basket struct {
	ID        uuid.UUID    `json:"id"`
	BuyerID   uuid.UUID    `json:"buyerId"`
	Items     []BasketItem `json:"items"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func (b *Basket) PartitionKey() string {
	return b.ID.String()
}

// Total suma precio por cantidad de todas las líneas.
func (b *Basket) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range b.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Validate comprueba los invariantes de la cesta.
func (b *Basket) Validate() error {
	if b.ID == uuid.Nil || b.BuyerID == uuid.Nil {
		return fmt.Errorf("%w: missing id or buyer", ErrInvalidBasket)
	}
	for _, it := range b.Items {
		if it.BookID == uuid.Nil {
			return fmt.Errorf("%w: item without book", ErrInvalidBasket)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrInvalidBasket)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: negative price", ErrInvalidBasket)
		}
	}
	return nil
}

// Clearance es la marca que deja una cesta vaciada por un pedido. Permite
// contestar igual a un ClearBasket repetido aunque la cesta ya no exista.
type Clearance struct {
	OrderID   uuid.UUID
	BasketID  uuid.UUID
	Total     decimal.Decimal
	ClearedAt time.Time
}

// ClearDecision es lo que hay que persistir al atender un ClearBasket.
type ClearDecision struct {
	// Clearance nueva a guardar; nil si no hay que guardar nada.
	Clearance *Clearance
	// DeleteBasket indica si la cesta se borra.
	DeleteBasket bool
	// Cleared distingue BasketClearComplete de BasketClearFailed.
	Cleared bool
	Total   decimal.Decimal
	Reason  string
}

// DecideClear resuelve un ClearBasket para orderID a partir de la marca previa
// (si la hay) y de la cesta actual (nil si no existe).
func DecideClear(orderID, basketID uuid.UUID, prev *Clearance, basket *Basket, now time.Time) ClearDecision {
	if prev != nil {
		return ClearDecision{Cleared: true, Total: prev.Total}
	}
	if basket == nil {
		return ClearDecision{Reason: "basket not found"}
	}
	total := basket.Total()
	return ClearDecision{
		Clearance: &Clearance{
			OrderID:   orderID,
			BasketID:  basketID,
			Total:     total,
			ClearedAt: now.UTC(),
		},
		DeleteBasket: true,
		Cleared:      true,
		Total:        total,
	}
}
