package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusNew       Status = "New"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// LineItem es inmutable una vez creado el pedido.
type LineItem struct {
	BookID    uuid.UUID       `json:"bookId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Subtotal devuelve cantidad × precio unitario.
func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order es la raíz del agregado. Solo cambia aplicando eventos; Version es el
// último stream_seq y actúa como token de concurrencia.
type Order struct {
	ID         uuid.UUID
	BuyerID    uuid.UUID
	BasketID   uuid.UUID
	BuyerName  string
	BuyerEmail string
	Items      []LineItem
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
	Version    int64

	pending []Event
}

// orderNamespace fija el espacio de los ids derivados de una clave de idempotencia.
var orderNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("bookflow.order"))

// OrderIDFor deriva un id estable para un checkout: el mismo checkout enviado
// dos veces produce el mismo pedido. Sin clave de idempotencia se admite un
// único pedido por cesta.
func OrderIDFor(buyerID, basketID uuid.UUID, idempotencyKey string) uuid.UUID {
	if strings.TrimSpace(idempotencyKey) == "" {
		return uuid.NewSHA1(orderNamespace, []byte(buyerID.String()+"/basket/"+basketID.String()))
	}
	return uuid.NewSHA1(orderNamespace, []byte(buyerID.String()+"/"+idempotencyKey))
}

// NewOrder valida los datos y registra OrderCreated.
func NewOrder(id, buyerID, basketID uuid.UUID, buyerName, buyerEmail string, items []LineItem, now time.Time) (*Order, error) {
	if id == uuid.Nil || buyerID == uuid.Nil || basketID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing identifiers", ErrInvalidOrder)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", ErrInvalidOrder)
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
		}
		if it.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: unit price must not be negative", ErrInvalidOrder)
		}
	}

	o := &Order{}
	copied := append([]LineItem(nil), items...)
	o.raise(OrderCreated{
		OrderID:    id,
		BuyerID:    buyerID,
		BasketID:   basketID,
		BuyerName:  buyerName,
		BuyerEmail: buyerEmail,
		Items:      copied,
		Total:      totalOf(copied),
		At:         now.UTC(),
	})
	return o, nil
}

// Rehydrate reconstruye el pedido a partir de su stream.
func Rehydrate(events []RecordedEvent) (*Order, error) {
	if len(events) == 0 {
		return nil, ErrOrderNotFound
	}
	o := &Order{}
	for _, r := range events {
		e, err := r.Decode()
		if err != nil {
			return nil, err
		}
		o.apply(e)
		o.Version = r.StreamSeq
	}
	return o, nil
}

// Total suma los subtotales de las líneas.
func (o *Order) Total() decimal.Decimal {
	return totalOf(o.Items)
}

func totalOf(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Complete pasa el pedido a Completed. Devuelve false si ya lo estaba.
func (o *Order) Complete(now time.Time) (bool, error) {
	switch o.Status {
	case StatusCompleted:
		return false, nil
	case StatusCancelled:
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, StatusCompleted)
	}
	o.raise(OrderCompleted{OrderID: o.ID, At: now.UTC()})
	return true, nil
}

// Cancel pasa el pedido a Cancelled. Devuelve false si ya lo estaba.
func (o *Order) Cancel(reason string, now time.Time) (bool, error) {
	switch o.Status {
	case StatusCancelled:
		return false, nil
	case StatusCompleted:
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, StatusCancelled)
	}
	o.raise(OrderCancelled{OrderID: o.ID, Reason: reason, At: now.UTC()})
	return true, nil
}

// Delete marca el pedido como borrado. El estado no cambia, de modo que la
// saga puede seguir llevándolo a un estado final.
func (o *Order) Delete(now time.Time) bool {
	if o.DeletedAt != nil {
		return false
	}
	o.raise(OrderDeleted{OrderID: o.ID, At: now.UTC()})
	return true
}

// PendingEvents devuelve los eventos aún no persistidos.
func (o *Order) PendingEvents() []Event {
	return o.pending
}

// ClearPending se llama tras persistir los eventos; actualiza la versión.
func (o *Order) ClearPending() {
	o.Version += int64(len(o.pending))
	o.pending = nil
}

func (o *Order) raise(e Event) {
	o.apply(e)
	o.pending = append(o.pending, e)
}

func (o *Order) apply(e Event) {
	switch ev := e.(type) {
	case OrderCreated:
		o.ID = ev.OrderID
		o.BuyerID = ev.BuyerID
		o.BasketID = ev.BasketID
		o.BuyerName = ev.BuyerName
		o.BuyerEmail = ev.BuyerEmail
		o.Items = ev.Items
		o.Status = StatusNew
		o.CreatedAt = ev.At
		o.UpdatedAt = ev.At
	case OrderCompleted:
		o.Status = StatusCompleted
		o.UpdatedAt = ev.At
	case OrderCancelled:
		o.Status = StatusCancelled
		o.UpdatedAt = ev.At
	case OrderDeleted:
		at := ev.At
		o.DeletedAt = &at
		o.UpdatedAt = ev.At
	}
}
