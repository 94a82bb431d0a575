package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderView es el modelo de lectura de un pedido.
type OrderView struct {
	ID         uuid.UUID       `json:"id"`
	BuyerID    uuid.UUID       `json:"buyer_id"`
	BasketID   uuid.UUID       `json:"basket_id"`
	BuyerName  string          `json:"buyer_name"`
	BuyerEmail string          `json:"buyer_email"`
	Items      []LineItem      `json:"items"`
	Total      decimal.Decimal `json:"total"`
	Status     Status          `json:"status"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
}

// ApplyToView aplica un evento sobre la vista (nil si aún no existe) y
// devuelve la vista resultante. Eventos con stream_seq ya aplicado no cambian nada.
func ApplyToView(view *OrderView, r RecordedEvent) (*OrderView, error) {
	e, err := r.Decode()
	if err != nil {
		return nil, err
	}
	if view != nil && r.StreamSeq <= view.Version {
		return view, nil
	}

	next := OrderView{}
	if view != nil {
		next = *view
	}
	switch ev := e.(type) {
	case OrderCreated:
		next = OrderView{
			ID:         ev.OrderID,
			BuyerID:    ev.BuyerID,
			BasketID:   ev.BasketID,
			BuyerName:  ev.BuyerName,
			BuyerEmail: ev.BuyerEmail,
			Items:      ev.Items,
			Total:      ev.Total,
			Status:     StatusNew,
			CreatedAt:  ev.At,
			UpdatedAt:  ev.At,
		}
	case OrderCompleted:
		next.Status = StatusCompleted
		next.UpdatedAt = ev.At
	case OrderCancelled:
		next.Status = StatusCancelled
		next.UpdatedAt = ev.At
	case OrderDeleted:
		at := ev.At
		next.DeletedAt = &at
		next.UpdatedAt = ev.At
	}
	next.Version = r.StreamSeq
	return &next, nil
}

// BuildView proyecta un stream completo; se usa cuando la vista aún no existe.
func BuildView(events []RecordedEvent) (*OrderView, error) {
	var view *OrderView
	for _, r := range events {
		var err error
		if view, err = ApplyToView(view, r); err != nil {
			return nil, err
		}
	}
	if view == nil {
		return nil, ErrOrderNotFound
	}
	return view, nil
}
