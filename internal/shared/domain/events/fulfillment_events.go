package events

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Topics del bus. Cada servicio publica en sus propios topics y se suscribe a
// los de los demás.
const (
	OrderingEventsTopic     = "ordering.events"
	OrderingCommandsTopic   = "ordering.commands"
	BasketCommandsTopic     = "basket.commands"
	BasketEventsTopic       = "basket.events"
	NotificationEventsTopic = "notification.events"
)

// Tipos de evento de integración.
const (
	CheckedOutType                   = "ordering.checked_out"
	OrderStatusChangedToCompleteType = "ordering.status_changed_to_complete"
	OrderStatusChangedToCancelType   = "ordering.status_changed_to_cancel"
	SettleOrderCommandType           = "ordering.settle_order"
	CancelOrderCommandType           = "ordering.cancel_order"
	ClearBasketCommandType           = "basket.clear_basket"
	BasketClearCompleteType          = "basket.clear_complete"
	BasketClearFailedType            = "basket.clear_failed"
	OrderCompletedNotificationType   = "notification.order_completed"
	OrderCancelledNotificationType   = "notification.order_cancelled"
)

// Estos son contratos de integración, NO entidades del dominio.
// Se definen planos para intercambio entre contextos.

type CheckedOut struct {
	OrderID       uuid.UUID       `json:"orderId"`
	BasketID      uuid.UUID       `json:"basketId"`
	BuyerFullName string          `json:"buyerFullName"`
	BuyerEmail    string          `json:"buyerEmail"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

type ClearBasketCommand struct {
	OrderID  uuid.UUID `json:"orderId"`
	BasketID uuid.UUID `json:"basketId"`
}

type BasketClearComplete struct {
	OrderID     uuid.UUID       `json:"orderId"`
	BasketID    uuid.UUID       `json:"basketId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

type BasketClearFailed struct {
	OrderID     uuid.UUID       `json:"orderId"`
	BasketID    uuid.UUID       `json:"basketId"`
	BuyerEmail  string          `json:"buyerEmail"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Reason      string          `json:"reason,omitempty"`
}

// SettleOrderCommand es el "finalize-order" que el saga envía a ordering
// cuando la cesta se ha vaciado.
type SettleOrderCommand struct {
	OrderID     uuid.UUID       `json:"orderId"`
	BasketID    uuid.UUID       `json:"basketId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// CancelOrderCommand es la acción compensatoria.
type CancelOrderCommand struct {
	OrderID  uuid.UUID `json:"orderId"`
	BasketID uuid.UUID `json:"basketId"`
	Reason   string    `json:"reason,omitempty"`
}

type OrderStatusChangedToComplete struct {
	OrderID       uuid.UUID       `json:"orderId"`
	BasketID      uuid.UUID       `json:"basketId"`
	BuyerFullName string          `json:"buyerFullName"`
	BuyerEmail    string          `json:"buyerEmail"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

type OrderStatusChangedToCancel struct {
	OrderID       uuid.UUID       `json:"orderId"`
	BasketID      uuid.UUID       `json:"basketId"`
	BuyerFullName string          `json:"buyerFullName"`
	BuyerEmail    string          `json:"buyerEmail"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

// OrderNotification lo consume el servicio de notificaciones (fuera de este núcleo).
type OrderNotification struct {
	OrderID       uuid.UUID       `json:"orderId"`
	BuyerFullName string          `json:"buyerFullName"`
	BuyerEmail    string          `json:"buyerEmail"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

// NewFulfillmentRegistry devuelve el enrutado de todos los contratos del flujo.
func NewFulfillmentRegistry() Registry {
	return Registry{
		CheckedOutType:                   {Topic: OrderingEventsTopic, Version: 1},
		OrderStatusChangedToCompleteType: {Topic: OrderingEventsTopic, Version: 1},
		OrderStatusChangedToCancelType:   {Topic: OrderingEventsTopic, Version: 1},
		SettleOrderCommandType:           {Topic: OrderingCommandsTopic, Version: 1},
		CancelOrderCommandType:           {Topic: OrderingCommandsTopic, Version: 1},
		ClearBasketCommandType:           {Topic: BasketCommandsTopic, Version: 1},
		BasketClearCompleteType:          {Topic: BasketEventsTopic, Version: 1},
		BasketClearFailedType:            {Topic: BasketEventsTopic, Version: 1},
		OrderCompletedNotificationType:   {Topic: NotificationEventsTopic, Version: 1},
		OrderCancelledNotificationType:   {Topic: NotificationEventsTopic, Version: 1},
	}
}
