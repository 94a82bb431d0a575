package domain

import (
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tipos de los eventos del stream de un pedido.
const (
	OrderCreatedType   = "OrderCreated"
	OrderCompletedType = "OrderCompleted"
	OrderCancelledType = "OrderCancelled"
	OrderDeletedType   = "OrderDeleted"
)

// Event es un hecho del agregado Order.
type Event interface {
	EventType() string
	AggregateID() uuid.UUID
}

type OrderCreated struct {
	OrderID    uuid.UUID       `json:"orderId"`
	BuyerID    uuid.UUID       `json:"buyerId"`
	BasketID   uuid.UUID       `json:"basketId"`
	BuyerName  string          `json:"buyerName"`
	BuyerEmail string          `json:"buyerEmail"`
	Items      []LineItem      `json:"items"`
	Total      decimal.Decimal `json:"total"`
	At         time.Time       `json:"at"`
}

type OrderCompleted struct {
	OrderID uuid.UUID `json:"orderId"`
	At      time.Time `json:"at"`
}

type OrderCancelled struct {
	OrderID uuid.UUID `json:"orderId"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

type OrderDeleted struct {
	OrderID uuid.UUID `json:"orderId"`
	At      time.Time `json:"at"`
}

func (OrderCreated) EventType() string   { return OrderCreatedType }
func (OrderCompleted) EventType() string { return OrderCompletedType }
func (OrderCancelled) EventType() string { return OrderCancelledType }
func (OrderDeleted) EventType() string   { return OrderDeletedType }

func (e OrderCreated) AggregateID() uuid.UUID   { return e.OrderID }
func (e OrderCompleted) AggregateID() uuid.UUID { return e.OrderID }
func (e OrderCancelled) AggregateID() uuid.UUID { return e.OrderID }
func (e OrderDeleted) AggregateID() uuid.UUID   { return e.OrderID }

func decodeAs[T Event](payload []byte) (Event, error) {
	var e T
	if err := gojson.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// decoders es el registro estático tipo → decodificador.
var decoders = map[string]func([]byte) (Event, error){
	OrderCreatedType:   decodeAs[OrderCreated],
	OrderCompletedType: decodeAs[OrderCompleted],
	OrderCancelledType: decodeAs[OrderCancelled],
	OrderDeletedType:   decodeAs[OrderDeleted],
}

// NewEvent es un evento listo para añadirse al stream.
type NewEvent struct {
	Type    string
	Payload []byte
}

// EncodeEvent serializa un evento de dominio.
func EncodeEvent(e Event) (NewEvent, error) {
	payload, err := gojson.Marshal(e)
	if err != nil {
		return NewEvent{}, fmt.Errorf("encode %s: %w", e.EventType(), err)
	}
	return NewEvent{Type: e.EventType(), Payload: payload}, nil
}

// RecordedEvent es un evento ya persistido en el log global.
type RecordedEvent struct {
	GlobalSeq  int64
	StreamID   string
	StreamSeq  int64
	Type       string
	Payload    []byte
	RecordedAt time.Time
}

// Decode reconstruye el evento tipado.
func (r RecordedEvent) Decode() (Event, error) {
	dec, ok := decoders[r.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrderEvent, r.Type)
	}
	e, err := dec(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s #%d: %w", r.Type, r.GlobalSeq, err)
	}
	return e, nil
}
