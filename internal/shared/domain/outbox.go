package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davicafu/bookflow/internal/shared/domain/events"
)

// ErrUnknownEventType se devuelve al intentar registrar un evento que no está en el registro.
var ErrUnknownEventType = errors.New("unknown event type")

// OutboxEvent representa un evento pendiente de publicar en el broker.
// Solo existe si se confirmó en la misma transacción que el cambio de estado
// que lo produjo.
type OutboxEvent struct {
	ID            string     `json:"id"`             // id del sobre
	AggregateType string     `json:"aggregate_type"` // ej. "order", "saga", "basket"
	AggregateID   string     `json:"aggregate_id"`
	EventType     string     `json:"event_type"`
	Destination   string     `json:"destination"` // topic del bus
	Payload       []byte     `json:"payload"`     // sobre serializado
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at"` // nil hasta que el bus confirma
}

// NewOutboxEvent serializa el sobre y resuelve su destino con el registro.
func NewOutboxEvent(aggregateType, aggregateID string, env events.IntegrationEvent, registry events.Registry) (OutboxEvent, error) {
	meta, ok := registry.Lookup(env.Type)
	if !ok {
		return OutboxEvent{}, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	payload, err := events.Marshal(env)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	return OutboxEvent{
		ID:            env.ID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     env.Type,
		Destination:   meta.Topic,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// OutboxRepository define el contrato para acceder a la tabla outbox.
// Es una interfaz más pequeña que la de un repositorio de dominio completo,
// conteniendo solo los métodos que el worker necesita.
type OutboxRepository interface {
	FetchPendingOutbox(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id string) error
	PurgeProcessed(ctx context.Context, before time.Time) (int64, error)
}
