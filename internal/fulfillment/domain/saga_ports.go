package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
)

// ---------- Errores de dominio ----------
var (
	ErrSagaNotFound        = errors.New("saga not found")
	ErrOutOfOrder          = errors.New("message out of order for saga state")
	ErrUnsupportedInput    = errors.New("unsupported saga input")
	ErrUnroutable          = errors.New("unroutable saga message")
	ErrSagaVersionConflict = errors.New("saga version conflict")
	ErrDuplicateMessage    = errors.New("message already processed")
)

// ArchiveRecord queda cuando la saga llega a un estado final.
type ArchiveRecord struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	FinalState    State     `json:"finalState"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

// Commit es todo lo que una transición escribe en una única transacción.
type Commit struct {
	// Instance es el nuevo estado; si es final se borra y se archiva.
	Instance Instance
	// ExpectedVersion es la versión leída; 0 para una instancia nueva.
	ExpectedVersion int64
	Outbox          []sharedDomain.OutboxEvent
	// Consumer y MessageID registran el mensaje consumido en el inbox.
	// Vacíos para entradas internas como Tick.
	Consumer  string
	MessageID string
}

// ActiveCursor es la posición de ListActive: la última instancia devuelta en
// orden (StartedAt, CorrelationID). El valor cero empieza por la más antigua.
type ActiveCursor struct {
	StartedAt     time.Time
	CorrelationID uuid.UUID
}

func (c ActiveCursor) IsZero() bool {
	return c.StartedAt.IsZero() && c.CorrelationID == uuid.Nil
}

// After indica si inst va detrás del cursor.
func (c ActiveCursor) After(inst Instance) bool {
	if c.IsZero() || inst.StartedAt.After(c.StartedAt) {
		return true
	}
	return inst.StartedAt.Equal(c.StartedAt) && inst.CorrelationID.String() > c.CorrelationID.String()
}

// ---------- Interfaces (Ports) ----------

// Repository persiste las instancias activas y el archivo.
type Repository interface {
	// Get devuelve ErrSagaNotFound si no hay instancia activa.
	Get(ctx context.Context, id uuid.UUID) (*Instance, error)
	// GetArchived devuelve ErrSagaNotFound si la saga no terminó.
	GetArchived(ctx context.Context, id uuid.UUID) (*ArchiveRecord, error)
	// ListActive devuelve hasta limit instancias posteriores a after.
	ListActive(ctx context.Context, after ActiveCursor, limit int) ([]Instance, error)
	// Commit devuelve ErrDuplicateMessage si MessageID ya estaba en el inbox y
	// ErrSagaVersionConflict si la versión cambió. En ambos casos no escribe nada.
	Commit(ctx context.Context, c Commit) error
	Seen(ctx context.Context, consumer, messageID string) (bool, error)
}
