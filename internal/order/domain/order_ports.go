package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
)

// ---------- Errores de dominio ----------
var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidOrder            = errors.New("invalid order")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrConcurrencyConflict     = errors.New("stream version conflict")
	ErrCheckoutInProgress      = errors.New("checkout already in progress for buyer")
	ErrBookNotFound            = errors.New("book not found")
	ErrUnknownOrderEvent       = errors.New("unknown order event type")
	ErrProjectionHalted        = errors.New("projection halted on dead letter")
	ErrUnknownProjection       = errors.New("unknown projection")
)

// ---------- Interfaces (Ports) ----------

// EventStore guarda los streams de pedidos en un log global ordenado.
type EventStore interface {
	// Append añade events al stream si su versión actual es expectedVersion
	// (ErrConcurrencyConflict si no) y guarda outbox en la misma transacción.
	Append(ctx context.Context, streamID string, expectedVersion int64, events []NewEvent, outbox ...sharedDomain.OutboxEvent) (int64, error)

	// Load devuelve el stream en orden; vacío si no existe.
	Load(ctx context.Context, streamID string) ([]RecordedEvent, error)

	// ReadAll devuelve hasta limit eventos con global_seq > after.
	ReadAll(ctx context.Context, after int64, limit int) ([]RecordedEvent, error)
}

// Projection consume el log global. Project confirma el efecto y el nuevo
// checkpoint a la vez y descarta eventos ya aplicados.
type Projection interface {
	Name() string
	Checkpoint(ctx context.Context) (int64, error)
	Project(ctx context.Context, e RecordedEvent) error
	// Reset borra el estado y deja el checkpoint a cero para reconstruir.
	Reset(ctx context.Context) error
}

// ProjectionFault es la marca de dead-letter de una proyección detenida.
type ProjectionFault struct {
	Projection string
	GlobalSeq  int64
	Reason     string
}

// ProjectionFaults guarda las marcas de dead-letter de las proyecciones.
type ProjectionFaults interface {
	Mark(ctx context.Context, fault ProjectionFault) error
	// Get devuelve nil si la proyección no está detenida.
	Get(ctx context.Context, projection string) (*ProjectionFault, error)
	Clear(ctx context.Context, projection string) error
}

// OrderViewStore persiste el modelo de lectura junto con su checkpoint.
type OrderViewStore interface {
	// Debe devolver ErrOrderNotFound si no existe.
	Get(ctx context.Context, id uuid.UUID) (*OrderView, error)
	Checkpoint(ctx context.Context, projection string) (int64, error)
	// Save guarda la vista y avanza el checkpoint a globalSeq en una única
	// transacción; no hace nada si globalSeq ya está cubierto.
	Save(ctx context.Context, projection string, globalSeq int64, view *OrderView) error
	Reset(ctx context.Context, projection string) error
}

// PricingService resuelve el precio actual de un libro del catálogo.
type PricingService interface {
	// Debe devolver ErrBookNotFound si el libro no existe.
	PriceOf(ctx context.Context, bookID uuid.UUID) (decimal.Decimal, error)
}

// ---------- Helpers comunes (cache keys, etc.) ----------

// CacheKeyByID forma una key consistente para cache usando ID.
func CacheKeyByID(id uuid.UUID) string {
	return fmt.Sprintf("order:view:%s", id.String())
}

// StreamID es el id del stream de eventos de un pedido.
func StreamID(id uuid.UUID) string {
	return "order-" + id.String()
}
