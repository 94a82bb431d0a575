package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
)

// ---------- Errores de dominio ----------
var (
	ErrBasketNotFound = errors.New("basket not found")
	ErrInvalidBasket  = errors.New("invalid basket")
)

// CacheKeyByID es la clave de una cesta en caché.
func CacheKeyByID(id uuid.UUID) string {
	return "basket:" + id.String()
}

// ClearFunc decide qué persistir a partir del estado leído dentro de la
// transacción, y construye las filas de outbox que lo acompañan.
type ClearFunc func(prev *Clearance, basket *Basket) (ClearDecision, []sharedDomain.OutboxEvent, error)

// ---------- Interfaces (Ports) ----------

type BasketRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Basket, error)
	Save(ctx context.Context, b *Basket) error
	Delete(ctx context.Context, id uuid.UUID) error
	// Clear lee la marca de orderID y la cesta basketID, llama a decide y
	// persiste su decisión junto con el outbox en una única transacción.
	Clear(ctx context.Context, orderID, basketID uuid.UUID, decide ClearFunc) (ClearDecision, error)
}
