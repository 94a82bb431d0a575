package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotAcquired indica que otro titular tiene el recurso.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrLockLost indica que el lease expiró o pasó a otro titular.
	ErrLockLost = errors.New("lock lost")
)

// Locker concede leases exclusivos por clave.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Handle, error)
}

// Handle representa un lease vivo. Release y Extend solo actúan si el token
// sigue siendo el del titular.
type Handle interface {
	Key() string
	Token() string
	ExpiresAt() time.Time
	Release(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) error
}

// WithLock ejecuta fn con el lease de key y lo libera en cualquier salida,
// incluido un pánico de fn.
func WithLock(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	h, err := locker.TryAcquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// liberamos con un contexto propio: ctx puede estar ya cancelado
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if relErr := h.Release(relCtx); relErr != nil && err == nil && !errors.Is(relErr, ErrLockLost) {
			err = fmt.Errorf("release %s: %w", key, relErr)
		}
	}()
	return fn(ctx)
}
