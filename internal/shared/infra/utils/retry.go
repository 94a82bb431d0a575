package utils

import (
	"context"
	"math"
	"time"
)

// BackoffKind identifica la curva de espera entre reintentos.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Backoff es una política configurable de espera entre reintentos.
type Backoff struct {
	Kind       BackoffKind
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// FixedBackoff espera siempre lo mismo.
func FixedBackoff(d time.Duration) Backoff {
	return Backoff{Kind: BackoffFixed, Base: d, Max: d}
}

// ExponentialBackoff dobla la espera en cada intento hasta max.
func ExponentialBackoff(base, max time.Duration) Backoff {
	return Backoff{Kind: BackoffExponential, Base: base, Max: max, Multiplier: 2}
}

// Delay devuelve la espera antes del intento número attempt (0 = primer reintento).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if b.Kind != BackoffExponential {
		return b.Base
	}
	mult := b.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := float64(b.Base) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Sleep espera d o hasta que se cancele el contexto.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry ejecuta una función con reintentos configurables
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	return RetryWithBackoff(ctx, attempts, FixedBackoff(delay), fn)
}

// RetryWithBackoff reintenta fn hasta attempts veces siguiendo la política b.
// Si stop(err) es cierto el error se devuelve sin más intentos.
func RetryWithBackoff(ctx context.Context, attempts int, b Backoff, fn func() error, stop ...func(error) bool) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		for _, s := range stop {
			if s(err) {
				return err
			}
		}
		if i == attempts-1 {
			break
		}
		if sleepErr := Sleep(ctx, b.Delay(i)); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}
