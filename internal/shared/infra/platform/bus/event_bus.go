package bus

import (
	"context"
	"errors"
	"time"

	"github.com/davicafu/bookflow/internal/shared/domain/events"
	"github.com/davicafu/bookflow/internal/shared/infra/utils"
)

// Keyer lo implementan los mensajes que deben caer siempre en la misma partición.
type Keyer interface {
	PartitionKey() string
}

// EventBus publica un sobre en un topic. Devolver nil significa que el broker
// confirmó la recepción.
type EventBus interface {
	Publish(ctx context.Context, topic string, event events.IntegrationEvent) error
}

// Handler procesa un sobre entregado. Un error provoca la reentrega; un error
// envuelto con Permanent va directo a dead-letter.
type Handler func(ctx context.Context, event events.IntegrationEvent) error

// Subscriber consume un topic bajo un grupo de consumo. Subscribe bloquea
// hasta que se cancela ctx (devuelve nil) o el transporte falla (devuelve el
// error para que el supervisor reinicie la suscripción).
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, handler Handler) error
}

// DeliveryPolicy acota la reentrega de mensajes fallidos.
type DeliveryPolicy struct {
	MaxDeliveries  int
	Backoff        utils.Backoff
	HandlerTimeout time.Duration
}

// DefaultDeliveryPolicy es la política usada si no se configura otra.
func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		MaxDeliveries:  5,
		Backoff:        utils.ExponentialBackoff(200*time.Millisecond, 5*time.Second),
		HandlerTimeout: 10 * time.Second,
	}
}

// DeadLetter guarda un mensaje que no se pudo procesar, con su payload completo.
type DeadLetter struct {
	Topic     string
	Group     string
	MessageID string
	Payload   []byte
	Reason    string
	Attempts  int
	FailedAt  time.Time
}

// DeadLetterSink recibe los mensajes descartados por un transporte.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, dl DeadLetter) error
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marca un error como no recuperable: el mensaje no se reintenta.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent indica si el error (o alguno que envuelve) es permanente.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Deliver ejecuta handler con la política de reintentos del transporte.
// Devuelve el número de intentos y el último error (nil si se procesó).
func Deliver(ctx context.Context, policy DeliveryPolicy, event events.IntegrationEvent, handler Handler) (int, error) {
	attempts := 0
	err := utils.RetryWithBackoff(ctx, max(policy.MaxDeliveries, 1), policy.Backoff, func() error {
		attempts++
		hCtx := ctx
		if policy.HandlerTimeout > 0 {
			var cancel context.CancelFunc
			hCtx, cancel = context.WithTimeout(ctx, policy.HandlerTimeout)
			defer cancel()
		}
		return handler(hCtx, event)
	}, IsPermanent)
	return attempts, err
}
