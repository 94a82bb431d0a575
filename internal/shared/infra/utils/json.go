package utils

import (
	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/shared/domain/events"
)

// DecodeAndHandle decodifica el payload del sobre al contrato T y se lo pasa a handler.
// Un payload ilegible se registra y se devuelve como error de formato.
func DecodeAndHandle[T any](log *zap.Logger, env events.IntegrationEvent, handler func(T) error) error {
	evt, err := events.Decode[T](env)
	if err != nil {
		log.Warn("Failed to unmarshal event data",
			zap.String("event_id", env.ID),
			zap.String("type", env.Type),
			zap.Error(err),
		)
		return err
	}
	return handler(evt)
}
