package events

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
)

// ErrMalformedEvent indica que unos bytes no forman un sobre válido.
var ErrMalformedEvent = errors.New("malformed integration event")

// IntegrationEvent es el sobre inmutable y versionado que viaja entre servicios.
// CorrelationID lo ata a una única instancia de saga (el id del pedido);
// ConversationID se mantiene a lo largo de toda la cadena de mensajes que
// nace en un checkout.
type IntegrationEvent struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Version        int             `json:"version"`
	CorrelationID  string          `json:"correlationId"`
	ConversationID string          `json:"conversationId"`
	Source         string          `json:"source,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Data           json.RawMessage `json:"data"` // contenido específico del evento
}

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID genera un ULID monótono: dos ids generados en el mismo proceso
// se ordenan igual que su instante de creación.
func NewMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewIntegrationEvent construye un sobre nuevo que inicia su propia conversación.
func NewIntegrationEvent(eventType, correlationID string, payload interface{}) (IntegrationEvent, error) {
	data, err := gojson.Marshal(payload)
	if err != nil {
		return IntegrationEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	id := NewMessageID()
	return IntegrationEvent{
		ID:             id,
		Type:           eventType,
		Version:        1,
		CorrelationID:  correlationID,
		ConversationID: id,
		Timestamp:      time.Now().UTC(),
		Data:           data,
	}, nil
}

// WithConversation devuelve una copia que continúa la conversación indicada.
func (e IntegrationEvent) WithConversation(conversationID string) IntegrationEvent {
	if conversationID != "" {
		e.ConversationID = conversationID
	}
	return e
}

// WithSource devuelve una copia con el servicio emisor.
func (e IntegrationEvent) WithSource(source string) IntegrationEvent {
	e.Source = source
	return e
}

// PartitionKey mantiene juntos en la misma partición los mensajes de una saga.
func (e IntegrationEvent) PartitionKey() string {
	return e.CorrelationID
}

// Marshal serializa el sobre completo.
func Marshal(e IntegrationEvent) ([]byte, error) {
	return gojson.Marshal(e)
}

// Unmarshal decodifica y valida un sobre.
func Unmarshal(raw []byte) (IntegrationEvent, error) {
	var e IntegrationEvent
	if err := gojson.Unmarshal(raw, &e); err != nil {
		return IntegrationEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.ID == "" || e.Type == "" {
		return IntegrationEvent{}, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	return e, nil
}

// Decode deserializa el payload del sobre al contrato T.
func Decode[T any](e IntegrationEvent) (T, error) {
	var out T
	if err := gojson.Unmarshal(e.Data, &out); err != nil {
		return out, fmt.Errorf("%w: %s data: %v", ErrMalformedEvent, e.Type, err)
	}
	return out, nil
}
