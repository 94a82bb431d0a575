package domain

import (
	"encoding/json"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davicafu/bookflow/internal/shared/domain/events"
)

// State es el estado de una instancia de saga.
type State string

const (
	StateInitial   State = "Initial"
	StatePlaced    State = "Placed"
	StateCompleted State = "Completed"
	StateCancelled State = "Cancelled"
	StateFailed    State = "Failed"
)

// Terminal indica si la instancia ya no admite transiciones.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Step indica qué respuesta espera una instancia en Placed.
type Step string

const (
	StepClearingBasket Step = "clearing_basket"
	StepSettling       Step = "settling"
	StepCompensating   Step = "compensating"
)

// Command es el último comando emitido; se reenvía tal cual en los reintentos.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Instance es el estado persistido de la saga de un pedido.
type Instance struct {
	CorrelationID  uuid.UUID       `json:"correlationId"`
	BasketID       uuid.UUID       `json:"basketId"`
	BuyerName      string          `json:"buyerName"`
	BuyerEmail     string          `json:"buyerEmail"`
	Total          decimal.Decimal `json:"total"`
	State          State           `json:"state"`
	Step           Step            `json:"step"`
	Failures       int             `json:"failures"`
	Attempts       int             `json:"attempts"`
	LastAttemptAt  time.Time       `json:"lastAttemptAt"`
	StartedAt      time.Time       `json:"startedAt"`
	LastCommand    *Command        `json:"lastCommand,omitempty"`
	ConversationID string          `json:"conversationId"`
	Version        int64           `json:"version"`
}

// Backoff devuelve la espera antes del reintento número attempt.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// RetryPolicy acota los reintentos de la saga.
type RetryPolicy struct {
	MaxAttempts     int
	MaxRetryTimeout time.Duration
	Backoff         Backoff
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff.Delay(attempt)
}

// Tick es la entrada periódica que dispara reintentos y timeouts.
type Tick struct {
	Now time.Time
}

// Effect es un mensaje que la transición ordena emitir.
type Effect struct {
	Type    string
	Payload json.RawMessage
}

// Result es la salida de Transition.
type Result struct {
	Instance Instance
	Effects  []Effect
	Changed  bool
	// Note describe el motivo cuando la entrada no produce cambios.
	Note string
}

func effect(eventType string, payload interface{}) (Effect, error) {
	raw, err := gojson.Marshal(payload)
	if err != nil {
		return Effect{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return Effect{Type: eventType, Payload: raw}, nil
}

func unchanged(inst Instance, note string) Result {
	return Result{Instance: inst, Note: note}
}

// Transition es la tabla de transiciones de la saga. inst es nil si aún no
// existe instancia (estado Initial). No tiene efectos secundarios: el llamante
// persiste el resultado y sus efectos en una sola transacción.
func Transition(inst *Instance, input interface{}, policy RetryPolicy, now time.Time) (Result, error) {
	now = now.UTC()
	if inst == nil || inst.State == StateInitial {
		checkedOut, ok := input.(events.CheckedOut)
		if !ok {
			return Result{}, fmt.Errorf("%w: %T in %s", ErrOutOfOrder, input, StateInitial)
		}
		return start(checkedOut, now)
	}

	cur := *inst
	if cur.State.Terminal() {
		return unchanged(cur, "instance already finished"), nil
	}

	switch in := input.(type) {
	case events.CheckedOut:
		return unchanged(cur, "duplicate checkout"), nil
	case events.BasketClearComplete:
		return onClearComplete(cur, in, now)
	case events.BasketClearFailed:
		return onClearFailed(cur, in, policy, now)
	case events.OrderStatusChangedToComplete:
		return finish(cur, StateCompleted, events.OrderCompletedNotificationType)
	case events.OrderStatusChangedToCancel:
		return finish(cur, StateCancelled, events.OrderCancelledNotificationType)
	case Tick:
		return onTick(cur, policy, in.Now.UTC())
	default:
		return Result{}, fmt.Errorf("%w: %T", ErrUnsupportedInput, input)
	}
}

func start(in events.CheckedOut, now time.Time) (Result, error) {
	cmd, err := effect(events.ClearBasketCommandType, events.ClearBasketCommand{OrderID: in.OrderID, BasketID: in.BasketID})
	if err != nil {
		return Result{}, err
	}
	next := Instance{
		CorrelationID: in.OrderID,
		BasketID:      in.BasketID,
		BuyerName:     in.BuyerFullName,
		BuyerEmail:    in.BuyerEmail,
		Total:         in.TotalAmount,
		State:         StatePlaced,
		Step:          StepClearingBasket,
		StartedAt:     now,
		LastAttemptAt: now,
		LastCommand:   &Command{Type: cmd.Type, Payload: cmd.Payload},
	}
	return Result{Instance: next, Effects: []Effect{cmd}, Changed: true}, nil
}

func onClearComplete(cur Instance, in events.BasketClearComplete, now time.Time) (Result, error) {
	if cur.Step != StepClearingBasket {
		return unchanged(cur, "basket clear already handled"), nil
	}
	cmd, err := effect(events.SettleOrderCommandType, events.SettleOrderCommand{
		OrderID:     cur.CorrelationID,
		BasketID:    cur.BasketID,
		TotalAmount: cur.Total,
	})
	if err != nil {
		return Result{}, err
	}
	cur.Step = StepSettling
	cur.Attempts = 0
	cur.LastAttemptAt = now
	cur.LastCommand = &Command{Type: cmd.Type, Payload: cmd.Payload}
	return Result{Instance: cur, Effects: []Effect{cmd}, Changed: true}, nil
}

func onClearFailed(cur Instance, in events.BasketClearFailed, policy RetryPolicy, now time.Time) (Result, error) {
	cur.Failures++
	if cur.Failures > policy.MaxAttempts {
		cur.State = StateFailed
		return Result{Instance: cur, Changed: true, Note: "basket clear failures exhausted"}, nil
	}

	reason := in.Reason
	if reason == "" {
		reason = "basket clear failed"
	}
	return compensate(cur, reason, now)
}

func compensation(cur Instance, reason string) (Effect, error) {
	return effect(events.CancelOrderCommandType, events.CancelOrderCommand{
		OrderID:  cur.CorrelationID,
		BasketID: cur.BasketID,
		Reason:   reason,
	})
}

func notification(cur Instance, eventType string) (Effect, error) {
	return effect(eventType, events.OrderNotification{
		OrderID:       cur.CorrelationID,
		BuyerFullName: cur.BuyerName,
		BuyerEmail:    cur.BuyerEmail,
		TotalAmount:   cur.Total,
	})
}

func finish(cur Instance, final State, notificationType string) (Result, error) {
	n, err := notification(cur, notificationType)
	if err != nil {
		return Result{}, err
	}
	cur.State = final
	return Result{Instance: cur, Effects: []Effect{n}, Changed: true}, nil
}

// cancelOnTimeout compensa y cierra la saga sin esperar respuesta de ordering.
func cancelOnTimeout(cur Instance, reason string) (Result, error) {
	cmd, err := compensation(cur, reason)
	if err != nil {
		return Result{}, err
	}
	n, err := notification(cur, events.OrderCancelledNotificationType)
	if err != nil {
		return Result{}, err
	}
	cur.State = StateCancelled
	cur.LastCommand = &Command{Type: cmd.Type, Payload: cmd.Payload}
	return Result{Instance: cur, Effects: []Effect{cmd, n}, Changed: true}, nil
}

func onTick(cur Instance, policy RetryPolicy, now time.Time) (Result, error) {
	if policy.MaxRetryTimeout > 0 && now.Sub(cur.StartedAt) >= policy.MaxRetryTimeout {
		return cancelOnTimeout(cur, "saga timed out")
	}
	if now.Sub(cur.LastAttemptAt) < policy.delay(cur.Attempts) {
		return unchanged(cur, "waiting for backoff"), nil
	}

	if cur.Attempts < policy.MaxAttempts {
		if cur.LastCommand == nil {
			return unchanged(cur, "nothing to retry"), nil
		}
		cur.Attempts++
		cur.LastAttemptAt = now
		return Result{
			Instance: cur,
			Effects:  []Effect{{Type: cur.LastCommand.Type, Payload: cur.LastCommand.Payload}},
			Changed:  true,
		}, nil
	}

	if cur.Step == StepCompensating {
		cur.State = StateFailed
		return Result{Instance: cur, Changed: true, Note: "compensation retries exhausted"}, nil
	}
	return compensate(cur, "retries exhausted", now)
}

// compensate pide la cancelación y deja la saga esperando la confirmación de ordering.
func compensate(cur Instance, reason string, now time.Time) (Result, error) {
	cmd, err := compensation(cur, reason)
	if err != nil {
		return Result{}, err
	}
	cur.Step = StepCompensating
	cur.Attempts = 0
	cur.LastAttemptAt = now
	cur.LastCommand = &Command{Type: cmd.Type, Payload: cmd.Payload}
	return Result{Instance: cur, Effects: []Effect{cmd}, Changed: true}, nil
}
