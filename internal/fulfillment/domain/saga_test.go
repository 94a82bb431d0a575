package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/bookflow/internal/shared/domain/events"
	"github.com/davicafu/bookflow/internal/shared/infra/utils"
)

var (
	t0     = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	policy = RetryPolicy{
		MaxAttempts:     2,
		MaxRetryTimeout: 10 * time.Minute,
		Backoff:         utils.FixedBackoff(time.Minute),
	}
)

func checkedOut(orderID, basketID uuid.UUID, total string) events.CheckedOut {
	return events.CheckedOut{
		OrderID:       orderID,
		BasketID:      basketID,
		BuyerFullName: "Ana García",
		BuyerEmail:    "ana@example.com",
		TotalAmount:   decimal.RequireFromString(total),
	}
}

func mustTransition(t *testing.T, inst *Instance, input interface{}, now time.Time) Result {
	t.Helper()
	res, err := Transition(inst, input, policy, now)
	require.NoError(t, err)
	return res
}

func effectTypes(effects []Effect) []string {
	out := make([]string, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Type)
	}
	return out
}

func decodeEffect[T any](t *testing.T, e Effect) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(e.Payload, &out))
	return out
}

func TestTransition_HappyPath_O1(t *testing.T) {
	o1, b1 := uuid.New(), uuid.New()

	res := mustTransition(t, nil, checkedOut(o1, b1, "99.99"), t0)
	assert.Equal(t, StatePlaced, res.Instance.State)
	assert.Equal(t, StepClearingBasket, res.Instance.Step)
	require.Equal(t, []string{events.ClearBasketCommandType}, effectTypes(res.Effects))
	clearCmd := decodeEffect[events.ClearBasketCommand](t, res.Effects[0])
	assert.Equal(t, b1, clearCmd.BasketID)

	inst := res.Instance
	res = mustTransition(t, &inst, events.BasketClearComplete{OrderID: o1, BasketID: b1, TotalAmount: decimal.RequireFromString("99.99")}, t0.Add(time.Second))
	assert.Equal(t, StatePlaced, res.Instance.State)
	assert.Equal(t, StepSettling, res.Instance.Step)
	require.Equal(t, []string{events.SettleOrderCommandType}, effectTypes(res.Effects))
	settle := decodeEffect[events.SettleOrderCommand](t, res.Effects[0])
	assert.True(t, decimal.RequireFromString("99.99").Equal(settle.TotalAmount))

	inst = res.Instance
	res = mustTransition(t, &inst, events.OrderStatusChangedToComplete{OrderID: o1, BasketID: b1}, t0.Add(2*time.Second))
	assert.Equal(t, StateCompleted, res.Instance.State)
	require.Equal(t, []string{events.OrderCompletedNotificationType}, effectTypes(res.Effects))
	n := decodeEffect[events.OrderNotification](t, res.Effects[0])
	assert.Equal(t, o1, n.OrderID)
	assert.Equal(t, "ana@example.com", n.BuyerEmail)
}

func TestTransition_BasketClearFailed_O2(t *testing.T) {
	o2, b2 := uuid.New(), uuid.New()

	res := mustTransition(t, nil, checkedOut(o2, b2, "50.00"), t0)
	inst := res.Instance

	res = mustTransition(t, &inst, events.BasketClearFailed{OrderID: o2, BasketID: b2, BuyerEmail: "ana@example.com", TotalAmount: decimal.RequireFromString("50.00")}, t0.Add(time.Second))
	assert.Equal(t, StatePlaced, res.Instance.State)
	assert.Equal(t, StepCompensating, res.Instance.Step)
	assert.Equal(t, 1, res.Instance.Failures)
	require.Equal(t, []string{events.CancelOrderCommandType}, effectTypes(res.Effects))
	cancel := decodeEffect[events.CancelOrderCommand](t, res.Effects[0])
	assert.Equal(t, o2, cancel.OrderID)

	inst = res.Instance
	res = mustTransition(t, &inst, events.OrderStatusChangedToCancel{OrderID: o2, BasketID: b2}, t0.Add(2*time.Second))
	assert.Equal(t, StateCancelled, res.Instance.State)
	assert.Equal(t, []string{events.OrderCancelledNotificationType}, effectTypes(res.Effects))
}

func TestTransition_FailuresBeyondMaxAttemptsFail(t *testing.T) {
	o, b := uuid.New(), uuid.New()
	res := mustTransition(t, nil, checkedOut(o, b, "10.00"), t0)
	inst := res.Instance

	cancels := 0
	for i := 0; i < policy.MaxAttempts+1; i++ {
		res = mustTransition(t, &inst, events.BasketClearFailed{OrderID: o, BasketID: b}, t0.Add(time.Duration(i+1)*time.Second))
		cancels += len(res.Effects)
		inst = res.Instance
	}
	assert.Equal(t, StateFailed, inst.State)
	assert.Equal(t, policy.MaxAttempts, cancels, "one compensating command per distinct failure")
}

func TestTransition_DuplicatesAreNoOps(t *testing.T) {
	o, b := uuid.New(), uuid.New()
	res := mustTransition(t, nil, checkedOut(o, b, "10.00"), t0)
	inst := res.Instance

	dup := mustTransition(t, &inst, checkedOut(o, b, "10.00"), t0.Add(time.Second))
	assert.False(t, dup.Changed)
	assert.Empty(t, dup.Effects)
	assert.Equal(t, inst, dup.Instance)

	res = mustTransition(t, &inst, events.BasketClearComplete{OrderID: o, BasketID: b}, t0.Add(time.Second))
	inst = res.Instance
	again := mustTransition(t, &inst, events.BasketClearComplete{OrderID: o, BasketID: b}, t0.Add(2*time.Second))
	assert.False(t, again.Changed)
	assert.Empty(t, again.Effects)

	res = mustTransition(t, &inst, events.OrderStatusChangedToComplete{OrderID: o}, t0.Add(3*time.Second))
	inst = res.Instance
	final := mustTransition(t, &inst, events.OrderStatusChangedToComplete{OrderID: o}, t0.Add(4*time.Second))
	assert.False(t, final.Changed)
	assert.Empty(t, final.Effects)
	assert.Equal(t, StateCompleted, final.Instance.State)
}

func TestTransition_InitialRejectsOtherInputs(t *testing.T) {
	_, err := Transition(nil, events.BasketClearComplete{OrderID: uuid.New()}, policy, t0)
	assert.ErrorIs(t, err, ErrOutOfOrder)

	_, err = Transition(nil, Tick{Now: t0}, policy, t0)
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestTransition_UnsupportedInput(t *testing.T) {
	res := mustTransition(t, nil, checkedOut(uuid.New(), uuid.New(), "1.00"), t0)
	inst := res.Instance
	_, err := Transition(&inst, "what", policy, t0)
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestTransition_TickRetriesWithBackoff(t *testing.T) {
	res := mustTransition(t, nil, checkedOut(uuid.New(), uuid.New(), "1.00"), t0)
	inst := res.Instance

	// antes del backoff no pasa nada
	wait := mustTransition(t, &inst, Tick{Now: t0.Add(30 * time.Second)}, t0.Add(30*time.Second))
	assert.False(t, wait.Changed)

	retry := mustTransition(t, &inst, Tick{Now: t0.Add(time.Minute)}, t0.Add(time.Minute))
	assert.True(t, retry.Changed)
	assert.Equal(t, 1, retry.Instance.Attempts)
	require.Len(t, retry.Effects, 1)
	assert.Equal(t, events.ClearBasketCommandType, retry.Effects[0].Type)
	assert.JSONEq(t, string(inst.LastCommand.Payload), string(retry.Effects[0].Payload))
}

func TestTransition_TickExhaustedCompensates(t *testing.T) {
	o, b := uuid.New(), uuid.New()
	res := mustTransition(t, nil, checkedOut(o, b, "1.00"), t0)
	inst := res.Instance
	res = mustTransition(t, &inst, events.BasketClearComplete{OrderID: o, BasketID: b}, t0)
	inst = res.Instance
	require.Equal(t, StepSettling, inst.Step)

	now := t0
	for i := 0; i < policy.MaxAttempts; i++ {
		now = now.Add(time.Minute)
		res = mustTransition(t, &inst, Tick{Now: now}, now)
		require.Equal(t, []string{events.SettleOrderCommandType}, effectTypes(res.Effects))
		inst = res.Instance
	}

	// sin respuesta de finance: se pide la cancelación, sin notificar todavía
	now = now.Add(time.Minute)
	res = mustTransition(t, &inst, Tick{Now: now}, now)
	assert.Equal(t, StatePlaced, res.Instance.State)
	assert.Equal(t, StepCompensating, res.Instance.Step)
	assert.Zero(t, res.Instance.Attempts)
	assert.Equal(t, now, res.Instance.LastAttemptAt)
	require.Equal(t, []string{events.CancelOrderCommandType}, effectTypes(res.Effects))
	cancel := decodeEffect[events.CancelOrderCommand](t, res.Effects[0])
	assert.Equal(t, "retries exhausted", cancel.Reason)
	require.NotNil(t, res.Instance.LastCommand)
	assert.Equal(t, events.CancelOrderCommandType, res.Instance.LastCommand.Type)

	inst = res.Instance
	res = mustTransition(t, &inst, events.OrderStatusChangedToCancel{OrderID: o, BasketID: b}, now.Add(time.Second))
	assert.Equal(t, StateCancelled, res.Instance.State)
	assert.Equal(t, []string{events.OrderCancelledNotificationType}, effectTypes(res.Effects))
}

func TestTransition_TickExhaustedWhileCompensatingFails(t *testing.T) {
	o, b := uuid.New(), uuid.New()
	res := mustTransition(t, nil, checkedOut(o, b, "1.00"), t0)
	inst := res.Instance
	res = mustTransition(t, &inst, events.BasketClearFailed{OrderID: o, BasketID: b}, t0)
	inst = res.Instance

	now := t0
	for i := 0; i < policy.MaxAttempts; i++ {
		now = now.Add(time.Minute)
		res = mustTransition(t, &inst, Tick{Now: now}, now)
		require.Equal(t, []string{events.CancelOrderCommandType}, effectTypes(res.Effects))
		inst = res.Instance
	}

	now = now.Add(time.Minute)
	res = mustTransition(t, &inst, Tick{Now: now}, now)
	assert.Equal(t, StateFailed, res.Instance.State)
	assert.Empty(t, res.Effects)
}

func TestTransition_BusinessTimeoutCancels(t *testing.T) {
	res := mustTransition(t, nil, checkedOut(uuid.New(), uuid.New(), "1.00"), t0)
	inst := res.Instance

	now := t0.Add(policy.MaxRetryTimeout)
	res = mustTransition(t, &inst, Tick{Now: now}, now)
	assert.Equal(t, StateCancelled, res.Instance.State)
	assert.Equal(t, []string{events.CancelOrderCommandType, events.OrderCancelledNotificationType}, effectTypes(res.Effects))
}

func TestTransition_ExponentialBackoffPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Backoff: utils.ExponentialBackoff(time.Second, time.Minute)}
	res, err := Transition(nil, checkedOut(uuid.New(), uuid.New(), "1.00"), p, t0)
	require.NoError(t, err)
	inst := res.Instance

	// intento 0: 1s; intento 1: 2s
	res, err = Transition(&inst, Tick{Now: t0.Add(time.Second)}, p, t0.Add(time.Second))
	require.NoError(t, err)
	require.True(t, res.Changed)
	inst = res.Instance

	res, err = Transition(&inst, Tick{Now: t0.Add(2 * time.Second)}, p, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Changed)

	res, err = Transition(&inst, Tick{Now: t0.Add(3 * time.Second)}, p, t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, res.Changed)
}
