package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func items() []LineItem {
	return []LineItem{
		{BookID: uuid.New(), Quantity: 2, UnitPrice: decimal.RequireFromString("10.50")},
		{BookID: uuid.New(), Quantity: 1, UnitPrice: decimal.RequireFromString("4.00")},
	}
}

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder(uuid.New(), uuid.New(), uuid.New(), "Ana", "ana@example.com", items(), now)
	require.NoError(t, err)
	return o
}

// record simula el event store: asigna secuencias a los eventos pendientes.
func record(t *testing.T, o *Order, from int64) []RecordedEvent {
	t.Helper()
	var out []RecordedEvent
	for i, e := range o.PendingEvents() {
		ne, err := EncodeEvent(e)
		require.NoError(t, err)
		seq := from + int64(i) + 1
		out = append(out, RecordedEvent{GlobalSeq: seq, StreamID: StreamID(o.ID), StreamSeq: seq, Type: ne.Type, Payload: ne.Payload})
	}
	o.ClearPending()
	return out
}

func TestNewOrder_Valid(t *testing.T) {
	o := newTestOrder(t)
	assert.Equal(t, StatusNew, o.Status)
	assert.True(t, decimal.RequireFromString("25").Equal(o.Total()))
	require.Len(t, o.PendingEvents(), 1)
	assert.Equal(t, OrderCreatedType, o.PendingEvents()[0].EventType())
}

func TestNewOrder_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		items []LineItem
	}{
		{"no items", nil},
		{"zero quantity", []LineItem{{BookID: uuid.New(), Quantity: 0, UnitPrice: decimal.NewFromInt(1)}}},
		{"negative price", []LineItem{{BookID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromInt(-1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrder(uuid.New(), uuid.New(), uuid.New(), "Ana", "ana@example.com", tt.items, now)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestOrder_TransitionsAreMonotonic(t *testing.T) {
	o := newTestOrder(t)
	record(t, o, 0)

	changed, err := o.Complete(now)
	require.NoError(t, err)
	assert.True(t, changed)

	// repetir es un no-op
	changed, err = o.Complete(now)
	require.NoError(t, err)
	assert.False(t, changed)

	// la transición opuesta se rechaza
	_, err = o.Cancel("late", now)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, StatusCompleted, o.Status)
}

func TestOrder_CancelThenComplete(t *testing.T) {
	o := newTestOrder(t)
	changed, err := o.Cancel("basket not found", now)
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = o.Complete(now)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestRehydrate_RoundTrip(t *testing.T) {
	o := newTestOrder(t)
	stream := record(t, o, 0)
	_, err := o.Cancel("out of stock", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, o.Delete(now.Add(2*time.Minute)))
	stream = append(stream, record(t, o, 1)...)

	got, err := Rehydrate(stream)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.NotNil(t, got.DeletedAt)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, o.Version, got.Version)
	assert.True(t, o.Total().Equal(got.Total()))
	assert.Empty(t, got.PendingEvents())
}

func TestRehydrate_Empty(t *testing.T) {
	_, err := Rehydrate(nil)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderIDFor_IsDeterministic(t *testing.T) {
	buyer, basket := uuid.New(), uuid.New()
	assert.Equal(t, OrderIDFor(buyer, basket, "k1"), OrderIDFor(buyer, basket, "k1"))
	assert.NotEqual(t, OrderIDFor(buyer, basket, "k1"), OrderIDFor(buyer, basket, "k2"))
	assert.NotEqual(t, OrderIDFor(buyer, basket, "k1"), OrderIDFor(uuid.New(), basket, "k1"))
}

func TestOrderIDFor_WithoutKeyIsOnePerBasket(t *testing.T) {
	buyer, basket := uuid.New(), uuid.New()
	assert.Equal(t, OrderIDFor(buyer, basket, ""), OrderIDFor(buyer, basket, "  "))
	assert.NotEqual(t, OrderIDFor(buyer, basket, ""), OrderIDFor(buyer, uuid.New(), ""))
	assert.NotEqual(t, OrderIDFor(buyer, basket, ""), OrderIDFor(buyer, basket, "k1"))
}

func TestApplyToView_SkipsAppliedEvents(t *testing.T) {
	o := newTestOrder(t)
	stream := record(t, o, 0)
	_, err := o.Complete(now)
	require.NoError(t, err)
	stream = append(stream, record(t, o, 1)...)

	view, err := BuildView(stream)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, view.Status)
	assert.Equal(t, int64(2), view.Version)
	assert.True(t, decimal.RequireFromString("25").Equal(view.Total))

	// reaplicar OrderCreated no resetea el estado
	again, err := ApplyToView(view, stream[0])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
}

func TestRecordedEvent_UnknownType(t *testing.T) {
	_, err := RecordedEvent{Type: "Nope"}.Decode()
	assert.ErrorIs(t, err, ErrUnknownOrderEvent)
}
