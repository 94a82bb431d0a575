package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBasket() *Basket {
	return &Basket{
		ID:      uuid.New(),
		BuyerID: uuid.New(),
		Items: []BasketItem{
			{BookID: uuid.New(), Quantity: 3, UnitPrice: decimal.RequireFromString("33.33")},
			{BookID: uuid.New(), Quantity: 1, UnitPrice: decimal.RequireFromString("0.01")},
		},
	}
}

func TestBasket_Total(t *testing.T) {
	assert.Equal(t, "100.00", sampleBasket().Total().StringFixed(2))
	assert.True(t, (&Basket{}).Total().IsZero())
}

func TestBasket_Validate(t *testing.T) {
	require.NoError(t, sampleBasket().Validate())

	b := sampleBasket()
	b.Items[0].Quantity = 0
	assert.ErrorIs(t, b.Validate(), ErrInvalidBasket)

	b = sampleBasket()
	b.Items[1].UnitPrice = decimal.NewFromInt(-1)
	assert.ErrorIs(t, b.Validate(), ErrInvalidBasket)

	b = sampleBasket()
	b.BuyerID = uuid.Nil
	assert.ErrorIs(t, b.Validate(), ErrInvalidBasket)
}

func TestDecideClear(t *testing.T) {
	order := uuid.New()
	b := sampleBasket()
	now := time.Now()

	d := DecideClear(order, b.ID, nil, b, now)
	assert.True(t, d.Cleared)
	assert.True(t, d.DeleteBasket)
	require.NotNil(t, d.Clearance)
	assert.Equal(t, order, d.Clearance.OrderID)
	assert.Equal(t, "100.00", d.Total.StringFixed(2))

	// repetido: misma respuesta sin tocar nada
	again := DecideClear(order, b.ID, d.Clearance, nil, now)
	assert.True(t, again.Cleared)
	assert.False(t, again.DeleteBasket)
	assert.Nil(t, again.Clearance)
	assert.True(t, d.Total.Equal(again.Total))

	missing := DecideClear(uuid.New(), uuid.New(), nil, nil, now)
	assert.False(t, missing.Cleared)
	assert.Equal(t, "basket not found", missing.Reason)
}
