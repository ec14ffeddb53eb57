package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountsEncodeAsNumbers(t *testing.T) {
	line := NewSaleLineItem(7, "Leche", 3, decimal.RequireFromString("27.50"))

	raw, err := json.Marshal(line)
	require.NoError(t, err)
	assert.JSONEq(t, `{"product_id":7,"product_name":"Leche","quantity":3,"unit_price":27.5,"subtotal":82.5}`, string(raw))

	var back SaleLineItem
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.Subtotal.Equal(line.Subtotal))
}

func TestCentsRoundsHalfUp(t *testing.T) {
	assert.Equal(t, "10.56", Cents(decimal.RequireFromString("10.555")).StringFixed(2))
}
