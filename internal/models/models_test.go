package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePaymentMethod(t *testing.T) {
	tests := []struct {
		raw  string
		want PaymentMethod
		ok   bool
	}{
		{"cash", PaymentCash, true},
		{"CREDIT_CARD", PaymentCreditCard, true},
		{" debit_card ", PaymentDebitCard, true},
		{"pix", PaymentPix, true},
		{"credit", "", false},
		{"cartão de crédito", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParsePaymentMethod(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestStockMovementSigned(t *testing.T) {
	assert.Equal(t, int64(-3), StockMovement{Quantity: 3, Direction: DirectionOut}.Signed())
	assert.Equal(t, int64(3), StockMovement{Quantity: 3, Direction: DirectionIn}.Signed())
}
