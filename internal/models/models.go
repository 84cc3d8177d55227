package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is owned by the catalog; the ledger only reads price/active and
// maintains StockOnHand as a projection of stock_movements.
type Product struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	Name        string    `db:"name" json:"name"`
	UnitPrice   int64     `db:"unit_price" json:"unit_price"`
	Active      bool      `db:"active" json:"active"`
	StockOnHand int64     `db:"stock_on_hand" json:"stock_on_hand"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// StockMovement is one immutable ledger entry.
type StockMovement struct {
	ID            string    `db:"id" json:"id"`
	TenantID      string    `db:"tenant_id" json:"tenant_id"`
	ProductID     string    `db:"product_id" json:"product_id"`
	Quantity      int64     `db:"quantity" json:"quantity"`
	Direction     string    `db:"direction" json:"direction"`
	ReferenceKind string    `db:"reference_kind" json:"reference_kind"`
	ReferenceID   string    `db:"reference_id" json:"reference_id"`
	OperatorID    string    `db:"operator_id" json:"operator_id"`
	Note          string    `db:"note" json:"note,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Signed returns the effect of the movement on stock_on_hand.
func (m StockMovement) Signed() int64 {
	if m.Direction == DirectionOut {
		return -m.Quantity
	}
	return m.Quantity
}

// Sale is the aggregate root of a committed cart.
type Sale struct {
	ID             string     `db:"id" json:"id"`
	TenantID       string     `db:"tenant_id" json:"tenant_id"`
	SequenceNumber int64      `db:"sequence_number" json:"sequence_number"`
	BuyerRef       *string    `db:"buyer_ref" json:"buyer_ref,omitempty"`
	Subtotal       int64      `db:"subtotal" json:"subtotal"`
	Discount       int64      `db:"discount" json:"discount"`
	Total          int64      `db:"total" json:"total"`
	AmountPaid     int64      `db:"amount_paid" json:"amount_paid"`
	Change         int64      `db:"change_due" json:"change"`
	PaymentMethod  string     `db:"payment_method" json:"payment_method"`
	OperatorID     string     `db:"operator_id" json:"operator_id"`
	Status         string     `db:"status" json:"status"`
	IdempotencyKey *string    `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	CancelledAt    *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// SaleLineItem belongs to exactly one Sale.
type SaleLineItem struct {
	ID        string `db:"id" json:"id"`
	SaleID    string `db:"sale_id" json:"sale_id"`
	TenantID  string `db:"tenant_id" json:"tenant_id"`
	LineNo    int    `db:"line_no" json:"line_no"`
	ProductID string `db:"product_id" json:"product_id"`
	Quantity  int64  `db:"quantity" json:"quantity"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
	LineTotal int64  `db:"line_total" json:"line_total"`
}

// SaleCancellation is the explicit reversal record compensating movements point to.
type SaleCancellation struct {
	ID         string    `db:"id" json:"id"`
	SaleID     string    `db:"sale_id" json:"sale_id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	OperatorID string    `db:"operator_id" json:"operator_id"`
	Reason     string    `db:"reason" json:"reason"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// PaymentRecord is an entry of the revenue ledger, one per sale and kind.
type PaymentRecord struct {
	ID          string          `db:"id" json:"id"`
	SaleID      string          `db:"sale_id" json:"sale_id"`
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	Kind        string          `db:"kind" json:"kind"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	AmountMinor int64           `db:"amount_minor" json:"amount_minor"`
	Method      string          `db:"method" json:"method"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Sale statuses
const (
	SaleStatusCommitted = "committed"
	SaleStatusCancelled = "cancelled"
)

// Movement directions
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Movement reference kinds
const (
	ReferenceSale         = "sale"
	ReferenceCancellation = "cancellation"
	ReferenceAdjustment   = "adjustment"
)

// Payment record kinds
const (
	PaymentKindPayment = "payment"
	PaymentKindRefund  = "refund"
)

// PaymentMethod is resolved once at input validation.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "cash"
	PaymentDebitCard  PaymentMethod = "debit_card"
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentPix        PaymentMethod = "pix"
	PaymentVoucher    PaymentMethod = "voucher"
	PaymentOther      PaymentMethod = "other"
)

var paymentMethods = map[PaymentMethod]struct{}{
	PaymentCash:       {},
	PaymentDebitCard:  {},
	PaymentCreditCard: {},
	PaymentPix:        {},
	PaymentVoucher:    {},
	PaymentOther:      {},
}

// ParsePaymentMethod matches the canonical code exactly, ignoring case and
// surrounding whitespace.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	pm := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := paymentMethods[pm]
	return pm, ok
}
