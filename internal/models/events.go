package models

import "time"

// Event types
const (
	EventTypeSaleCommitted          = "SALE_COMMITTED"
	EventTypeSaleCancelled          = "SALE_CANCELLED"
	EventTypePaymentRecordingFailed = "PAYMENT_RECORDING_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SaleCommittedEvent published after a sale transaction commits
type SaleCommittedEvent struct {
	BaseEvent
	SaleID         string         `json:"sale_id"`
	TenantID       string         `json:"tenant_id"`
	SequenceNumber int64          `json:"sequence_number"`
	Total          int64          `json:"total"`
	PaymentMethod  string         `json:"payment_method"`
	Lines          []SaleLineData `json:"lines"`
}

// SaleCancelledEvent published after a cancellation commits
type SaleCancelledEvent struct {
	BaseEvent
	SaleID         string `json:"sale_id"`
	TenantID       string `json:"tenant_id"`
	CancellationID string `json:"cancellation_id"`
	OperatorID     string `json:"operator_id"`
	Reason         string `json:"reason"`
}

// PaymentRecordingFailedEvent flags a sale whose revenue entry is missing
type PaymentRecordingFailedEvent struct {
	BaseEvent
	SaleID   string `json:"sale_id"`
	TenantID string `json:"tenant_id"`
	Kind     string `json:"kind"`
	Amount   int64  `json:"amount"`
	Method   string `json:"method"`
	Reason   string `json:"reason"`
}

// SaleLineData represents line data in events
type SaleLineData struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}
