package service

import (
	"context"
	"time"

	"pos-ledger/internal/models"
)

// Catalog resolves products for a tenant.
type Catalog interface {
	GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error)
}

// EventPublisher emits domain events after commit.
type EventPublisher interface {
	PublishSaleCommitted(ctx context.Context, event *models.SaleCommittedEvent) error
	PublishSaleCancelled(ctx context.Context, event *models.SaleCancelledEvent) error
	PublishPaymentRecordingFailed(ctx context.Context, event *models.PaymentRecordingFailedEvent) error
}

// IdempotencyCache remembers which sale answered an idempotency key.
type IdempotencyCache interface {
	GetSaleID(ctx context.Context, tenantID, key string) (string, error)
	SetSaleID(ctx context.Context, tenantID, key, saleID string, ttl time.Duration) error
}

// PaymentRecorder writes payment outcomes to the revenue ledger. Calls are
// idempotent per sale id and kind.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, entry PaymentEntry) error
	RecordRefund(ctx context.Context, entry PaymentEntry) error
}

// PaymentEntry is one amount in minor units attributed to a sale.
type PaymentEntry struct {
	SaleID   string
	TenantID string
	Amount   int64
	Method   string
}

type noopPublisher struct{}

func (noopPublisher) PublishSaleCommitted(context.Context, *models.SaleCommittedEvent) error {
	return nil
}

func (noopPublisher) PublishSaleCancelled(context.Context, *models.SaleCancelledEvent) error {
	return nil
}

func (noopPublisher) PublishPaymentRecordingFailed(context.Context, *models.PaymentRecordingFailedEvent) error {
	return nil
}

// NoopPublisher is used when no broker is configured.
var NoopPublisher EventPublisher = noopPublisher{}
