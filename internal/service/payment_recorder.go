package service

import (
	"context"
	"fmt"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type paymentStore interface {
	InsertPaymentRecord(ctx context.Context, rec *models.PaymentRecord) (bool, error)
}

// LedgerPaymentRecorder writes payment and refund entries to the revenue
// ledger with a bounded retry. The (tenant, sale, kind) key makes repeats
// harmless.
type LedgerPaymentRecorder struct {
	store    paymentStore
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// NewLedgerPaymentRecorder creates a recorder retrying up to attempts times,
// doubling backoff between tries.
func NewLedgerPaymentRecorder(store paymentStore, attempts int, backoff time.Duration) *LedgerPaymentRecorder {
	if attempts < 1 {
		attempts = 1
	}
	return &LedgerPaymentRecorder{
		store:    store,
		attempts: attempts,
		backoff:  backoff,
		logger:   util.GetLogger(),
	}
}

// RecordPayment records the amount collected for a committed sale.
func (r *LedgerPaymentRecorder) RecordPayment(ctx context.Context, entry PaymentEntry) error {
	return r.record(ctx, models.PaymentKindPayment, entry)
}

// RecordRefund records the amount returned for a cancelled sale.
func (r *LedgerPaymentRecorder) RecordRefund(ctx context.Context, entry PaymentEntry) error {
	return r.record(ctx, models.PaymentKindRefund, entry)
}

func (r *LedgerPaymentRecorder) record(ctx context.Context, kind string, entry PaymentEntry) error {
	ctx, span := util.StartSpan(ctx, "PaymentRecorder."+kind, entry.TenantID)
	var err error
	defer func() { util.EndSpan(span, err) }()

	delay := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		util.PaymentRecordAttemptsTotal.WithLabelValues(kind).Inc()

		var inserted bool
		inserted, err = r.store.InsertPaymentRecord(ctx, &models.PaymentRecord{
			ID:          uuid.New().String(),
			SaleID:      entry.SaleID,
			TenantID:    entry.TenantID,
			Kind:        kind,
			Amount:      decimal.New(entry.Amount, -2),
			AmountMinor: entry.Amount,
			Method:      entry.Method,
			CreatedAt:   time.Now().UTC(),
		})
		if err == nil {
			if !inserted {
				r.logger.Debug("Payment record already present",
					zap.String("sale_id", entry.SaleID),
					zap.String("kind", kind))
			}
			return nil
		}

		r.logger.Warn("Payment record attempt failed",
			zap.String("sale_id", entry.SaleID),
			zap.String("kind", kind),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return fmt.Errorf("record %s for sale %s: %w", kind, entry.SaleID, err)
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("record %s for sale %s after %d attempts: %w", kind, entry.SaleID, r.attempts, err)
}

// recordOutcome calls the recorder after a commit. Failure never undoes the
// sale: it is logged, counted and announced for reconciliation.
func recordOutcome(
	ctx context.Context,
	recorder PaymentRecorder,
	publisher EventPublisher,
	logger *zap.Logger,
	kind string,
	entry PaymentEntry,
) bool {
	var err error
	if kind == models.PaymentKindRefund {
		err = recorder.RecordRefund(ctx, entry)
	} else {
		err = recorder.RecordPayment(ctx, entry)
	}
	if err == nil {
		return true
	}

	util.PaymentRecordFailedTotal.WithLabelValues(kind).Inc()
	logger.Error("Payment recording failed, sale left for reconciliation",
		zap.String("tenant_id", entry.TenantID),
		zap.String("sale_id", entry.SaleID),
		zap.String("kind", kind),
		zap.Int64("amount", entry.Amount),
		zap.Error(err))

	event := &models.PaymentRecordingFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentRecordingFailed,
			Timestamp: time.Now(),
		},
		SaleID:   entry.SaleID,
		TenantID: entry.TenantID,
		Kind:     kind,
		Amount:   entry.Amount,
		Method:   entry.Method,
		Reason:   err.Error(),
	}
	if pubErr := publisher.PublishPaymentRecordingFailed(ctx, event); pubErr != nil {
		util.EventPublishFailedTotal.WithLabelValues(event.EventType).Inc()
		logger.Error("Failed to publish PaymentRecordingFailed event",
			zap.String("sale_id", entry.SaleID),
			zap.Error(pubErr))
	}
	return false
}
