package service

import (
	"context"
	"fmt"

	"pos-ledger/internal/models"
	"pos-ledger/internal/util"

	"go.uber.org/zap"
)

type processedEventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PaymentReconciler retries revenue ledger writes announced as failed.
type PaymentReconciler struct {
	store    processedEventStore
	recorder PaymentRecorder
	logger   *zap.Logger
}

// NewPaymentReconciler creates a new payment reconciler
func NewPaymentReconciler(store processedEventStore, recorder PaymentRecorder) *PaymentReconciler {
	return &PaymentReconciler{
		store:    store,
		recorder: recorder,
		logger:   util.GetLogger(),
	}
}

// HandlePaymentRecordingFailed re-records the entry named by the event. An
// error leaves the event uncommitted so the broker redelivers it.
func (pr *PaymentReconciler) HandlePaymentRecordingFailed(ctx context.Context, event *models.PaymentRecordingFailedEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.HandlePaymentRecordingFailed", event.TenantID)
	defer func() { util.EndSpan(span, err) }()

	processed, err := pr.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		pr.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	entry := PaymentEntry{
		SaleID:   event.SaleID,
		TenantID: event.TenantID,
		Amount:   event.Amount,
		Method:   event.Method,
	}
	switch event.Kind {
	case models.PaymentKindPayment:
		err = pr.recorder.RecordPayment(ctx, entry)
	case models.PaymentKindRefund:
		err = pr.recorder.RecordRefund(ctx, entry)
	default:
		pr.logger.Warn("Unknown payment kind, dropping event",
			zap.String("event_id", event.EventID),
			zap.String("kind", event.Kind))
		return pr.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
	}
	if err != nil {
		return fmt.Errorf("reconcile %s for sale %s: %w", event.Kind, event.SaleID, err)
	}

	util.PaymentReconciledTotal.Inc()
	if err := pr.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		pr.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	pr.logger.Info("Payment record reconciled",
		zap.String("tenant_id", event.TenantID),
		zap.String("sale_id", event.SaleID),
		zap.String("kind", event.Kind))
	return nil
}
