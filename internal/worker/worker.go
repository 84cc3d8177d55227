package worker

import (
	"context"
	"time"

	"pos-ledger/internal/broker"
	"pos-ledger/internal/service"
	"pos-ledger/internal/util"
)

// ReconciliationWorker consumes PaymentRecordingFailed events and retries the
// revenue ledger write until it lands.
type ReconciliationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	retryDelay   time.Duration
}

// NewReconciliationWorker creates a new reconciliation worker
func NewReconciliationWorker(
	consumer *broker.Consumer,
	reconciler *service.PaymentReconciler,
	retryDelay time.Duration,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		consumer:     consumer,
		eventHandler: NewEventHandler(reconciler),
		retryDelay:   retryDelay,
	}
}

// NewEventHandler wires the reconciler into a broker event router.
func NewEventHandler(reconciler *service.PaymentReconciler) *broker.EventHandler {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentRecordingFailed(reconciler.HandlePaymentRecordingFailed)
	return eventHandler
}

// Start blocks until ctx is cancelled.
func (w *ReconciliationWorker) Start(ctx context.Context) error {
	util.GetLogger().Info("Starting reconciliation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage, w.retryDelay)
}

// Stop stops the worker
func (w *ReconciliationWorker) Stop() error {
	util.GetLogger().Info("Stopping reconciliation worker")
	return w.consumer.Close()
}
