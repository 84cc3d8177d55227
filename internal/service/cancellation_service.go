package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/store"
	"pos-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// CancellationService reverses committed sales by compensation: stock comes
// back through new in movements, the original rows stay untouched.
type CancellationService struct {
	store          *store.Store
	recorder       PaymentRecorder
	eventPublisher EventPublisher
	logger         *zap.Logger
}

// NewCancellationService creates a new cancellation service
func NewCancellationService(store *store.Store, recorder PaymentRecorder, eventPublisher EventPublisher) *CancellationService {
	if eventPublisher == nil {
		eventPublisher = NoopPublisher
	}
	return &CancellationService{
		store:          store,
		recorder:       recorder,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// CancelSaleRequest identifies the sale to reverse.
type CancelSaleRequest struct {
	TenantID   string `json:"tenant_id"`
	SaleID     string `json:"sale_id"`
	OperatorID string `json:"operator_id"`
	Reason     string `json:"reason"`
}

// CancelResult reports the final state. AlreadyCancelled is set when the call
// found the sale cancelled and wrote nothing.
type CancelResult struct {
	SaleID           string `json:"sale_id"`
	Status           string `json:"status"`
	AlreadyCancelled bool   `json:"already_cancelled"`
	CancellationID   string `json:"cancellation_id,omitempty"`
	RefundRecorded   bool   `json:"refund_recorded"`
}

// CancelSale locks the sale, then its products in ascending id order, and
// in one transaction records the cancellation, restores stock and flips the
// status. Repeating the call is a no-op.
func (cs *CancellationService) CancelSale(ctx context.Context, req *CancelSaleRequest) (result *CancelResult, err error) {
	ctx, span := util.StartSpan(ctx, "CancellationService.CancelSale", req.TenantID)
	defer func() { util.EndSpan(span, err) }()

	if err := validateCancel(req); err != nil {
		return nil, err
	}

	var (
		sale         *models.Sale
		cancellation *models.SaleCancellation
		already      bool
	)
	err = cs.store.WithTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		sale, err = cs.store.LockSale(ctx, tx, req.TenantID, req.SaleID)
		if err != nil {
			return mapSaleErr(err)
		}
		if sale.Status == models.SaleStatusCancelled {
			already = true
			return nil
		}

		items, err := cs.store.LineItemsTx(ctx, tx, req.TenantID, req.SaleID)
		if err != nil {
			return err
		}
		productIDs := make([]string, len(items))
		for i, item := range items {
			productIDs[i] = item.ProductID
		}
		if _, err := cs.store.LockStock(ctx, tx, req.TenantID, productIDs); err != nil {
			return mapProductErr(err)
		}

		now := time.Now().UTC()
		cancellation = &models.SaleCancellation{
			ID:         uuid.New().String(),
			SaleID:     sale.ID,
			TenantID:   req.TenantID,
			OperatorID: req.OperatorID,
			Reason:     req.Reason,
			CreatedAt:  now,
		}
		if err := cs.store.InsertCancellation(ctx, tx, cancellation); err != nil {
			return err
		}

		for _, item := range items {
			err := cs.store.AppendMovement(ctx, tx, &models.StockMovement{
				TenantID:      req.TenantID,
				ProductID:     item.ProductID,
				Quantity:      item.Quantity,
				Direction:     models.DirectionIn,
				ReferenceKind: models.ReferenceCancellation,
				ReferenceID:   cancellation.ID,
				OperatorID:    req.OperatorID,
				Note:          fmt.Sprintf("sale %s line %d", sale.ID, item.LineNo),
			})
			if err != nil {
				return err
			}
		}

		flipped, err := cs.store.MarkCancelled(ctx, tx, req.TenantID, sale.ID, now)
		if err != nil {
			return err
		}
		if !flipped {
			return fmt.Errorf("sale %s left the committed state during cancellation", sale.ID)
		}
		sale.Status = models.SaleStatusCancelled
		sale.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, txFailed(err)
	}

	logger := util.TenantLogger(req.TenantID, "cancel_sale")
	if already {
		util.CancellationsRepeatedTotal.Inc()
		logger.Info("Sale already cancelled", zap.String("sale_id", req.SaleID))
		return &CancelResult{SaleID: sale.ID, Status: sale.Status, AlreadyCancelled: true}, nil
	}

	util.SalesCancelledTotal.Inc()
	logger.Info("Sale cancelled and stock restored",
		zap.String("sale_id", sale.ID),
		zap.String("cancellation_id", cancellation.ID))

	event := &models.SaleCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSaleCancelled,
			Timestamp: time.Now(),
		},
		SaleID:         sale.ID,
		TenantID:       sale.TenantID,
		CancellationID: cancellation.ID,
		OperatorID:     req.OperatorID,
		Reason:         req.Reason,
	}
	if err := cs.eventPublisher.PublishSaleCancelled(ctx, event); err != nil {
		util.EventPublishFailedTotal.WithLabelValues(event.EventType).Inc()
		cs.logger.Error("Failed to publish SaleCancelled event", zap.String("sale_id", sale.ID), zap.Error(err))
	}

	refunded := recordOutcome(ctx, cs.recorder, cs.eventPublisher, cs.logger,
		models.PaymentKindRefund, paymentEntry(sale))

	return &CancelResult{
		SaleID:         sale.ID,
		Status:         sale.Status,
		CancellationID: cancellation.ID,
		RefundRecorded: refunded,
	}, nil
}

func validateCancel(req *CancelSaleRequest) error {
	if strings.TrimSpace(req.TenantID) == "" {
		return invalid("tenant_id", "is required")
	}
	if strings.TrimSpace(req.SaleID) == "" {
		return invalid("sale_id", "is required")
	}
	if strings.TrimSpace(req.OperatorID) == "" {
		return invalid("operator_id", "is required")
	}
	return nil
}
