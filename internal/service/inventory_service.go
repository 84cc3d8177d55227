package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"pos-ledger/internal/models"
	"pos-ledger/internal/store"
	"pos-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	defaultMovementLimit = 50
	maxMovementLimit     = 500
)

// InventoryService exposes the stock ledger outside of sales.
type InventoryService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(store *store.Store) *InventoryService {
	return &InventoryService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// StockLevel is the derived on-hand quantity of one product.
type StockLevel struct {
	ProductID   string `json:"product_id"`
	StockOnHand int64  `json:"stock_on_hand"`
}

// AdjustStockRequest is a manual intake (positive delta) or shrinkage
// (negative delta).
type AdjustStockRequest struct {
	TenantID   string `json:"tenant_id"`
	ProductID  string `json:"product_id"`
	OperatorID string `json:"operator_id"`
	Delta      int64  `json:"delta"`
	Note       string `json:"note"`
}

// ReconcileReport compares the stock projection with the ledger sum.
type ReconcileReport struct {
	ProductID  string `json:"product_id"`
	Projected  int64  `json:"projected"`
	FromLedger int64  `json:"from_ledger"`
	Drift      int64  `json:"drift"`
	Consistent bool   `json:"consistent"`
}

// GetAvailable returns the current stock of a product.
func (is *InventoryService) GetAvailable(ctx context.Context, tenantID, productID string) (*StockLevel, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, invalid("tenant_id", "is required")
	}
	onHand, err := is.store.GetAvailable(ctx, tenantID, productID)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return &StockLevel{ProductID: productID, StockOnHand: onHand}, nil
}

// ListMovements returns the newest movements of a product, at most limit.
func (is *InventoryService) ListMovements(ctx context.Context, tenantID, productID string, limit int) ([]models.StockMovement, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, invalid("tenant_id", "is required")
	}
	if limit < 0 || limit > maxMovementLimit {
		return nil, invalid("limit", "must be between 1 and %d", maxMovementLimit)
	}
	if limit == 0 {
		limit = defaultMovementLimit
	}
	if _, err := is.store.GetProduct(ctx, tenantID, productID); err != nil {
		return nil, mapLookupErr(err)
	}
	movements, err := is.store.ListMovements(ctx, tenantID, productID, limit)
	if err != nil {
		return nil, txFailed(err)
	}
	return movements, nil
}

// AdjustStock records a manual movement under the same lock discipline as
// sales. Shrinkage below zero is rejected.
func (is *InventoryService) AdjustStock(ctx context.Context, req *AdjustStockRequest) (movement *models.StockMovement, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.AdjustStock", req.TenantID)
	defer func() { util.EndSpan(span, err) }()

	switch {
	case strings.TrimSpace(req.TenantID) == "":
		return nil, invalid("tenant_id", "is required")
	case strings.TrimSpace(req.ProductID) == "":
		return nil, invalid("product_id", "is required")
	case strings.TrimSpace(req.OperatorID) == "":
		return nil, invalid("operator_id", "is required")
	case req.Delta == 0:
		return nil, invalid("delta", "must not be zero")
	case req.Delta == math.MinInt64:
		return nil, invalid("delta", "out of range")
	}

	movement = &models.StockMovement{
		ID:            uuid.New().String(),
		TenantID:      req.TenantID,
		ProductID:     req.ProductID,
		Quantity:      req.Delta,
		Direction:     models.DirectionIn,
		ReferenceKind: models.ReferenceAdjustment,
		OperatorID:    req.OperatorID,
		Note:          req.Note,
	}
	movement.ReferenceID = movement.ID
	if req.Delta < 0 {
		movement.Quantity = -req.Delta
		movement.Direction = models.DirectionOut
	}

	err = is.store.WithTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		stock, err := is.store.LockStock(ctx, tx, req.TenantID, []string{req.ProductID})
		if err != nil {
			return mapProductErr(err)
		}
		if movement.Direction == models.DirectionOut && stock[req.ProductID] < movement.Quantity {
			return &InsufficientStockError{ProductID: req.ProductID, Available: stock[req.ProductID], Requested: movement.Quantity}
		}
		if _, ok := addInt64(stock[req.ProductID], req.Delta); !ok {
			return invalid("delta", "stock on hand %d plus %d overflows", stock[req.ProductID], req.Delta)
		}
		return is.store.AppendMovement(ctx, tx, movement)
	})
	if err != nil {
		return nil, txFailed(err)
	}

	util.StockAdjustmentsTotal.WithLabelValues(movement.Direction).Inc()
	util.TenantLogger(req.TenantID, "adjust_stock").Info("Stock adjusted",
		zap.String("product_id", req.ProductID),
		zap.Int64("delta", req.Delta))
	return movement, nil
}

// Reconcile recomputes stock from the ledger and reports any drift from the
// projection. Drift means the projection was written outside AppendMovement.
func (is *InventoryService) Reconcile(ctx context.Context, tenantID, productID string) (*ReconcileReport, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, invalid("tenant_id", "is required")
	}
	projected, err := is.store.GetAvailable(ctx, tenantID, productID)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	fromLedger, err := is.store.SumMovements(ctx, tenantID, productID)
	if err != nil {
		return nil, txFailed(err)
	}

	report := &ReconcileReport{
		ProductID:  productID,
		Projected:  projected,
		FromLedger: fromLedger,
		Drift:      projected - fromLedger,
		Consistent: projected == fromLedger,
	}
	if !report.Consistent {
		is.logger.Error("Stock projection drifted from ledger",
			zap.String("tenant_id", tenantID),
			zap.String("product_id", productID),
			zap.Int64("projected", projected),
			zap.Int64("from_ledger", fromLedger))
	}
	return report, nil
}

func mapLookupErr(err error) error {
	mapped := mapProductErr(err)
	if errors.Is(mapped, ErrProductNotFound) || errors.Is(mapped, ErrTenantMismatch) {
		return mapped
	}
	return txFailed(fmt.Errorf("product lookup: %w", err))
}
