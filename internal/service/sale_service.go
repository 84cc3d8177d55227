package service

import (
	"context"
	"errors"
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

// SaleService turns carts into committed sales.
type SaleService struct {
	store          *store.Store
	catalog        Catalog
	recorder       PaymentRecorder
	eventPublisher EventPublisher
	idempotency    IdempotencyCache
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewSaleService creates a new sale service. cache may be nil, in which case
// idempotency keys are resolved against the database only.
func NewSaleService(
	store *store.Store,
	catalog Catalog,
	recorder PaymentRecorder,
	eventPublisher EventPublisher,
	cache IdempotencyCache,
	idempotencyTTL time.Duration,
) *SaleService {
	if eventPublisher == nil {
		eventPublisher = NoopPublisher
	}
	return &SaleService{
		store:          store,
		catalog:        catalog,
		recorder:       recorder,
		eventPublisher: eventPublisher,
		idempotency:    cache,
		idempotencyTTL: idempotencyTTL,
		logger:         util.GetLogger(),
	}
}

// CommitSaleRequest is a cart ready to be paid.
type CommitSaleRequest struct {
	TenantID         string            `json:"tenant_id"`
	OperatorID       string            `json:"operator_id"`
	Lines            []SaleLineRequest `json:"lines"`
	Discount         int64             `json:"discount"`
	AmountPaid       int64             `json:"amount_paid"`
	PaymentMethod    string            `json:"payment_method"`
	BuyerRef         *string           `json:"buyer_ref,omitempty"`
	ExpectedSubtotal *int64            `json:"expected_subtotal,omitempty"`
	ExpectedTotal    *int64            `json:"expected_total,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
}

// SaleLineRequest is one cart line.
type SaleLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// SaleReceipt is the committed sale as returned to the caller.
type SaleReceipt struct {
	SaleID          string                `json:"sale_id"`
	TenantID        string                `json:"tenant_id"`
	SequenceNumber  int64                 `json:"sequence_number"`
	Subtotal        int64                 `json:"subtotal"`
	Discount        int64                 `json:"discount"`
	Total           int64                 `json:"total"`
	AmountPaid      int64                 `json:"amount_paid"`
	Change          int64                 `json:"change"`
	Status          string                `json:"status"`
	PaymentMethod   string                `json:"payment_method"`
	OperatorID      string                `json:"operator_id"`
	BuyerRef        *string               `json:"buyer_ref,omitempty"`
	Lines           []models.SaleLineItem `json:"lines"`
	CreatedAt       time.Time             `json:"created_at"`
	CancelledAt     *time.Time            `json:"cancelled_at,omitempty"`
	PaymentRecorded bool                  `json:"payment_recorded"`
	Replayed        bool                  `json:"replayed,omitempty"`
}

// Totals is the server-side arithmetic of a cart.
type Totals struct {
	Subtotal int64
	Discount int64
	Total    int64
	Change   int64
}

// ComputeTotals applies total = max(0, subtotal - discount) and
// change = amountPaid - total. Callers bound the line totals so the
// subtotal fits in int64.
func ComputeTotals(lineTotals []int64, discount, amountPaid int64) Totals {
	var subtotal int64
	for _, lt := range lineTotals {
		subtotal += lt
	}
	total := subtotal - discount
	if total < 0 {
		total = 0
	}
	return Totals{Subtotal: subtotal, Discount: discount, Total: total, Change: amountPaid - total}
}

// CommitSale validates the cart, then writes the sale, its lines and the
// matching out movements in one transaction. Nothing is written when any
// check fails. Payment recording happens after commit and cannot undo it.
func (s *SaleService) CommitSale(ctx context.Context, req *CommitSaleRequest) (receipt *SaleReceipt, err error) {
	ctx, span := util.StartSpan(ctx, "SaleService.CommitSale", req.TenantID)
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		util.SaleCommitLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			util.SalesRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		}
	}()

	method, err := validateCommit(req)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey)
		if err != nil {
			return nil, txFailed(err)
		}
		if existing != nil {
			return s.replay(ctx, existing)
		}
	}

	products, err := s.resolveProducts(ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sale := &models.Sale{
		ID:            uuid.New().String(),
		TenantID:      req.TenantID,
		BuyerRef:      req.BuyerRef,
		AmountPaid:    req.AmountPaid,
		PaymentMethod: string(method),
		OperatorID:    req.OperatorID,
		Status:        models.SaleStatusCommitted,
		CreatedAt:     now,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		sale.IdempotencyKey = &key
	}

	lines := make([]models.SaleLineItem, len(req.Lines))
	lineTotals := make([]int64, len(req.Lines))
	requested := make(map[string]int64, len(req.Lines))
	productIDs := make([]string, len(req.Lines))
	var subtotal int64
	for i, l := range req.Lines {
		price := products[l.ProductID].UnitPrice
		lineTotal, ok := mulInt64(l.Quantity, price)
		if !ok {
			return nil, invalid(fmt.Sprintf("lines[%d].quantity", i), "line total overflows")
		}
		if subtotal, ok = addInt64(subtotal, lineTotal); !ok {
			return nil, invalid("lines", "subtotal overflows")
		}
		if requested[l.ProductID], ok = addInt64(requested[l.ProductID], l.Quantity); !ok {
			return nil, invalid(fmt.Sprintf("lines[%d].quantity", i), "total quantity of product %q overflows", l.ProductID)
		}
		lines[i] = models.SaleLineItem{
			ID:        uuid.New().String(),
			SaleID:    sale.ID,
			TenantID:  req.TenantID,
			LineNo:    i + 1,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: price,
			LineTotal: lineTotal,
		}
		lineTotals[i] = lineTotal
		productIDs[i] = l.ProductID
	}

	totals := ComputeTotals(lineTotals, req.Discount, req.AmountPaid)
	sale.Subtotal, sale.Discount, sale.Total, sale.Change = totals.Subtotal, totals.Discount, totals.Total, totals.Change
	s.checkExpectedTotals(req, totals)

	if req.AmountPaid < totals.Total {
		return nil, fmt.Errorf("%w: paid %d, total %d", ErrInsufficientPayment, req.AmountPaid, totals.Total)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		lockStart := time.Now()
		stock, err := s.store.LockStock(ctx, tx, req.TenantID, productIDs)
		util.StockLockLatency.Observe(time.Since(lockStart).Seconds())
		if err != nil {
			return mapProductErr(err)
		}

		for _, id := range store.SortedUnique(productIDs) {
			if requested[id] > stock[id] {
				return &InsufficientStockError{ProductID: id, Available: stock[id], Requested: requested[id]}
			}
		}

		seq, err := s.store.NextSequence(ctx, tx, req.TenantID)
		if err != nil {
			return err
		}
		sale.SequenceNumber = seq

		if err := s.store.InsertSale(ctx, tx, sale); err != nil {
			return err
		}
		if err := s.store.InsertLineItems(ctx, tx, lines); err != nil {
			return err
		}
		for _, line := range lines {
			err := s.store.AppendMovement(ctx, tx, &models.StockMovement{
				TenantID:      req.TenantID,
				ProductID:     line.ProductID,
				Quantity:      line.Quantity,
				Direction:     models.DirectionOut,
				ReferenceKind: models.ReferenceSale,
				ReferenceID:   sale.ID,
				OperatorID:    req.OperatorID,
			})
			if errors.Is(err, store.ErrNegativeStock) {
				return &InsufficientStockError{ProductID: line.ProductID, Available: stock[line.ProductID], Requested: requested[line.ProductID]}
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, store.ErrDuplicateKey) && sale.IdempotencyKey != nil {
		// a concurrent request with the same key won the race
		existing, lookupErr := s.store.GetSaleByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey)
		if lookupErr == nil && existing != nil {
			return s.replay(ctx, existing)
		}
	}
	if err != nil {
		return nil, txFailed(err)
	}

	util.SalesCommittedTotal.Inc()
	util.TenantLogger(sale.TenantID, "commit_sale").Info("Sale committed",
		zap.String("sale_id", sale.ID),
		zap.Int64("sequence_number", sale.SequenceNumber),
		zap.Int64("total", sale.Total))

	s.afterCommit(ctx, sale, lines)

	receipt = newReceipt(sale, lines)
	receipt.PaymentRecorded = recordOutcome(ctx, s.recorder, s.eventPublisher, s.logger,
		models.PaymentKindPayment, paymentEntry(sale))
	return receipt, nil
}

// GetSale returns a sale with its lines.
func (s *SaleService) GetSale(ctx context.Context, tenantID, saleID string) (*SaleReceipt, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, invalid("tenant_id", "is required")
	}
	sale, err := s.store.GetSale(ctx, tenantID, saleID)
	if err != nil {
		return nil, mapSaleErr(err)
	}
	lines, err := s.store.GetLineItems(ctx, tenantID, saleID)
	if err != nil {
		return nil, txFailed(err)
	}
	receipt := newReceipt(sale, lines)
	records, err := s.store.GetPaymentRecords(ctx, tenantID, saleID)
	if err != nil {
		return nil, txFailed(err)
	}
	for _, r := range records {
		if r.Kind == models.PaymentKindPayment {
			receipt.PaymentRecorded = true
		}
	}
	return receipt, nil
}

func (s *SaleService) findByIdempotencyKey(ctx context.Context, tenantID, key string) (*models.Sale, error) {
	if s.idempotency != nil {
		saleID, err := s.idempotency.GetSaleID(ctx, tenantID, key)
		if err != nil {
			s.logger.Warn("Idempotency cache unavailable, falling back to DB", zap.Error(err))
		} else if saleID != "" {
			sale, err := s.store.GetSale(ctx, tenantID, saleID)
			if err == nil {
				return sale, nil
			}
			s.logger.Warn("Cached sale not readable", zap.String("sale_id", saleID), zap.Error(err))
		}
	}
	return s.store.GetSaleByIdempotencyKey(ctx, tenantID, key)
}

// replay answers a retried request with the sale it already produced.
func (s *SaleService) replay(ctx context.Context, sale *models.Sale) (*SaleReceipt, error) {
	util.SalesReplayedTotal.Inc()
	s.logger.Info("Duplicate sale request detected",
		zap.String("tenant_id", sale.TenantID),
		zap.String("sale_id", sale.ID))

	lines, err := s.store.GetLineItems(ctx, sale.TenantID, sale.ID)
	if err != nil {
		return nil, txFailed(err)
	}
	receipt := newReceipt(sale, lines)
	receipt.Replayed = true
	receipt.PaymentRecorded = recordOutcome(ctx, s.recorder, s.eventPublisher, s.logger,
		models.PaymentKindPayment, paymentEntry(sale))
	return receipt, nil
}

func (s *SaleService) afterCommit(ctx context.Context, sale *models.Sale, lines []models.SaleLineItem) {
	if s.idempotency != nil && sale.IdempotencyKey != nil {
		if err := s.idempotency.SetSaleID(ctx, sale.TenantID, *sale.IdempotencyKey, sale.ID, s.idempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.String("sale_id", sale.ID), zap.Error(err))
		}
	}

	data := make([]models.SaleLineData, len(lines))
	for i, l := range lines {
		data[i] = models.SaleLineData{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	event := &models.SaleCommittedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSaleCommitted,
			Timestamp: time.Now(),
		},
		SaleID:         sale.ID,
		TenantID:       sale.TenantID,
		SequenceNumber: sale.SequenceNumber,
		Total:          sale.Total,
		PaymentMethod:  sale.PaymentMethod,
		Lines:          data,
	}
	if err := s.eventPublisher.PublishSaleCommitted(ctx, event); err != nil {
		util.EventPublishFailedTotal.WithLabelValues(event.EventType).Inc()
		s.logger.Error("Failed to publish SaleCommitted event", zap.String("sale_id", sale.ID), zap.Error(err))
	}
}

// resolveProducts loads every distinct product of the cart once.
func (s *SaleService) resolveProducts(ctx context.Context, req *CommitSaleRequest) (map[string]*models.Product, error) {
	products := make(map[string]*models.Product, len(req.Lines))
	for i, l := range req.Lines {
		if _, ok := products[l.ProductID]; ok {
			continue
		}
		p, err := s.catalog.GetProduct(ctx, req.TenantID, l.ProductID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, invalid(fmt.Sprintf("lines[%d].product_id", i), "unknown product %q", l.ProductID)
		case errors.Is(err, store.ErrWrongTenant):
			return nil, fmt.Errorf("%w: product %s", ErrTenantMismatch, l.ProductID)
		case err != nil:
			return nil, txFailed(err)
		case !p.Active:
			return nil, invalid(fmt.Sprintf("lines[%d].product_id", i), "product %q is inactive", l.ProductID)
		}
		products[l.ProductID] = p
	}
	return products, nil
}

func (s *SaleService) checkExpectedTotals(req *CommitSaleRequest, totals Totals) {
	mismatch := (req.ExpectedSubtotal != nil && *req.ExpectedSubtotal != totals.Subtotal) ||
		(req.ExpectedTotal != nil && *req.ExpectedTotal != totals.Total)
	if !mismatch {
		return
	}
	util.SaleTotalsMismatchTotal.Inc()
	fields := []zap.Field{
		zap.String("tenant_id", req.TenantID),
		zap.Int64("subtotal", totals.Subtotal),
		zap.Int64("total", totals.Total),
	}
	if req.ExpectedSubtotal != nil {
		fields = append(fields, zap.Int64("expected_subtotal", *req.ExpectedSubtotal))
	}
	if req.ExpectedTotal != nil {
		fields = append(fields, zap.Int64("expected_total", *req.ExpectedTotal))
	}
	s.logger.Warn("Client totals differ from recomputed totals", fields...)
}

func validateCommit(req *CommitSaleRequest) (models.PaymentMethod, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return "", invalid("tenant_id", "is required")
	}
	if strings.TrimSpace(req.OperatorID) == "" {
		return "", invalid("operator_id", "is required")
	}
	if len(req.Lines) == 0 {
		return "", invalid("lines", "cart is empty")
	}
	for i, l := range req.Lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return "", invalid(fmt.Sprintf("lines[%d].product_id", i), "is required")
		}
		if l.Quantity <= 0 {
			return "", invalid(fmt.Sprintf("lines[%d].quantity", i), "must be positive, got %d", l.Quantity)
		}
	}
	if req.Discount < 0 {
		return "", invalid("discount", "must not be negative")
	}
	if req.AmountPaid < 0 {
		return "", invalid("amount_paid", "must not be negative")
	}
	method, ok := models.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		return "", invalid("payment_method", "unknown payment method %q", req.PaymentMethod)
	}
	return method, nil
}

func newReceipt(sale *models.Sale, lines []models.SaleLineItem) *SaleReceipt {
	return &SaleReceipt{
		SaleID:         sale.ID,
		TenantID:       sale.TenantID,
		SequenceNumber: sale.SequenceNumber,
		Subtotal:       sale.Subtotal,
		Discount:       sale.Discount,
		Total:          sale.Total,
		AmountPaid:     sale.AmountPaid,
		Change:         sale.Change,
		Status:         sale.Status,
		PaymentMethod:  sale.PaymentMethod,
		OperatorID:     sale.OperatorID,
		BuyerRef:       sale.BuyerRef,
		Lines:          lines,
		CreatedAt:      sale.CreatedAt,
		CancelledAt:    sale.CancelledAt,
	}
}

func paymentEntry(sale *models.Sale) PaymentEntry {
	return PaymentEntry{SaleID: sale.ID, TenantID: sale.TenantID, Amount: sale.Total, Method: sale.PaymentMethod}
}

func mapProductErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrProductNotFound, err)
	case errors.Is(err, store.ErrWrongTenant):
		return fmt.Errorf("%w: %v", ErrTenantMismatch, err)
	}
	return err
}

func mapSaleErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrSaleNotFound, err)
	case errors.Is(err, store.ErrWrongTenant):
		return fmt.Errorf("%w: %v", ErrTenantMismatch, err)
	}
	return txFailed(err)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, ErrTenantMismatch):
		return "tenant_mismatch"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	}
	return "transaction_failed"
}
