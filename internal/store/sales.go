package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pos-ledger/internal/models"

	"github.com/jmoiron/sqlx"
)

const saleColumns = `id, tenant_id, sequence_number, buyer_ref, subtotal, discount, total,
	amount_paid, change_due, payment_method, operator_id, status, idempotency_key,
	created_at, cancelled_at`

const lineItemColumns = `id, sale_id, tenant_id, line_no, product_id, quantity, unit_price, line_total`

// InsertSale writes the sale header. A repeated idempotency key under the
// same tenant yields ErrDuplicateKey.
func (s *Store) InsertSale(ctx context.Context, tx *sqlx.Tx, sale *models.Sale) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sale.ID, sale.TenantID, sale.SequenceNumber, sale.BuyerRef, sale.Subtotal, sale.Discount,
		sale.Total, sale.AmountPaid, sale.Change, sale.PaymentMethod, sale.OperatorID, sale.Status,
		sale.IdempotencyKey, sale.CreatedAt, sale.CancelledAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("sale %s: %w", sale.ID, ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}

// InsertLineItems writes the lines of a sale inside tx.
func (s *Store) InsertLineItems(ctx context.Context, tx *sqlx.Tx, items []models.SaleLineItem) error {
	query := s.rebind(`INSERT INTO sale_line_items (` + lineItemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, item := range items {
		_, err := tx.ExecContext(ctx, query,
			item.ID, item.SaleID, item.TenantID, item.LineNo, item.ProductID,
			item.Quantity, item.UnitPrice, item.LineTotal)
		if err != nil {
			return fmt.Errorf("failed to insert line %d: %w", item.LineNo, err)
		}
	}
	return nil
}

// LockSale reads and locks the sale header inside tx.
func (s *Store) LockSale(ctx context.Context, tx *sqlx.Tx, tenantID, saleID string) (*models.Sale, error) {
	return s.getSale(ctx, tx, s.forUpdate(), tenantID, saleID)
}

// GetSale reads a sale header outside any transaction.
func (s *Store) GetSale(ctx context.Context, tenantID, saleID string) (*models.Sale, error) {
	return s.getSale(ctx, s.db, "", tenantID, saleID)
}

func (s *Store) getSale(ctx context.Context, q sqlx.QueryerContext, suffix, tenantID, saleID string) (*models.Sale, error) {
	var sale models.Sale
	err := sqlx.GetContext(ctx, q, &sale,
		s.rebind("SELECT "+saleColumns+" FROM sales WHERE tenant_id = ? AND id = ?"+suffix),
		tenantID, saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.missingRow(ctx, q, "sales", saleID)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// GetSaleByIdempotencyKey returns nil when no sale carries the key.
func (s *Store) GetSaleByIdempotencyKey(ctx context.Context, tenantID, key string) (*models.Sale, error) {
	var sale models.Sale
	err := s.db.GetContext(ctx, &sale,
		s.rebind("SELECT "+saleColumns+" FROM sales WHERE tenant_id = ? AND idempotency_key = ?"),
		tenantID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// GetLineItems reads the lines of a sale in line order.
func (s *Store) GetLineItems(ctx context.Context, tenantID, saleID string) ([]models.SaleLineItem, error) {
	return s.lineItems(ctx, s.db, tenantID, saleID)
}

// LineItemsTx reads the lines of a sale inside tx.
func (s *Store) LineItemsTx(ctx context.Context, tx *sqlx.Tx, tenantID, saleID string) ([]models.SaleLineItem, error) {
	return s.lineItems(ctx, tx, tenantID, saleID)
}

func (s *Store) lineItems(ctx context.Context, q sqlx.QueryerContext, tenantID, saleID string) ([]models.SaleLineItem, error) {
	items := []models.SaleLineItem{}
	err := sqlx.SelectContext(ctx, q, &items, s.rebind(`
		SELECT `+lineItemColumns+` FROM sale_line_items
		WHERE tenant_id = ? AND sale_id = ? ORDER BY line_no`), tenantID, saleID)
	return items, err
}

// InsertCancellation writes the reversal record. A sale can be cancelled once.
func (s *Store) InsertCancellation(ctx context.Context, tx *sqlx.Tx, c *models.SaleCancellation) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO sale_cancellations (id, sale_id, tenant_id, operator_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		c.ID, c.SaleID, c.TenantID, c.OperatorID, c.Reason, c.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("cancellation of sale %s: %w", c.SaleID, ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert cancellation: %w", err)
	}
	return nil
}

// GetCancellation returns the reversal record of a sale.
func (s *Store) GetCancellation(ctx context.Context, tenantID, saleID string) (*models.SaleCancellation, error) {
	var c models.SaleCancellation
	err := s.db.GetContext(ctx, &c, s.rebind(`
		SELECT id, sale_id, tenant_id, operator_id, reason, created_at
		FROM sale_cancellations WHERE tenant_id = ? AND sale_id = ?`), tenantID, saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cancellation of sale %s: %w", saleID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkCancelled flips a committed sale to cancelled. It reports false when
// the sale was not in the committed state.
func (s *Store) MarkCancelled(ctx context.Context, tx *sqlx.Tx, tenantID, saleID string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE sales SET status = ?, cancelled_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?`),
		models.SaleStatusCancelled, at, tenantID, saleID, models.SaleStatusCommitted)
	if err != nil {
		return false, fmt.Errorf("failed to update sale status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
