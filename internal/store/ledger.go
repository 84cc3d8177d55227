package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"pos-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const movementColumns = `id, tenant_id, product_id, quantity, direction, reference_kind,
	reference_id, operator_id, note, created_at`

// LockStock locks the given products in ascending id order and returns their
// current stock. Duplicated ids are locked once.
func (s *Store) LockStock(ctx context.Context, tx *sqlx.Tx, tenantID string, productIDs []string) (map[string]int64, error) {
	query := s.rebind("SELECT stock_on_hand FROM products WHERE tenant_id = ? AND id = ?" + s.forUpdate())

	stock := make(map[string]int64, len(productIDs))
	for _, id := range SortedUnique(productIDs) {
		var onHand int64
		err := tx.GetContext(ctx, &onHand, query, tenantID, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missingRow(ctx, tx, "products", id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock product %s: %w", id, err)
		}
		stock[id] = onHand
	}
	return stock, nil
}

// AppendMovement writes one immutable movement and applies it to the stock
// projection inside tx. Out movements that would go negative fail with
// ErrNegativeStock, in movements past math.MaxInt64 with ErrStockOverflow;
// either leaves the transaction to be rolled back.
func (s *Store) AppendMovement(ctx context.Context, tx *sqlx.Tx, m *models.StockMovement) error {
	if m.Quantity <= 0 {
		return fmt.Errorf("movement quantity must be positive, got %d", m.Quantity)
	}
	if m.Direction != models.DirectionIn && m.Direction != models.DirectionOut {
		return fmt.Errorf("unknown movement direction %q", m.Direction)
	}
	switch m.ReferenceKind {
	case models.ReferenceSale, models.ReferenceCancellation, models.ReferenceAdjustment:
	default:
		return fmt.Errorf("unknown movement reference kind %q", m.ReferenceKind)
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()

	var (
		res sql.Result
		err error
	)
	if m.Direction == models.DirectionOut {
		res, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE products SET stock_on_hand = stock_on_hand - ?, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND stock_on_hand >= ?`),
			m.Quantity, m.CreatedAt, m.TenantID, m.ProductID, m.Quantity)
	} else {
		res, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE products SET stock_on_hand = stock_on_hand + ?, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND stock_on_hand <= ?`),
			m.Quantity, m.CreatedAt, m.TenantID, m.ProductID, math.MaxInt64-m.Quantity)
	}
	if err != nil {
		return fmt.Errorf("failed to update stock for %s: %w", m.ProductID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.getProduct(ctx, tx, m.TenantID, m.ProductID); err != nil {
			return err
		}
		if m.Direction == models.DirectionIn {
			return fmt.Errorf("product %s: %w", m.ProductID, ErrStockOverflow)
		}
		return fmt.Errorf("product %s: %w", m.ProductID, ErrNegativeStock)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO stock_movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.TenantID, m.ProductID, m.Quantity, m.Direction, m.ReferenceKind,
		m.ReferenceID, m.OperatorID, m.Note, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert movement: %w", err)
	}
	return nil
}

// GetAvailable reads the derived stock outside any transaction.
func (s *Store) GetAvailable(ctx context.Context, tenantID, productID string) (int64, error) {
	p, err := s.GetProduct(ctx, tenantID, productID)
	if err != nil {
		return 0, err
	}
	return p.StockOnHand, nil
}

// ListMovements returns the newest movements of a product first.
func (s *Store) ListMovements(ctx context.Context, tenantID, productID string, limit int) ([]models.StockMovement, error) {
	movements := []models.StockMovement{}
	err := s.db.SelectContext(ctx, &movements, s.rebind(`
		SELECT `+movementColumns+` FROM stock_movements
		WHERE tenant_id = ? AND product_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?`), tenantID, productID, limit)
	return movements, err
}

// MovementsByReference returns the movements written for one sale,
// cancellation or adjustment.
func (s *Store) MovementsByReference(ctx context.Context, tenantID, kind, referenceID string) ([]models.StockMovement, error) {
	movements := []models.StockMovement{}
	err := s.db.SelectContext(ctx, &movements, s.rebind(`
		SELECT `+movementColumns+` FROM stock_movements
		WHERE tenant_id = ? AND reference_kind = ? AND reference_id = ?
		ORDER BY product_id`), tenantID, kind, referenceID)
	return movements, err
}

// SumMovements recomputes stock from the ledger: Σ in − Σ out.
func (s *Store) SumMovements(ctx context.Context, tenantID, productID string) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum, s.rebind(`
		SELECT CAST(COALESCE(SUM(CASE WHEN direction = 'in' THEN quantity ELSE -quantity END), 0) AS BIGINT)
		FROM stock_movements WHERE tenant_id = ? AND product_id = ?`), tenantID, productID)
	return sum, err
}
