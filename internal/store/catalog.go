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

const productColumns = `tenant_id, id, name, unit_price, active, stock_on_hand, updated_at`

// UpsertProduct creates or updates a catalog entry. Stock is never written
// here; it only moves through AppendMovement.
func (s *Store) UpsertProduct(ctx context.Context, p *models.Product) error {
	p.UpdatedAt = time.Now().UTC()
	query := s.rebind(`
		INSERT INTO products (tenant_id, id, name, unit_price, active, stock_on_hand, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET name = excluded.name, unit_price = excluded.unit_price,
		    active = excluded.active, updated_at = excluded.updated_at`)

	_, err := s.db.ExecContext(ctx, query, p.TenantID, p.ID, p.Name, p.UnitPrice, p.Active, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", p.ID, err)
	}
	return nil
}

// GetProduct resolves a product under a tenant. A product that exists only
// under another tenant yields ErrWrongTenant.
func (s *Store) GetProduct(ctx context.Context, tenantID, productID string) (*models.Product, error) {
	return s.getProduct(ctx, s.db, tenantID, productID)
}

func (s *Store) getProduct(ctx context.Context, q sqlx.QueryerContext, tenantID, productID string) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q, &product,
		s.rebind("SELECT "+productColumns+" FROM products WHERE tenant_id = ? AND id = ?"),
		tenantID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.missingRow(ctx, q, "products", productID)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// missingRow distinguishes "absent" from "owned by another tenant".
func (s *Store) missingRow(ctx context.Context, q sqlx.QueryerContext, table, id string) error {
	var n int
	err := sqlx.GetContext(ctx, q, &n, s.rebind("SELECT COUNT(*) FROM "+table+" WHERE id = ?"), id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrWrongTenant)
	}
	return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
}
