package store

import (
	"context"
	"fmt"
	"time"

	"pos-ledger/internal/models"
)

// InsertPaymentRecord appends a revenue entry. Retries for the same sale and
// kind are absorbed; inserted reports whether this call wrote the row.
func (s *Store) InsertPaymentRecord(ctx context.Context, rec *models.PaymentRecord) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO payment_records (id, sale_id, tenant_id, kind, amount, amount_minor, method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, sale_id, kind) DO NOTHING`),
		rec.ID, rec.SaleID, rec.TenantID, rec.Kind, rec.Amount, rec.AmountMinor, rec.Method, rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert payment record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetPaymentRecords lists the revenue entries of a sale.
func (s *Store) GetPaymentRecords(ctx context.Context, tenantID, saleID string) ([]models.PaymentRecord, error) {
	records := []models.PaymentRecord{}
	err := s.db.SelectContext(ctx, &records, s.rebind(`
		SELECT id, sale_id, tenant_id, kind, amount, amount_minor, method, created_at
		FROM payment_records WHERE tenant_id = ? AND sale_id = ?
		ORDER BY kind`), tenantID, saleID)
	return records, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		s.rebind("SELECT COUNT(*) FROM processed_events WHERE event_id = ?"), eventID)
	return n > 0, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`),
		eventID, eventType, time.Now().UTC())
	return err
}
