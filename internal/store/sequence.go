package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// NextSequence allocates the tenant's next sale number inside tx. The row
// stays locked until tx ends, so concurrent commits of one tenant queue here
// and a rollback hands the number back.
func (s *Store) NextSequence(ctx context.Context, tx *sqlx.Tx, tenantID string) (int64, error) {
	var next int64
	err := tx.GetContext(ctx, &next, s.rebind(`
		INSERT INTO tenant_sequences (tenant_id, last_value) VALUES (?, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET last_value = tenant_sequences.last_value + 1
		RETURNING last_value`), tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence for tenant %s: %w", tenantID, err)
	}
	return next, nil
}
