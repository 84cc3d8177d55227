package service

import (
	"context"
	"testing"

	"pos-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cancelReq(tenantID, saleID string) *CancelSaleRequest {
	return &CancelSaleRequest{TenantID: tenantID, SaleID: saleID, OperatorID: "op-2", Reason: "customer changed mind"}
}

func TestCancelSaleRestoresStock(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "t1", "A", 100, 10)
	env.seed(t, "t1", "B", 50, 4)
	ctx := context.Background()

	receipt, err := env.sales.CommitSale(ctx, cart("t1", 1000, line("A", 3), line("B", 4)))
	require.NoError(t, err)
	assert.Equal(t, int64(7), env.stock(t, "t1", "A"))
	assert.Equal(t, int64(0), env.stock(t, "t1", "B"))

	result, err := env.cancels.CancelSale(ctx, cancelReq("t1", receipt.SaleID))
	require.NoError(t, err)

	assert.Equal(t, models.SaleStatusCancelled, result.Status)
	assert.False(t, result.AlreadyCancelled)
	assert.True(t, result.RefundRecorded)
	assert.NotEmpty(t, result.CancellationID)

	assert.Equal(t, int64(10), env.stock(t, "t1", "A"))
	assert.Equal(t, int64(4), env.stock(t, "t1", "B"))

	movements, err := env.store.MovementsByReference(ctx, "t1", models.ReferenceCancellation, result.CancellationID)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	for _, m := range movements {
		assert.Equal(t, models.DirectionIn, m.Direction)
	}

	// original sale rows are preserved
	outs, err := env.store.MovementsByReference(ctx, "t1", models.ReferenceSale, receipt.SaleID)
	require.NoError(t, err)
	assert.Len(t, outs, 2)

	sale, err := env.sales.GetSale(ctx, "t1", receipt.SaleID)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusCancelled, sale.Status)
	assert.NotNil(t, sale.CancelledAt)
	assert.Len(t, sale.Lines, 2)

	cancellation, err := env.store.GetCancellation(ctx, "t1", receipt.SaleID)
	require.NoError(t, err)
	assert.Equal(t, "op-2", cancellation.OperatorID)

	assert.Equal(t, 1, env.publisher.count(models.EventTypeSaleCancelled))
}

func TestCancelSaleIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "t1", "P", 100, 10)
	ctx := context.Background()

	receipt, err := env.sales.CommitSale(ctx, cart("t1", 300, line("P", 3)))
	require.NoError(t, err)

	_, err = env.cancels.CancelSale(ctx, cancelReq("t1", receipt.SaleID))
	require.NoError(t, err)

	again, err := env.cancels.CancelSale(ctx, cancelReq("t1", receipt.SaleID))
	require.NoError(t, err)
	assert.True(t, again.AlreadyCancelled)
	assert.Equal(t, models.SaleStatusCancelled, again.Status)

	assert.Equal(t, int64(10), env.stock(t, "t1", "P"))
	assert.Equal(t, 1, env.publisher.count(models.EventTypeSaleCancelled))

	records, err := env.store.GetPaymentRecords(ctx, "t1", receipt.SaleID)
	require.NoError(t, err)
	assert.Len(t, records, 2, "one payment and one refund")
}

func TestCommitCancelRoundTripConservesStock(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "t1", "A", 10, 20)
	env.seed(t, "t1", "B", 10, 20)
	ctx := context.Background()

	carts := [][]SaleLineRequest{
		{line("A", 1)},
		{line("A", 2), line("B", 5)},
		{line("B", 3), line("A", 4)},
	}
	for _, lines := range carts {
		receipt, err := env.sales.CommitSale(ctx, cart("t1", 10000, lines...))
		require.NoError(t, err)
		_, err = env.cancels.CancelSale(ctx, cancelReq("t1", receipt.SaleID))
		require.NoError(t, err)
	}

	for _, id := range []string{"A", "B"} {
		assert.Equal(t, int64(20), env.stock(t, "t1", id))
		report, err := env.inventory.Reconcile(ctx, "t1", id)
		require.NoError(t, err)
		assert.True(t, report.Consistent)
	}
}

func TestCancelSaleErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "t1", "P", 100, 10)
	ctx := context.Background()

	receipt, err := env.sales.CommitSale(ctx, cart("t1", 300, line("P", 3)))
	require.NoError(t, err)

	_, err = env.cancels.CancelSale(ctx, cancelReq("t2", receipt.SaleID))
	assert.ErrorIs(t, err, ErrTenantMismatch)

	_, err = env.cancels.CancelSale(ctx, cancelReq("t1", "does-not-exist"))
	assert.ErrorIs(t, err, ErrSaleNotFound)

	_, err = env.cancels.CancelSale(ctx, &CancelSaleRequest{TenantID: "t1", SaleID: receipt.SaleID})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, int64(7), env.stock(t, "t1", "P"))
}

func TestCancelSaleRefundFailureKeepsCancellation(t *testing.T) {
	env := newTestEnvWithRecorder(t, failingRecorder{})
	env.seed(t, "t1", "P", 100, 10)
	ctx := context.Background()

	receipt, err := env.sales.CommitSale(ctx, cart("t1", 300, line("P", 3)))
	require.NoError(t, err)

	result, err := env.cancels.CancelSale(ctx, cancelReq("t1", receipt.SaleID))
	require.NoError(t, err)
	assert.False(t, result.RefundRecorded)
	assert.Equal(t, int64(10), env.stock(t, "t1", "P"))

	require.Len(t, env.publisher.failed, 2)
	assert.Equal(t, models.PaymentKindRefund, env.publisher.failed[1].Kind)
}
