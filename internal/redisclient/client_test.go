package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyKeyIsTenantScoped(t *testing.T) {
	assert.Equal(t, "idempotency:t1:k", idempotencyKey("t1", "k"))
	assert.NotEqual(t, idempotencyKey("t1", "k"), idempotencyKey("t2", "k"))
}

func TestSaleIDRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis (set REDIS_TEST_ADDR)")
	}

	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	missing, err := c.GetSaleID(ctx, "t1", "never-set")
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, c.SetSaleID(ctx, "t1", "key-1", "sale-1", time.Minute))
	got, err := c.GetSaleID(ctx, "t1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "sale-1", got)
}
