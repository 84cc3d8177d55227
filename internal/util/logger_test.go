package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTenantLoggerAddsTenantAndOp(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := GetLogger()
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })

	TenantLogger("t1", "commit_sale").Info("Sale committed", zap.String("sale_id", "s1"))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "t1", fields["tenant_id"])
	assert.Equal(t, "commit_sale", fields["op"])
	assert.Equal(t, "s1", fields["sale_id"])
}
