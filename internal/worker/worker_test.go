package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/service"
	"pos-ledger/internal/store"
	"pos-ledger/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEventHandlerReconcilesPayment(t *testing.T) {
	util.SetLogger(zaptest.NewLogger(t))
	s, err := store.NewStore(store.DriverSQLite, ":memory:", time.Second)
	require.NoError(t, err)
	defer s.Close()

	recorder := service.NewLedgerPaymentRecorder(s, 1, time.Millisecond)
	handler := NewEventHandler(service.NewPaymentReconciler(s, recorder))

	payload, err := json.Marshal(&models.PaymentRecordingFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypePaymentRecordingFailed,
			Timestamp: time.Now(),
		},
		SaleID:   "sale-1",
		TenantID: "t1",
		Kind:     models.PaymentKindPayment,
		Amount:   1250,
		Method:   "cash",
	})
	require.NoError(t, err)

	ctx := context.Background()
	msg := kafka.Message{Key: []byte("sale-sale-1"), Value: payload}
	require.NoError(t, handler.HandleMessage(ctx, msg))
	require.NoError(t, handler.HandleMessage(ctx, msg))

	records, err := s.GetPaymentRecords(ctx, "t1", "sale-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1250), records[0].AmountMinor)
}
