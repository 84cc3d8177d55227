package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/store"
	"pos-ledger/internal/util"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	failed []*models.PaymentRecordingFailedEvent
}

func (p *recordingPublisher) PublishSaleCommitted(_ context.Context, e *models.SaleCommittedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.EventType)
	return nil
}

func (p *recordingPublisher) PublishSaleCancelled(_ context.Context, e *models.SaleCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.EventType)
	return nil
}

func (p *recordingPublisher) PublishPaymentRecordingFailed(_ context.Context, e *models.PaymentRecordingFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.EventType)
	p.failed = append(p.failed, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type failingRecorder struct{}

func (failingRecorder) RecordPayment(context.Context, PaymentEntry) error {
	return errors.New("revenue ledger unavailable")
}

func (failingRecorder) RecordRefund(context.Context, PaymentEntry) error {
	return errors.New("revenue ledger unavailable")
}

type memoryCache struct {
	mu   sync.Mutex
	keys map[string]string
}

func (c *memoryCache) GetSaleID(_ context.Context, tenantID, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[tenantID+"/"+key], nil
}

func (c *memoryCache) SetSaleID(_ context.Context, tenantID, key, saleID string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys == nil {
		c.keys = map[string]string{}
	}
	c.keys[tenantID+"/"+key] = saleID
	return nil
}

type testEnv struct {
	store     *store.Store
	publisher *recordingPublisher
	cache     *memoryCache
	sales     *SaleService
	cancels   *CancellationService
	inventory *InventoryService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithRecorder(t, nil)
}

// newTestEnvWithRecorder uses the ledger recorder when recorder is nil.
func newTestEnvWithRecorder(t *testing.T, recorder PaymentRecorder) *testEnv {
	t.Helper()
	util.SetLogger(zaptest.NewLogger(t))

	s, err := store.NewStore(store.DriverSQLite, ":memory:?_foreign_keys=on", 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newTestEnvForStore(s, recorder)
}

func newTestEnvForStore(s *store.Store, recorder PaymentRecorder) *testEnv {
	if recorder == nil {
		recorder = NewLedgerPaymentRecorder(s, 2, time.Millisecond)
	}
	pub := &recordingPublisher{}
	cache := &memoryCache{}

	return &testEnv{
		store:     s,
		publisher: pub,
		cache:     cache,
		sales:     NewSaleService(s, s, recorder, pub, cache, time.Hour),
		cancels:   NewCancellationService(s, recorder, pub),
		inventory: NewInventoryService(s),
	}
}

// seed creates an active product with the given price and opening stock.
func (e *testEnv) seed(t *testing.T, tenantID, productID string, price, stock int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.UpsertProduct(ctx, &models.Product{
		ID: productID, TenantID: tenantID, Name: productID, UnitPrice: price, Active: true,
	}))
	if stock > 0 {
		_, err := e.inventory.AdjustStock(ctx, &AdjustStockRequest{
			TenantID: tenantID, ProductID: productID, OperatorID: "seed", Delta: stock,
		})
		require.NoError(t, err)
	}
}

func (e *testEnv) stock(t *testing.T, tenantID, productID string) int64 {
	t.Helper()
	level, err := e.inventory.GetAvailable(context.Background(), tenantID, productID)
	require.NoError(t, err)
	return level.StockOnHand
}

func cart(tenantID string, paid int64, lines ...SaleLineRequest) *CommitSaleRequest {
	return &CommitSaleRequest{
		TenantID:      tenantID,
		OperatorID:    "op-1",
		Lines:         lines,
		AmountPaid:    paid,
		PaymentMethod: "cash",
	}
}

func line(productID string, qty int64) SaleLineRequest {
	return SaleLineRequest{ProductID: productID, Quantity: qty}
}
