package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pos-ledger/internal/models"
	"pos-ledger/internal/service"
	"pos-ledger/internal/store"
	"pos-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router *gin.Engine
	store  *store.Store
}

func newTestServer(t *testing.T, deps map[string]Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	util.SetLogger(zaptest.NewLogger(t))

	s, err := store.NewStore(store.DriverSQLite, ":memory:?_foreign_keys=on", 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	recorder := service.NewLedgerPaymentRecorder(s, 1, time.Millisecond)
	handler := NewHandler(
		service.NewSaleService(s, s, recorder, nil, nil, time.Hour),
		service.NewCancellationService(s, recorder, nil),
		service.NewInventoryService(s),
		deps,
	)

	router := gin.New()
	handler.SetupRoutes(router)

	ctx := context.Background()
	require.NoError(t, s.UpsertProduct(ctx, &models.Product{ID: "P", TenantID: "t1", UnitPrice: 250, Active: true}))
	_, err = service.NewInventoryService(s).AdjustStock(ctx, &service.AdjustStockRequest{
		TenantID: "t1", ProductID: "P", OperatorID: "seed", Delta: 10,
	})
	require.NoError(t, err)

	return &testServer{router: router, store: s}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func saleBody(qty int64, paid int64) map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":      "t1",
		"operator_id":    "op-1",
		"lines":          []map[string]interface{}{{"product_id": "P", "quantity": qty}},
		"amount_paid":    paid,
		"payment_method": "cash",
	}
}

func TestCommitSaleEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/sales", saleBody(3, 1000), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "committed", body["status"])
	assert.EqualValues(t, 750, body["total"])
	assert.EqualValues(t, 250, body["change"])
	assert.Equal(t, true, body["payment_recorded"])

	w = ts.do(t, http.MethodGet, "/api/v1/products/P/stock?tenant_id=t1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, decode(t, w)["stock_on_hand"])
}

func TestCommitSaleErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
		code   string
	}{
		{"insufficient stock", saleBody(11, 100000), http.StatusConflict, "insufficient_stock"},
		{"insufficient payment", saleBody(1, 100), http.StatusPaymentRequired, "insufficient_payment"},
		{"validation", saleBody(0, 100), http.StatusBadRequest, "validation_error"},
		{"tenant mismatch", func() map[string]interface{} {
			b := saleBody(1, 1000)
			b["tenant_id"] = "t2"
			return b
		}(), http.StatusForbidden, "tenant_mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/sales", tt.body, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode(t, w)["error"])
		})
	}

	w := ts.do(t, http.MethodPost, "/api/v1/sales", saleBody(11, 100000), nil)
	body := decode(t, w)
	assert.Equal(t, "P", body["product_id"])
	assert.EqualValues(t, 10, body["available"])
	assert.EqualValues(t, 11, body["requested"])
}

func TestCommitSaleMalformedBody(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIdempotencyKeyHeader(t *testing.T) {
	ts := newTestServer(t, nil)
	headers := map[string]string{"Idempotency-Key": "retry-me"}

	first := decode(t, ts.do(t, http.MethodPost, "/api/v1/sales", saleBody(2, 1000), headers))
	second := decode(t, ts.do(t, http.MethodPost, "/api/v1/sales", saleBody(2, 1000), headers))

	assert.Equal(t, first["sale_id"], second["sale_id"])

	w := ts.do(t, http.MethodGet, "/api/v1/products/P/stock?tenant_id=t1", nil, nil)
	assert.EqualValues(t, 8, decode(t, w)["stock_on_hand"])
}

func TestCancelSaleEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	sale := decode(t, ts.do(t, http.MethodPost, "/api/v1/sales", saleBody(3, 1000), nil))
	saleID := sale["sale_id"].(string)
	cancel := map[string]interface{}{"tenant_id": "t1", "operator_id": "op-2", "reason": "wrong item"}

	w := ts.do(t, http.MethodPost, "/api/v1/sales/"+saleID+"/cancel", cancel, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, false, body["already_cancelled"])

	w = ts.do(t, http.MethodPost, "/api/v1/sales/"+saleID+"/cancel", cancel, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["already_cancelled"])

	w = ts.do(t, http.MethodPost, "/api/v1/sales/nope/cancel", cancel, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "sale_not_found", decode(t, w)["error"])

	cancel["tenant_id"] = "t2"
	w = ts.do(t, http.MethodPost, "/api/v1/sales/"+saleID+"/cancel", cancel, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/sales/"+saleID+"?tenant_id=t1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode(t, w)["status"])
}

func TestStockEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/products/P/adjustments",
		map[string]interface{}{"tenant_id": "t1", "operator_id": "op", "delta": -4, "note": "damaged"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "out", decode(t, w)["direction"])

	w = ts.do(t, http.MethodPost, "/api/v1/products/P/adjustments",
		map[string]interface{}{"tenant_id": "t1", "operator_id": "op", "delta": -100}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/products/P/movements?tenant_id=t1&limit=10", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["movements"], 2)

	w = ts.do(t, http.MethodGet, "/api/v1/products/P/movements?tenant_id=t1&limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/products/P/reconcile?tenant_id=t1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["consistent"])

	w = ts.do(t, http.MethodGet, "/api/v1/products/ghost/stock?tenant_id=t1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "product_not_found", decode(t, w)["error"])
}

func TestReadiness(t *testing.T) {
	ts := newTestServer(t, map[string]Pinger{
		"database": pingerFunc(func(context.Context) error { return nil }),
	})
	w := ts.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	ts = newTestServer(t, map[string]Pinger{
		"redis": pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	w = ts.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWriteErrorTransactionFailed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	util.SetLogger(zaptest.NewLogger(t))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeError(c, service.ErrTransactionFailed)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "transaction_failed", decode(t, w)["error"])
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/v1/sales", func(c *gin.Context) { c.Status(http.StatusCreated) })
	h := WithCORS(router, []string{"http://till.local"})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	req.Header.Set("Origin", "http://till.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "http://till.local", w.Header().Get("Access-Control-Allow-Origin"))
}
