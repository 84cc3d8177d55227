package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pos-ledger/internal/service"
	"pos-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	sales     *service.SaleService
	cancels   *service.CancellationService
	inventory *service.InventoryService
	deps      map[string]Pinger
}

// NewHandler creates a new HTTP handler. deps are probed by /ready.
func NewHandler(
	sales *service.SaleService,
	cancels *service.CancellationService,
	inventory *service.InventoryService,
	deps map[string]Pinger,
) *Handler {
	return &Handler{
		sales:     sales,
		cancels:   cancels,
		inventory: inventory,
		deps:      deps,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sales", h.commitSale)
		v1.GET("/sales/:id", h.getSale)
		v1.POST("/sales/:id/cancel", h.cancelSale)

		v1.GET("/products/:id/stock", h.getStock)
		v1.GET("/products/:id/movements", h.listMovements)
		v1.GET("/products/:id/reconcile", h.reconcileStock)
		v1.POST("/products/:id/adjustments", h.adjustStock)
	}
}

// WithCORS wraps the router with the CORS policy for browser terminals.
func WithCORS(next http.Handler, allowedOrigins []string) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// commitSale handles sale commits
func (h *Handler) commitSale(c *gin.Context) {
	var req service.CommitSaleRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	receipt, err := h.sales.CommitSale(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, receipt)
}

// getSale handles get sale by ID
func (h *Handler) getSale(c *gin.Context) {
	receipt, err := h.sales.GetSale(c.Request.Context(), c.Query("tenant_id"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

type cancelBody struct {
	TenantID   string `json:"tenant_id"`
	OperatorID string `json:"operator_id"`
	Reason     string `json:"reason"`
}

// cancelSale handles sale cancellation
func (h *Handler) cancelSale(c *gin.Context) {
	var body cancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c, err)
		return
	}

	result, err := h.cancels.CancelSale(c.Request.Context(), &service.CancelSaleRequest{
		TenantID:   body.TenantID,
		SaleID:     c.Param("id"),
		OperatorID: body.OperatorID,
		Reason:     body.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getStock handles stock level reads
func (h *Handler) getStock(c *gin.Context) {
	level, err := h.inventory.GetAvailable(c.Request.Context(), c.Query("tenant_id"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, level)
}

// listMovements handles the stock audit trail
func (h *Handler) listMovements(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, &service.ValidationError{Field: "limit", Message: "must be an integer"})
			return
		}
		limit = n
	}

	movements, err := h.inventory.ListMovements(c.Request.Context(), c.Query("tenant_id"), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": c.Param("id"),
		"movements":  movements,
	})
}

// reconcileStock compares projection and ledger for one product
func (h *Handler) reconcileStock(c *gin.Context) {
	report, err := h.inventory.Reconcile(c.Request.Context(), c.Query("tenant_id"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type adjustmentBody struct {
	TenantID   string `json:"tenant_id"`
	OperatorID string `json:"operator_id"`
	Delta      int64  `json:"delta"`
	Note       string `json:"note"`
}

// adjustStock handles manual stock adjustments
func (h *Handler) adjustStock(c *gin.Context) {
	var body adjustmentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badBody(c, err)
		return
	}

	movement, err := h.inventory.AdjustStock(c.Request.Context(), &service.AdjustStockRequest{
		TenantID:   body.TenantID,
		ProductID:  c.Param("id"),
		OperatorID: body.OperatorID,
		Delta:      body.Delta,
		Note:       body.Note,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func badBody(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"details": "Invalid request body: " + err.Error(),
	})
}

// writeError maps service errors onto status codes and the error envelope.
func writeError(c *gin.Context, err error) {
	var (
		vErr     *service.ValidationError
		stockErr *service.InsufficientStockError
	)

	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"details": vErr.Error(),
			"field":   vErr.Field,
		})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "insufficient_stock",
			"details":    stockErr.Error(),
			"product_id": stockErr.ProductID,
			"available":  stockErr.Available,
			"requested":  stockErr.Requested,
		})
	case errors.Is(err, service.ErrInsufficientPayment):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_payment", "details": err.Error()})
	case errors.Is(err, service.ErrTenantMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "tenant_mismatch", "details": err.Error()})
	case errors.Is(err, service.ErrSaleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "sale_not_found", "details": err.Error()})
	case errors.Is(err, service.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found", "details": err.Error()})
	case errors.Is(err, service.ErrTransactionFailed):
		util.GetLogger().Warn("Transaction failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transaction_failed", "details": "please retry"})
	default:
		util.GetLogger().Error("Unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
