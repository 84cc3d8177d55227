package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sales_committed_total",
		Help: "Total number of sales committed",
	})

	SalesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sales_rejected_total",
		Help: "Total number of rejected sale commits",
	}, []string{"reason"})

	SalesReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sales_replayed_total",
		Help: "Commits answered from an existing sale with the same idempotency key",
	})

	SaleTotalsMismatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sale_totals_mismatch_total",
		Help: "Commits whose client-side totals disagreed with the recomputed ones",
	})

	SalesCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sales_cancelled_total",
		Help: "Total number of sales cancelled",
	})

	CancellationsRepeatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_cancellations_repeated_total",
		Help: "Cancellation requests for sales that were already cancelled",
	})

	StockLockLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_stock_lock_latency_seconds",
		Help:    "Time spent acquiring product row locks",
		Buckets: prometheus.DefBuckets,
	})

	SaleCommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_sale_commit_latency_seconds",
		Help:    "End-to-end latency of the sale commit transaction",
		Buckets: prometheus.DefBuckets,
	})

	StockAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_stock_adjustments_total",
		Help: "Manual stock adjustments by direction",
	}, []string{"direction"})

	PaymentRecordAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_payment_record_attempts_total",
		Help: "Revenue ledger write attempts by kind",
	}, []string{"kind"})

	PaymentRecordFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_payment_record_failed_total",
		Help: "Revenue ledger writes that exhausted their retries",
	}, []string{"kind"})

	PaymentReconciledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_payment_reconciled_total",
		Help: "Revenue ledger entries recovered by the reconciliation worker",
	})

	EventPublishFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_event_publish_failed_total",
		Help: "Events that could not be published to the broker",
	}, []string{"event_type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
