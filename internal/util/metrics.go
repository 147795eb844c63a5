package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ListingsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resale_listings_created_total",
		Help: "Listings accepted by intake, by initial approval status",
	}, []string{"approval"})

	ListingsRejectedAtIntakeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resale_listing_intake_failures_total",
		Help: "Listing submissions refused at intake",
	}, []string{"reason"})

	RiskFlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resale_risk_flags_total",
		Help: "Risk flags raised at intake",
	}, []string{"kind"})

	ListingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resale_listing_transitions_total",
		Help: "Listing state transitions",
	}, []string{"to"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resale_orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resale_orders_failed_total",
		Help: "Order creation attempts that claimed nothing",
	}, []string{"reason"})

	OrderReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resale_order_reserve_latency_seconds",
		Help:    "Latency of the order reservation transaction",
		Buckets: prometheus.DefBuckets,
	})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resale_orders_completed_total",
		Help: "Orders settled with ownership transferred",
	})

	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resale_orders_cancelled_total",
		Help: "Pending orders released",
	}, []string{"reason"})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resale_payment_attempts_total",
		Help: "Total number of payment attempts",
	})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resale_payment_failed_total",
		Help: "Payment attempts refused",
	}, []string{"reason"})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resale_settlement_latency_seconds",
		Help:    "Latency of the settlement transaction",
		Buckets: prometheus.DefBuckets,
	})

	CasesOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resale_cases_opened_total",
		Help: "Dispute cases opened",
	}, []string{"type"})

	RefundsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resale_refunds_issued_total",
		Help: "Refund ledger entries written",
	})

	RefundAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resale_refund_amount_total",
		Help: "Sum of refunded amounts",
	})

	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resale_expiry_sweeps_total",
		Help: "Expiry sweeper runs",
	}, []string{"result"})

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
