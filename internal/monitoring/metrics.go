package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ReferralBindsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_referral_binds_total",
			Help: "Referral bind attempts by outcome",
		},
		[]string{"outcome"},
	)

	OrdersProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_orders_processed_total",
			Help: "Order completion events by outcome (created, replayed, failed)",
		},
		[]string{"outcome"},
	)

	CommissionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_commissions_created_total",
			Help: "Commission records created by level",
		},
		[]string{"level"},
	)

	CommissionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_commission_transitions_total",
			Help: "Commission state transitions by target status",
		},
		[]string{"status"},
	)

	SettlementRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_settlement_runs_total",
			Help: "Batch settlement runs by trigger",
		},
		[]string{"trigger"},
	)

	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_withdrawals_total",
			Help: "Withdrawal requests and reviews by outcome",
		},
		[]string{"outcome"},
	)
)
