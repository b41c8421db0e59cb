package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tronwatch"

var (
	TransfersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_processed_total",
		Help:      "Transfers seen by a poller, by outcome.",
	}, []string{"poller", "outcome"})

	UnmatchedPayments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unmatched_payments_total",
		Help:      "Incoming payments that matched no pending order.",
	}, []string{"currency"})

	OrdersPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_paid_total",
		Help:      "Orders settled by an on-chain payment.",
	}, []string{"currency"})

	OrdersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_expired_total",
		Help:      "Pending orders moved to EXPIRED.",
	})

	FulfillmentResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fulfillment_results_total",
		Help:      "Fulfillment outcomes by order type.",
	}, []string{"order_type", "result"})

	ChainQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chain_query_errors_total",
		Help:      "Failed TronGrid requests by endpoint.",
	}, []string{"endpoint"})

	ChainQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chain_query_duration_seconds",
		Help:      "TronGrid request latency by endpoint.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	PollCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_cycle_duration_seconds",
		Help:      "Wall time of one poller cycle.",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"poller"})

	DedupEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dedup_cache_entries",
		Help:      "Entries currently held by a deduplication cache.",
	}, []string{"cache"})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_published_total",
		Help:      "Outbox events handed to the sink, by result.",
	}, []string{"result"})

	VendorBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "energy_vendor_balance",
		Help:      "Last observed energy vendor account balance.",
	})
)
