// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	LedgerConnected     prometheus.Gauge
	LedgerReconnects    prometheus.Counter
	RPCCallLatency      *prometheus.HistogramVec
	RPCCallErrors       *prometheus.CounterVec
	ExtrinsicsSubmitted *prometheus.CounterVec

	// Indexer metrics
	BlocksProcessed  prometheus.Counter
	CheckpointHeight prometheus.Gauge
	FinalizedHeight  prometheus.Gauge
	IndexerState     prometheus.Gauge
	ApplyDuration    prometheus.Histogram
	ApplyErrors      *prometheus.CounterVec
	EventsProcessed  *prometheus.CounterVec
	EventsIgnored    *prometheus.CounterVec
	ArchiveErrors    prometheus.Counter

	// Transaction metrics
	TransactionsResolved *prometheus.CounterVec
	TransactionsStale    prometheus.Gauge

	// Upstream metrics
	UpstreamErrors *prometheus.CounterVec

	// Health metrics
	LastSuccessfulApply prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "matchmaker_ledger"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Ledger metrics
		LedgerConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "connected",
			Help:      "1 when the ledger websocket is connected",
		}),
		LedgerReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reconnects_total",
			Help:      "Total number of successful ledger reconnects",
		}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_latency_seconds",
			Help:      "Ledger RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed ledger RPC calls",
		}, []string{"method"}),
		ExtrinsicsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "extrinsics_submitted_total",
			Help:      "Total number of extrinsic submissions by process and result",
		}, []string{"process", "result"}),

		// Indexer metrics
		BlocksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "blocks_processed_total",
			Help:      "Total number of finalized blocks applied",
		}),
		CheckpointHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "checkpoint_height",
			Help:      "Height of the last applied block",
		}),
		FinalizedHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "finalized_height",
			Help:      "Height of the latest finalized block seen",
		}),
		IndexerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "state",
			Help:      "Indexer state: 0 idle, 1 catching-up, 2 applying, 3 error, 4 halted",
		}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "apply_duration_seconds",
			Help:      "Duration of the transactional apply step in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ApplyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "errors_total",
			Help:      "Total number of indexer errors by kind",
		}, []string{"kind"}),
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "events_processed_total",
			Help:      "Total number of process events mapped to changes",
		}, []string{"process"}),
		EventsIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "events_ignored_total",
			Help:      "Total number of process events for processes this service does not handle",
		}, []string{"process"}),
		ArchiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "archive_errors_total",
			Help:      "Total number of failed event archive writes",
		}),

		// Transaction metrics
		TransactionsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "resolved_total",
			Help:      "Total number of transaction outcomes recorded by state and source",
		}, []string{"state", "source"}),
		TransactionsStale: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "stale",
			Help:      "Number of transactions still submitted past the staleness threshold",
		}),

		// Upstream metrics
		UpstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Total number of failed upstream calls by service",
		}, []string{"service"}),

		// Health metrics
		LastSuccessfulApply: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_apply_timestamp",
			Help:      "Unix timestamp of last successful apply",
		}),
	}
}

// Discard returns metrics registered with a private registry. Useful for tests
// and tools that do not expose /metrics.
func Discard() *Metrics {
	return NewMetrics("", prometheus.NewRegistry())
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
