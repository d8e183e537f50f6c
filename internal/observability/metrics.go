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
	// Aggregation metrics
	EventsFetched *prometheus.CounterVec
	EventsSkipped *prometheus.CounterVec

	// Chain metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec
	HeadsReceived  prometheus.Counter
	HighestBlock   prometheus.Gauge

	// Tick metrics
	TickRunsTotal *prometheus.CounterVec
	TickDuration  *prometheus.HistogramVec
	TickStep      prometheus.Gauge

	// Publishing metrics
	PushesTotal *prometheus.CounterVec
	PushGasUsed prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// API metrics
	ProofCacheHits   prometheus.Counter
	ProofCacheMisses prometheus.Counter

	// Health metrics
	LastSuccessfulStakes prometheus.Gauge
	LastSuccessfulClaims prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "realm_ledger"
	}

	return &Metrics{
		EventsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "events_fetched_total",
			Help:      "Total number of decoded contract events by event name",
		}, []string{"event"}),
		EventsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "events_skipped_total",
			Help:      "Total number of logs skipped as undecodable or unconfigured",
		}, []string{"event", "reason"}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed JSON-RPC attempts",
		}, []string{"method"}),
		HeadsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "heads_received_total",
			Help:      "Total number of newHeads notifications received",
		}),
		HighestBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "highest_block_seen",
			Help:      "Highest block number covered by a compute pass",
		}),

		TickRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "runs_total",
			Help:      "Total number of tick phases by status",
		}, []string{"phase", "status"}),
		TickDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "duration_seconds",
			Help:      "Tick phase duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"phase"}),
		TickStep: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "step",
			Help:      "Step counter of the most recent tick",
		}),

		PushesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "pushes_total",
			Help:      "Total number of root publications by target and status",
		}, []string{"target", "status"}),
		PushGasUsed: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "gas_used",
			Help:      "Gas used by mined root updates",
			Buckets:   prometheus.ExponentialBuckets(21000, 2, 8),
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		ProofCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "proof_cache_hits_total",
			Help:      "Total number of proof tree cache hits",
		}),
		ProofCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "proof_cache_misses_total",
			Help:      "Total number of proof tree cache misses",
		}),

		LastSuccessfulStakes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_stakes_timestamp",
			Help:      "Unix timestamp of last successful stake compute",
		}),
		LastSuccessfulClaims: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_claims_timestamp",
			Help:      "Unix timestamp of last successful claims compute",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventFetched increments the decoded events counter.
func RecordEventFetched(event string, n int) {
	DefaultMetrics.EventsFetched.WithLabelValues(event).Add(float64(n))
}

// RecordEventSkipped records a log that was not folded into an aggregate.
func RecordEventSkipped(event, reason string) {
	DefaultMetrics.EventsSkipped.WithLabelValues(event, reason).Inc()
}

// RecordRPCCall records one JSON-RPC attempt.
func RecordRPCCall(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordHead records a new chain head.
func RecordHead() {
	DefaultMetrics.HeadsReceived.Inc()
}

// UpdateHighestBlock updates the highest block gauge.
func UpdateHighestBlock(block uint64) {
	DefaultMetrics.HighestBlock.Set(float64(block))
}

// RecordTickPhase records one tick phase.
func RecordTickPhase(phase, status string, durationSeconds float64) {
	DefaultMetrics.TickRunsTotal.WithLabelValues(phase, status).Inc()
	DefaultMetrics.TickDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// UpdateTickStep updates the step gauge.
func UpdateTickStep(step uint64) {
	DefaultMetrics.TickStep.Set(float64(step))
}

// RecordPush records a publish attempt outcome.
func RecordPush(target, status string, gasUsed *uint64) {
	DefaultMetrics.PushesTotal.WithLabelValues(target, status).Inc()
	if gasUsed != nil {
		DefaultMetrics.PushGasUsed.Observe(float64(*gasUsed))
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordProofCache records a proof cache lookup.
func RecordProofCache(hit bool) {
	if hit {
		DefaultMetrics.ProofCacheHits.Inc()
		return
	}
	DefaultMetrics.ProofCacheMisses.Inc()
}

// MarkStakesComputed sets the last successful stake compute timestamp to now.
func MarkStakesComputed() {
	DefaultMetrics.LastSuccessfulStakes.SetToCurrentTime()
}

// MarkClaimsComputed sets the last successful claims compute timestamp to now.
func MarkClaimsComputed() {
	DefaultMetrics.LastSuccessfulClaims.SetToCurrentTime()
}
