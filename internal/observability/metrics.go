package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LendLedger.
type Metrics struct {
	// --- Engine operations ---
	EngineOpsTotal    *prometheus.CounterVec
	EngineOpsRejected *prometheus.CounterVec
	EngineOpDuration  *prometheus.HistogramVec
	EngineSequence    prometheus.Gauge
	AccountsTracked   prometheus.Gauge

	// --- Liquidation ---
	LiquidationsTotal    prometheus.Counter
	LiquidationRepaid    prometheus.Counter
	LiquidationRewardOut prometheus.Counter

	// --- Oracle ---
	OraclePriceUpdates prometheus.Counter
	OraclePriceValue   prometheus.Gauge
	OracleUnavailable  prometheus.Counter

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		EngineOpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_engine_ops_total",
			Help: "State-changing operations committed",
		}, []string{"op"}),

		EngineOpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_engine_ops_rejected_total",
			Help: "Operations rejected (validation, token, oracle)",
		}, []string{"op", "reason"}),

		EngineOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_engine_op_duration_seconds",
			Help:    "Time to execute one engine operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_engine_sequence",
			Help: "Current global event sequence number",
		}),

		AccountsTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_accounts_tracked",
			Help: "Accounts present in the store",
		}),

		LiquidationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_liquidations_total",
			Help: "Completed liquidations",
		}),

		LiquidationRepaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_liquidation_repaid_units_total",
			Help: "Debt units repaid through liquidation (float approximation)",
		}),

		LiquidationRewardOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_liquidation_reward_units_total",
			Help: "Collateral units paid out as liquidation rewards (float approximation)",
		}),

		OraclePriceUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_oracle_price_updates_total",
			Help: "Price observations applied to the feed",
		}),

		OraclePriceValue: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_oracle_price_value",
			Help: "Latest oracle price (scale-adjusted float approximation)",
		}),

		OracleUnavailable: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_oracle_unavailable_total",
			Help: "Operations failed because no usable price was available",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
