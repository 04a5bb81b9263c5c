package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LiqGuard.
type Metrics struct {
	// --- Monitor ---
	ScanCycles        prometheus.Counter
	ScanCycleDuration prometheus.Histogram
	ScanPositions     *prometheus.CounterVec // outcome: healthy|warning|liquidatable|inert|undecodable
	ScanErrors        *prometheus.CounterVec // stage: decode|oracle|evaluate|liquidate

	// --- Oracle ---
	OracleFetches *prometheus.CounterVec // symbol, result: ok|error|stale
	OracleLatency *prometheus.HistogramVec

	// --- Liquidation ---
	LiquidationAttempts *prometheus.CounterVec // result: executed|already_liquidated|not_liquidatable|conflict|error
	LiquidationDuration prometheus.Histogram
	BadDebtCovered      prometheus.Counter // USDC value, 6-decimal units scaled down
	BadDebtUncovered    prometheus.Counter
	LiquidatorRewards   prometheus.Counter

	// --- Insurance fund ---
	FundBalance     prometheus.Gauge
	FundUtilization prometheus.Gauge

	// --- Store ---
	CommitConflicts prometheus.Counter
	StoreErrors     *prometheus.CounterVec // op: get|commit|scan

	// --- Publish ---
	EventsPublished *prometheus.CounterVec // event_type
	PublishErrors   *prometheus.CounterVec // event_type
	PublishDrops    prometheus.Counter

	// --- History ---
	HistoryWrites *prometheus.CounterVec // table
	HistoryErrors *prometheus.CounterVec // table

	// --- Status API ---
	QueryRequests *prometheus.CounterVec // endpoint, status
	QueryDuration *prometheus.HistogramVec

	// --- WebSocket feed ---
	WSClients    prometheus.Gauge
	WSBroadcasts prometheus.Counter
	WSDrops      prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	scanBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5}
	opBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		// Monitor
		ScanCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_scan_cycles_total",
			Help: "Completed monitor scan cycles",
		}),

		ScanCycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "liq_scan_cycle_duration_seconds",
			Help:    "Full scan cycle duration",
			Buckets: scanBuckets,
		}),

		ScanPositions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_scan_positions_total",
			Help: "Positions examined per outcome",
		}, []string{"outcome"}),

		ScanErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_scan_errors_total",
			Help: "Per-position scan failures by stage",
		}, []string{"stage"}),

		// Oracle
		OracleFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_oracle_fetches_total",
			Help: "Oracle price fetches",
		}, []string{"symbol", "result"}),

		OracleLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liq_oracle_fetch_duration_seconds",
			Help:    "Oracle price fetch latency",
			Buckets: opBuckets,
		}, []string{"symbol"}),

		// Liquidation
		LiquidationAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_liquidation_attempts_total",
			Help: "Liquidation attempts by result",
		}, []string{"result"}),

		LiquidationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "liq_liquidation_duration_seconds",
			Help:    "Full liquidation settle-and-commit duration",
			Buckets: opBuckets,
		}),

		BadDebtCovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_bad_debt_covered_total",
			Help: "Bad debt absorbed by the insurance fund (USDC)",
		}),

		BadDebtUncovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_bad_debt_uncovered_total",
			Help: "Bad debt left uncovered by an exhausted fund (USDC)",
		}),

		LiquidatorRewards: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_liquidator_rewards_total",
			Help: "Rewards paid to liquidators (USDC)",
		}),

		// Insurance fund
		FundBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liq_insurance_fund_balance",
			Help: "Current insurance fund balance (USDC)",
		}),

		FundUtilization: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liq_insurance_fund_utilization",
			Help: "Lifetime bad debt covered / contributions (0.0-1.0)",
		}),

		// Store
		CommitConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_store_commit_conflicts_total",
			Help: "CAS commits lost to a concurrent writer",
		}),

		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_store_errors_total",
			Help: "Store operation failures",
		}, []string{"op"}),

		// Publish
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_events_published_total",
			Help: "Events published to NATS",
		}, []string{"event_type"}),

		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_publish_errors_total",
			Help: "NATS publish failures",
		}, []string{"event_type"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		// History
		HistoryWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_history_writes_total",
			Help: "History rows written",
		}, []string{"table"}),

		HistoryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_history_errors_total",
			Help: "History write failures",
		}, []string{"table"}),

		// Status API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_query_requests_total",
			Help: "Status API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liq_query_duration_seconds",
			Help:    "Status API latency",
			Buckets: opBuckets,
		}, []string{"endpoint"}),

		// WebSocket feed
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liq_ws_clients",
			Help: "Connected websocket clients",
		}),

		WSBroadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_ws_broadcasts_total",
			Help: "Messages broadcast to websocket clients",
		}),

		WSDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_ws_drops_total",
			Help: "Messages dropped on slow websocket clients",
		}),
	}
}
