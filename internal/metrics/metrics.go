package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"candlescan/internal/candle"
	"candlescan/internal/pattern"
)

// Metrics holds all Prometheus metrics for the pattern engine.
type Metrics struct {
	// Scanner
	CandlesScanned  *prometheus.CounterVec // labels: tf
	CandlesRejected prometheus.Counter
	CandleLag       prometheus.Gauge
	BarsAgedOut     prometheus.Counter
	FormingStale    prometheus.Counter

	// Pattern evaluation
	EvaluationsTotal   prometheus.Counter
	EvalDuration       prometheus.Histogram
	EvalErrorsTotal    prometheus.Counter
	InsufficientTotal  prometheus.Counter
	MatchesTotal       *prometheus.CounterVec // labels: pattern
	PatternsRegistered prometheus.Gauge

	// Sinks
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
	SinkErrorsTotal *prometheus.CounterVec // labels: sink

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Live feed
	FeedClients    prometheus.Gauge
	FeedDropsTotal prometheus.Counter

	// PEL reclaim
	PELMessagesReclaimed prometheus.Counter

	reg prometheus.Registerer
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CandlesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patengine_candles_scanned_total",
			Help: "Closed TF candles scanned for patterns (by timeframe)",
		}, []string{"tf"}),
		CandlesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patengine_candles_rejected_total",
			Help: "Malformed candles rejected before evaluation",
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patengine_candle_lag_seconds",
			Help: "Lag between candle bucket close and scan time",
		}),
		BarsAgedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patengine_bars_aged_out_total",
			Help: "Bars dropped from full instrument histories",
		}),
		FormingStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patengine_forming_stale_total",
			Help: "Forming candles ignored because their bucket had already closed",
		}),

		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patengine_evaluations_total",
			Help: "Full-catalog evaluations run",
		}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patengine_evaluation_duration_seconds",
			Help:    "Full-catalog evaluation latency per window",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		EvalErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patengine_evaluation_errors_total",
			Help: "Per-pattern evaluation failures",
		}),
		InsufficientTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patengine_insufficient_history_total",
			Help: "Pattern tests skipped because the window was too short",
		}),
		MatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patengine_matches_total",
			Help: "Pattern matches detected (by pattern)",
		}, []string{"pattern"}),
		PatternsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patengine_patterns_registered",
			Help: "Number of patterns in the catalog",
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patengine_redis_write_duration_seconds",
			Help:    "Redis match publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patengine_sqlite_commit_duration_seconds",
			Help:    "SQLite match journal batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		SinkErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patengine_sink_errors_total",
			Help: "Failed match writes (by sink)",
		}, []string{"sink"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		FeedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patengine_feed_clients",
			Help: "Connected live feed WebSocket clients",
		}),
		FeedDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patengine_feed_drops_total",
			Help: "Matches dropped for slow feed clients",
		}),

		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patengine_pel_messages_reclaimed_total",
			Help: "Messages reclaimed from dead consumers via XCLAIM",
		}),

		reg: reg,
	}

	reg.MustRegister(
		m.CandlesScanned,
		m.CandlesRejected,
		m.CandleLag,
		m.BarsAgedOut,
		m.FormingStale,
		m.EvaluationsTotal,
		m.EvalDuration,
		m.EvalErrorsTotal,
		m.InsufficientTotal,
		m.MatchesTotal,
		m.PatternsRegistered,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.SinkErrorsTotal,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.FeedClients,
		m.FeedDropsTotal,
		m.PELMessagesReclaimed,
	)

	return m
}

// ObserveEvaluation implements pattern.Observer.
func (m *Metrics) ObserveEvaluation(elapsed time.Duration, res pattern.Result, errs []error) {
	m.EvaluationsTotal.Inc()
	m.EvalDuration.Observe(elapsed.Seconds())
	m.EvalErrorsTotal.Add(float64(len(errs)))
	m.InsufficientTotal.Add(float64(len(res.Insufficient)))
}

// ObserveScan records one scanned candle and the matches it produced.
func (m *Metrics) ObserveScan(tf int, bucketEnd time.Time, matched []string) {
	m.CandlesScanned.WithLabelValues(strconv.Itoa(tf)).Inc()
	if !bucketEnd.IsZero() {
		m.CandleLag.Set(time.Since(bucketEnd).Seconds())
	}
	for _, name := range matched {
		m.MatchesTotal.WithLabelValues(name).Inc()
	}
}

// WatchCache exports the metric cache counters. Call once per cache.
func (m *Metrics) WatchCache(c *candle.Cache) {
	if c == nil {
		return
	}
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "patengine_metric_cache_hits_total",
			Help: "Metric cache hits",
		}, func() float64 { return float64(c.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "patengine_metric_cache_misses_total",
			Help: "Metric cache misses",
		}, func() float64 { return float64(c.Stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "patengine_metric_cache_evictions_total",
			Help: "Metric cache LRU evictions",
		}, func() float64 { return float64(c.Stats().Evictions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "patengine_metric_cache_entries",
			Help: "Metric cache entries currently held",
		}, func() float64 { return float64(c.Len()) }),
	)
}

// SetBreakerState records a circuit breaker transition.
func (m *Metrics) SetBreakerState(state int, tripped bool) {
	m.RedisCircuitBreakerState.Set(float64(state))
	if tripped {
		m.RedisCircuitBreakerTrips.Inc()
	}
}
