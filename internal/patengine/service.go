// Package patengine wires the pattern scanner to its inputs (Redis candle
// streams, SQLite history) and outputs (Redis, SQLite journal, websocket
// feed, Prometheus).
package patengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"candlescan/config"
	"candlescan/internal/api"
	"candlescan/internal/candle"
	"candlescan/internal/feed"
	"candlescan/internal/metrics"
	"candlescan/internal/model"
	"candlescan/internal/notification"
	"candlescan/internal/pattern"
	"candlescan/internal/scanner"
	redisstore "candlescan/internal/store/redis"
	sqlitestore "candlescan/internal/store/sqlite"
)

const (
	candleChanSize  = 5000
	journalChanSize = 1000

	breakerMaxFailures  = 5
	breakerResetTimeout = 10 * time.Second

	pelInterval = 30 * time.Second
	pelMinIdle  = 60 * time.Second

	livenessInterval = 10 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// broadcaster is the part of the feed hub the dispatch loop uses.
type broadcaster interface {
	Broadcast(matches []model.PatternMatch)
}

// Service owns the pattern engine: the Redis candle consumer, the scanner,
// match fan-out to Redis, the journal and the live feed.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	engine *pattern.Engine
	scan   *scanner.Scanner
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	hub    *feed.Hub

	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	publisher   model.MatchWriter // circuit-breaker-buffered redisWriter
	breaker     *redisstore.CircuitBreaker
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer

	feed broadcaster

	alerts  *notification.Dispatcher
	alertOn map[string]bool // patterns that raise an alert

	streams   []string
	candleCh  chan model.TFCandle
	peekCh    chan model.TFCandle
	journalCh chan model.PatternMatch

	metricsSrv *metrics.Server
	feedSrv    *http.Server

	latency latencyTracker
}

// New creates a Service from cfg. It connects to Redis (required) and
// SQLite (optional) and builds the scanner.
func New(cfg *config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log := slog.Default().With(slog.String("component", "patengine"))
	prom := metrics.NewMetrics(nil)

	engine := pattern.NewEngine(
		pattern.WithCache(candle.NewCache(cfg.CacheCapacity)),
		pattern.WithObserver(prom),
	)
	patterns := cfg.ParsePatterns()
	for _, name := range patterns {
		if _, ok := engine.Catalog().Lookup(name); !ok {
			return nil, fmt.Errorf("PATTERNS: %w: %s", pattern.ErrUnknownPattern, name)
		}
	}
	prom.WatchCache(engine.Cache())
	prom.PatternsRegistered.Set(float64(engine.Catalog().Len()))

	var err error
	svc := &Service{
		cfg:      cfg,
		log:      log,
		engine:   engine,
		prom:     prom,
		health:   metrics.NewHealthStatus(),
		hub:      feed.NewHub(),
		streams:  cfg.StreamKeys(),
		candleCh: make(chan model.TFCandle, candleChanSize),
		peekCh:   make(chan model.TFCandle, candleChanSize),
	}
	svc.feed = svc.hub
	svc.scan = scanner.New(engine, scanner.Config{
		TFs:        cfg.ParseTFs(),
		WindowSize: cfg.WindowSize,
		Patterns:   patterns,
	}, log)

	svc.alerts, svc.alertOn, err = newAlerts(cfg, engine.Catalog())
	if err != nil {
		return nil, err
	}
	svc.alerts.OnError = func(error) { prom.SinkErrorsTotal.WithLabelValues("alert").Inc() }

	svc.hub.OnDrop = prom.FeedDropsTotal.Inc
	svc.hub.OnClients = func(n int) { prom.FeedClients.Set(float64(n)) }

	// ---- Connect to Redis ----
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}

	cb := redisstore.NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout)
	cb.OnStateChange = func(from, to redisstore.State) {
		prom.SetBreakerState(int(to), to == redisstore.StateOpen)
		svc.health.SetDependency("redis", to != redisstore.StateOpen)
		log.Warn("redis circuit breaker transition",
			slog.String("from", from.String()), slog.String("to", to.String()))
		switch to {
		case redisstore.StateOpen:
			svc.alerts.Notify(notification.Alert{
				Level:   notification.AlertCritical,
				Title:   "Redis circuit open",
				Message: "match publishing is buffered until Redis recovers",
			})
		case redisstore.StateClosed:
			svc.alerts.Notify(notification.Alert{
				Level:   notification.AlertInfo,
				Title:   "Redis circuit closed",
				Message: "match publishing resumed",
			})
		}
	}
	bw := redisstore.NewBufferedWriter(svc.redisWriter, cb, 0)
	bw.OnBuffer = func(n int) {
		log.Warn("redis unavailable, buffering matches", slog.Int("buffered", n))
	}
	bw.OnFlush = func(n int) {
		log.Info("flushed buffered matches to redis", slog.Int("count", n))
	}
	svc.publisher = bw
	svc.breaker = cb

	// ---- Open SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn("cannot create sqlite directory", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Warn("sqlite writer init failed, match journal disabled", slog.String("error", err.Error()))
		svc.sqlWriter = nil
	} else {
		svc.sqlWriter.OnCommit = func(n int, elapsed time.Duration) {
			prom.SQLiteCommitDur.Observe(elapsed.Seconds())
		}
		svc.journalCh = make(chan model.PatternMatch, journalChanSize)
	}

	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Warn("sqlite reader init failed, warming from redis only", slog.String("error", err.Error()))
		svc.sqlReader = nil
	}

	return svc, nil
}

// Engine returns the pattern engine.
func (svc *Service) Engine() *pattern.Engine { return svc.engine }

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log := svc.log
	log.Info("starting pattern engine",
		slog.Any("tfs", svc.cfg.ParseTFs()),
		slog.Int("streams", len(svc.streams)),
		slog.Int("patterns", svc.engine.Catalog().Len()),
		slog.Int("window", svc.cfg.WindowSize))

	// ---- Warm histories ----
	warmed := svc.warm(ctx)
	log.Info("scanner warmed", slog.Int("candles", warmed), slog.Int("instruments", svc.scan.Tracked()))

	// ---- Start the scan loop before redelivery can fill the channel ----
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.processLoop(ctx)
	}()
	go svc.alerts.Run(ctx)

	// ---- Ensure consumer groups ----
	if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
		log.Warn("consumer group setup failed", slog.String("error", err.Error()))
	}

	// ---- Recover pending messages ----
	if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.candleCh); err != nil {
		log.Warn("pending recovery failed", slog.String("error", err.Error()))
	}

	// ---- Health ----
	svc.health.SetEnabledTFs(svc.cfg.ParseTFs())
	svc.health.SetPatterns(svc.engine.Catalog().Len())
	svc.health.SetScannerOK(true)
	svc.health.SetMaxCandleAge(maxCandleAge(svc.cfg.ParseTFs()))
	svc.health.Watch("redis", metrics.PingRedis(svc.redisReader.Client()))
	if db := svc.sqlDB(); db != nil {
		svc.health.Watch("sqlite", metrics.PingSQL(db))
	}
	svc.health.CheckAll(ctx)
	svc.health.StartLivenessChecker(ctx, livenessInterval)

	// ---- Start subsystems ----
	journalDone := make(chan struct{})
	if svc.journalCh != nil {
		go func() {
			defer close(journalDone)
			// drained on close, not on ctx, so the last batch is journaled
			svc.sqlWriter.RunMatches(context.Background(), svc.journalCh)
		}()
	} else {
		close(journalDone)
	}

	svc.startPELReclaimer(ctx)
	svc.startConsumer(ctx)
	go svc.peekLoop(ctx)

	svc.metricsSrv = metrics.NewServer(svc.cfg.MetricsAddr, svc.health, nil)
	svc.metricsSrv.Start()
	svc.startFeed()

	log.Info("all systems running",
		slog.String("metrics", svc.cfg.MetricsAddr), slog.String("feed", svc.cfg.FeedAddr))

	<-ctx.Done()

	// ---- Graceful shutdown ----
	log.Info("shutdown signal received")
	wg.Wait()
	if svc.journalCh != nil {
		close(svc.journalCh)
	}
	<-journalDone
	svc.shutdown()
	return nil
}

// maxCandleAge allows two buckets of the slowest TF plus delivery slack
// before the scanner is reported stale.
func maxCandleAge(tfs []int) time.Duration {
	longest := 0
	for _, tf := range tfs {
		if tf > longest {
			longest = tf
		}
	}
	return time.Duration(2*longest)*time.Second + time.Minute
}

// sqlDB returns the database handle used for liveness checks.
func (svc *Service) sqlDB() *sql.DB {
	switch {
	case svc.sqlWriter != nil:
		return svc.sqlWriter.DB()
	case svc.sqlReader != nil:
		return svc.sqlReader.DB()
	}
	return nil
}

// shutdown stops servers and closes connections.
func (svc *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if svc.feedSrv != nil {
		svc.feedSrv.Shutdown(ctx)
	}
	svc.hub.Close()
	if svc.metricsSrv != nil {
		svc.metricsSrv.Stop(ctx)
	}

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.publisher.Close()
	svc.redisReader.Close()

	st := svc.scan.Stats()
	svc.log.Info("shutdown complete",
		slog.Uint64("processed", st.Processed),
		slog.Uint64("matches", st.Matches),
		slog.Uint64("rejected", st.Rejected),
		slog.Uint64("errors", st.Errors),
		slog.Uint64("aged_out", st.AgedOut),
		slog.Uint64("stale_forming", st.Stale))
	if svc.breaker != nil {
		bs := svc.breaker.Stats()
		svc.log.Info("redis breaker stats",
			slog.String("state", bs.State.String()),
			slog.Uint64("trips", bs.Trips),
			slog.Uint64("rejected", bs.Rejected))
	}
}

// startFeed serves the websocket match feed and the REST API.
func (svc *Service) startFeed() {
	deps := api.Deps{Hub: svc.hub, Catalog: svc.engine.Catalog()}
	if svc.sqlWriter != nil {
		deps.Journal = svc.sqlWriter
	}
	svc.feedSrv = &http.Server{Addr: svc.cfg.FeedAddr, Handler: api.NewRouter(deps)}

	go func() {
		svc.log.Info("feed server listening", slog.String("addr", svc.cfg.FeedAddr))
		if err := svc.feedSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			svc.log.Error("feed server error", slog.String("error", err.Error()))
		}
	}()
}
