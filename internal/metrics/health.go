package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"candlescan/internal/markethours"
)

const probeTimeout = 3 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// PingRedis checks a Redis client.
func PingRedis(rdb *goredis.Client) Check {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}

// PingSQL checks a database handle.
func PingSQL(db *sql.DB) Check {
	return db.PingContext
}

type dependency struct {
	check     Check
	ok        bool
	latency   time.Duration
	lastError string
	checkedAt time.Time
}

// DependencyReport is the health of one watched dependency.
type DependencyReport struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
	CheckedAt string  `json:"checked_at,omitempty"`
}

// HealthReport is the body served on /healthz.
type HealthReport struct {
	Status         string                      `json:"status"` // healthy, degraded or unhealthy
	Uptime         string                      `json:"uptime"`
	ScannerOK      bool                        `json:"scanner_ok"`
	LastCandleTime string                      `json:"last_candle_time,omitempty"`
	CandleAge      string                      `json:"candle_age,omitempty"`
	Stale          bool                        `json:"stale"`
	MarketOpen     bool                        `json:"market_open"`
	MarketStatus   string                      `json:"market_status"`
	Dependencies   map[string]DependencyReport `json:"dependencies"`
	EnabledTFs     []int                       `json:"enabled_tfs"`
	Patterns       int                         `json:"patterns"`
}

// HealthStatus tracks scanner liveness and the dependencies registered with
// Watch. Only watched dependencies affect the status, so a service running
// without a journal is not reported degraded for it.
type HealthStatus struct {
	mu           sync.RWMutex
	deps         map[string]*dependency
	scannerOK    bool
	lastCandle   time.Time
	maxCandleAge time.Duration
	enabledTFs   []int
	patterns     int
	startedAt    time.Time
	now          func() time.Time
}

// NewHealthStatus returns a status with no dependencies and the scanner down.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		deps:      make(map[string]*dependency),
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Watch registers a dependency. It counts as down until its first check.
func (h *HealthStatus) Watch(name string, check Check) {
	h.mu.Lock()
	h.deps[name] = &dependency{check: check}
	h.mu.Unlock()
}

// SetDependency records a dependency result observed outside the probes,
// such as the Redis circuit breaker opening. The next probe overwrites it.
func (h *HealthStatus) SetDependency(name string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, found := h.deps[name]
	if !found {
		d = &dependency{}
		h.deps[name] = d
	}
	d.ok = ok
	d.checkedAt = h.now()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.lastCandle = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetScannerOK(v bool) {
	h.mu.Lock()
	h.scannerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEnabledTFs(tfs []int) {
	h.mu.Lock()
	h.enabledTFs = tfs
	h.mu.Unlock()
}

// SetMaxCandleAge sets how old the last candle may get during market hours
// before the scanner is reported stale. Zero disables the check.
func (h *HealthStatus) SetMaxCandleAge(d time.Duration) {
	h.mu.Lock()
	h.maxCandleAge = d
	h.mu.Unlock()
}

func (h *HealthStatus) SetPatterns(n int) {
	h.mu.Lock()
	h.patterns = n
	h.mu.Unlock()
}

// CheckAll runs every registered probe once.
func (h *HealthStatus) CheckAll(ctx context.Context) {
	h.mu.RLock()
	names := make([]string, 0, len(h.deps))
	checks := make([]Check, 0, len(h.deps))
	for name, d := range h.deps {
		if d.check != nil {
			names = append(names, name)
			checks = append(checks, d.check)
		}
	}
	h.mu.RUnlock()

	for i, check := range checks {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		start := time.Now()
		err := check(probeCtx)
		elapsed := time.Since(start)
		cancel()

		h.mu.Lock()
		if d, ok := h.deps[names[i]]; ok {
			d.ok = err == nil
			d.latency = elapsed
			d.lastError = ""
			if err != nil {
				d.lastError = err.Error()
			}
			d.checkedAt = h.now()
		}
		h.mu.Unlock()
	}
}

// StartLivenessChecker probes dependencies every interval until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.CheckAll(ctx)
			}
		}
	}()
}

// Report evaluates the current status. The scanner is stale when the
// market is open and no candle arrived within the max candle age, counting
// from the session open at the earliest.
func (h *HealthStatus) Report() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	rep := HealthReport{
		Uptime:       now.Sub(h.startedAt).Round(time.Second).String(),
		ScannerOK:    h.scannerOK,
		MarketOpen:   markethours.IsMarketOpen(now),
		MarketStatus: markethours.StatusString(now),
		Dependencies: make(map[string]DependencyReport, len(h.deps)),
		EnabledTFs:   h.enabledTFs,
		Patterns:     h.patterns,
	}
	if !h.lastCandle.IsZero() {
		age := now.Sub(h.lastCandle)
		rep.LastCandleTime = h.lastCandle.Format(time.RFC3339)
		rep.CandleAge = age.Round(time.Second).String()
		// the first bar of a session cannot have closed before the open
		since := h.lastCandle
		if open := markethours.SessionOpen(now); since.Before(open) {
			since = open
		}
		rep.Stale = rep.MarketOpen && h.maxCandleAge > 0 && now.Sub(since) > h.maxCandleAge
	}

	down := 0
	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := h.deps[name]
		dr := DependencyReport{
			OK:        d.ok,
			LatencyMs: float64(d.latency.Microseconds()) / 1000,
			Error:     d.lastError,
		}
		if !d.checkedAt.IsZero() {
			dr.CheckedAt = d.checkedAt.Format(time.RFC3339)
		}
		rep.Dependencies[name] = dr
		if !d.ok {
			down++
		}
	}

	switch {
	case len(names) > 0 && down == len(names):
		rep.Status = "unhealthy"
	case down > 0 || !h.scannerOK || rep.Stale:
		rep.Status = "degraded"
	default:
		rep.Status = "healthy"
	}
	return rep
}

// ServeHTTP serves the report, with 503 unless healthy.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if rep.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(rep)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer builds the server. A nil gatherer serves the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)
	return &Server{addr: addr, srv: &http.Server{Addr: addr, Handler: mux}}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
