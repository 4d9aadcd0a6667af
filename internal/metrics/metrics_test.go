package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"candlescan/internal/candle"
	"candlescan/internal/model"
	"candlescan/internal/pattern"
)

func TestObserveEvaluation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	res := pattern.Result{
		Matches:      map[string]bool{"DOJI": true, "HAMMER": false},
		Insufficient: []string{"HAMMER"},
	}
	m.ObserveEvaluation(time.Millisecond, res, []error{errors.New("boom")})
	m.ObserveEvaluation(time.Millisecond, res, nil)

	if got := testutil.ToFloat64(m.EvaluationsTotal); got != 2 {
		t.Errorf("evaluations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EvalErrorsTotal); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.InsufficientTotal); got != 2 {
		t.Errorf("insufficient = %v, want 2", got)
	}
}

func TestObserveScan(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveScan(60, time.Now(), []string{"DOJI", "DOJI", "HAMMER"})
	m.ObserveScan(300, time.Time{}, nil)

	if got := testutil.ToFloat64(m.CandlesScanned.WithLabelValues("60")); got != 1 {
		t.Errorf("scanned[60] = %v", got)
	}
	if got := testutil.ToFloat64(m.MatchesTotal.WithLabelValues("DOJI")); got != 2 {
		t.Errorf("matches[DOJI] = %v", got)
	}
}

func TestEngineObserverWiring(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := pattern.NewEngine(pattern.WithObserver(m))
	m.WatchCache(e.Cache())

	bars := make([]model.Bar, 12)
	for i := range bars {
		bars[i] = model.Bar{Open: 100, High: 101.25, Low: 99.75, Close: 101}
	}
	w := model.NewWindow(bars)
	e.EvaluateAll(w)
	e.EvaluateAll(w)

	if got := testutil.ToFloat64(m.EvaluationsTotal); got != 2 {
		t.Errorf("evaluations = %v, want 2", got)
	}

	expected := `
# HELP patengine_metric_cache_entries Metric cache entries currently held
# TYPE patengine_metric_cache_entries gauge
patengine_metric_cache_entries ` + strconv.Itoa(e.Cache().Len()) + `
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "patengine_metric_cache_entries"); err != nil {
		t.Error(err)
	}
	if e.Cache().Stats().Hits == 0 {
		t.Error("expected cache hits after repeated evaluation")
	}
}

func TestWatchCache_Nil(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.WatchCache(nil) // must not panic
	m.WatchCache(candle.NewCache(4))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.CandlesRejected.Inc()
	srv := NewServer(":0", NewHealthStatus(), reg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "patengine_candles_rejected_total 1") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
