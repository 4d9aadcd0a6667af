package patengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"candlescan/config"
	"candlescan/internal/metrics"
	"candlescan/internal/model"
	"candlescan/internal/notification"
	"candlescan/internal/pattern"
	"candlescan/internal/scanner"
)

var t0 = time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)

type fakeFeed struct {
	got []model.PatternMatch
}

func (f *fakeFeed) Broadcast(matches []model.PatternMatch) {
	f.got = append(f.got, matches...)
}

type fakePublisher struct {
	got []model.PatternMatch
	err error
}

func (f *fakePublisher) WriteMatchBatch(ctx context.Context, matches []model.PatternMatch) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, matches...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func newTestService(journalSize int) (*Service, *fakeFeed, *fakePublisher) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		EnabledTFs:      "60",
		SubscribeTokens: "NSE:2885",
		WindowSize:      50,
		CacheCapacity:   20,
		ConsumerGroup:   "patengine",
	}
	engine := pattern.NewEngine()
	ff := &fakeFeed{}
	fp := &fakePublisher{}
	svc := &Service{
		cfg:       cfg,
		log:       log,
		engine:    engine,
		scan:      scanner.New(engine, scanner.Config{TFs: []int{60}, WindowSize: 50}, log),
		prom:      metrics.NewMetrics(prometheus.NewRegistry()),
		health:    metrics.NewHealthStatus(),
		feed:      ff,
		publisher: fp,
		journalCh: make(chan model.PatternMatch, journalSize),
	}
	return svc, ff, fp
}

func tfc(i int, o, h, l, c float64) model.TFCandle {
	return model.TFCandle{
		Token: "2885", Exchange: "NSE", TF: 60,
		TS:   t0.Add(time.Duration(i) * time.Minute),
		Open: int64(o * 100), High: int64(h * 100), Low: int64(l * 100), Close: int64(c * 100),
	}
}

func quiet(n int) []model.TFCandle {
	out := make([]model.TFCandle, n)
	for i := range out {
		out[i] = tfc(i, 100, 101.25, 99.75, 101)
	}
	return out
}

func breakout() model.TFCandle { return tfc(10, 100, 111, 99, 110) }

func hasPattern(ms []model.PatternMatch, name string) bool {
	for _, m := range ms {
		if m.Pattern == name {
			return true
		}
	}
	return false
}

func TestHandleFansOutClosedMatches(t *testing.T) {
	svc, ff, fp := newTestService(64)
	svc.scan.Warm(quiet(10))

	svc.handle(context.Background(), breakout())

	if !hasPattern(ff.got, pattern.LongWhiteCandle) {
		t.Fatalf("feed did not receive LONG_WHITE_CANDLE: %+v", ff.got)
	}
	if len(fp.got) != len(ff.got) {
		t.Errorf("publisher got %d matches, feed %d", len(fp.got), len(ff.got))
	}
	if len(svc.journalCh) != len(ff.got) {
		t.Errorf("journal queued %d matches, want %d", len(svc.journalCh), len(ff.got))
	}
	if got := testutil.ToFloat64(svc.prom.MatchesTotal.WithLabelValues(pattern.LongWhiteCandle)); got != 1 {
		t.Errorf("matches_total{LONG_WHITE_CANDLE}: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(svc.prom.CandlesScanned.WithLabelValues("60")); got != 1 {
		t.Errorf("candles_scanned_total{60}: got %v, want 1", got)
	}
	if svc.latency.samples != 1 {
		t.Errorf("latency samples: got %d, want 1", svc.latency.samples)
	}
}

func TestHandleFormingCandleIsLiveOnly(t *testing.T) {
	svc, ff, fp := newTestService(64)
	svc.scan.Warm(quiet(10))

	forming := breakout()
	forming.Forming = true
	svc.handle(context.Background(), forming)

	if !hasPattern(ff.got, pattern.LongWhiteCandle) {
		t.Fatalf("expected live preview, got %+v", ff.got)
	}
	for _, m := range fp.got {
		if !m.Live {
			t.Errorf("preview published without live flag: %+v", m)
		}
	}
	if len(svc.journalCh) != 0 {
		t.Errorf("live previews must not be journaled, queued %d", len(svc.journalCh))
	}
	if got := testutil.ToFloat64(svc.prom.CandlesScanned.WithLabelValues("60")); got != 0 {
		t.Errorf("forming candle counted as scanned: %v", got)
	}
}

func TestHandleLateFormingUpdateIsIgnored(t *testing.T) {
	svc, ff, fp := newTestService(64)
	svc.scan.Warm(quiet(10))
	svc.handle(context.Background(), tfc(10, 101, 102, 98, 99))
	ff.got, fp.got = nil, nil

	late := breakout()
	late.Forming = true
	svc.handle(context.Background(), late)

	if len(ff.got) != 0 || len(fp.got) != 0 {
		t.Errorf("late forming update fanned out: feed=%+v publisher=%+v", ff.got, fp.got)
	}
	if got := testutil.ToFloat64(svc.prom.FormingStale); got != 1 {
		t.Errorf("forming_stale_total: got %v, want 1", got)
	}
}

func TestHandleRejectsMalformedCandle(t *testing.T) {
	svc, ff, _ := newTestService(64)

	svc.handle(context.Background(), tfc(0, 100, 99, 101, 100))

	if got := testutil.ToFloat64(svc.prom.CandlesRejected); got != 1 {
		t.Errorf("candles_rejected_total: got %v, want 1", got)
	}
	if len(ff.got) != 0 {
		t.Errorf("malformed candle published %+v", ff.got)
	}
}

func TestHandleIgnoresDuplicate(t *testing.T) {
	svc, _, _ := newTestService(64)
	c := tfc(0, 100, 101, 99, 100.5)

	svc.handle(context.Background(), c)
	svc.handle(context.Background(), c)

	if got := testutil.ToFloat64(svc.prom.CandlesScanned.WithLabelValues("60")); got != 1 {
		t.Errorf("candles_scanned_total: got %v, want 1", got)
	}
}

func TestPublishCountsRedisErrors(t *testing.T) {
	svc, ff, fp := newTestService(64)
	fp.err = errors.New("connection refused")
	svc.scan.Warm(quiet(10))

	svc.handle(context.Background(), breakout())

	if got := testutil.ToFloat64(svc.prom.SinkErrorsTotal.WithLabelValues("redis")); got != 1 {
		t.Errorf("sink_errors_total{redis}: got %v, want 1", got)
	}
	if len(ff.got) == 0 {
		t.Error("feed should still receive matches when redis fails")
	}
}

func TestJournalDropsWhenFull(t *testing.T) {
	svc, _, _ := newTestService(0)
	svc.journal([]model.PatternMatch{{Pattern: pattern.Doji}, {Pattern: pattern.Hammer, Live: true}})

	if got := testutil.ToFloat64(svc.prom.SinkErrorsTotal.WithLabelValues("sqlite")); got != 1 {
		t.Errorf("sink_errors_total{sqlite}: got %v, want 1", got)
	}
}

type fakeHistory struct{ candles []model.TFCandle }

func (f *fakeHistory) ReadRecentTFCandles(exchange, token string, tf, limit int) ([]model.TFCandle, error) {
	return f.candles, nil
}

type fakeStream struct {
	candles []model.TFCandle
	err     error
}

func (f *fakeStream) ReadRecent(ctx context.Context, stream string, count int64) ([]model.TFCandle, error) {
	return f.candles, f.err
}

func TestWarmFromMergesSources(t *testing.T) {
	svc, _, _ := newTestService(64)
	all := quiet(10)

	n := svc.warmFrom(context.Background(),
		&fakeHistory{candles: all[:6]},
		&fakeStream{candles: all[3:]})
	if n != 10 {
		t.Errorf("warmed %d candles, want 10 (overlap ignored)", n)
	}
	if svc.scan.Tracked() != 1 {
		t.Errorf("tracked %d instruments, want 1", svc.scan.Tracked())
	}
	if st := svc.scan.Stats(); st.Processed != 0 || st.Matches != 0 {
		t.Errorf("warm-up must not count as scanning: %+v", st)
	}
}

func TestWarmFromToleratesErrors(t *testing.T) {
	svc, _, _ := newTestService(64)
	n := svc.warmFrom(context.Background(), nil, &fakeStream{err: errors.New("no such key")})
	if n != 0 {
		t.Errorf("warmed %d, want 0", n)
	}
}

func TestLatencyTracker(t *testing.T) {
	var l latencyTracker
	now := time.Now()
	if l.due(now) {
		t.Error("nothing observed yet, publish should not be due")
	}

	l.observe(10 * time.Millisecond)
	l.observe(20 * time.Millisecond)
	if want := 10*0.8 + 20*0.2; math.Abs(l.value()-want) > 1e-9 {
		t.Errorf("ewma: got %v, want %v", l.value(), want)
	}

	if !l.due(now) {
		t.Error("first publish should be due")
	}
	if l.due(now.Add(time.Second)) {
		t.Error("publish should be rate limited")
	}
	if !l.due(now.Add(3 * time.Second)) {
		t.Error("publish should be due after the period")
	}
}

func TestMaxCandleAge(t *testing.T) {
	if got, want := maxCandleAge([]int{60, 900, 300}), 31*time.Minute; got != want {
		t.Errorf("maxCandleAge: got %v, want %v", got, want)
	}
	if got := maxCandleAge(nil); got != time.Minute {
		t.Errorf("maxCandleAge(nil): got %v, want 1m", got)
	}
}

type recordNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordNotifier) Send(ctx context.Context, a notification.Alert) error {
	r.mu.Lock()
	r.titles = append(r.titles, a.Title)
	r.mu.Unlock()
	return nil
}

func (r *recordNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func TestHandleRaisesAlerts(t *testing.T) {
	svc, _, _ := newTestService(64)
	rec := &recordNotifier{}
	svc.alerts = notification.NewDispatcher(rec, 8)
	svc.alertOn = map[string]bool{pattern.LongWhiteCandle: true}
	svc.scan.Warm(quiet(10))

	forming := breakout()
	forming.Forming = true
	svc.handle(context.Background(), forming) // previews never alert
	svc.handle(context.Background(), breakout())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.alerts.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("no alert delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("alerts: got %d, want 1", n)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if want := "LONG_WHITE_CANDLE on NSE:2885 (60s)"; rec.titles[0] != want {
		t.Errorf("title: got %q, want %q", rec.titles[0], want)
	}
}

func TestNewAlertsRejectsUnknownPattern(t *testing.T) {
	cfg := &config.Config{AlertPatterns: "DOJI,NOT_A_PATTERN"}
	if _, _, err := newAlerts(cfg, pattern.DefaultCatalog()); !errors.Is(err, pattern.ErrUnknownPattern) {
		t.Errorf("expected ErrUnknownPattern, got %v", err)
	}

	cfg.AlertPatterns = "doji"
	_, on, err := newAlerts(cfg, pattern.DefaultCatalog())
	if err != nil || !on[pattern.Doji] {
		t.Errorf("newAlerts: on=%v err=%v", on, err)
	}
}
