package pattern

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"candlescan/internal/candle"
	"candlescan/internal/model"
)

func bar(o, h, l, c float64) model.Bar {
	return model.Bar{Open: o, High: h, Low: l, Close: c}
}

// quiet returns n identical bars with body 1 and 0.25 shadows.
func quiet(n int) []model.Bar {
	out := make([]model.Bar, n)
	for i := range out {
		out[i] = bar(100, 101.25, 99.75, 101)
	}
	return out
}

// newestFirst prepends current to history (itself newest first).
func newestFirst(current model.Bar, history []model.Bar) model.Window {
	return model.NewWindow(append([]model.Bar{current}, history...))
}

func TestStandardCatalog_Names(t *testing.T) {
	c := DefaultCatalog()
	if c.Len() != 45 {
		t.Fatalf("expected 45 standard patterns, got %d", c.Len())
	}
	for _, name := range []string{LongWhiteCandle, WhiteCandle, Doji, Hammer, MorningStar, ThreeLineStrike, Bearish3MethodFormation} {
		if _, ok := c.Lookup(name); !ok {
			t.Errorf("missing %s", name)
		}
	}
	names := c.Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted/unique at %d: %s, %s", i, names[i-1], names[i])
		}
	}
}

func TestLongWhiteCandle_Breakout(t *testing.T) {
	e := NewEngine()
	w := newestFirst(bar(100, 111, 99, 110), quiet(10))

	want := map[string]bool{
		LongWhiteCandle: true,
		WhiteCandle:     false,
		LongBlackCandle: false,
		BlackCandle:     false,
	}
	for name, exp := range want {
		got, err := e.TestPattern(name, w)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if got != exp {
			t.Errorf("%s: got %v, want %v", name, got, exp)
		}
	}

	avg, err := e.ComputeMetric(candle.MetricAverageBody, w, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if avg < 1.9-1e-9 || avg > 1.9+1e-9 {
		t.Errorf("averageBody(10) = %v, want 1.9", avg)
	}
}

func TestWhiteCandle_ModestBar(t *testing.T) {
	e := NewEngine()
	// Body 2 is below 3 x averageBody(10) = 3.3 but the range still beats
	// the volatility threshold.
	w := newestFirst(bar(100, 102.5, 99.5, 102), quiet(10))

	white, _ := e.TestPattern(WhiteCandle, w)
	long, _ := e.TestPattern(LongWhiteCandle, w)
	if !white || long {
		t.Errorf("WHITE_CANDLE=%v LONG_WHITE_CANDLE=%v, want true/false", white, long)
	}
}

func TestLongAndRegularCandlesAreExclusive(t *testing.T) {
	e := NewEngine()
	currents := []model.Bar{
		bar(100, 111, 99, 110), bar(110, 111, 99, 100),
		bar(100, 102.5, 99.5, 102), bar(102, 102.5, 99.5, 100),
		bar(100, 101.25, 99.75, 101), bar(100, 130, 70, 100),
	}
	for _, cur := range currents {
		for n := 0; n <= 30; n += 5 {
			w := newestFirst(cur, quiet(n))
			res, errs := e.EvaluateAll(w)
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if res.Matches[WhiteCandle] && res.Matches[LongWhiteCandle] {
				t.Errorf("%+v n=%d: white pair both matched", cur, n)
			}
			if res.Matches[BlackCandle] && res.Matches[LongBlackCandle] {
				t.Errorf("%+v n=%d: black pair both matched", cur, n)
			}
		}
	}
}

func TestTestPattern_ShortWindowIsFalseNotError(t *testing.T) {
	e := NewEngine()
	w := model.NewWindow([]model.Bar{bar(100, 111, 99, 110)})

	got, err := e.TestPattern(LongWhiteCandle, w)
	if err != nil || got {
		t.Errorf("1-bar window: got %v, %v; want false, nil", got, err)
	}
	got, err = e.TestPattern(MorningStar, w)
	if err != nil || got {
		t.Errorf("below MinBars: got %v, %v; want false, nil", got, err)
	}
}

func TestTestPattern_Errors(t *testing.T) {
	e := NewEngine()
	w := model.NewWindow(quiet(3))

	if _, err := e.TestPattern("CUP_AND_HANDLE", w); !errors.Is(err, ErrUnknownPattern) {
		t.Errorf("expected ErrUnknownPattern, got %v", err)
	}
	if _, err := e.TestPattern(Doji, model.Window{}); !errors.Is(err, model.ErrEmptyWindow) {
		t.Errorf("expected ErrEmptyWindow, got %v", err)
	}
}

func TestComputeMetric_Errors(t *testing.T) {
	e := NewEngine()
	w := model.NewWindow(quiet(3))

	if _, err := e.ComputeMetric(candle.MetricAverageDistance, w, 0); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := e.ComputeMetric(candle.MetricAverageDistance, model.Window{}, 25); !errors.Is(err, model.ErrEmptyWindow) {
		t.Errorf("expected ErrEmptyWindow, got %v", err)
	}
}

func TestEvaluateAll_EmptyWindow(t *testing.T) {
	e := NewEngine()
	res, errs := e.EvaluateAll(model.Window{})

	if len(errs) != 1 || !errors.Is(errs[0], model.ErrEmptyWindow) {
		t.Fatalf("expected a single ErrEmptyWindow, got %v", errs)
	}
	if len(res.Matches) != e.Catalog().Len() {
		t.Errorf("expected every pattern reported, got %d", len(res.Matches))
	}
	if len(res.Matched()) != 0 {
		t.Errorf("expected no matches, got %v", res.Matched())
	}
}

func TestEvaluateAll_ReportsInsufficientHistory(t *testing.T) {
	e := NewEngine()
	res, errs := e.EvaluateAll(model.NewWindow([]model.Bar{bar(100, 111, 99, 110)}))
	if len(errs) != 0 {
		t.Fatalf("insufficient history must not be an error: %v", errs)
	}

	insufficient := make(map[string]bool)
	for _, n := range res.Insufficient {
		insufficient[n] = true
	}
	for _, name := range []string{Hammer, BullishHarami, MorningStar, ThreeLineStrike, Bullish3MethodFormation} {
		if !insufficient[name] {
			t.Errorf("%s should be reported as insufficient", name)
		}
		if res.Matches[name] {
			t.Errorf("%s must be false", name)
		}
	}
	if insufficient[LongWhiteCandle] {
		t.Error("single-bar patterns are not insufficient")
	}
}

func TestEvaluateAll_IsolatesPanics(t *testing.T) {
	cat := NewCatalog()
	cat.MustRegister(
		Definition{Name: "ALWAYS", Direction: Neutral, MinBars: 1, Test: func(candle.Series) bool { return true }},
		Definition{Name: "BROKEN", Direction: Neutral, MinBars: 1, Test: func(s candle.Series) bool {
			_ = s.Bar(s.Len() + 5)
			return true
		}},
		Definition{Name: "WHITE", Direction: Bullish, MinBars: 1, Test: candle.Is(candle.White)},
	)
	e := NewEngine(WithCatalog(cat))

	res, errs := e.EvaluateAll(model.NewWindow(quiet(2)))
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	var evalErr *EvalError
	if !errors.As(errs[0], &evalErr) || evalErr.Pattern != "BROKEN" {
		t.Fatalf("expected *EvalError for BROKEN, got %v", errs[0])
	}
	if !errors.Is(errs[0], ErrPatternPanic) {
		t.Errorf("expected ErrPatternPanic in chain, got %v", errs[0])
	}
	if got := res.Matched(); !reflect.DeepEqual(got, []string{"ALWAYS", "WHITE"}) {
		t.Errorf("unexpected matches %v", got)
	}

	if _, err := e.TestPattern("BROKEN", model.NewWindow(quiet(2))); !errors.Is(err, ErrPatternPanic) {
		t.Errorf("TestPattern should surface the panic as an error, got %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	e := NewEngine()
	ok := candle.Is(candle.White)

	tests := []struct {
		name string
		def  Definition
		want error
	}{
		{"empty name", Definition{MinBars: 1, Test: ok}, model.ErrInvalidArgument},
		{"nil test", Definition{Name: "X", MinBars: 1}, model.ErrInvalidArgument},
		{"zero min bars", Definition{Name: "X", Test: ok}, model.ErrInvalidArgument},
		{"duplicate", Definition{Name: Doji, MinBars: 1, Test: ok}, ErrDuplicatePattern},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.Register(tt.def); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if err := e.Register(Definition{Name: "WHITE_AFTER_WHITE", Direction: Bullish, MinBars: 2,
		Test: candle.All(candle.At(0, candle.White), candle.At(1, candle.White))}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := e.TestPattern("WHITE_AFTER_WHITE", model.NewWindow(quiet(2)))
	if err != nil || !got {
		t.Errorf("custom pattern: got %v, %v", got, err)
	}
}

func TestEvaluateAll_ColdAndWarmCacheAgree(t *testing.T) {
	history := quiet(30)
	history[4] = bar(101, 104, 97, 98)
	history[9] = bar(98, 103, 96, 102)
	w := newestFirst(bar(100, 111, 99, 110), history)

	uncached := NewEngine(WithCache(nil))
	cached := NewEngine()

	want, _ := uncached.EvaluateAll(w)
	for i := 0; i < 3; i++ {
		got, _ := cached.EvaluateAll(w)
		if !reflect.DeepEqual(got.Matches, want.Matches) {
			t.Fatalf("pass %d: cached result differs from uncached", i)
		}
	}
	if cached.Cache().Stats().Hits == 0 {
		t.Error("repeated evaluation should hit the cache")
	}

	cached.ClearCache()
	if cached.Cache().Len() != 0 {
		t.Error("ClearCache should empty the cache")
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls int
	errs  int
}

func (r *recordingObserver) ObserveEvaluation(_ time.Duration, _ Result, errs []error) {
	r.mu.Lock()
	r.calls++
	r.errs += len(errs)
	r.mu.Unlock()
}

func TestEvaluateAll_NotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	e := NewEngine(WithObserver(obs))

	e.EvaluateAll(model.NewWindow(quiet(5)))
	e.EvaluateAll(model.Window{})

	if obs.calls != 2 || obs.errs != 1 {
		t.Errorf("calls=%d errs=%d, want 2/1", obs.calls, obs.errs)
	}
}

func TestEngine_ConcurrentEvaluateAndRegister(t *testing.T) {
	e := NewEngine()
	w := newestFirst(bar(100, 111, 99, 110), quiet(10))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				res, _ := e.EvaluateAll(w)
				if !res.Matches[LongWhiteCandle] {
					t.Error("LONG_WHITE_CANDLE should match")
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = e.Register(Definition{Name: "CUSTOM_" + string(rune('A'+i)), Direction: Neutral, MinBars: 1,
				Test: candle.Is(candle.White)})
		}
	}()
	wg.Wait()

	if e.Catalog().Len() != 65 {
		t.Errorf("expected 65 patterns, got %d", e.Catalog().Len())
	}
}

// trending returns n newest-first bars whose bodies and ranges vary.
func trending(n int) model.Window {
	bars := make([]model.Bar, n)
	for i := range bars {
		o := 100 + float64(i%7)
		c := o + float64(i%5) - 2
		hi, lo := o, c
		if c > o {
			hi, lo = c, o
		}
		bars[i] = bar(o, hi+0.5+float64(i%3)*0.25, lo-0.25, c)
	}
	return model.NewWindow(bars)
}

func BenchmarkEvaluateAll(b *testing.B) {
	w := trending(50)
	for _, bc := range []struct {
		name  string
		cache *candle.Cache
	}{
		{"uncached", nil},
		{"cached", candle.NewCache(candle.DefaultCacheCapacity)},
	} {
		b.Run(bc.name, func(b *testing.B) {
			e := NewEngine(WithCache(bc.cache))
			e.EvaluateAll(w)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				e.EvaluateAll(w)
			}
		})
	}
}
