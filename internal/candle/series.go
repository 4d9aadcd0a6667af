package candle

import "candlescan/internal/model"

// Series is the view a predicate evaluates: a window plus the calculator used
// for its aggregate metrics. Shifted series share the bar hashes of the
// window they came from, so each bar is hashed at most once per evaluation.
// A Series is not safe for concurrent use.
type Series struct {
	w      model.Window
	calc   *Calculator
	prints *windowPrints
	off    int
}

// NewSeries binds w to calc. A nil calc disables memoization.
func NewSeries(w model.Window, calc *Calculator) Series {
	s := Series{w: w, calc: calc}
	if calc.Cache() != nil {
		s.prints = newWindowPrints(w)
	}
	return s
}

// Len returns the number of bars available.
func (s Series) Len() int { return s.w.Len() }

// Bar returns bar i, where 0 is the current bar.
func (s Series) Bar(i int) model.Bar { return s.w.At(i) }

// Window returns the underlying window.
func (s Series) Window() model.Window { return s.w }

// Shift returns the series as it looked k bars ago.
func (s Series) Shift(k int) Series {
	if k <= 0 {
		return s
	}
	return Series{w: s.w.Shift(k), calc: s.calc, prints: s.prints, off: s.off + k}
}

// AverageBody returns the (memoized) average body over period bars.
func (s Series) AverageBody(period int) float64 {
	return s.calc.memo(MetricAverageBody, s, period, AverageBody)
}

// AverageDistance returns the (memoized) EMA of ranges over period bars.
func (s Series) AverageDistance(period int) float64 {
	return s.calc.memo(MetricAverageDistance, s, period, AverageDistance)
}
