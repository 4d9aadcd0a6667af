package candle

import (
	"math"

	"candlescan/internal/model"
)

// Metric names accepted by Calculator.Compute.
const (
	MetricSize            = "size"
	MetricBody            = "body"
	MetricUpperShadow     = "upperShadow"
	MetricLowerShadow     = "lowerShadow"
	MetricAverageBody     = "averageBody"
	MetricAverageDistance = "averageDistance"
)

// Size is the full range of a bar: High - Low.
func Size(b model.Bar) float64 { return b.High - b.Low }

// Body is the absolute distance between open and close.
func Body(b model.Bar) float64 { return math.Abs(b.Open - b.Close) }

// UpperShadow is the distance from the top of the body to the high.
func UpperShadow(b model.Bar) float64 { return b.High - math.Max(b.Open, b.Close) }

// LowerShadow is the distance from the low to the bottom of the body.
func LowerShadow(b model.Bar) float64 { return math.Min(b.Open, b.Close) - b.Low }

// AverageBody returns the arithmetic mean of Body over the most recent
// min(Len, period) bars. An empty window yields 0.
func AverageBody(w model.Window, period int) float64 {
	n := w.Len()
	if period < n {
		n = period
	}
	if n <= 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += Body(w.At(i))
	}
	return sum / float64(n)
}

// AverageDistance returns an exponential moving average of bar ranges. The
// EMA is seeded with the range of bar min(Len-1, period) and walks forward in
// time to the current bar with smoothing factor 2/(period+1).
func AverageDistance(w model.Window, period int) float64 {
	if w.Empty() || period <= 0 {
		return 0
	}
	start := w.Len() - 1
	if period < start {
		start = period
	}
	alpha := 2.0 / float64(period+1)
	ema := Size(w.At(start))
	for i := start - 1; i >= 0; i-- {
		ema = Size(w.At(i))*alpha + ema*(1-alpha)
	}
	return ema
}

// span is the number of leading bars an aggregate metric reads.
func span(metric string, w model.Window, period int) int {
	n := period
	if metric == MetricAverageDistance {
		n = period + 1
	}
	if n > w.Len() {
		n = w.Len()
	}
	return n
}
