package candle

import (
	"math"

	"candlescan/internal/model"
)

// Thresholds shared by the classifiers.
const (
	LongLinePeriod   = 25
	LongLineFactor   = 0.7
	LongCandlePeriod = 10
	LongCandleFactor = 3.0

	DojiBodyRatio     = 0.10
	SmallBodyRatio    = 0.35
	NearNoShadowRatio = 0.10
)

// ── Bar predicates ──

// White holds when the bar closed above its open.
func White(b model.Bar) bool { return b.Open < b.Close }

// Black holds when the bar closed below its open.
func Black(b model.Bar) bool { return b.Open > b.Close }

// HasUpperShadow holds when the high is above the body.
func HasUpperShadow(b model.Bar) bool { return UpperShadow(b) > 0 }

// HasLowerShadow holds when the low is below the body.
func HasLowerShadow(b model.Bar) bool { return LowerShadow(b) > 0 }

// AllShadow holds when the bar has both shadows.
func AllShadow(b model.Bar) bool { return HasUpperShadow(b) && HasLowerShadow(b) }

// AnyShadow holds when the bar has at least one shadow.
func AnyShadow(b model.Bar) bool { return HasUpperShadow(b) || HasLowerShadow(b) }

// NoShadow holds when open and close are the bar's extremes.
func NoShadow(b model.Bar) bool { return !AnyShadow(b) }

// UpperShadowLargerThanBody holds when the upper shadow exceeds the body.
func UpperShadowLargerThanBody(b model.Bar) bool { return UpperShadow(b) > Body(b) }

// LowerShadowLargerThanBody holds when the lower shadow exceeds the body.
func LowerShadowLargerThanBody(b model.Bar) bool { return LowerShadow(b) > Body(b) }

// AllShadowLargerThanBody holds when both shadows exceed the body.
func AllShadowLargerThanBody(b model.Bar) bool {
	return UpperShadowLargerThanBody(b) && LowerShadowLargerThanBody(b)
}

// AnyShadowLargerThanBody holds when either shadow exceeds the body.
func AnyShadowLargerThanBody(b model.Bar) bool {
	return UpperShadowLargerThanBody(b) || LowerShadowLargerThanBody(b)
}

// NoShadowLargerThanBody holds when neither shadow exceeds the body.
func NoShadowLargerThanBody(b model.Bar) bool { return !AnyShadowLargerThanBody(b) }

// DojiBody holds for a bar with a real range and an almost empty body.
func DojiBody(b model.Bar) bool {
	sz := Size(b)
	return sz > 0 && Body(b) <= DojiBodyRatio*sz
}

// SmallBody holds when the body is at most a third or so of the range.
func SmallBody(b model.Bar) bool {
	sz := Size(b)
	return sz > 0 && Body(b) <= SmallBodyRatio*sz
}

// HasBody holds when open and close differ.
func HasBody(b model.Bar) bool { return Body(b) > 0 }

// NearNoUpperShadow holds when the upper shadow is a sliver of the range.
func NearNoUpperShadow(b model.Bar) bool { return UpperShadow(b) <= NearNoShadowRatio*Size(b) }

// NearNoLowerShadow holds when the lower shadow is a sliver of the range.
func NearNoLowerShadow(b model.Bar) bool { return LowerShadow(b) <= NearNoShadowRatio*Size(b) }

// LongUpperShadowOf returns a predicate holding when the upper shadow is at
// least k times the body.
func LongUpperShadowOf(k float64) BarPredicate {
	return func(b model.Bar) bool { return UpperShadow(b) >= k*Body(b) }
}

// LongLowerShadowOf returns a predicate holding when the lower shadow is at
// least k times the body.
func LongLowerShadowOf(k float64) BarPredicate {
	return func(b model.Bar) bool { return LowerShadow(b) >= k*Body(b) }
}

// BodyTop is the higher of open and close.
func BodyTop(b model.Bar) float64 { return math.Max(b.Open, b.Close) }

// BodyBottom is the lower of open and close.
func BodyBottom(b model.Bar) float64 { return math.Min(b.Open, b.Close) }

// BodyMid is the midpoint of the body.
func BodyMid(b model.Bar) float64 { return (b.Open + b.Close) / 2 }

// ── Window predicates ──

// LongLine holds when the current bar's range is at least 0.7 times the
// EMA of ranges over 25 bars.
func LongLine(s Series) bool {
	if s.Len() == 0 {
		return false
	}
	return Size(s.Bar(0)) >= LongLineFactor*s.AverageDistance(LongLinePeriod)
}

// ShortLine is the negation of LongLine on a non-empty series.
func ShortLine(s Series) bool {
	if s.Len() == 0 {
		return false
	}
	return !LongLine(s)
}

// LongCandle holds when at least 10 bars exist and the current body is at
// least three times the average body of the last 10 bars.
func LongCandle(s Series) bool {
	if s.Len() < LongCandlePeriod {
		return false
	}
	return Body(s.Bar(0)) >= LongCandleFactor*s.AverageBody(LongCandlePeriod)
}

// Falling holds when the close of bar from is below the close span bars
// before it.
func Falling(from, span int) Predicate {
	return func(s Series) bool {
		if from+span >= s.Len() {
			return false
		}
		return s.Bar(from).Close < s.Bar(from+span).Close
	}
}

// Rising holds when the close of bar from is above the close span bars
// before it.
func Rising(from, span int) Predicate {
	return func(s Series) bool {
		if from+span >= s.Len() {
			return false
		}
		return s.Bar(from).Close > s.Bar(from+span).Close
	}
}
