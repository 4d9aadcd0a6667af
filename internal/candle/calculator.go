package candle

import (
	"fmt"

	"candlescan/internal/model"
)

// Calculator computes metrics over windows, memoizing the aggregate ones in
// its cache. A Calculator with a nil cache computes every call directly.
type Calculator struct {
	cache *Cache
}

// NewCalculator returns a calculator backed by cache (which may be nil).
func NewCalculator(cache *Cache) *Calculator {
	return &Calculator{cache: cache}
}

// Cache returns the backing cache, or nil.
func (c *Calculator) Cache() *Cache {
	if c == nil {
		return nil
	}
	return c.cache
}

// AverageBody returns the memoized AverageBody(w, period).
func (c *Calculator) AverageBody(w model.Window, period int) float64 {
	if c == nil || c.cache == nil {
		return AverageBody(w, period)
	}
	return c.cache.GetOrCompute(MetricAverageBody, w, period, func() float64 {
		return AverageBody(w, period)
	})
}

// AverageDistance returns the memoized AverageDistance(w, period).
func (c *Calculator) AverageDistance(w model.Window, period int) float64 {
	if c == nil || c.cache == nil {
		return AverageDistance(w, period)
	}
	return c.cache.GetOrCompute(MetricAverageDistance, w, period, func() float64 {
		return AverageDistance(w, period)
	})
}

// memo computes an aggregate over a series, keyed through the series' shared
// bar hashes.
func (c *Calculator) memo(metric string, s Series, period int, f func(model.Window, int) float64) float64 {
	if c == nil || c.cache == nil || s.prints == nil {
		return f(s.w, period)
	}
	key, check := s.prints.key(metric, s.off, period, s.w)
	return c.cache.getOrCompute(key, check, func() float64 { return f(s.w, period) })
}

// Compute evaluates the named metric. Per-bar metrics read the current bar
// and ignore period beyond validating it.
func (c *Calculator) Compute(name string, w model.Window, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("%w: period must be positive, got %d", model.ErrInvalidArgument, period)
	}
	if w.Empty() {
		return 0, fmt.Errorf("metric %s: %w", name, model.ErrEmptyWindow)
	}

	switch name {
	case MetricAverageBody:
		return c.AverageBody(w, period), nil
	case MetricAverageDistance:
		return c.AverageDistance(w, period), nil
	case MetricSize:
		return Size(w.Current()), nil
	case MetricBody:
		return Body(w.Current()), nil
	case MetricUpperShadow:
		return UpperShadow(w.Current()), nil
	case MetricLowerShadow:
		return LowerShadow(w.Current()), nil
	default:
		return 0, fmt.Errorf("%w: unknown metric %q", model.ErrInvalidArgument, name)
	}
}
