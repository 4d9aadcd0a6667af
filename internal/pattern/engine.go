package pattern

import (
	"fmt"
	"sort"
	"time"

	"candlescan/internal/candle"
	"candlescan/internal/model"
)

// Result is the outcome of evaluating a catalog against one window.
type Result struct {
	// Matches maps every evaluated pattern name to whether it matched.
	Matches map[string]bool

	// Insufficient lists patterns skipped because the window was shorter
	// than their MinBars. They are reported as false in Matches.
	Insufficient []string
}

// Matched returns the names that matched, sorted.
func (r Result) Matched() []string {
	out := make([]string, 0, len(r.Matches))
	for name, ok := range r.Matches {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Observer is notified after every EvaluateAll call.
type Observer interface {
	ObserveEvaluation(elapsed time.Duration, res Result, errs []error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache sets the metric cache. Passing nil disables memoization.
func WithCache(c *candle.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithCatalog sets the pattern catalog.
func WithCatalog(c *Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithObserver sets the evaluation observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine evaluates catalog patterns against bar windows. It owns its cache
// and catalog; two engines never share state unless given the same objects.
// Engine is safe for concurrent use.
type Engine struct {
	catalog  *Catalog
	cache    *candle.Cache
	calc     *candle.Calculator
	observer Observer
}

// NewEngine creates an engine with the standard catalog and a cache of
// DefaultCacheCapacity entries unless overridden by opts.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		cache: candle.NewCache(candle.DefaultCacheCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.catalog == nil {
		e.catalog = DefaultCatalog()
	}
	e.calc = candle.NewCalculator(e.cache)
	return e
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Cache returns the engine's metric cache, or nil when memoization is off.
func (e *Engine) Cache() *candle.Cache { return e.cache }

// ClearCache drops every memoized metric.
func (e *Engine) ClearCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// Register adds a definition to the engine's catalog.
func (e *Engine) Register(def Definition) error {
	return e.catalog.Register(def)
}

// ComputeMetric evaluates a named metric over w.
func (e *Engine) ComputeMetric(name string, w model.Window, period int) (float64, error) {
	return e.calc.Compute(name, w, period)
}

// TestPattern reports whether the named pattern matches the current bar of w.
// A window shorter than the pattern's MinBars is not an error: it yields false.
func (e *Engine) TestPattern(name string, w model.Window) (bool, error) {
	def, ok := e.catalog.Lookup(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPattern, name)
	}
	if w.Empty() {
		return false, fmt.Errorf("pattern %s: %w", name, model.ErrEmptyWindow)
	}
	if w.Len() < def.MinBars {
		return false, nil
	}
	matched, err := e.run(def, candle.NewSeries(w, e.calc))
	if err != nil {
		return false, err
	}
	return matched, nil
}

// EvaluateAll runs every catalog entry against w. Entries are isolated from
// one another: a failing entry is reported as false with an *EvalError and
// the rest still run.
func (e *Engine) EvaluateAll(w model.Window) (Result, []error) {
	start := time.Now()
	defs := e.catalog.Definitions()
	res := Result{Matches: make(map[string]bool, len(defs))}
	var errs []error

	if w.Empty() {
		for _, d := range defs {
			res.Matches[d.Name] = false
		}
		errs = append(errs, fmt.Errorf("evaluate: %w", model.ErrEmptyWindow))
		e.observe(start, res, errs)
		return res, errs
	}

	s := candle.NewSeries(w, e.calc)
	for _, d := range defs {
		if w.Len() < d.MinBars {
			res.Matches[d.Name] = false
			res.Insufficient = append(res.Insufficient, d.Name)
			continue
		}
		matched, err := e.run(d, s)
		if err != nil {
			errs = append(errs, err)
		}
		res.Matches[d.Name] = matched
	}

	e.observe(start, res, errs)
	return res, errs
}

// run evaluates one definition, turning a panic into an *EvalError.
func (e *Engine) run(d Definition, s candle.Series) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = &EvalError{Pattern: d.Name, Err: fmt.Errorf("%w: %v", ErrPatternPanic, r)}
		}
	}()
	return d.Test(s), nil
}

func (e *Engine) observe(start time.Time, res Result, errs []error) {
	if e.observer != nil {
		e.observer.ObserveEvaluation(time.Since(start), res, errs)
	}
}
