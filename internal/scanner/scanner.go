// Package scanner keeps a rolling bar history per instrument and timeframe
// and runs the pattern engine on every closed candle.
package scanner

import (
	"context"
	"log/slog"

	"candlescan/internal/model"
	"candlescan/internal/pattern"
	"candlescan/internal/ringbuf"
)

// DefaultWindowSize is the number of bars kept per instrument when the
// configuration does not say otherwise.
const DefaultWindowSize = 50

// Config controls which candles are scanned and which matches are emitted.
type Config struct {
	TFs        []int    // timeframes in seconds; empty means every TF
	WindowSize int      // bars of history per instrument
	Patterns   []string // emitted pattern names; empty means all
}

// Stats counts scanner activity.
type Stats struct {
	Processed uint64
	Rejected  uint64
	Matches   uint64
	Errors    uint64
	Stale     uint64 // forming candles behind the last closed bar
	AgedOut   uint64 // bars dropped from full histories
}

// Scanner turns closed TF candles into pattern matches.
// Not safe for concurrent use.
type Scanner struct {
	engine *pattern.Engine
	cfg    Config
	log    *slog.Logger

	tfs     map[int]bool
	filter  map[string]bool
	dirs    map[string]pattern.Direction
	history map[int]map[string]*ringbuf.History // tf → "exchange:token" → bars

	stats Stats
}

// New creates a scanner driving engine.
func New(engine *pattern.Engine, cfg Config, log *slog.Logger) *Scanner {
	if cfg.WindowSize < 1 {
		cfg.WindowSize = DefaultWindowSize
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scanner{
		engine:  engine,
		cfg:     cfg,
		log:     log,
		tfs:     make(map[int]bool, len(cfg.TFs)),
		filter:  make(map[string]bool, len(cfg.Patterns)),
		dirs:    make(map[string]pattern.Direction),
		history: make(map[int]map[string]*ringbuf.History),
	}
	for _, tf := range cfg.TFs {
		s.tfs[tf] = true
	}
	for _, p := range cfg.Patterns {
		s.filter[p] = true
	}
	return s
}

// Stats returns a copy of the counters.
func (s *Scanner) Stats() Stats { return s.stats }

// Tracked returns the number of instrument histories held.
func (s *Scanner) Tracked() int {
	n := 0
	for _, m := range s.history {
		n += len(m)
	}
	return n
}

// Warm pushes historical candles into the history without emitting matches.
// Candles must be ordered oldest first.
func (s *Scanner) Warm(candles []model.TFCandle) int {
	n := 0
	for i := range candles {
		if _, ok := s.push(&candles[i]); ok {
			n++
		}
	}
	return n
}

// Process appends a closed candle to its instrument history and returns the
// patterns the updated window matches.
func (s *Scanner) Process(tfc model.TFCandle) []model.PatternMatch {
	h, ok := s.push(&tfc)
	if !ok {
		return nil
	}
	s.stats.Processed++
	return s.evaluate(&tfc, h.Window(), false)
}

// Peek evaluates a forming candle on top of the stored history without
// mutating it. Returns nil for an instrument that has no closed candles yet
// and for a forming candle whose bucket is not newer than the last closed
// one, as happens when a late forming update trails the close.
func (s *Scanner) Peek(tfc model.TFCandle) []model.PatternMatch {
	if !s.accepts(tfc.TF) {
		return nil
	}
	h, ok := s.history[tfc.TF][tfc.Key()]
	if !ok {
		return nil
	}
	if last, ok := h.Latest(); ok && !tfc.TS.After(last.TS) {
		s.stats.Stale++
		return nil
	}
	b, err := tfc.Bar()
	if err != nil {
		s.reject(&tfc, err)
		return nil
	}
	prior := h.Window().Head(s.cfg.WindowSize - 1)
	bars := make([]model.Bar, 0, prior.Len()+1)
	bars = append(bars, b)
	for i := 0; i < prior.Len(); i++ {
		bars = append(bars, prior.At(i))
	}
	return s.evaluate(&tfc, model.NewWindow(bars), true)
}

// Run consumes TF candles and emits matches. Blocks until ctx done.
func (s *Scanner) Run(ctx context.Context, in <-chan model.TFCandle, out chan<- model.PatternMatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-in:
			if !ok {
				return
			}
			if tfc.Forming {
				continue // skip forming candles
			}
			for _, m := range s.Process(tfc) {
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *Scanner) accepts(tf int) bool {
	return len(s.tfs) == 0 || s.tfs[tf]
}

func (s *Scanner) push(tfc *model.TFCandle) (*ringbuf.History, bool) {
	if !s.accepts(tfc.TF) {
		return nil, false
	}
	b, err := tfc.Bar()
	if err != nil {
		s.reject(tfc, err)
		return nil, false
	}

	byKey, ok := s.history[tfc.TF]
	if !ok {
		byKey = make(map[string]*ringbuf.History, 64)
		s.history[tfc.TF] = byKey
	}
	key := tfc.Key()
	h, ok := byKey[key]
	if !ok {
		h = ringbuf.NewHistory(s.cfg.WindowSize)
		byKey[key] = h
	}
	if last, ok := h.Latest(); ok && !tfc.TS.After(last.TS) {
		// duplicate or out-of-order delivery
		return nil, false
	}
	dropped := h.Dropped()
	h.Push(b)
	s.stats.AgedOut += h.Dropped() - dropped
	return h, true
}

func (s *Scanner) reject(tfc *model.TFCandle, err error) {
	s.stats.Rejected++
	s.log.Warn("rejected malformed candle",
		slog.String("key", tfc.Key()),
		slog.Int("tf", tfc.TF),
		slog.Time("ts", tfc.TS),
		slog.String("error", err.Error()),
	)
}

func (s *Scanner) evaluate(tfc *model.TFCandle, w model.Window, live bool) []model.PatternMatch {
	res, errs := s.engine.EvaluateAll(w)
	for _, err := range errs {
		s.stats.Errors++
		s.log.Error("pattern evaluation failed",
			slog.String("key", tfc.Key()),
			slog.Int("tf", tfc.TF),
			slog.String("error", err.Error()),
		)
	}

	var out []model.PatternMatch
	for _, name := range res.Matched() {
		if len(s.filter) > 0 && !s.filter[name] {
			continue
		}
		out = append(out, model.PatternMatch{
			Pattern:   name,
			Direction: string(s.direction(name)),
			Token:     tfc.Token,
			Exchange:  tfc.Exchange,
			TF:        tfc.TF,
			TS:        tfc.TS,
			Close:     float64(tfc.Close) / 100.0,
			Live:      live,
		})
	}
	if !live {
		s.stats.Matches += uint64(len(out))
	}
	return out
}

func (s *Scanner) direction(name string) pattern.Direction {
	if d, ok := s.dirs[name]; ok {
		return d
	}
	d := pattern.Neutral
	if def, ok := s.engine.Catalog().Lookup(name); ok {
		d = def.Direction
	}
	s.dirs[name] = d
	return d
}
