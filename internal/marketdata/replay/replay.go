// Package replay reads historical TF candles and emits them in time order at
// a configurable speed for backtesting the pattern scanner.
package replay

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"candlescan/internal/model"
)

// maxGap caps the simulated pause between two candles.
const maxGap = 5 * time.Second

// Source supplies stored candles, oldest first. *sqlite.Reader satisfies it.
type Source interface {
	ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error)
}

// Replayer replays candles from a Source.
type Replayer struct {
	src    Source
	tokens map[string]bool
}

// New creates a Replayer. When tokens ("exchange:token") is non-empty only
// those instruments are replayed.
func New(src Source, tokens ...string) *Replayer {
	r := &Replayer{src: src}
	if len(tokens) > 0 {
		r.tokens = make(map[string]bool, len(tokens))
		for _, t := range tokens {
			r.tokens[t] = true
		}
	}
	return r
}

// Load collects the candles of every TF after fromTS, filtered by
// instrument and sorted by timestamp. Candles of equal timestamp keep the
// order of tfs.
func (r *Replayer) Load(tfs []int, fromTS int64) ([]model.TFCandle, error) {
	var all []model.TFCandle
	for _, tf := range tfs {
		candles, err := r.src.ReadAllTFCandles(tf, fromTS)
		if err != nil {
			return nil, err
		}
		for _, c := range candles {
			if r.tokens != nil && !r.tokens[c.Key()] {
				continue
			}
			all = append(all, c)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })
	return all, nil
}

// Run replays all candles for the given TFs into outCh and returns how many
// were emitted. speed controls the playback rate: 1.0 = real-time,
// 10.0 = 10x, 0 = as fast as possible. fromTS filters candles to those after
// this Unix timestamp (0 = all).
func (r *Replayer) Run(ctx context.Context, tfs []int, fromTS int64, speed float64, outCh chan<- model.TFCandle) (int, error) {
	candles, err := r.Load(tfs, fromTS)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		slog.Warn("replay found no candles", slog.Any("tfs", tfs), slog.Int64("from", fromTS))
		return 0, nil
	}

	slog.Info("replay loaded candles",
		slog.Int("count", len(candles)), slog.Int("tfs", len(tfs)), slog.Float64("speed", speed))

	var prevTS time.Time
	emitted := 0

	for _, c := range candles {
		if speed > 0 && !prevTS.IsZero() {
			if gap := c.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = c.TS

		// stored candles are closed buckets
		c.Forming = false
		select {
		case outCh <- c:
			emitted++
		case <-ctx.Done():
			slog.Info("replay cancelled", slog.Int("emitted", emitted))
			return emitted, ctx.Err()
		}
	}

	slog.Info("replay completed", slog.Int("emitted", emitted))
	return emitted, nil
}
