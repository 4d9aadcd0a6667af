// cmd/patscan replays historical candle data from SQLite through the pattern
// scanner and reports how often each pattern matched.
//
// Usage:
//
//	go run ./cmd/patscan --tf=60,300 --from=2024-01-15 --patterns=DOJI,HAMMER
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"candlescan/internal/candle"
	"candlescan/internal/logger"
	"candlescan/internal/marketdata/replay"
	"candlescan/internal/model"
	"candlescan/internal/pattern"
	"candlescan/internal/scanner"
	sqlitestore "candlescan/internal/store/sqlite"
)

func main() {
	speed := flag.Float64("speed", 0, "Replay pace relative to the bar clock; 0 replays as fast as possible")
	tfStr := flag.String("tf", "60,300", "Timeframes in seconds to scan, comma-separated")
	fromStr := flag.String("from", "0", "Start of replay: unix seconds or YYYY-MM-DD (0=all)")
	dbPath := flag.String("db", "data/candles.db", "SQLite file holding candles_tf")
	window := flag.Int("window", scanner.DefaultWindowSize, "Bars of history per instrument")
	patterns := flag.String("patterns", "", "Comma-separated pattern names to report (default: all)")
	tokens := flag.String("tokens", "", "Comma-separated EXCHANGE:TOKEN filter (default: all)")
	journal := flag.Bool("journal", false, "Write matches to the pattern_matches table")
	verbose := flag.Bool("v", false, "Print every match")
	level := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	log := logger.Init("patscan", logger.ParseLevel(*level))
	fail := func(msg string, err error) {
		log.Error(msg, slog.String("error", err.Error()))
		os.Exit(1)
	}

	tfs := parseTFs(*tfStr)
	if len(tfs) == 0 {
		fail("invalid --tf", fmt.Errorf("no valid TFs in %q", *tfStr))
	}
	fromTS, err := parseFrom(*fromStr)
	if err != nil {
		fail("invalid --from", err)
	}

	engine := pattern.NewEngine(pattern.WithCache(candle.NewCache(candle.DefaultCacheCapacity)))
	names := splitList(*patterns, strings.ToUpper)
	for _, n := range names {
		if _, ok := engine.Catalog().Lookup(n); !ok {
			fail("invalid --patterns", fmt.Errorf("%w: %s", pattern.ErrUnknownPattern, n))
		}
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		fail("sqlite open failed", err)
	}
	defer reader.Close()

	var writer *sqlitestore.Writer
	if *journal {
		writer, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			fail("sqlite writer open failed", err)
		}
		defer writer.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	scan := scanner.New(engine, scanner.Config{TFs: tfs, WindowSize: *window, Patterns: names}, log)
	replayer := replay.New(reader, splitList(*tokens, upperExchange)...)

	candleCh := make(chan model.TFCandle, 10000)
	matchCh := make(chan model.PatternMatch, 10000)

	go func() {
		if _, err := replayer.Run(ctx, tfs, fromTS, *speed, candleCh); err != nil && ctx.Err() == nil {
			log.Error("replay failed", slog.String("error", err.Error()))
		}
		close(candleCh)
	}()
	go func() {
		scan.Run(ctx, candleCh, matchCh)
		close(matchCh)
	}()

	start := time.Now()
	counts := make(map[string]int)
	var batch []model.PatternMatch
	for m := range matchCh {
		counts[m.Pattern]++
		if *verbose {
			fmt.Printf("  [%s] %-28s %-8s TF=%ds %s close=%.2f\n",
				m.TS.Format("2006-01-02 15:04"), m.Pattern, m.Direction, m.TF, m.Key(), m.Close)
		}
		if writer != nil {
			batch = append(batch, m)
			if len(batch) >= 500 {
				if err := writer.WriteMatchBatch(context.Background(), batch); err != nil {
					log.Error("journal write failed", slog.String("error", err.Error()))
				}
				batch = batch[:0]
			}
		}
	}
	if writer != nil && len(batch) > 0 {
		if err := writer.WriteMatchBatch(context.Background(), batch); err != nil {
			log.Error("journal write failed", slog.String("error", err.Error()))
		}
	}

	printSummary(scan.Stats(), engine.Cache().Stats(), counts, tfs, time.Since(start))
}

func printSummary(st scanner.Stats, cs candle.CacheStats, counts map[string]int, tfs []int, elapsed time.Duration) {
	type row struct {
		name string
		n    int
	}
	rows := make([]row, 0, len(counts))
	for name, n := range counts {
		rows = append(rows, row{name, n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].n != rows[j].n {
			return rows[i].n > rows[j].n
		}
		return rows[i].name < rows[j].name
	})

	fmt.Println()
	fmt.Println("BACKTEST COMPLETE")
	fmt.Printf("  TFs:               %v\n", tfs)
	fmt.Printf("  Candles processed: %d\n", st.Processed)
	fmt.Printf("  Candles rejected:  %d\n", st.Rejected)
	fmt.Printf("  Pattern matches:   %d\n", st.Matches)
	fmt.Printf("  Eval errors:       %d\n", st.Errors)
	fmt.Printf("  Metric cache:      %d hits / %d misses / %d evictions\n", cs.Hits, cs.Misses, cs.Evictions)
	fmt.Printf("  Elapsed:           %s\n", elapsed.Round(time.Millisecond))
	fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATTERN\tMATCHES")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\n", r.name, r.n)
	}
	tw.Flush()
}

func parseTFs(s string) []int {
	var tfs []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			tfs = append(tfs, n)
		}
	}
	return tfs
}

// parseFrom accepts unix seconds or a UTC date.
func parseFrom(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, fmt.Errorf("want unix seconds or YYYY-MM-DD, got %q", s)
	}
	// candles strictly after fromTS are replayed
	return t.Unix() - 1, nil
}

func splitList(s string, norm func(string) string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, norm(p))
		}
	}
	return out
}

func upperExchange(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return strings.ToUpper(key[:i]) + key[i:]
	}
	return key
}
