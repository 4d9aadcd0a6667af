package patengine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"candlescan/internal/model"
)

// recentReader reads the newest stored candles of one instrument, oldest first.
type recentReader interface {
	ReadRecentTFCandles(exchange, token string, tf, limit int) ([]model.TFCandle, error)
}

// streamReader reads the newest candles of one Redis stream, oldest first.
type streamReader interface {
	ReadRecent(ctx context.Context, stream string, count int64) ([]model.TFCandle, error)
}

// warm preloads every configured instrument history so the first live
// candle is scanned against a full window.
func (svc *Service) warm(ctx context.Context) int {
	var hist recentReader
	if svc.sqlReader != nil {
		hist = svc.sqlReader
	}
	var recent streamReader
	if svc.redisReader != nil {
		recent = svc.redisReader
	}
	return svc.warmFrom(ctx, hist, recent)
}

// warmFrom loads SQLite history first and then the Redis stream tail. The
// scanner drops candles that are not newer than what it holds, so the
// overlap between the two sources is ignored.
func (svc *Service) warmFrom(ctx context.Context, hist recentReader, recent streamReader) int {
	limit := svc.cfg.WindowSize
	n := 0
	for _, tf := range svc.cfg.ParseTFs() {
		for _, key := range svc.cfg.ParseTokenKeys() {
			exchange, token, ok := strings.Cut(key, ":")
			if !ok {
				continue
			}
			if hist != nil {
				candles, err := hist.ReadRecentTFCandles(exchange, token, tf, limit)
				if err != nil {
					svc.log.Warn("sqlite warm-up failed",
						slog.String("key", key), slog.Int("tf", tf), slog.String("error", err.Error()))
				} else {
					n += svc.scan.Warm(candles)
				}
			}
			if recent != nil {
				stream := "candle:" + strconv.Itoa(tf) + "s:" + key
				candles, err := recent.ReadRecent(ctx, stream, int64(limit))
				if err != nil {
					svc.log.Warn("redis warm-up failed",
						slog.String("stream", stream), slog.String("error", err.Error()))
				} else {
					n += svc.scan.Warm(candles)
				}
			}
		}
	}
	return n
}
