package patengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"candlescan/internal/logger"
	"candlescan/internal/model"
	"candlescan/internal/notification"
)

const (
	scanLatencyKey = "metrics:patengine:scan_ms"
	scanLatencyTTL = 30 * time.Second
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeTFCandles(ctx, svc.streams, svc.candleCh); err != nil {
			svc.log.Error("consumer stopped", slog.String("error", err.Error()))
			svc.health.SetScannerOK(false)
			svc.alerts.Notify(notification.Alert{
				Level:   notification.AlertCritical,
				Title:   "Candle consumer stopped",
				Message: err.Error(),
			})
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams, pelInterval, pelMinIdle, svc.candleCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			svc.log.Info("reclaimed stale PEL messages", slog.Int("count", count))
		})
	svc.log.Info("PEL reclaimer started",
		slog.Duration("interval", pelInterval), slog.Duration("min_idle", pelMinIdle))
}

// peekLoop subscribes to forming candles for live pattern previews.
func (svc *Service) peekLoop(ctx context.Context) {
	if err := svc.redisReader.SubscribeFormingCandles(ctx, svc.peekCh); err != nil {
		svc.log.Warn("forming candle subscription failed", slog.String("error", err.Error()))
	}
}

// processLoop is the only goroutine touching the scanner. Closed candles
// and forming previews are serialized through it.
func (svc *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-svc.candleCh:
			if !ok {
				return
			}
			svc.handle(ctx, tfc)
		case tfc, ok := <-svc.peekCh:
			if !ok {
				return
			}
			svc.handle(ctx, tfc)
		}
		svc.publishLatency(ctx)
	}
}

// handle scans one candle and fans the resulting matches out to every sink.
func (svc *Service) handle(ctx context.Context, tfc model.TFCandle) {
	before := svc.scan.Stats()
	if tfc.Forming {
		live := svc.scan.Peek(tfc)
		if svc.scan.Stats().Stale > before.Stale {
			svc.prom.FormingStale.Inc()
		}
		svc.publish(ctx, live)
		return
	}

	start := time.Now()
	matches := svc.scan.Process(tfc)
	svc.latency.observe(time.Since(start))
	after := svc.scan.Stats()
	if aged := after.AgedOut - before.AgedOut; aged > 0 {
		svc.prom.BarsAgedOut.Add(float64(aged))
	}

	if after.Rejected > before.Rejected {
		svc.prom.CandlesRejected.Inc()
		return
	}
	if after.Processed == before.Processed {
		return // duplicate or unconfigured TF
	}

	svc.health.SetLastCandleTime(tfc.TS)
	names := make([]string, len(matches))
	for i := range matches {
		names[i] = matches[i].Pattern
	}
	svc.prom.ObserveScan(tfc.TF, tfc.TS.Add(time.Duration(tfc.TF)*time.Second), names)
	if len(matches) == 0 {
		return
	}

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(tfc.Key(), tfc.TF, tfc.TS))
	logger.FromContext(ctx, svc.log).Info("patterns matched",
		slog.String("key", tfc.Key()),
		slog.Int("tf", tfc.TF),
		slog.Any("patterns", names))

	svc.publish(ctx, matches)
	svc.journal(matches)
	svc.alert(matches)
}

// publish sends matches to the websocket feed and Redis.
func (svc *Service) publish(ctx context.Context, matches []model.PatternMatch) {
	if len(matches) == 0 {
		return
	}
	if svc.feed != nil {
		svc.feed.Broadcast(matches)
	}
	if svc.publisher == nil {
		return
	}
	start := time.Now()
	err := svc.publisher.WriteMatchBatch(ctx, matches)
	svc.prom.RedisWriteDur.Observe(time.Since(start).Seconds())
	if err != nil {
		svc.prom.SinkErrorsTotal.WithLabelValues("redis").Inc()
		svc.log.Error("redis match write failed", append(logger.LogWithTrace(ctx),
			slog.Int("count", len(matches)),
			slog.String("error", err.Error()))...)
	}
}

// journal queues closed matches for the SQLite writer without blocking the
// scan loop. Matches are dropped when the journal is saturated.
func (svc *Service) journal(matches []model.PatternMatch) {
	if svc.journalCh == nil {
		return
	}
	for _, m := range matches {
		if m.Live {
			continue
		}
		select {
		case svc.journalCh <- m:
		default:
			svc.prom.SinkErrorsTotal.WithLabelValues("sqlite").Inc()
			svc.log.Warn("journal queue full, match dropped",
				slog.String("pattern", m.Pattern), slog.String("key", m.Key()))
		}
	}
}

// publishLatency stores the smoothed scan latency in Redis for dashboards.
func (svc *Service) publishLatency(ctx context.Context) {
	if svc.redisWriter == nil || !svc.latency.due(time.Now()) {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	err := svc.redisWriter.Client().Set(cctx, scanLatencyKey, fmt.Sprintf("%.3f", svc.latency.value()), scanLatencyTTL).Err()
	if err != nil {
		svc.log.Debug("scan latency publish failed", slog.String("error", err.Error()))
	}
}
