package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"candlescan/internal/model"
)

var _ model.StreamConsumer = (*Reader)(nil)

const (
	readCount     = 100
	readBlock     = 2 * time.Second
	claimCount    = 100
	backoffMin    = 250 * time.Millisecond
	backoffMax    = 5 * time.Second
	formingPrefix = "pub:candle:"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // defaults to "patengine"
	ConsumerName  string // defaults to "worker-1"
}

// Reader consumes closed TF candles from Redis streams through a consumer
// group and forming candles from pub/sub.
type Reader struct {
	client   *goredis.Client
	group    string
	consumer string
	log      *slog.Logger
}

// NewReader connects and pings Redis.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	r := &Reader{
		client:   client,
		group:    orDefault(cfg.ConsumerGroup, "patengine"),
		consumer: orDefault(cfg.ConsumerName, "worker-1"),
	}
	r.log = slog.Default().With(
		slog.String("component", "redis-reader"),
		slog.String("group", r.group),
		slog.String("consumer", r.consumer))
	r.log.Info("connected", slog.String("addr", cfg.Addr))
	return r, nil
}

// Client exposes the client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// EnsureConsumerGroup creates the group on every stream, starting at "$" so a
// new group only sees candles closed after it was created. Warm-up covers
// the history before that.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.group, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// ConsumeTFCandles blocks on XREADGROUP across streams and hands closed
// candles to out, acknowledging each batch after hand-off. Read errors back
// off exponentially. Returns ctx.Err() on cancellation.
func (r *Reader) ConsumeTFCandles(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	if len(streams) == 0 {
		return errors.New("consume: no streams")
	}
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}

	delay := time.Duration(0)
	for ctx.Err() == nil {
		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  args,
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		switch {
		case err == nil:
			delay = 0
		case errors.Is(err, goredis.Nil) || ctx.Err() != nil:
			continue
		default:
			delay = nextBackoff(delay)
			r.log.Error("xreadgroup failed", slog.String("error", err.Error()), slog.Duration("retry_in", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}

		for _, s := range results {
			if err := r.deliver(ctx, s.Stream, s.Messages, out); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

// RecoverPending re-delivers entries this consumer read but never
// acknowledged before a restart.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	for _, stream := range streams {
		for {
			ids, err := r.pendingIDs(ctx, stream, 0, true)
			if err != nil || len(ids) == 0 {
				break
			}
			n, err := r.claim(ctx, stream, ids, 0, out)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Error("pending recovery", slog.String("stream", stream), slog.String("error", err.Error()))
				break
			}
			if n < len(ids) {
				break
			}
		}
	}
	return nil
}

// StartPELReclaimer takes over entries other consumers have left idle for
// longer than minIdle. Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval, minIdle time.Duration, out chan<- model.TFCandle, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		total := 0
		for _, stream := range streams {
			ids, err := r.pendingIDs(ctx, stream, minIdle, false)
			if err != nil {
				r.log.Warn("xpending", slog.String("stream", stream), slog.String("error", err.Error()))
				continue
			}
			if len(ids) == 0 {
				continue
			}
			n, err := r.claim(ctx, stream, ids, minIdle, out)
			if err != nil {
				r.log.Warn("reclaim", slog.String("stream", stream), slog.String("error", err.Error()))
				continue
			}
			total += n
		}
		if total > 0 {
			r.log.Info("reclaimed idle candles", slog.Int("count", total))
			if onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

// pendingIDs lists PEL entries. own selects this consumer's entries,
// otherwise entries held by anyone else.
func (r *Reader) pendingIDs(ctx context.Context, stream string, minIdle time.Duration, own bool) ([]string, error) {
	args := &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.group,
		Start:  "-",
		End:    "+",
		Count:  claimCount,
		Idle:   minIdle,
	}
	if own {
		args.Consumer = r.consumer
	}
	pending, err := r.client.XPendingExt(ctx, args).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending %s: %w", stream, err)
	}
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if own || p.Consumer != r.consumer {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (r *Reader) claim(ctx context.Context, stream string, ids []string, minIdle time.Duration, out chan<- model.TFCandle) (int, error) {
	msgs, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	if err := r.deliver(ctx, stream, msgs, out); err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// ReadRecent returns up to count of the newest closed candles on a stream,
// oldest first.
func (r *Reader) ReadRecent(ctx context.Context, stream string, count int64) ([]model.TFCandle, error) {
	msgs, err := r.client.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", stream, err)
	}

	candles := make([]model.TFCandle, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		tfc, err := decodeStreamCandle(stream, msgs[i].Values)
		if err != nil || tfc.Forming {
			continue
		}
		candles = append(candles, tfc)
	}
	return candles, nil
}

// SubscribeFormingCandles forwards forming candles published on
// pub:candle:* to out, dropping when out is full. Blocks until ctx is
// cancelled.
func (r *Reader) SubscribeFormingCandles(ctx context.Context, out chan<- model.TFCandle) error {
	sub := r.client.PSubscribe(ctx, formingPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var tfc model.TFCandle
			if err := json.Unmarshal([]byte(msg.Payload), &tfc); err != nil || !tfc.Forming {
				continue
			}
			select {
			case out <- tfc:
			default:
			}
		}
	}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}

// deliver hands decodable candles to out, then acknowledges the whole batch
// in one call. Undecodable entries are acknowledged too so a poison entry
// cannot stall the group.
func (r *Reader) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.TFCandle) error {
	if len(msgs) == 0 {
		return nil
	}
	acked := make([]string, 0, len(msgs))
	defer func() {
		if len(acked) > 0 {
			if err := r.client.XAck(context.Background(), stream, r.group, acked...).Err(); err != nil {
				r.log.Warn("xack", slog.String("stream", stream), slog.String("error", err.Error()))
			}
		}
	}()

	for _, msg := range msgs {
		tfc, err := decodeStreamCandle(stream, msg.Values)
		if err != nil {
			r.log.Warn("dropping entry", slog.String("stream", stream), slog.String("id", msg.ID), slog.String("error", err.Error()))
			acked = append(acked, msg.ID)
			continue
		}
		select {
		case out <- tfc:
			acked = append(acked, msg.ID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// decodeStreamCandle decodes the "data" field of a stream entry and checks
// the candle belongs to the stream it was read from.
func decodeStreamCandle(stream string, values map[string]interface{}) (model.TFCandle, error) {
	data, ok := values["data"].(string)
	if !ok {
		return model.TFCandle{}, errors.New("missing data field")
	}
	var tfc model.TFCandle
	if err := json.Unmarshal([]byte(data), &tfc); err != nil {
		return model.TFCandle{}, fmt.Errorf("decode: %w", err)
	}
	if tf, key, ok := ParseCandleStream(stream); ok && (tf != tfc.TF || key != tfc.Key()) {
		return model.TFCandle{}, fmt.Errorf("candle %ds %s on stream %s", tfc.TF, tfc.Key(), stream)
	}
	return tfc, nil
}

// ParseCandleStream splits "candle:{tf}s:{exchange}:{token}" into the TF in
// seconds and the "exchange:token" key.
func ParseCandleStream(stream string) (tf int, key string, ok bool) {
	rest, ok := strings.CutPrefix(stream, "candle:")
	if !ok {
		return 0, "", false
	}
	tfPart, key, ok := strings.Cut(rest, ":")
	if !ok || !strings.HasSuffix(tfPart, "s") || !strings.Contains(key, ":") {
		return 0, "", false
	}
	tf, err := strconv.Atoi(strings.TrimSuffix(tfPart, "s"))
	if err != nil || tf <= 0 {
		return 0, "", false
	}
	return tf, key, true
}

func nextBackoff(d time.Duration) time.Duration {
	if d < backoffMin {
		return backoffMin
	}
	if d *= 2; d > backoffMax {
		return backoffMax
	}
	return d
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
