package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"candlescan/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

var (
	_ model.MatchWriter = (*Writer)(nil)
	_ model.MatchWriter = (*BufferedWriter)(nil)
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes pattern matches to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis writer connected", slog.String("addr", cfg.Addr))
	return &Writer{client: client}, nil
}

// WriteMatchBatch writes matches in a single Redis pipeline. Closed-bar
// matches get XADD + SET latest + PUBLISH; live previews are only published.
func (w *Writer) WriteMatchBatch(ctx context.Context, matches []model.PatternMatch) error {
	if len(matches) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range matches {
		m := &matches[i]
		jsonData := string(m.JSON())

		if m.Live {
			pipe.Publish(ctx, m.PubSubChannel(), jsonData)
			continue
		}

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: m.StreamKey(),
			MaxLen: streamMaxLen(m.TF),
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, m.LatestKey(), jsonData, defaultLatestTTL)
		pipe.Publish(ctx, m.PubSubChannel(), jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis match pipeline (%d matches): %w", len(matches), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

// streamMaxLen keeps roughly a trading day of matches per stream: one bar per
// TF over 6.25 hours, a few patterns per bar.
func streamMaxLen(tf int) int64 {
	if tf <= 0 {
		return 1000
	}
	n := int64(22500/tf)*4 + 100
	if n < 200 {
		n = 200
	}
	return n
}
