package model

import "context"

// ── Storage Port Interfaces ──
// These decouple the scanning services from the concrete stores (Redis,
// SQLite) so each side can be replaced or faked in tests.

// CandleReader reads closed TF candles for warm-up and replay.
type CandleReader interface {
	// ReadTFCandles reads candles for one instrument and TF, oldest first.
	ReadTFCandles(exchange, token string, tf int, afterTS int64) ([]TFCandle, error)

	// ReadAllTFCandles reads all candles of a timeframe, oldest first.
	ReadAllTFCandles(tf int, afterTS int64) ([]TFCandle, error)

	// Close releases underlying resources.
	Close() error
}

// MatchWriter persists or publishes detected pattern matches.
type MatchWriter interface {
	// WriteMatchBatch writes matches in a single round trip.
	WriteMatchBatch(ctx context.Context, matches []PatternMatch) error

	// Close releases underlying resources.
	Close() error
}

// StreamConsumer consumes closed TF candles from a stream (e.g. Redis Streams).
type StreamConsumer interface {
	// EnsureConsumerGroup creates consumer groups on streams.
	EnsureConsumerGroup(ctx context.Context, streams []string) error

	// ConsumeTFCandles reads TF candles via consumer groups.
	// Blocks until ctx is cancelled.
	ConsumeTFCandles(ctx context.Context, streams []string, out chan<- TFCandle) error

	// ReadRecent returns up to count of the newest candles on a stream,
	// oldest first.
	ReadRecent(ctx context.Context, stream string, count int64) ([]TFCandle, error)

	// Close releases underlying resources.
	Close() error
}

// MatchQuery selects journaled matches. Zero fields do not filter.
type MatchQuery struct {
	Pattern  string
	Exchange string
	Token    string
	TF       int
	FromTS   int64 // inclusive, unix seconds
	ToTS     int64 // exclusive, unix seconds
	Limit    int   // newest first
}
