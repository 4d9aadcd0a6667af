package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"candlescan/internal/model"
)

// batchWriter is the subset of Writer the BufferedWriter needs.
type batchWriter interface {
	WriteMatchBatch(ctx context.Context, matches []model.PatternMatch) error
	Close() error
}

// BufferedWriter wraps a match writer with a circuit breaker.
// While the circuit is open, closed-bar matches are buffered locally and
// flushed when the circuit closes again. Live previews are dropped.
type BufferedWriter struct {
	writer batchWriter
	cb     *CircuitBreaker

	mu     sync.Mutex
	buffer []model.PatternMatch
	maxBuf int // max buffered matches before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func(count int) // called when matches are buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered matches
}

// NewBufferedWriter creates a BufferedWriter wrapping w.
func NewBufferedWriter(w batchWriter, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		buffer: make([]model.PatternMatch, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush(context.Background())
		}
	}

	return bw
}

// WriteMatchBatch writes matches through the circuit breaker. If the circuit
// is open the batch is buffered and nil is returned.
func (bw *BufferedWriter) WriteMatchBatch(ctx context.Context, matches []model.PatternMatch) error {
	if len(matches) == 0 {
		return nil
	}
	err := bw.cb.Execute(func() error {
		return bw.writer.WriteMatchBatch(ctx, matches)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bw.bufferMatches(matches)
		return nil // buffered, not lost
	}
	return err
}

// Close closes the underlying writer.
func (bw *BufferedWriter) Close() error {
	return bw.writer.Close()
}

func (bw *BufferedWriter) bufferMatches(matches []model.PatternMatch) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	n := 0
	for _, m := range matches {
		if m.Live {
			continue // previews are stale by the time Redis recovers
		}
		if len(bw.buffer) >= bw.maxBuf {
			// Buffer full: drop oldest
			bw.buffer = bw.buffer[1:]
		}
		bw.buffer = append(bw.buffer, m)
		n++
	}

	if n > 0 && bw.OnBuffer != nil {
		bw.OnBuffer(n)
	}
}

// flush replays all buffered matches through the underlying writer.
func (bw *BufferedWriter) flush(ctx context.Context) {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]model.PatternMatch, 0, 256)
	bw.mu.Unlock()

	if err := bw.writer.WriteMatchBatch(ctx, toFlush); err != nil {
		slog.Error("buffered match flush failed", slog.Int("count", len(toFlush)), slog.String("error", err.Error()))
		bw.mu.Lock()
		bw.buffer = append(toFlush, bw.buffer...)
		if over := len(bw.buffer) - bw.maxBuf; over > 0 {
			bw.buffer = bw.buffer[over:]
		}
		bw.mu.Unlock()
		return
	}

	slog.Info("flushed buffered matches", slog.Int("count", len(toFlush)))
	if bw.OnFlush != nil {
		bw.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered matches waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
