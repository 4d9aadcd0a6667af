package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"candlescan/internal/model"
)

var _ model.CandleReader = (*Reader)(nil)

const candleColumns = `token, exchange, tf, ts, open, high, low, close, volume, count`

// Reader reads candle history for warm-up and replay.
type Reader struct {
	db *sql.DB
}

// NewReader opens the database for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := openDB(dbPath, 2)
	if err != nil {
		return nil, err
	}
	slog.Info("sqlite reader opened", slog.String("path", dbPath))
	return &Reader{db: db}, nil
}

// DB exposes the handle for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadTFCandles returns one instrument's candles after afterTS, oldest first.
func (r *Reader) ReadTFCandles(exchange, token string, tf int, afterTS int64) ([]model.TFCandle, error) {
	return r.query(`SELECT `+candleColumns+` FROM candles_tf
		WHERE exchange = ? AND token = ? AND tf = ? AND ts > ?
		ORDER BY ts`, exchange, token, tf, afterTS)
}

// ReadAllTFCandles returns every instrument's candles of one TF after
// afterTS, ordered by time.
func (r *Reader) ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error) {
	return r.query(`SELECT `+candleColumns+` FROM candles_tf
		WHERE tf = ? AND ts > ?
		ORDER BY ts, exchange, token`, tf, afterTS)
}

// ReadRecentTFCandles returns the newest limit candles of one instrument,
// oldest first.
func (r *Reader) ReadRecentTFCandles(exchange, token string, tf, limit int) ([]model.TFCandle, error) {
	candles, err := r.query(`SELECT `+candleColumns+` FROM candles_tf
		WHERE exchange = ? AND token = ? AND tf = ?
		ORDER BY ts DESC LIMIT ?`, exchange, token, tf, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

func (r *Reader) query(q string, args ...interface{}) ([]model.TFCandle, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles_tf: %w", err)
	}
	defer rows.Close()

	var candles []model.TFCandle
	for rows.Next() {
		var (
			c             model.TFCandle
			ts            int64
			volume, count sql.NullInt64
		)
		if err := rows.Scan(&c.Token, &c.Exchange, &c.TF, &ts, &c.Open, &c.High, &c.Low, &c.Close, &volume, &count); err != nil {
			return nil, fmt.Errorf("sqlite scan candles_tf: %w", err)
		}
		c.TS = time.Unix(ts, 0).UTC()
		c.Volume = volume.Int64
		c.Count = int(count.Int64)
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
