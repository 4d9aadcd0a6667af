package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"candlescan/internal/model"
)

const (
	journalBatch = 100
	journalDelay = 200 * time.Millisecond
)

var _ model.MatchWriter = (*Writer)(nil)

// WriterConfig configures the match journal.
type WriterConfig struct {
	DBPath string // e.g. "data/candles.db"
}

// Writer journals closed-bar pattern matches. It owns the schema and uses a
// single connection.
type Writer struct {
	db  *sql.DB
	now func() time.Time

	// OnCommit runs after each committed batch.
	OnCommit func(n int, elapsed time.Duration)
}

// New opens the database and applies pending migrations.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := openDB(cfg.DBPath, 1)
	if err != nil {
		return nil, err
	}
	version, err := migrate(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	slog.Info("sqlite journal opened", slog.String("path", cfg.DBPath), slog.Int("schema", version))
	return &Writer{db: db, now: time.Now}, nil
}

// DB exposes the handle for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// RunMatches journals matches from ch in batches of up to 100, flushing at
// least every 200ms. Live matches are skipped. It returns once ch is closed
// or ctx is done, flushing what it holds.
func (w *Writer) RunMatches(ctx context.Context, ch <-chan model.PatternMatch) {
	batch := make([]model.PatternMatch, 0, journalBatch)
	ticker := time.NewTicker(journalDelay)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.insert(batch); err != nil {
			slog.Error("journal batch failed", slog.Int("count", len(batch)), slog.String("error", err.Error()))
		}
		batch = batch[:0]
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if m.Live {
				continue
			}
			if batch = append(batch, m); len(batch) >= journalBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// WriteMatchBatch journals the closed-bar matches of a batch in one
// transaction.
func (w *Writer) WriteMatchBatch(ctx context.Context, matches []model.PatternMatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	closed := make([]model.PatternMatch, 0, len(matches))
	for _, m := range matches {
		if !m.Live {
			closed = append(closed, m)
		}
	}
	if len(closed) == 0 {
		return nil
	}
	return w.insert(closed)
}

// insert upserts matches so re-scanning a bar after redelivery is harmless.
func (w *Writer) insert(matches []model.PatternMatch) error {
	start := time.Now()
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO pattern_matches
		(pattern, direction, token, exchange, tf, ts, close, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (exchange, token, tf, ts, pattern)
		DO UPDATE SET direction = excluded.direction, close = excluded.close`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	detected := w.now().Unix()
	for _, m := range matches {
		if _, err := stmt.Exec(m.Pattern, m.Direction, m.Token, m.Exchange, m.TF, m.TS.Unix(), m.Close, detected); err != nil {
			return fmt.Errorf("sqlite insert %s %s: %w", m.Key(), m.Pattern, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	if w.OnCommit != nil {
		w.OnCommit(len(matches), time.Since(start))
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
